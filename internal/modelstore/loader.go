// Package modelstore resolves model references to serialized model bytes.
package modelstore

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/afero"
)

// ErrEmptyArtifact is returned for a zero-length model file.
var ErrEmptyArtifact = errors.New("model artifact is empty")

// Loader reads model artifacts from a filesystem.
type Loader struct {
	fs afero.Fs
}

// New returns a Loader over fs. A nil fs means the host filesystem.
func New(fs afero.Fs) *Loader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Loader{fs: fs}
}

// NewOS returns a Loader over the host filesystem.
func NewOS() *Loader {
	return New(afero.NewOsFs())
}

// Load reads the whole artifact at ref.
func (l *Loader) Load(ref string) ([]byte, error) {
	if ref == "" {
		return nil, fmt.Errorf("model reference is empty")
	}

	info, err := l.fs.Stat(ref)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("model artifact %s not found: %w", ref, err)
		}
		return nil, fmt.Errorf("failed to stat model artifact %s: %w", ref, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("model artifact %s is a directory", ref)
	}

	data, err := afero.ReadFile(l.fs, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact %s: %w", ref, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", ref, ErrEmptyArtifact)
	}

	return data, nil
}
