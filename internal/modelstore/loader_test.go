package modelstore

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/spf13/afero"
)

func TestLoad(t *testing.T) {
	mem := afero.NewMemMapFs()
	if err := afero.WriteFile(mem, "/models/liveness.onnx", []byte("onnx-bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := afero.WriteFile(mem, "/models/empty.onnx", nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := mem.MkdirAll("/models/dir.onnx", 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	loader := New(mem)

	data, err := loader.Load("/models/liveness.onnx")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(data) != "onnx-bytes" {
		t.Errorf("unexpected data: %q", data)
	}

	tests := []struct {
		name  string
		ref   string
		check func(error) bool
	}{
		{"empty ref", "", func(err error) bool { return err != nil }},
		{"missing", "/models/nope.onnx", func(err error) bool { return errors.Is(err, fs.ErrNotExist) }},
		{"empty file", "/models/empty.onnx", func(err error) bool { return errors.Is(err, ErrEmptyArtifact) }},
		{"directory", "/models/dir.onnx", func(err error) bool { return err != nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Load(tt.ref)
			if !tt.check(err) {
				t.Errorf("Load(%q) returned unexpected error: %v", tt.ref, err)
			}
		})
	}
}
