// Package liveness classifies pre-cropped 224x224 face images as live or
// spoofed by thresholding the score of a binary classifier model.
//
// A Classifier owns exactly one inference engine. It is built with New,
// used for any number of Classify calls and released with Close. Calls on one
// instance are serialized internally; callers that need parallel throughput
// should use a Pool of independent classifiers.
package liveness

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/SyedDaiam9101/liveness-service/internal/inference"
)

// ModelLoader resolves a model reference to serialized model bytes.
type ModelLoader interface {
	Load(ref string) ([]byte, error)
}

// Verdict is the outcome of one classification.
type Verdict struct {
	Score     float32 `json:"score"`
	Threshold float32 `json:"threshold"`
	Live      bool    `json:"live"`
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger used for score diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Classifier decides liveness for a single face image.
type Classifier struct {
	mu        sync.Mutex
	engine    inference.Engine
	threshold float32
	ref       string
	logger    *zap.Logger
}

// New loads the model at ref through loader, opens an engine on it and
// returns a ready classifier. Scores strictly below threshold are live.
// Any failure is returned as a *LoadError.
func New(loader ModelLoader, open inference.Opener, ref string, threshold float32, opts ...Option) (*Classifier, error) {
	if loader == nil || open == nil {
		return nil, &LoadError{Ref: ref, Err: fmt.Errorf("model loader and engine opener are required")}
	}

	model, err := loader.Load(ref)
	if err != nil {
		return nil, &LoadError{Ref: ref, Err: err}
	}

	engine, err := open(model)
	if err != nil {
		if engine != nil {
			if cerr := engine.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
		return nil, &LoadError{Ref: ref, Err: err}
	}
	if engine == nil {
		return nil, &LoadError{Ref: ref, Err: fmt.Errorf("engine opener returned no engine")}
	}

	c := &Classifier{
		engine:    engine,
		threshold: threshold,
		ref:       ref,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("liveness").With(zap.String("model", ref))

	return c, nil
}

// Threshold returns the spoof threshold fixed at construction.
func (c *Classifier) Threshold() float32 {
	return c.threshold
}

// Classify reports whether img shows a live face.
func (c *Classifier) Classify(img *RGBImage) (bool, error) {
	v, err := c.Evaluate(img)
	if err != nil {
		return false, err
	}
	return v.Live, nil
}

// Evaluate runs one forward pass on img and returns the score together with
// the decision. The image is validated before any numeric work.
func (c *Classifier) Evaluate(img *RGBImage) (Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine == nil {
		return Verdict{}, ErrClosed
	}

	input, err := Preprocess(img)
	if err != nil {
		return Verdict{}, err
	}

	output, err := c.engine.Run(input, inputShape)
	if err != nil {
		return Verdict{}, &InferenceError{Err: err}
	}
	if len(output) == 0 {
		return Verdict{}, &InferenceError{Err: fmt.Errorf("model produced an empty output tensor")}
	}

	score := output[0]
	live := score < c.threshold
	c.logger.Debug("spoof score",
		zap.Float32("score", score),
		zap.Float32("threshold", c.threshold),
		zap.Bool("live", live))

	return Verdict{Score: score, Threshold: c.threshold, Live: live}, nil
}

// Close releases the inference engine. Calling it again is a no-op.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine == nil {
		return nil
	}
	err := c.engine.Close()
	c.engine = nil
	if err != nil {
		return fmt.Errorf("failed to release liveness model %q: %w", c.ref, err)
	}
	return nil
}
