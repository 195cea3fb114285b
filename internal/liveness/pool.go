package liveness

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Pool holds independent classifiers so callers can evaluate in parallel
// without sharing one engine.
type Pool struct {
	classifiers chan *Classifier
	all         []*Classifier
	threshold   float32

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// NewPool builds size classifiers with build. If any construction fails the
// classifiers already built are closed and the error is returned.
func NewPool(size int, build func() (*Classifier, error)) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}

	p := &Pool{
		classifiers: make(chan *Classifier, size),
		all:         make([]*Classifier, 0, size),
		closed:      make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		c, err := build()
		if err != nil {
			for _, built := range p.all {
				if closeErr := built.Close(); closeErr != nil {
					err = errors.Join(err, closeErr)
				}
			}
			return nil, err
		}
		p.all = append(p.all, c)
		p.classifiers <- c
	}
	p.threshold = p.all[0].Threshold()

	return p, nil
}

// Size returns the number of classifiers in the pool.
func (p *Pool) Size() int {
	return len(p.all)
}

// Threshold returns the threshold of the pooled classifiers.
func (p *Pool) Threshold() float32 {
	return p.threshold
}

// Acquire takes a classifier out of the pool, waiting until one is free,
// ctx is done or the pool is closed.
func (p *Pool) Acquire(ctx context.Context) (*Classifier, error) {
	select {
	case <-p.closed:
		return nil, ErrClosed
	default:
	}

	select {
	case c := <-p.classifiers:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, ErrClosed
	}
}

// Release returns c to the pool.
func (p *Pool) Release(c *Classifier) {
	if c == nil {
		return
	}
	select {
	case p.classifiers <- c:
	default:
	}
}

// Evaluate acquires a classifier, evaluates img and releases it.
func (p *Pool) Evaluate(ctx context.Context, img *RGBImage) (Verdict, error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return Verdict{}, err
	}
	defer p.Release(c)

	return c.Evaluate(img)
}

// Close closes every classifier. Calls in flight finish first; later
// Acquire calls fail with ErrClosed.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		for _, c := range p.all {
			if err := c.Close(); err != nil {
				p.closeErr = errors.Join(p.closeErr, err)
			}
		}
	})
	return p.closeErr
}
