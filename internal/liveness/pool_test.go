package liveness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SyedDaiam9101/liveness-service/internal/inference"
)

func TestPoolEvaluatesConcurrently(t *testing.T) {
	loader := memLoader(t)
	var mocks []*inference.MockEngine
	build := func() (*Classifier, error) {
		mock := inference.NewMock(0.2)
		mocks = append(mocks, mock)
		return New(loader, inference.MockOpener(mock), testModel, 0.5)
	}

	pool, err := NewPool(3, build)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()

	if pool.Size() != 3 || pool.Threshold() != 0.5 {
		t.Fatalf("unexpected pool size=%d threshold=%v", pool.Size(), pool.Threshold())
	}

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := pool.Evaluate(context.Background(), filled(0, 0, 0))
			if err != nil {
				errs <- err
				return
			}
			if !v.Live {
				errs <- errors.New("expected live verdict")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	total := 0
	for _, m := range mocks {
		total += m.Calls()
	}
	if total != 12 {
		t.Errorf("Expected 12 inference calls across the pool, got %d", total)
	}
}

func TestPoolConstructionFailureClosesBuilt(t *testing.T) {
	loader := memLoader(t)
	var mocks []*inference.MockEngine
	build := func() (*Classifier, error) {
		if len(mocks) == 2 {
			return nil, &LoadError{Ref: testModel, Err: errors.New("out of memory")}
		}
		mock := inference.NewMock(0.2)
		mocks = append(mocks, mock)
		return New(loader, inference.MockOpener(mock), testModel, 0.5)
	}

	_, err := NewPool(3, build)
	if !IsLoad(err) {
		t.Fatalf("Expected LoadError, got %v", err)
	}
	for i, m := range mocks {
		if m.Closes() != 1 {
			t.Errorf("classifier %d released %d times, expected 1", i, m.Closes())
		}
	}
}

func TestPoolAcquireRespectsContext(t *testing.T) {
	loader := memLoader(t)
	pool, err := NewPool(1, func() (*Classifier, error) {
		return New(loader, inference.MockOpener(inference.NewMock(0.2)), testModel, 0.5)
	})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()

	held, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}

	pool.Release(held)
	if _, err := pool.Evaluate(context.Background(), filled(0, 0, 0)); err != nil {
		t.Errorf("Evaluate after release failed: %v", err)
	}
}

func TestPoolClose(t *testing.T) {
	loader := memLoader(t)
	mock := inference.NewMock(0.2)
	pool, err := NewPool(1, func() (*Classifier, error) {
		return New(loader, inference.MockOpener(mock), testModel, 0.5)
	})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if mock.Closes() != 1 {
		t.Errorf("Expected one release, got %d", mock.Closes())
	}
	if _, err := pool.Evaluate(context.Background(), filled(0, 0, 0)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}

	if _, err := NewPool(0, nil); err == nil {
		t.Error("Expected error for empty pool")
	}
}
