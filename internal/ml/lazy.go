package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// lazyModel is a shared, initialise-once model handle. The first Get loads from the
// store; concurrent callers wait on the same load. A failed load is not cached so a
// later call can pick up a model persisted in the meantime.
type lazyModel[T any] struct {
	name  string
	store ModelStore
	mu    sync.Mutex
	ptr   atomic.Pointer[T]
}

func newLazyModel[T any](name string, store ModelStore) *lazyModel[T] {
	return &lazyModel[T]{name: name, store: store}
}

func (l *lazyModel[T]) Get(ctx context.Context) (*T, error) {
	if v := l.ptr.Load(); v != nil {
		return v, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if v := l.ptr.Load(); v != nil {
		return v, nil
	}
	if l.store == nil {
		return nil, fmt.Errorf("%s: %w", l.name, ErrModelUnavailable)
	}
	data, err := l.store.Load(ctx, l.name)
	if err != nil {
		if errors.Is(err, errModelNotFound) {
			return nil, fmt.Errorf("%s: %w", l.name, ErrModelUnavailable)
		}
		return nil, fmt.Errorf("load %s: %w", l.name, err)
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", l.name, err)
	}
	l.ptr.Store(v)
	return v, nil
}

// Replace persists v and swaps it in for subsequent callers.
func (l *lazyModel[T]) Replace(ctx context.Context, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", l.name, err)
	}
	if l.store != nil {
		if err := l.store.Save(ctx, l.name, data); err != nil {
			return fmt.Errorf("persist %s: %w", l.name, err)
		}
	}
	l.ptr.Store(v)
	return nil
}

func (l *lazyModel[T]) Loaded() bool {
	return l.ptr.Load() != nil
}

// withTimeout bounds a CPU-bound inference call. On expiry the caller receives the
// context error while the computation is left to finish in the background.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func() T) (T, error) {
	if d <= 0 {
		return fn(), ctx.Err()
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan T, 1)
	go func() { done <- fn() }()

	select {
	case v := <-done:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("inference: %w", ctx.Err())
	}
}

func modelVersion(name string, at time.Time) string {
	return fmt.Sprintf("%s-%s", name, at.UTC().Format("20060102T150405Z"))
}
