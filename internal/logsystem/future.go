package logsystem

import (
	"context"
	"errors"
	"sync"
)

// result pairs a Future's eventual value with the error it settled with.
type result[T any] struct {
	val T
	err error
}

// Future is a one-shot awaitable result, the Go analogue of the spec's
// single-assignment future: the first Settle call wins, and Wait/TryGet
// may be called any number of times afterward by any number of goroutines.
type Future[T any] struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	r       result[T]
}

// NewFuture returns an unsettled Future and the function that settles it.
// Settle may be called at most once; later calls are ignored.
func NewFuture[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{})}
	settle := func(v T, err error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.settled {
			return
		}
		f.settled = true
		f.r = result[T]{val: v, err: err}
		close(f.done)
	}
	return f, settle
}

// Ready returns a Future already settled with v, err.
func Ready[T any](v T, err error) *Future[T] {
	f, settle := NewFuture[T]()
	settle(v, err)
	return f
}

// TryGet returns the settled value without blocking. ok is false if the
// future has not settled yet.
func (f *Future[T]) TryGet() (val T, err error, ok bool) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.r.val, f.r.err, true
	default:
		return val, err, false
	}
}

// Wait blocks until the future settles or ctx is cancelled.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.r.val, f.r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// brokenPromiseToNever eats ErrBrokenPromise by reporting it as "no result"
// (zero value, nil error, false) rather than as an error, matching the
// spec's treatment of a peer that may still reappear: callers should be
// racing this against onChange(), not treating it as a definite failure.
// Any other outcome is returned unchanged with true.
func brokenPromiseToNever[T any](v T, err error) (T, error, bool) {
	if errors.Is(err, ErrBrokenPromise) {
		var zero T
		return zero, nil, false
	}
	return v, err, true
}

// waitForAll waits for every future in fs to settle, returning the first
// error encountered.
func waitForAll[T any](ctx context.Context, fs []*Future[T]) ([]T, error) {
	out := make([]T, len(fs))
	var firstErr error
	for i, f := range fs {
		v, err := f.Wait(ctx)
		out[i] = v
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return out, firstErr
}

// quorumResult is what quorum returns: the values that succeeded.
type quorumResult[T any] struct {
	values []T
}

// quorum waits until k of the given futures succeed, or until success
// becomes impossible (more than len(fs)-k have failed), whichever comes
// first. It respects ctx cancellation throughout.
func quorum[T any](ctx context.Context, fs []*Future[T], k int) (quorumResult[T], error) {
	if k <= 0 {
		return quorumResult[T]{}, nil
	}
	if k > len(fs) {
		return quorumResult[T]{}, errors.New("logsystem: quorum k exceeds future count")
	}

	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, len(fs))
	for _, f := range fs {
		f := f
		go func() {
			v, err := f.Wait(ctx)
			ch <- outcome{v: v, err: err}
		}()
	}

	var succeeded []T
	var failedCount int
	remaining := len(fs)
	for remaining > 0 {
		select {
		case o := <-ch:
			remaining--
			if o.err != nil {
				failedCount++
				if len(fs)-failedCount < k {
					return quorumResult[T]{}, o.err
				}
				continue
			}
			succeeded = append(succeeded, o.v)
			if len(succeeded) >= k {
				return quorumResult[T]{values: succeeded}, nil
			}
		case <-ctx.Done():
			return quorumResult[T]{}, ctx.Err()
		}
	}
	return quorumResult[T]{values: succeeded}, nil
}
