// Package race runs the same logical request against several independent
// endpoints and reduces their outcomes.
//
// First returns as soon as one call succeeds; Collect waits for every call.
// Each call runs under its own timeout, and a call that ignores its context is
// abandoned once that timeout fires rather than holding up the caller.
package race

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrAllFailed is returned by First when no call succeeded.
	ErrAllFailed = errors.New("all calls failed")

	// ErrNoCalls is returned by First when it is given nothing to run.
	ErrNoCalls = errors.New("no calls to run")
)

// Call is one attempt against a single endpoint.
type Call[T any] func(ctx context.Context) (T, error)

// Options controls First.
type Options struct {
	// Timeout bounds each call individually. Zero means the caller's context only.
	Timeout time.Duration

	// Accept reports whether a call error should end the race as if the call
	// had succeeded. The winning Win then carries the error and a zero value.
	Accept func(error) bool

	// Detach keeps losing calls running after a winner is chosen or the caller
	// gives up, bounded only by Timeout. Ignored when Timeout is zero.
	Detach bool
}

// Win describes the call that ended a race.
type Win[T any] struct {
	Index int
	Value T
	// Err is set when the race was won by an accepted error.
	Err error
}

// Accepted reports whether the race was won by an accepted error.
func (w Win[T]) Accepted() bool { return w.Err != nil }

// Outcome is the result of one call run by Collect.
type Outcome[T any] struct {
	Index int
	Value T
	Err   error
}

// First runs every call concurrently and returns the first success.
func First[T any](ctx context.Context, opts Options, calls ...Call[T]) (Win[T], error) {
	if len(calls) == 0 {
		return Win[T]{}, ErrNoCalls
	}

	base := ctx
	if opts.Detach && opts.Timeout > 0 {
		base = context.WithoutCancel(ctx)
	} else {
		var cancel context.CancelFunc
		base, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	results := make(chan Outcome[T], len(calls))
	for i, call := range calls {
		go func() {
			v, err := invoke(base, opts.Timeout, call)
			results <- Outcome[T]{Index: i, Value: v, Err: err}
		}()
	}

	errs := make([]error, 0, len(calls))
	for range calls {
		select {
		case r := <-results:
			if r.Err == nil {
				return Win[T]{Index: r.Index, Value: r.Value}, nil
			}
			if opts.Accept != nil && opts.Accept(r.Err) {
				return Win[T]{Index: r.Index, Err: r.Err}, nil
			}
			errs = append(errs, r.Err)
		case <-ctx.Done():
			return Win[T]{}, ctx.Err()
		}
	}
	return Win[T]{}, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// Collect runs every call concurrently and waits for all of them. Outcomes are
// returned in call order; a call that timed out carries the context error.
func Collect[T any](ctx context.Context, timeout time.Duration, calls ...Call[T]) []Outcome[T] {
	out := make([]Outcome[T], len(calls))

	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			v, err := invoke(ctx, timeout, call)
			out[i] = Outcome[T]{Index: i, Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func invoke[T any](ctx context.Context, timeout time.Duration, call Call[T]) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan Outcome[T], 1)
	go func() {
		v, err := call(ctx)
		done <- Outcome[T]{Value: v, Err: err}
	}()

	select {
	case r := <-done:
		return r.Value, r.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
