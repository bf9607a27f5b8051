// Package fallback tries an ordered list of endpoints until one connects.
package fallback

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoEndpoints is returned when First is called with an empty list.
var ErrNoEndpoints = errors.New("fallback: no endpoints configured")

// Attempt records a failed endpoint.
type Attempt[E any] struct {
	Endpoint E
	Err      error
}

// Error joins every failed attempt so the caller can log the whole chain.
type Error[E any] struct {
	Attempts []Attempt[E]
}

func (e *Error[E]) Error() string {
	msg := fmt.Sprintf("fallback: all %d endpoints failed", len(e.Attempts))
	for _, a := range e.Attempts {
		msg += fmt.Sprintf("; %v: %v", a.Endpoint, a.Err)
	}
	return msg
}

// Unwrap exposes the individual dial errors to errors.Is and errors.As.
func (e *Error[E]) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// First dials endpoints in order and returns the first connection together
// with the endpoint that produced it. Cancelling ctx stops the walk.
func First[E any, C any](ctx context.Context, endpoints []E, dial func(ctx context.Context, endpoint E) (C, error)) (C, E, error) {
	var (
		zeroC C
		zeroE E
	)
	if len(endpoints) == 0 {
		return zeroC, zeroE, ErrNoEndpoints
	}

	failed := &Error[E]{}
	for _, ep := range endpoints {
		if err := ctx.Err(); err != nil {
			return zeroC, zeroE, err
		}
		conn, err := dial(ctx, ep)
		if err == nil {
			return conn, ep, nil
		}
		failed.Attempts = append(failed.Attempts, Attempt[E]{Endpoint: ep, Err: err})
	}
	return zeroC, zeroE, failed
}
