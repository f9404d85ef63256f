package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stressq/internal/client"
)

var ErrOperationTimeout = errors.New("operation timeout")

// panicError carries a panic raised inside a client call.
type panicError struct {
	value any
}

func (p panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// within runs fn under a deadline of d. It returns as soon as the deadline
// passes or ctx is cancelled, even if fn ignores its context; a deadline
// breach is reported as ErrOperationTimeout.
func within[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: panicError{p}}
			}
		}()
		v, err := fn(ctx)
		ch <- outcome{v, err}
	}()

	var zero T
	select {
	case o := <-ch:
		if errors.Is(o.err, context.DeadlineExceeded) {
			return o.v, ErrOperationTimeout
		}
		return o.v, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrOperationTimeout
		}
		return zero, ctx.Err()
	}
}

// run is within for calls that only return an error.
func run(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	_, err := within(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// sleep pauses for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errorMessage(err error) string {
	if errors.Is(err, ErrOperationTimeout) {
		return ErrOperationTimeout.Error()
	}
	// An empty message would read as success downstream.
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}

// connectError marks err as a connect failure unless the client already did.
func connectError(err error) error {
	if errors.Is(err, client.ErrConnectFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", client.ErrConnectFailed, errorMessage(err))
}
