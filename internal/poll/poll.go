// Package poll waits for asynchronous provider operations to settle.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

// DefaultInterval is the fixed delay between probes when none is given.
const DefaultInterval = 500 * time.Millisecond

var (
	// ErrTimeout matches every TimeoutError.
	ErrTimeout = errors.New("poll timed out")

	// ErrFailed matches every FailedError.
	ErrFailed = errors.New("poll reached a failure state")
)

// Probe fetches the current state. found=false means the resource does not
// exist, which is a normal observation rather than an error.
type Probe[S any] func(ctx context.Context) (state S, found bool, err error)

// Predicate classifies an observation.
type Predicate[S any] func(state S, found bool) bool

// Options bound a wait. Either Timeout or Attempts must be set; when both
// are, whichever runs out first ends the wait.
type Options[S any] struct {
	Interval time.Duration
	Timeout  time.Duration
	Attempts int

	// Terminal reports success.
	Terminal Predicate[S]

	// Failure reports a known bad terminal state. Checked before Terminal.
	Failure Predicate[S]

	// Subject names what is being waited on, for error messages.
	Subject string
}

// TimeoutError is returned when the budget is spent without reaching a
// terminal state. Last is the final observation.
type TimeoutError struct {
	Subject  string
	Last     any
	Found    bool
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: not settled after %d attempts (%s), last state %v",
		e.Subject, e.Attempts, e.Elapsed.Round(time.Millisecond), describe(e.Last, e.Found))
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// FailedError is returned as soon as the Failure predicate holds.
type FailedError struct {
	Subject string
	Last    any
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%s: entered failure state %v", e.Subject, describe(e.Last, true))
}

func (e *FailedError) Is(target error) bool { return target == ErrFailed }

// Gone is a terminal predicate for deletion waits.
func Gone[S any](_ S, found bool) bool { return !found }

// Wait calls probe until Terminal holds, Failure holds, or the budget runs
// out. The first probe happens immediately, so a resource that is already
// settled costs no sleep. Probe errors end the wait unchanged.
func Wait[S any](ctx context.Context, probe Probe[S], opts Options[S]) (S, error) {
	var zero S
	if opts.Terminal == nil {
		return zero, fmt.Errorf("poll %s: no terminal predicate", opts.Subject)
	}
	if opts.Timeout <= 0 && opts.Attempts <= 0 {
		return zero, fmt.Errorf("poll %s: neither timeout nor attempts set", opts.Subject)
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	var schedule backoff.BackOff = backoff.NewConstantBackOff(interval)
	if opts.Attempts > 0 {
		schedule = backoff.WithMaxRetries(schedule, uint64(opts.Attempts-1))
	}

	start := time.Now()
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = start.Add(opts.Timeout)
	}

	var (
		last     S
		found    bool
		attempts int
	)
	for {
		state, ok, err := probe(ctx)
		attempts++
		if err != nil {
			return state, fmt.Errorf("poll %s: %w", opts.Subject, err)
		}
		last, found = state, ok

		if opts.Failure != nil && opts.Failure(state, ok) {
			return state, &FailedError{Subject: opts.Subject, Last: state}
		}
		if opts.Terminal(state, ok) {
			return state, nil
		}

		wait := schedule.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			if remaining < wait {
				wait = remaining
			}
		}
		if err := sleep(ctx, wait); err != nil {
			return last, err
		}
	}

	return last, &TimeoutError{
		Subject:  opts.Subject,
		Last:     last,
		Found:    found,
		Attempts: attempts,
		Elapsed:  time.Since(start),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("poll cancelled: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

func describe(state any, found bool) string {
	if !found {
		return "<absent>"
	}
	return fmt.Sprintf("%+v", state)
}
