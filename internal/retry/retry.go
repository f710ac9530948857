// Package retry runs an operation under a bounded exponential backoff policy
// with an overall time budget.
package retry

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
)

// ErrBudgetExhausted is matched by failures that stopped because the next
// wait would have crossed the policy budget.
var ErrBudgetExhausted = errors.New("retry budget exhausted")

// StatusCoder is implemented by errors that carry an HTTP-like status.
type StatusCoder interface {
	StatusCode() int
}

// Policy describes how often and how long an operation is retried.
// Before attempt k+1 the policy waits BaseDelay*2^k.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Budget      time.Duration
	Retryable   func(error) bool

	// Now and Sleep are overridden in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Budget:      25 * time.Second,
		Retryable:   Transient,
	}
}

// Error is returned once the policy gives up.
type Error struct {
	Attempts int
	Err      error
	// Terminal is set when the last error was not retryable.
	Terminal bool
	// Budget is set when the policy stopped on its time budget.
	Budget bool
}

func (e *Error) Error() string {
	switch {
	case e.Budget:
		return fmt.Sprintf("retry budget exhausted after %d attempt(s): %v", e.Attempts, e.Err)
	case e.Terminal:
		return fmt.Sprintf("non-retryable failure on attempt %d: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return e.Budget && target == ErrBudgetExhausted
}

// Attempts returns how many attempts err went through, or 0.
func Attempts(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.Attempts
	}
	return 0
}

// IsTerminal reports whether the policy stopped on a non-retryable error.
func IsTerminal(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Terminal
}

// Transient treats 5xx statuses, network errors and deadline expiry as
// retryable. Other statuses are terminal.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode() >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func (p Policy) withDefaults() Policy {
	d := Default()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Budget <= 0 {
		p.Budget = d.Budget
	}
	if p.Retryable == nil {
		p.Retryable = d.Retryable
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.Budget
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do calls op until it succeeds, returns a non-retryable error, runs out of
// attempts, or the next wait would cross the budget. The context passed to
// op is bounded by the budget.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	p = p.withDefaults()
	start := p.Now()
	bctx, cancel := context.WithTimeout(ctx, p.Budget)
	defer cancel()

	b := p.backOff()
	for attempt := 1; ; attempt++ {
		err := op(bctx, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return &Error{Attempts: attempt, Err: errors.WithSecondaryError(ctx.Err(), err), Terminal: true}
		}
		if !p.Retryable(err) {
			return &Error{Attempts: attempt, Err: err, Terminal: true}
		}
		if attempt >= p.MaxAttempts {
			return &Error{Attempts: attempt, Err: err}
		}
		delay := b.NextBackOff()
		if p.Now().Sub(start)+delay >= p.Budget {
			return &Error{Attempts: attempt, Err: err, Budget: true}
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if serr := p.Sleep(bctx, delay); serr != nil {
			if ctx.Err() != nil {
				return &Error{Attempts: attempt, Err: errors.WithSecondaryError(ctx.Err(), err), Terminal: true}
			}
			return &Error{Attempts: attempt, Err: err, Budget: true}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
