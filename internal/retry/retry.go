// Package retry wraps fallible remote calls with bounded
// exponential-backoff retry. Only transient failures are retried;
// everything else propagates on first occurrence.
package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math"
	"net"
	"time"
)

// Policy configures retry behavior. The zero value is not usable; start
// from DefaultPolicy.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	JitterSeed  string // keeps jittered delays reproducible per call site

	sleep func(time.Duration) // injectable for tests
}

// DefaultPolicy returns the standard policy: 3 attempts, 2s base delay,
// 60s cap, jitter off for determinism.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// WithSleep returns a copy of the policy using fn instead of a real sleep.
func (p Policy) WithSleep(fn func(time.Duration)) Policy {
	p.sleep = fn
	return p
}

// transientError marks an error as retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so the retry wrapper will treat it as retryable.
// Callers use it for failures of network/timeout class: connection errors,
// HTTP 5xx, rate limits.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried. Errors explicitly
// marked via Transient qualify, as do net timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// DelayForAttempt returns the delay before retrying after the given
// 1-indexed failed attempt: base * 2^(attempt-1), capped at MaxDelay.
// With jitter enabled the capped delay is scaled into [0.5, 1.5) using a
// deterministic seed, so delays remain reproducible in tests.
func (p Policy) DelayForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.BaseDelay <= 0 {
		return 0
	}

	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 {
		d = math.Min(d, float64(p.MaxDelay))
	}
	if p.Jitter {
		d *= 0.5 + jitterUnit(p.JitterSeed, attempt)
	}
	return time.Duration(d)
}

// Do invokes op up to MaxAttempts times. A nil error returns immediately; a
// non-transient error propagates unchanged on first occurrence; a transient
// error sleeps DelayForAttempt and retries. After the attempt budget is
// exhausted the final failure propagates unchanged. Cancellation of ctx is
// honored between attempts and cuts the backoff sleep short.
func (p Policy) Do(ctx context.Context, op func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = func(d time.Duration) { sleepContext(ctx, d) }
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return err
			}
			return cerr
		}

		if err = op(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			return err
		}
		sleep(p.DelayForAttempt(attempt))
	}
	return err
}

// Do invokes op with retry under policy p and returns its value.
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func() error {
		var opErr error
		result, opErr = op()
		return opErr
	})
	return result, err
}

// sleepContext waits for d or until ctx is cancelled, whichever is
// first.
func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// jitterUnit maps (seed, attempt) deterministically into [0, 1).
func jitterUnit(seed string, attempt int) float64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(attempt))
	sum := sha256.Sum256(append([]byte(seed), buf[:]...))
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u) / float64(^uint64(0))
}
