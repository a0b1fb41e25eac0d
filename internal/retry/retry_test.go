package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func testPolicy(slept *[]time.Duration) Policy {
	p := DefaultPolicy()
	p.BaseDelay = 100 * time.Millisecond
	return p.WithSleep(func(d time.Duration) {
		*slept = append(*slept, d)
	})
}

func TestSucceedsFirstAttempt(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(slept) != 0 {
		t.Errorf("slept %v, want no delays", slept)
	}
}

func TestAlwaysTransientInvokedExactlyMaxAttempts(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)
	p.MaxAttempts = 4

	calls := 0
	boom := errors.New("connection reset")
	err := p.Do(context.Background(), func() error {
		calls++
		return Transient(boom)
	})

	if calls != 4 {
		t.Errorf("calls = %d, want exactly MaxAttempts (4)", calls)
	}
	if !errors.Is(err, boom) {
		t.Errorf("final error = %v, want the original failure propagated unchanged", err)
	}
	// Delays: base*2^0, base*2^1, base*2^2, one fewer than attempts.
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(slept) != len(want) {
		t.Fatalf("len(slept) = %d, want %d", len(slept), len(want))
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("slept[%d] = %v, want %v", i, slept[i], want[i])
		}
		if i > 0 && slept[i] < slept[i-1] {
			t.Errorf("delays not non-decreasing: %v", slept)
		}
	}
}

func TestNonTransientNotRetried(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)

	calls := 0
	fatal := errors.New("401 bad credentials")
	err := p.Do(context.Background(), func() error {
		calls++
		return fatal
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (non-transient must not be retried)", calls)
	}
	if !errors.Is(err, fatal) {
		t.Errorf("error = %v, want %v", err, fatal)
	}
	if len(slept) != 0 {
		t.Errorf("slept %v, want none", slept)
	}
}

func TestTransientThenSuccess(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return Transient(errors.New("503 service unavailable"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDelayCappedAtMaxDelay(t *testing.T) {
	p := DefaultPolicy()
	p.BaseDelay = time.Second
	p.MaxDelay = 8 * time.Second

	for _, tc := range []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 8 * time.Second}, // capped
		{10, 8 * time.Second},
	} {
		if got := p.DelayForAttempt(tc.attempt); got != tc.want {
			t.Errorf("DelayForAttempt(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestJitterDeterministicPerSeed(t *testing.T) {
	p := DefaultPolicy()
	p.BaseDelay = time.Second
	p.Jitter = true
	p.JitterSeed = "finder:1706.03762"

	a := p.DelayForAttempt(2)
	b := p.DelayForAttempt(2)
	if a != b {
		t.Errorf("jittered delay not deterministic: %v != %v", a, b)
	}

	// Jitter scales into [0.5, 1.5) of the base curve.
	base := 2 * time.Second
	if a < base/2 || a >= base+base/2 {
		t.Errorf("jittered delay %v outside [%v, %v)", a, base/2, base+base/2)
	}
}

func TestGenericDoReturnsValue(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)

	calls := 0
	got, err := Do(context.Background(), p, func() (string, error) {
		calls++
		if calls == 1 {
			return "", Transient(errors.New("timeout"))
		}
		return "metadata", nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if got != "metadata" {
		t.Errorf("Do() = %q, want %q", got, "metadata")
	}
}

func TestContextCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := DefaultPolicy()
	p.MaxAttempts = 5
	p = p.WithSleep(func(time.Duration) { cancel() })

	calls := 0
	err := p.Do(ctx, func() error {
		calls++
		return Transient(fmt.Errorf("attempt %d failed", calls))
	})
	if err == nil {
		t.Fatal("Do() = nil, want error after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (cancelled during first backoff)", calls)
	}
}

func TestCancellationCutsBackoffShort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// No WithSleep: the real backoff sleep runs, and would block for an
	// hour if cancellation did not interrupt it.
	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour}

	calls := 0
	transient := Transient(errors.New("flaky"))
	start := time.Now()
	err := p.Do(ctx, func() error {
		calls++
		cancel()
		return transient
	})

	if !errors.Is(err, transient) {
		t.Fatalf("Do() = %v, want the transient failure", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if elapsed := time.Since(start); elapsed > time.Minute {
		t.Errorf("Do blocked %v waiting out the backoff", elapsed)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("IsTransient(nil) = true")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("plain error reported transient")
	}
	if !IsTransient(Transient(errors.New("x"))) {
		t.Error("marked error not reported transient")
	}
	wrapped := fmt.Errorf("fetch: %w", Transient(errors.New("x")))
	if !IsTransient(wrapped) {
		t.Error("wrapped transient error not detected")
	}
}
