package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/sells-group/speedrun-cli/internal/config"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	var calls, retries int
	p := fastPolicy(3)
	p.OnRetry = func(int, error) { retries++ }

	got, err := Retry(context.Background(), p, func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("unavailable"), 503)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
	if calls != 3 || retries != 2 {
		t.Errorf("expected 3 calls and 2 retries, got %d and %d", calls, retries)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	var calls int
	_, err := Retry(context.Background(), fastPolicy(4), func(_ context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("rate limited"), 429)
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestRetry_PermanentErrorStops(t *testing.T) {
	var calls int
	_, err := Retry(context.Background(), fastPolicy(3), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("bad request")
	})
	if err == nil || calls != 1 {
		t.Errorf("expected one call and an error, got %d calls, err=%v", calls, err)
	}
}

func TestRetry_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	p := fastPolicy(5)
	p.InitialBackoff = time.Hour
	p.MaxBackoff = time.Hour
	p.OnRetry = func(int, error) { cancel() }

	_, err := Retry(ctx, p, func(_ context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("timeout"), 504)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_CustomShouldRetry(t *testing.T) {
	var calls int
	p := fastPolicy(3)
	p.ShouldRetry = func(error) bool { return true }
	_, _ = Retry(context.Background(), p, func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("anything")
	})
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if got := p.Delay(i); got != w {
			t.Errorf("attempt %d: expected %v, got %v", i, w, got)
		}
	}

	p.JitterFraction = 0.5
	for range 50 {
		d := p.Delay(0)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %v out of range", d)
		}
	}
}

func TestNewRetryPolicy(t *testing.T) {
	p := NewRetryPolicy(config.RetryConfig{MaxAttempts: 7, InitialBackoffMs: 20, JitterFraction: 0})
	if p.MaxAttempts != 7 || p.InitialBackoff != 20*time.Millisecond {
		t.Errorf("unexpected policy: %+v", p)
	}
	if p.MaxBackoff != 30*time.Second || p.Multiplier != 2 {
		t.Errorf("defaults not kept: %+v", p)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("x"), 503), true},
		{"wrapped explicit", fmt.Errorf("fetch: %w", NewTransientError(errors.New("x"), 429)), true},
		{"net timeout", timeoutErr{}, true},
		{"conn reset errno", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"message heuristic", errors.New("dial tcp: i/o timeout"), true},
		{"plain", errors.New("invalid company id"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	if Classify(NewTransientError(errors.New("x"), 500)) != ClassTransient {
		t.Error("expected transient class")
	}
	if Classify(errors.New("x")) != ClassPermanent {
		t.Error("expected permanent class")
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422, 501} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be permanent", code)
		}
	}
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	var transitions []string
	b := NewBreaker(config.CircuitConfig{FailureThreshold: 2, ResetTimeoutSecs: 10},
		OnStateChange(func(from, to BreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}))
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }

	fail := func(_ context.Context) (int, error) { return 0, errors.New("boom") }
	ok := func(_ context.Context) (int, error) { return 1, nil }

	for range 2 {
		_, _ = Guard(context.Background(), b, fail)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	_, err := Guard(context.Background(), b, func(_ context.Context) (int, error) {
		t.Error("call should be rejected while open")
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	clock = clock.Add(11 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}

	// Failed probe reopens.
	_, _ = Guard(context.Background(), b, fail)
	if b.State() != StateOpen {
		t.Fatalf("expected open after failed probe, got %s", b.State())
	}

	clock = clock.Add(11 * time.Second)
	if v, err := Guard(context.Background(), b, ok); err != nil || v != 1 {
		t.Fatalf("probe failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->open", "open->half-open", "half-open->closed"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker(config.CircuitConfig{FailureThreshold: 3})
	fail := func(_ context.Context) (int, error) { return 0, errors.New("boom") }
	ok := func(_ context.Context) (int, error) { return 0, nil }

	for _, fn := range []func(context.Context) (int, error){fail, fail, ok, fail, fail} {
		_, _ = Guard(context.Background(), b, fn)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}

	_, _ = Guard(context.Background(), b, func(_ context.Context) (int, error) { return 0, context.Canceled })
	if b.State() != StateClosed {
		t.Errorf("cancellation must not trip the breaker")
	}

	_, _ = Guard(context.Background(), b, fail)
	_, _ = Guard(context.Background(), b, fail)
	_, _ = Guard(context.Background(), b, fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("expected closed after reset, got %s", b.State())
	}
}

func TestFailureEntry_CanRetry(t *testing.T) {
	e := FailureEntry{ErrorType: ClassTransient, RetryCount: 1, MaxRetries: 3}
	if !e.CanRetry() {
		t.Error("expected retryable")
	}
	e.RetryCount = 3
	if e.CanRetry() {
		t.Error("expected retry cap to apply")
	}
	e = FailureEntry{ErrorType: ClassPermanent, MaxRetries: 3}
	if e.CanRetry() {
		t.Error("permanent failures are not retried")
	}
}

func TestNextAttempt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := NextAttempt(now, 15*time.Minute, 0); !got.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("unexpected first retry time %v", got)
	}
	if got := NextAttempt(now, 15*time.Minute, 2); !got.Equal(now.Add(time.Hour)) {
		t.Errorf("unexpected third retry time %v", got)
	}
	if got := NextAttempt(now, time.Hour, 20); !got.Equal(now.Add(24 * time.Hour)) {
		t.Errorf("expected cap at one day, got %v", got)
	}
}
