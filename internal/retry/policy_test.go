package retry_test

import (
	"testing"
	"time"

	"tonearm/internal/retry"
	"tonearm/internal/services"
)

func TestPermanentKindsGiveUpImmediately(t *testing.T) {
	policy := retry.NewPolicy(3, time.Second, time.Minute, false)
	for _, kind := range []services.Kind{
		services.KindNotFound,
		services.KindMalformedInput,
		services.KindQuotaExceeded,
		services.KindConfiguration,
	} {
		decision := policy.Decide(kind, 1)
		if decision.Retry() {
			t.Fatalf("expected %s to give up", kind)
		}
		if decision.Kind != kind {
			t.Fatalf("expected kind %s preserved, got %s", kind, decision.Kind)
		}
	}
}

func TestTransientKindsRetryUntilExhausted(t *testing.T) {
	policy := retry.NewPolicy(3, time.Second, time.Minute, false)
	for attempt := 1; attempt < 3; attempt++ {
		decision := policy.Decide(services.KindTimeout, attempt)
		if !decision.Retry() {
			t.Fatalf("attempt %d: expected retry", attempt)
		}
		if decision.Kind != services.KindTimeout {
			t.Fatalf("attempt %d: unexpected kind %s", attempt, decision.Kind)
		}
	}
	final := policy.Decide(services.KindTimeout, 3)
	if final.Retry() {
		t.Fatal("expected give up on the last attempt")
	}
	if final.Kind != services.KindExhausted {
		t.Fatalf("expected exhausted, got %s", final.Kind)
	}
	if final.LastKind != services.KindTimeout {
		t.Fatalf("expected last kind timeout, got %s", final.LastKind)
	}
}

func TestUnclassifiedErrorsAreTransient(t *testing.T) {
	policy := retry.NewPolicy(2, time.Second, time.Minute, false)
	decision := policy.Decide(services.KindNone, 1)
	if !decision.Retry() {
		t.Fatal("expected unclassified failure to retry")
	}
	if decision.Kind != services.KindUnknown {
		t.Fatalf("expected unknown kind, got %s", decision.Kind)
	}
}

func TestDelayIsNonDecreasingAndCapped(t *testing.T) {
	policy := retry.NewPolicy(100, 500*time.Millisecond, 30*time.Second, false)
	prev := time.Duration(0)
	for attempt := 0; attempt < 80; attempt++ {
		delay := policy.Delay(attempt)
		if delay < prev {
			t.Fatalf("attempt %d: delay %s decreased from %s", attempt, delay, prev)
		}
		if delay > 30*time.Second {
			t.Fatalf("attempt %d: delay %s exceeds cap", attempt, delay)
		}
		prev = delay
	}
	if got := policy.Delay(1); got != time.Second {
		t.Fatalf("expected base*2 for attempt 1, got %s", got)
	}
	if got := policy.Delay(79); got != 30*time.Second {
		t.Fatalf("expected cap for large attempt, got %s", got)
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	for _, r := range []float64{0, 0.5, 0.999} {
		policy := retry.NewPolicy(5, time.Second, time.Minute, true).WithRandom(func() float64 { return r })
		delay := policy.Delay(2)
		if delay < 2*time.Second || delay > 4*time.Second {
			t.Fatalf("jittered delay %s outside [2s,4s] for r=%v", delay, r)
		}
	}
}
