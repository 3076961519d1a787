// Package retry decides whether a failed stage attempt should be retried and
// how long to wait before the next attempt.
//
// Permanent failures give up immediately. Transient failures back off
// exponentially (Base * 2^attempt, capped at MaxDelay) until the attempt
// budget is spent, after which the decision reports KindExhausted while the
// caller keeps the last observed kind for diagnostics.
package retry

import (
	"math/rand/v2"
	"time"

	"tonearm/internal/services"
)

// Action is the outcome of a retry decision.
type Action string

const (
	ActionRetry  Action = "retry"
	ActionGiveUp Action = "give_up"
)

// Decision describes what the scheduler should do with a failed attempt.
type Decision struct {
	Action Action
	Delay  time.Duration
	// Kind is the classification persisted on the job. It equals the input
	// kind unless the retry budget ran out, in which case it is KindExhausted.
	Kind services.Kind
	// LastKind is the kind observed on the failing attempt.
	LastKind services.Kind
}

// Retry reports whether the decision schedules another attempt.
func (d Decision) Retry() bool {
	return d.Action == ActionRetry
}

// Policy holds the backoff budget.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
	Jitter      bool

	// random returns a value in [0,1); nil uses math/rand/v2.
	random func() float64
}

// Default values mirror the shipped configuration.
const (
	DefaultMaxAttempts = 3
	DefaultBase        = 2 * time.Second
	DefaultMaxDelay    = 60 * time.Second
)

// NewPolicy returns a policy with non-positive values replaced by defaults.
func NewPolicy(maxAttempts int, base, maxDelay time.Duration, jitter bool) Policy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if base < 0 {
		base = DefaultBase
	}
	if maxDelay < base {
		maxDelay = base
	}
	return Policy{MaxAttempts: maxAttempts, Base: base, MaxDelay: maxDelay, Jitter: jitter}
}

// WithRandom returns a copy of the policy using fn as its jitter source.
func (p Policy) WithRandom(fn func() float64) Policy {
	p.random = fn
	return p
}

// Decide classifies a failure of the given kind on the given 1-based attempt.
func (p Policy) Decide(kind services.Kind, attempt int) Decision {
	if kind == services.KindNone {
		kind = services.KindUnknown
	}
	decision := Decision{Action: ActionGiveUp, Kind: kind, LastKind: kind}
	switch services.ClassOf(kind) {
	case services.ClassPermanent, services.ClassExhausted:
		return decision
	}
	if attempt >= p.MaxAttempts {
		decision.Kind = services.KindExhausted
		return decision
	}
	decision.Action = ActionRetry
	decision.Delay = p.Delay(attempt)
	return decision
}

// Delay returns the wait before the attempt following the given one.
// Without jitter the result is non-decreasing in attempt and never exceeds
// MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.Base
	for i := 0; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	if !p.Jitter || delay == 0 {
		return delay
	}
	half := delay / 2
	return half + time.Duration(p.rand()*float64(delay-half))
}

func (p Policy) rand() float64 {
	if p.random != nil {
		return p.random()
	}
	return rand.Float64()
}
