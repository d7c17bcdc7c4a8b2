package domain

import (
	"math"
	"math/rand"
	"time"
)

type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffLinear      Backoff = "linear"
)

// RetryPolicy caps how often a failed execution is retried before the task
// transitions to failed.
type RetryPolicy struct {
	MaxRetries int
	Backoff    Backoff
	BaseDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoff:    BackoffExponential,
		BaseDelay:  30 * time.Second,
	}
}

// Delay returns how long to wait before the given retry attempt.
// Exponential delays are jittered and capped at one hour so a burst of failing
// tasks does not retry in lockstep.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 30 * time.Second
	}
	switch p.Backoff {
	case BackoffExponential:
		delay := time.Duration(float64(base) * math.Pow(2, float64(retryCount)))
		delay = min(delay, time.Hour)
		jitter := time.Duration(rand.Int63n(int64(delay/2))) - delay/4
		return delay + jitter
	case BackoffLinear:
		return base * time.Duration(retryCount+1)
	default:
		return base
	}
}
