package services

import (
	"math/rand"
	"time"

	"github.com/manthysbr/aula/internal/core/domain"
)

// RetryPolicy decides whether a failed grading attempt retries, and after
// how long. It is a pure decision function: no clocks, no stores.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy matches the grading service's observed failure profile:
// three extra attempts with exponential backoff starting at two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 2 * time.Second}
}

// Decide returns whether the attempt that produced err should retry given
// how many retries the item already consumed. Permanent errors never retry;
// transient errors retry until the retry budget is spent.
//
// The delay grows as base * 2^retryCount plus jitter in [0, base) so a burst
// of rate-limited items does not stampede the grading service in lockstep.
func (p RetryPolicy) Decide(err error, retryCount int) (bool, time.Duration) {
	if domain.IsPermanent(err) {
		return false, 0
	}
	if retryCount >= p.MaxRetries {
		return false, 0
	}

	// BaseDelay 0 means immediate retries; Int63n would panic on it.
	if p.BaseDelay <= 0 {
		return true, 0
	}
	delay := p.BaseDelay * (1 << retryCount)
	jitter := time.Duration(rand.Int63n(int64(p.BaseDelay)))
	return true, delay + jitter
}
