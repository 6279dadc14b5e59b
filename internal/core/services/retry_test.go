package services

import (
	"errors"
	"testing"
	"time"

	"github.com/manthysbr/aula/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_PermanentNeverRetries(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}

	err := domain.NewPermanentError("invalid content", nil)
	retry, delay := p.Decide(err, 0)

	assert.False(t, retry)
	assert.Zero(t, delay)
}

func TestRetryPolicy_TransientRetriesUntilBudgetSpent(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, BaseDelay: time.Second}
	err := domain.NewTransientError("rate limited", nil)

	retry, _ := p.Decide(err, 0)
	assert.True(t, retry)

	retry, _ = p.Decide(err, 1)
	assert.True(t, retry)

	retry, _ = p.Decide(err, 2)
	assert.False(t, retry, "retry count at max must not retry again")
}

func TestRetryPolicy_ExponentialBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	p := RetryPolicy{MaxRetries: 5, BaseDelay: base}
	err := domain.NewTransientError("timeout", nil)

	for retryCount := 0; retryCount < 4; retryCount++ {
		_, delay := p.Decide(err, retryCount)
		floor := base * (1 << retryCount)
		assert.GreaterOrEqual(t, delay, floor, "delay below backoff floor at retry %d", retryCount)
		assert.Less(t, delay, floor+base, "jitter must stay under one base delay")
	}
}

func TestRetryPolicy_ZeroBaseDelayRetriesImmediately(t *testing.T) {
	// AULA_RETRY_BASE_DELAY=0s reaches Decide with a zero base; the jitter
	// draw must not blow up on it.
	p := RetryPolicy{MaxRetries: 3, BaseDelay: 0}
	err := domain.NewTransientError("rate limited", nil)

	retry, delay := p.Decide(err, 0)
	assert.True(t, retry)
	assert.Zero(t, delay)

	retry, delay = p.Decide(err, 2)
	assert.True(t, retry)
	assert.Zero(t, delay)

	retry, _ = p.Decide(err, 3)
	assert.False(t, retry)
}

func TestRetryPolicy_UnclassifiedErrorsTreatedTransient(t *testing.T) {
	p := RetryPolicy{MaxRetries: 1, BaseDelay: time.Second}

	retry, _ := p.Decide(errors.New("socket closed"), 0)
	assert.True(t, retry, "unknown failures get the benefit of the backoff schedule")
}
