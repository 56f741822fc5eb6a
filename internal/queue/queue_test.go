package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Backoff(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 3 * time.Second},
		{1, 3 * time.Second},
		{2, 6 * time.Second},
		{3, 12 * time.Second},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, cfg.Backoff(tc.attempt), "attempt %d", tc.attempt)
	}

	assert.Positive(t, cfg.Backoff(1000), "large attempts must not overflow")
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{Concurrency: 4}.withDefaults()
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.BaseDelay)
	assert.Equal(t, "application-processing", cfg.Name)
}

func TestResultConstructors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	assert.Equal(t, OutcomeSuccess, Success().Outcome)
	assert.Equal(t, Result{Outcome: OutcomeRetryable, Err: boom}, Retryable(boom))
	assert.Equal(t, Result{Outcome: OutcomeFatal, Err: boom}, Fatal(boom))
	assert.Equal(t, Result{Outcome: OutcomeDeferred, Err: boom, Delay: time.Second}, Deferred(time.Second, boom))
	assert.Equal(t, "deferred", OutcomeDeferred.String())
	assert.Equal(t, "retryable", OutcomeRetryable.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}

func TestDelivery_IsLastAttempt(t *testing.T) {
	t.Parallel()

	assert.False(t, Delivery{Attempt: 2, MaxAttempts: 3}.IsLastAttempt())
	assert.True(t, Delivery{Attempt: 3, MaxAttempts: 3}.IsLastAttempt())
}
