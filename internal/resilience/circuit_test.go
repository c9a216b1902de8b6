package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fetchVia(cb *CircuitBreaker, err error) (string, error) {
	return ExecuteVal(context.Background(), cb, func(context.Context) (string, error) {
		return "boletin.pdf", err
	})
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker("www.dane.gov.co", DefaultCircuitBreakerConfig())

	got, err := fetchVia(cb, nil)
	require.NoError(t, err)
	assert.Equal(t, "boletin.pdf", got)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("www.dane.gov.co", CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         time.Minute,
	})

	for range 3 {
		_, err := fetchVia(cb, errors.New("i/o timeout"))
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	_, err := ExecuteVal(context.Background(), cb, func(context.Context) (string, error) {
		called = true
		return "", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open breaker must not reach the upstream")
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("www.dane.gov.co", CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         time.Minute,
	})

	for range 2 {
		_, _ = fetchVia(cb, errors.New("fail"))
	}
	_, err := fetchVia(cb, nil)
	require.NoError(t, err)

	// Two more failures stay below the threshold again.
	for range 2 {
		_, _ = fetchVia(cb, errors.New("fail"))
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_TrialAfterCooldown(t *testing.T) {
	clock := time.Date(2021, time.March, 15, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("www.dane.gov.co", CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         30 * time.Second,
	})
	cb.now = func() time.Time { return clock }

	_, _ = fetchVia(cb, errors.New("fail"))
	require.Equal(t, CircuitOpen, cb.State())

	clock = clock.Add(31 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	_, err := fetchVia(cb, nil)
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_FailedTrialReopens(t *testing.T) {
	clock := time.Date(2021, time.March, 15, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("www.dane.gov.co", CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         30 * time.Second,
	})
	cb.now = func() time.Time { return clock }

	_, _ = fetchVia(cb, errors.New("fail"))
	clock = clock.Add(31 * time.Second)

	_, err := fetchVia(cb, errors.New("still down"))
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, cb.State())

	_, err = fetchVia(cb, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen, "cooldown restarts after a failed trial")
}

func TestServiceBreakers_OnePerHost(t *testing.T) {
	sb := NewServiceBreakers(DefaultCircuitBreakerConfig())

	dane := sb.Get("www.dane.gov.co")
	supabase := sb.Get("abc.supabase.co")

	assert.Same(t, dane, sb.Get("www.dane.gov.co"))
	assert.NotSame(t, dane, supabase)
}

func TestServiceBreakers_IsolatesHosts(t *testing.T) {
	sb := NewServiceBreakers(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})

	_, _ = fetchVia(sb.Get("www.dane.gov.co"), errors.New("fail"))

	assert.Equal(t, CircuitOpen, sb.Get("www.dane.gov.co").State())
	assert.Equal(t, CircuitClosed, sb.Get("abc.supabase.co").State())
}
