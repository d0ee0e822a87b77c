package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardRateLimit(t *testing.T) {
	g := newGuard(3, 10, time.Minute, time.Minute)

	for i := 0; i < 3; i++ {
		require.NoError(t, g.allow())
	}
	err := g.allow()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestGuardBreakerOpensAtThreshold(t *testing.T) {
	g := newGuard(100, 3, time.Minute, time.Minute)

	for i := 0; i < 2; i++ {
		require.NoError(t, g.allow())
		g.recordFailure()
	}
	require.NoError(t, g.allow())
	g.recordFailure()

	err := g.allow()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker")
}

func TestGuardBreakerHalfOpenProbe(t *testing.T) {
	g := newGuard(100, 1, 10*time.Millisecond, time.Minute)

	require.NoError(t, g.allow())
	g.recordFailure()
	require.Error(t, g.allow())

	time.Sleep(15 * time.Millisecond)

	// Cooldown elapsed: probe allowed. A probe failure reopens immediately.
	require.NoError(t, g.allow())
	g.recordFailure()
	assert.Error(t, g.allow())

	time.Sleep(15 * time.Millisecond)

	// A probe success closes the breaker fully.
	require.NoError(t, g.allow())
	g.recordSuccess()
	assert.NoError(t, g.allow())
}

func TestGuardSuccessResetsFailureCount(t *testing.T) {
	g := newGuard(100, 2, time.Minute, time.Minute)

	g.recordFailure()
	g.recordSuccess()
	g.recordFailure()

	assert.NoError(t, g.allow())
}

func TestGuardResultCache(t *testing.T) {
	g := newGuard(100, 3, time.Minute, 20*time.Millisecond)

	_, ok := g.cachedOutput(`{"q":"x"}`)
	assert.False(t, ok)

	g.storeOutput(`{"q":"x"}`, "answer")
	out, ok := g.cachedOutput(`{"q":"x"}`)
	require.True(t, ok)
	assert.Equal(t, "answer", out)

	time.Sleep(30 * time.Millisecond)
	_, ok = g.cachedOutput(`{"q":"x"}`)
	assert.False(t, ok)
}
