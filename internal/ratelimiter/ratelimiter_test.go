package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWithinBurst(t *testing.T) {
	limiter := New(5, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow(), "connection %d should be inside the burst", i)
	}
	assert.False(t, limiter.Allow(), "fourth immediate connection should be throttled")
}

func TestZeroRateIsUnlimited(t *testing.T) {
	limiter := New(0, 0)
	require.True(t, limiter.Unlimited())

	for i := 0; i < 1000; i++ {
		require.True(t, limiter.Allow())
	}
}

func TestZeroBurstRaisedToOne(t *testing.T) {
	limiter := New(10, 0)
	assert.True(t, limiter.Allow())
}

func TestWaitRespectsContext(t *testing.T) {
	limiter := New(1, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	assert.Error(t, err)
}
