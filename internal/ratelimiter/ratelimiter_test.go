package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowConsumesBurst(t *testing.T) {
	limiter := New(10, 3)

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow(), "bucket should be empty after the burst")
}

func TestZeroRateIsUnlimited(t *testing.T) {
	limiter := New(0, 0)

	for i := 0; i < 10_000; i++ {
		require.True(t, limiter.Allow())
	}
}

func TestWaitRespectsCancellation(t *testing.T) {
	limiter := New(1, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitAcquiresToken(t *testing.T) {
	limiter := New(100, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// The bucket refills at 100/s, so a token arrives well within a second.
	require.NoError(t, limiter.Wait(ctx))
}

func TestAllowN(t *testing.T) {
	limiter := New(10, 5)

	assert.True(t, limiter.AllowN(5))
	assert.False(t, limiter.AllowN(1))
}

func TestSetLimitAdjustsBurst(t *testing.T) {
	limiter := New(10, 20)

	limiter.SetLimit(50)
	assert.True(t, limiter.AllowN(20), "burst should have grown with the rate")
}

func TestSetBurst(t *testing.T) {
	limiter := New(10, 1)
	require.True(t, limiter.Allow())
	require.False(t, limiter.Allow())

	limiter.SetBurst(100)
	limiter.SetLimit(1000)
	time.Sleep(50 * time.Millisecond)
	assert.True(t, limiter.AllowN(10))
}
