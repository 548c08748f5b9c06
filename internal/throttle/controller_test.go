package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_InFlight(t *testing.T) {
	c := NewController(Config{MaxInFlight: 2})

	r1, err := c.Acquire(t.Context())
	require.NoError(t, err)
	r2, err := c.Acquire(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.InFlight())

	// Third acquire blocks until the context expires.
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	r1()
	r1() // double release is ignored
	assert.Equal(t, int64(1), c.InFlight())

	r3, err := c.Acquire(t.Context())
	require.NoError(t, err)
	r2()
	r3()
	assert.Equal(t, int64(0), c.InFlight())
}

func TestController_Unlimited(t *testing.T) {
	c := NewController(Config{})

	for i := 0; i < 100; i++ {
		release, err := c.Acquire(t.Context())
		require.NoError(t, err)
		defer release()
	}
	assert.Equal(t, int64(100), c.InFlight())
}

func TestController_RateLimit(t *testing.T) {
	c := NewController(Config{OpsPerSecond: 1})

	release, err := c.Acquire(t.Context())
	require.NoError(t, err)
	release()

	// The single burst token is spent; the next one is ~1s away.
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Acquire(ctx)
	assert.Error(t, err)
}

func TestController_Background(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 2})

	require.NoError(t, c.AcquireBackground(t.Context()))
	require.NoError(t, c.AcquireBackground(t.Context()))
	assert.False(t, c.TryAcquireBackground())

	c.ReleaseBackground()
	assert.True(t, c.TryAcquireBackground())
}

func TestController_NilSafe(t *testing.T) {
	var c *Controller

	release, err := c.Acquire(t.Context())
	require.NoError(t, err)
	release()
	assert.Equal(t, int64(0), c.InFlight())
	assert.True(t, c.TryAcquireBackground())
	require.NoError(t, c.AcquireBackground(t.Context()))
	c.ReleaseBackground()
}
