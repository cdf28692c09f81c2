package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledNeverBlocks(t *testing.T) {
	var l = Disabled()
	require.True(t, l.TryAcquire())
	require.NoError(t, l.Wait(context.Background()))
}

func TestZeroRequestsPerSecondDisables(t *testing.T) {
	var l = New(0, 1)
	require.True(t, l.TryAcquire())
}

func TestTryAcquireRespectsBurst(t *testing.T) {
	var l = New(1, 2)
	require.True(t, l.TryAcquire())
	require.True(t, l.TryAcquire())
	require.False(t, l.TryAcquire())
}

func TestWaitUnblocksWithinContext(t *testing.T) {
	var l = New(1000, 1)
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Wait(ctx))
}
