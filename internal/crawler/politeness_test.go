package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerPauserHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := TimerPauser{}.Pause(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second, "pause should exit immediately when context is done")
}

func TestTimerPauserWaits(t *testing.T) {
	start := time.Now()
	require.NoError(t, TimerPauser{}.Pause(context.Background(), 20*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestJitterStaysInRange(t *testing.T) {
	t.Parallel()

	low := Jitter{Min: time.Second, Max: 3 * time.Second, Rand: func() float64 { return 0 }}
	require.Equal(t, time.Second, low.Next())

	mid := Jitter{Min: time.Second, Max: 3 * time.Second, Rand: func() float64 { return 0.5 }}
	require.Equal(t, 2*time.Second, mid.Next())

	inverted := Jitter{Min: time.Second, Max: 0}
	require.Equal(t, time.Second, inverted.Next())

	live := Jitter{Min: 200 * time.Millisecond, Max: 800 * time.Millisecond}
	for i := 0; i < 100; i++ {
		d := live.Next()
		require.GreaterOrEqual(t, d, 200*time.Millisecond)
		require.LessOrEqual(t, d, 800*time.Millisecond)
	}
}
