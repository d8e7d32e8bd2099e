package progress

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestReporter(t *testing.T) {
	clock := NewManualClock(start)
	r := NewReporter(clock)

	assert.Equal(t, start, r.Last())

	clock.Advance(time.Minute)
	assert.Equal(t, time.Minute, r.Since())

	noted := r.Note()
	assert.Equal(t, start.Add(time.Minute), noted)
	assert.Zero(t, r.Since())
}

func TestHeartbeat(t *testing.T) {
	clock := NewManualClock(start)
	path := filepath.Join(t.TempDir(), "hb", "heartbeat.txt")
	hb := NewHeartbeat(path, 30*time.Second, clock, nil)

	require.True(t, hb.Touch(false))
	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, start.Format(time.RFC3339Nano), string(payload))

	clock.Advance(10 * time.Second)
	assert.False(t, hb.Touch(false))
	assert.True(t, hb.Touch(true))

	clock.Advance(30 * time.Second)
	assert.True(t, hb.Touch(false))
}

func TestHeartbeat_Disabled(t *testing.T) {
	hb := NewHeartbeat("", time.Second, nil, nil)
	assert.False(t, hb.Touch(true))
}

func TestWatchdog_Check(t *testing.T) {
	clock := NewManualClock(start)
	r := NewReporter(clock)
	w := NewWatchdog(r, 16*time.Minute, time.Second)

	clock.Advance(16 * time.Minute)
	stale, err := w.Check()
	require.NoError(t, err)
	assert.Equal(t, 16*time.Minute, stale)

	clock.Advance(time.Second)
	stale, err = w.Check()
	require.ErrorIs(t, err, ErrStale)
	assert.Equal(t, 16*time.Minute+time.Second, stale)

	r.Note()
	_, err = w.Check()
	require.NoError(t, err)
}

func TestWatchdog_Run(t *testing.T) {
	clock := NewManualClock(start)
	r := NewReporter(clock)
	w := NewWatchdog(r, time.Minute, time.Millisecond)

	t.Run("stops on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.ErrorIs(t, w.Run(ctx), context.Canceled)
	})

	t.Run("fails when stale", func(t *testing.T) {
		clock.Advance(2 * time.Minute)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.ErrorIs(t, w.Run(ctx), ErrStale)
	})
}
