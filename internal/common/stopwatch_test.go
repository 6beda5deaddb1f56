package common

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopwatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := quartz.NewMock(t)

	sw := NewStopwatch(clock, time.Minute)
	stopped, _ := sw.Stopped()
	assert.True(t, stopped, "a stopwatch that never started is stopped")

	sw.Start()
	stopped, remaining := sw.Stopped()
	require.False(t, stopped)
	assert.Equal(t, time.Minute, remaining)

	clock.Advance(40 * time.Second).MustWait(ctx)
	stopped, remaining = sw.Stopped()
	require.False(t, stopped)
	assert.Equal(t, 20*time.Second, remaining)
	assert.Equal(t, -20*time.Second, sw.TimeStopped())

	clock.Advance(20 * time.Second).MustWait(ctx)
	stopped, _ = sw.Stopped()
	assert.True(t, stopped)

	sw.Start()
	sw.Stop()
	stopped, _ = sw.Stopped()
	assert.True(t, stopped)
}

func TestTimedExecutor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := quartz.NewMock(t)

	runs := 0
	te := NewTimedExecutor(clock, time.Minute, func() { runs++ })

	assert.True(t, te.Execute(), "first call runs the task")
	assert.False(t, te.Execute())
	clock.Advance(59 * time.Second).MustWait(ctx)
	assert.False(t, te.Execute())
	clock.Advance(time.Second).MustWait(ctx)
	assert.True(t, te.Execute())
	assert.Equal(t, 2, runs)
}
