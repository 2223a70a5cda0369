package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTickSchedulerRunsUntilCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	s := NewTickScheduler(ctx, "test", 5*time.Millisecond)
	s.RunImmediately = true

	done := make(chan int, 1)
	go func() {
		done <- s.Start(func(context.Context) {
			if calls.Add(1) >= 3 {
				cancel()
			}
		})
	}()

	select {
	case runs := <-done:
		assert.GreaterOrEqual(t, runs, 3)
		assert.Equal(t, int32(runs), calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestTickSchedulerInvalid(t *testing.T) {
	assert.Equal(t, 0, NewTickScheduler(context.Background(), "zero", 0).Start(func(context.Context) {}))
	assert.Equal(t, 0, NewTickScheduler(context.Background(), "nil", time.Second).Start(nil))
	var s *TickScheduler
	assert.Equal(t, 0, s.Start(func(context.Context) {}))
}

func TestParseInterval(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"15m": 15 * time.Minute,
		"1h":  time.Hour,
		"4H":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
		"1M":  30 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, ok := ParseInterval(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "h", "0m", "-1h", "3x", "abc"} {
		_, ok := ParseInterval(bad)
		assert.False(t, ok, bad)
	}
}
