package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tierbot/config"
)

func TestSchedulerTicksNeverOverlap(t *testing.T) {
	var active, maxActive, runs int32
	s := &Scheduler{
		interval: 5 * time.Millisecond,
		now:      time.Now,
		run: func(ctx context.Context, now time.Time) Summary {
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			atomic.AddInt32(&runs, 1)
			return Summary{}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(2))
}

func TestSchedulerStopLetsInFlightTickFinish(t *testing.T) {
	started := make(chan struct{})
	var runs int32
	var innerErr error
	s := &Scheduler{
		interval: time.Hour,
		now:      time.Now,
		run: func(ctx context.Context, now time.Time) Summary {
			atomic.AddInt32(&runs, 1)
			close(started)
			time.Sleep(50 * time.Millisecond)
			innerErr = ctx.Err()
			return Summary{}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.NoError(t, innerErr, "in-flight tick keeps a live context")
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestSessionPhases(t *testing.T) {
	s, err := NewSession(config.NewConfig().Session)
	require.NoError(t, err)
	at := func(day, hour, minute int) time.Time {
		return time.Date(2026, 10, day, hour, minute, 0, 0, s.Location())
	}

	cases := []struct {
		name string
		when time.Time
		want Phase
	}{
		{"before open", at(15, 9, 0), PhaseClosed},
		{"warm-up", at(15, 9, 40), PhaseMonitorOnly},
		{"trading", at(15, 9, 45), PhaseTrading},
		{"flatten window", at(15, 15, 45), PhaseFlatten},
		{"after close", at(15, 16, 0), PhaseClosed},
		{"saturday", at(17, 12, 0), PhaseClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.Phase(tc.when))
		})
	}
	assert.Equal(t, "2026-10-15", s.TradingDay(at(15, 23, 59)))
}

func TestHistoryKeepsMostRecent(t *testing.T) {
	h := NewHistory(3)
	for _, p := range []float64{1, 2, 3, 4} {
		h.Push("SPY", p)
	}
	assert.Equal(t, []float64{3, 4, 5}, h.Push("SPY", 5))
}
