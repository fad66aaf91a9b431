// monitor/scheduler.go
package monitor

import (
	"context"
	"time"

	"tierbot/logs"
)

// Scheduler drives one cycle per tick. A tick runs to completion before the next can start.
type Scheduler struct {
	interval  time.Duration
	heartbeat time.Duration
	run       func(ctx context.Context, now time.Time) Summary
	now       func() time.Time
}

func NewScheduler(cycle *Cycle, interval, heartbeat time.Duration) *Scheduler {
	return &Scheduler{
		interval:  interval,
		heartbeat: heartbeat,
		run:       cycle.Run,
		now:       time.Now,
	}
}

// Run ticks until ctx is cancelled. Cancellation stops further ticks; a tick already
// running finishes with a context that is not cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	logs.Infof("[Scheduler] Starting, one cycle every %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	lastHeartbeat := time.Now()
	var cycles int
	s.tick(ctx, &cycles)

	for {
		select {
		case <-ctx.Done():
			logs.Infof("[Scheduler] Stop received after %d cycles, exiting.", cycles)
			return
		case <-ticker.C:
			s.tick(ctx, &cycles)
			if s.heartbeat > 0 && time.Since(lastHeartbeat) >= s.heartbeat {
				logs.Infof("[Heartbeat] Scheduler alive, %d cycles run", cycles)
				lastHeartbeat = time.Now()
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, cycles *int) {
	if ctx.Err() != nil {
		return
	}
	sum := s.run(context.WithoutCancel(ctx), s.now())
	*cycles++
	if sum.Duration > s.interval {
		logs.Warnf("[Scheduler] Cycle took %s, longer than the %s interval; ticks were skipped", sum.Duration, s.interval)
	}
}
