// monitor/session.go
package monitor

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"tierbot/config"
)

// Phase is what a cycle is allowed to do at a given moment.
type Phase string

const (
	PhaseClosed      Phase = "closed"
	PhaseMonitorOnly Phase = "monitor_only"
	PhaseTrading     Phase = "trading"
	PhaseFlatten     Phase = "flatten"
)

// Session is the regular market session clock: weekdays between open and close in one timezone.
type Session struct {
	loc           *time.Location
	open          time.Duration
	close         time.Duration
	warmup        time.Duration
	flattenBefore time.Duration
}

func NewSession(cfg *config.SessionConfig) (*Session, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid session timezone '%s': %w", cfg.Timezone, err)
	}
	open, err := config.ParseClock(cfg.Open)
	if err != nil {
		return nil, err
	}
	closeAt, err := config.ParseClock(cfg.Close)
	if err != nil {
		return nil, err
	}
	return &Session{
		loc:           loc,
		open:          open,
		close:         closeAt,
		warmup:        time.Duration(cfg.WarmupMinutes) * time.Minute,
		flattenBefore: time.Duration(cfg.FlattenMinutesBeforeClose) * time.Minute,
	}, nil
}

func (s *Session) Location() *time.Location { return s.loc }

// TradingDay is the session-local calendar date of now.
func (s *Session) TradingDay(now time.Time) string {
	return now.In(s.loc).Format("2006-01-02")
}

// Phase classifies now. Flatten takes precedence over warm-up when the windows overlap.
func (s *Session) Phase(now time.Time) Phase {
	local := now.In(s.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return PhaseClosed
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	tod := local.Sub(midnight)

	switch {
	case tod < s.open || tod >= s.close:
		return PhaseClosed
	case s.flattenBefore > 0 && tod >= s.close-s.flattenBefore:
		return PhaseFlatten
	case tod < s.open+s.warmup:
		return PhaseMonitorOnly
	}
	return PhaseTrading
}
