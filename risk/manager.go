// risk/manager.go
package risk

import (
	"math"
	"sync"

	"tierbot/config"
	"tierbot/logs"
	"tierbot/policy"
)

// Guard owns the risk state and gates every entry and exit.
// Gates read a snapshot; mutations go through the methods below under one lock.
type Guard struct {
	cfg    *config.RiskConfig
	levels Levels

	mu    sync.Mutex
	state State
}

func NewGuard(cfg *config.RiskConfig) *Guard {
	return &Guard{cfg: cfg, levels: NewLevels(cfg)}
}

// Levels returns the thresholds used to derive the risk level.
func (g *Guard) Levels() Levels { return g.levels }

// Snapshot returns a copy of the current risk state.
func (g *Guard) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Level derives the level of the live state.
func (g *Guard) Level() Level {
	return g.levels.Evaluate(g.Snapshot())
}

// ApproveEntry runs the entry checks in order; the first failing check wins.
func (g *Guard) ApproveEntry(intent policy.TradeIntent, ec EntryContext, snap State) Decision {
	level := g.levels.Evaluate(snap)

	switch {
	case level == Blocked:
		return deny(ReasonBlocked, "risk level is %s", level)
	case ec.HasOpenPosition:
		return deny(ReasonPositionOpen, "%s already has an open position", intent.Instrument)
	case g.cfg.MaxOpenPositions > 0 && ec.OpenPositions >= g.cfg.MaxOpenPositions:
		return deny(ReasonMaxPositions, "%d open positions, limit %d", ec.OpenPositions, g.cfg.MaxOpenPositions)
	case ec.AccountBlocked:
		return deny(ReasonAccountBlocked, "venue reports trading blocked")
	case ec.IVRankKnown && g.cfg.MaxIVRank > 0 && ec.IVRank > g.cfg.MaxIVRank:
		return deny(ReasonIVRank, "iv rank %.2f above %.2f", ec.IVRank, g.cfg.MaxIVRank)
	case ec.VolIndexKnown && g.cfg.MaxVolIndex > 0 && ec.VolIndex > g.cfg.MaxVolIndex:
		return deny(ReasonVolIndex, "%s at %.2f above %.2f", g.cfg.VolIndexSymbol, ec.VolIndex, g.cfg.MaxVolIndex)
	case g.cfg.MaxSpreadFraction > 0 && ec.SpreadFraction > g.cfg.MaxSpreadFraction:
		return deny(ReasonSpread, "spread %.4f above %.4f", ec.SpreadFraction, g.cfg.MaxSpreadFraction)
	}

	if floor := g.confidenceFloor(level); intent.Confidence < floor {
		return deny(ReasonConfidence, "confidence %.2f below %.2f at %s", intent.Confidence, floor, level)
	}
	return allow()
}

func (g *Guard) confidenceFloor(level Level) float64 {
	switch level {
	case Elevated:
		return g.cfg.ConfidenceThresholds.Elevated
	case Danger:
		return g.cfg.ConfidenceThresholds.Danger
	}
	return g.cfg.ConfidenceThresholds.Normal
}

// ApproveExit lets safety exits through regardless of state.
func (g *Guard) ApproveExit(req ExitRequest, snap State) Decision {
	if req.Trigger.Unconditional() {
		return allow()
	}
	if req.Quantity <= 0 {
		return deny(ReasonInvalidExit, "%s exit of %s has no quantity", req.Trigger, req.Instrument)
	}
	return allow()
}

// RecordFill books the realized P&L of one closing fill.
func (g *Guard) RecordFill(instrument string, realizedPnL float64) {
	g.mutate("fill "+instrument, func(s *State) {
		s.DailyPnL += realizedPnL
		s.WorstDailyPnL = math.Min(s.WorstDailyPnL, s.DailyPnL)
		switch {
		case realizedPnL < 0:
			s.LossStreak++
		case realizedPnL > 0:
			s.LossStreak = 0
		}
		if s.LossStreak > s.MaxLossStreak {
			s.MaxLossStreak = s.LossStreak
		}
	})
}

// MarkEquity updates equity, its running peak and the drawdown from that peak.
func (g *Guard) MarkEquity(equity float64) {
	if equity <= 0 {
		return
	}
	g.mutate("equity", func(s *State) {
		s.Equity = equity
		if s.StartingEquity == 0 {
			s.StartingEquity = equity
		}
		if equity > s.PeakEquity {
			s.PeakEquity = equity
		}
		s.Drawdown = (s.PeakEquity - equity) / s.PeakEquity
		s.MaxDrawdown = math.Max(s.MaxDrawdown, s.Drawdown)
	})
}

// RecordAuthFailure is called once per cycle that saw an authentication failure.
// Enough consecutive cycles latch a halt that lasts until the daily reset.
func (g *Guard) RecordAuthFailure() {
	g.mutate("auth failure", func(s *State) {
		s.AuthFailureStreak++
		if g.cfg.AuthFailureCycles > 0 && s.AuthFailureStreak >= g.cfg.AuthFailureCycles && !s.AuthHalted {
			s.AuthHalted = true
			logs.Errorf("[Risk] Authentication failed for %d consecutive cycles, halting new entries", s.AuthFailureStreak)
		}
	})
}

// RecordAuthSuccess clears the failure streak. A latched halt stays.
func (g *Guard) RecordAuthSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.AuthFailureStreak == 0 {
		return
	}
	g.state.AuthFailureStreak = 0
	g.state.Version++
}

func (g *Guard) SetKillSwitch(engaged bool) {
	g.mutate("kill switch", func(s *State) { s.KillSwitch = engaged })
}

// ResetDay starts a new trading day at the given equity. The kill switch survives the reset.
func (g *Guard) ResetDay(day string, equity float64) {
	g.mutate("daily reset", func(s *State) {
		*s = State{
			TradingDay:     day,
			StartingEquity: equity,
			Equity:         equity,
			PeakEquity:     equity,
			KillSwitch:     s.KillSwitch,
			Version:        s.Version,
		}
	})
	logs.Infof("[Risk] New trading day %s, starting equity %.2f", day, equity)
}

// Restore replaces the state with a persisted one.
func (g *Guard) Restore(st State) {
	g.mutate("restore", func(s *State) {
		version := s.Version
		*s = st
		if s.Version < version {
			s.Version = version
		}
	})
}

func (g *Guard) mutate(what string, fn func(s *State)) {
	g.mu.Lock()
	defer g.mu.Unlock()

	before := g.levels.Evaluate(g.state)
	fn(&g.state)
	g.state.Version++
	after := g.levels.Evaluate(g.state)

	if before != after {
		logs.WithFields(logs.Fields{
			"from":      before.String(),
			"to":        after.String(),
			"cause":     what,
			"daily_pnl": g.state.DailyPnL,
			"drawdown":  g.state.Drawdown,
			"streak":    g.state.LossStreak,
		}).Warn("[Risk] Level changed")
	}
}
