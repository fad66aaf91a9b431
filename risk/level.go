// risk/level.go
package risk

import "tierbot/config"

// Level gates how permissive entry approval is.
type Level int

const (
	Normal Level = iota
	Elevated
	Danger
	Blocked
)

func (l Level) String() string {
	switch l {
	case Normal:
		return "normal"
	case Elevated:
		return "elevated"
	case Danger:
		return "danger"
	case Blocked:
		return "blocked"
	}
	return "unknown"
}

// State is the process-wide risk record. Its level is always derived, never stored.
type State struct {
	TradingDay     string  `json:"trading_day"`
	StartingEquity float64 `json:"starting_equity"`
	Equity         float64 `json:"equity"`
	PeakEquity     float64 `json:"peak_equity"`
	DailyPnL       float64 `json:"daily_pnl"`
	Drawdown       float64 `json:"drawdown"`
	LossStreak     int     `json:"loss_streak"`

	// Watermarks only move toward more risk until the next daily reset.
	WorstDailyPnL float64 `json:"worst_daily_pnl"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	MaxLossStreak int     `json:"max_loss_streak"`

	AuthFailureStreak int    `json:"auth_failure_streak"`
	AuthHalted        bool   `json:"auth_halted"`
	KillSwitch        bool   `json:"kill_switch"`
	Version           uint64 `json:"version"`
}

// Levels holds the escalation thresholds.
type Levels struct {
	DailyLossFraction float64
	DrawdownFraction  float64
	MaxLossStreak     int
}

func NewLevels(cfg *config.RiskConfig) Levels {
	return Levels{
		DailyLossFraction: cfg.DailyLossFraction,
		DrawdownFraction:  cfg.DrawdownFraction,
		MaxLossStreak:     cfg.MaxLossStreak,
	}
}

// Evaluate derives the risk level from s. It reads only the watermarks and latches,
// so within one trading day the result never decreases.
func (l Levels) Evaluate(s State) Level {
	switch {
	case s.KillSwitch || s.AuthHalted:
		return Blocked
	case s.MaxDrawdown > l.DrawdownFraction:
		return Danger
	case l.MaxLossStreak > 0 && s.MaxLossStreak >= l.MaxLossStreak:
		return Danger
	case s.StartingEquity > 0 && -s.WorstDailyPnL > l.DailyLossFraction*s.StartingEquity:
		return Elevated
	}
	return Normal
}
