// Package position tracks open positions and drives each through its tiered exit lifecycle.
package position

import (
	"errors"
	"fmt"
	"time"

	"tierbot/config"
	"tierbot/exchange"
	"tierbot/profit"
	"tierbot/risk"
	"tierbot/signals"
	"tierbot/utils"
)

var (
	// ErrDuplicatePosition is an invariant violation: one open position per instrument.
	ErrDuplicatePosition = errors.New("position already open for instrument")
	// ErrInvalidTransition rejects applying a transition that cannot be committed.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// Stage is the lifecycle state. Stages only move forward.
type Stage int

const (
	Open Stage = iota
	Tier1
	Tier2
	Tier3
	Tier4
	Closed
)

var stageNames = []string{"open", "tier1", "tier2", "tier3", "tier4", "closed"}

func (s Stage) String() string {
	if s < Open || s > Closed {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Stage) UnmarshalText(b []byte) error {
	for i, name := range stageNames {
		if name == string(b) {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", string(b))
}

// PendingExit is an exit order whose outcome the venue never confirmed.
type PendingExit struct {
	ClientID          string       `json:"client_id"`
	Trigger           risk.Trigger `json:"trigger"`
	Quantity          float64      `json:"quantity"`
	ExpectedRemaining float64      `json:"expected_remaining"`
	NextStage         Stage        `json:"next_stage"`
	Price             float64      `json:"price"`
	Since             time.Time    `json:"since"`
}

// Position is one open holding. It is handled as a value; the Book stores the current one.
type Position struct {
	Instrument     string            `json:"instrument"`
	Direction      signals.Direction `json:"direction"`
	Quantity       float64           `json:"quantity"`
	EntryPrice     float64           `json:"entry_price"`
	Stage          Stage             `json:"stage"`
	Tiers          []int             `json:"tiers"`
	TrailingActive bool              `json:"trailing_active"`
	TrailingRef    float64           `json:"trailing_ref"`
	StopLossPrice  float64           `json:"stop_loss_price"`
	OpenedAt       time.Time         `json:"opened_at"`
	Pending        *PendingExit      `json:"pending,omitempty"`
}

// Gain is the signed fractional move in the position's favour.
func (p Position) Gain(price float64) float64 {
	return p.Direction.Sign() * utils.PctChange(p.EntryPrice, price)
}

// Transition is the single exit a tick asks for. A zero Transition means nothing fires.
type Transition struct {
	Trigger   risk.Trigger
	Quantity  float64
	NextStage Stage
	Tier      int
	Price     float64
}

func (t Transition) None() bool { return t.Trigger == "" }

// Lifecycle holds the exit rules. All methods are pure.
type Lifecycle struct {
	cfg *config.LifecycleConfig
}

func NewLifecycle(cfg *config.LifecycleConfig) *Lifecycle {
	return &Lifecycle{cfg: cfg}
}

func (l *Lifecycle) trailing(dir signals.Direction) profit.TrailingStop {
	return profit.TrailingStop{Direction: dir, Fraction: l.cfg.TrailingFraction}
}

// Open builds a fresh position from an entry fill.
func (l *Lifecycle) Open(instrument string, dir signals.Direction, qty, entry float64, at time.Time) Position {
	stop := entry * (1 - l.cfg.StopLossFraction)
	if dir == signals.Short {
		stop = entry * (1 + l.cfg.StopLossFraction)
	}
	return Position{
		Instrument:    instrument,
		Direction:     dir,
		Quantity:      qty,
		EntryPrice:    entry,
		Stage:         Open,
		StopLossPrice: stop,
		OpenedAt:      at,
	}
}

// Evaluate returns at most one transition, in priority order stop-loss, trailing stop, tier.
func (l *Lifecycle) Evaluate(p Position, price float64) Transition {
	if p.Stage == Closed || p.Quantity <= 0 || price <= 0 {
		return Transition{}
	}

	stopHit := price <= p.StopLossPrice+utils.Epsilon
	if p.Direction == signals.Short {
		stopHit = price >= p.StopLossPrice-utils.Epsilon
	}
	if stopHit {
		return Transition{Trigger: risk.TriggerStopLoss, Quantity: p.Quantity, NextStage: Closed, Price: price}
	}

	if p.TrailingActive {
		ts := l.trailing(p.Direction)
		if ts.Triggered(ts.Advance(p.TrailingRef, price), price) {
			return Transition{Trigger: risk.TriggerTrailing, Quantity: p.Quantity, NextStage: Closed, Price: price}
		}
	}

	next := int(p.Stage)
	if next >= len(l.cfg.TierThresholds) || p.Gain(price) < l.cfg.TierThresholds[next]-utils.Epsilon {
		return Transition{}
	}
	t := Transition{Trigger: risk.TriggerTier, Tier: next + 1, NextStage: Stage(next + 1), Price: price}
	if next == len(l.cfg.TierThresholds)-1 {
		t.Quantity, t.NextStage = p.Quantity, Closed
		return t
	}
	t.Quantity = utils.FloorToPrecision(p.Quantity*l.cfg.TierExitFractions[next], l.cfg.QuantityPrecision)
	if t.Quantity >= p.Quantity {
		t.Quantity, t.NextStage = p.Quantity, Closed
	}
	return t
}

// Flatten is the forced full close used at the session cutoff.
func (l *Lifecycle) Flatten(p Position, price float64) Transition {
	if p.Stage == Closed || p.Quantity <= 0 {
		return Transition{}
	}
	return Transition{Trigger: risk.TriggerFlatten, Quantity: p.Quantity, NextStage: Closed, Price: price}
}

// Apply commits a transition after the venue confirmed it. A transition with
// quantity needs a fill; a zero-quantity tier advances without one.
func (l *Lifecycle) Apply(p Position, t Transition, fill *exchange.Fill) (Position, error) {
	if t.None() {
		return p, fmt.Errorf("%w: nothing to apply", ErrInvalidTransition)
	}
	if t.NextStage <= p.Stage {
		return p, fmt.Errorf("%w: %s -> %s goes backwards", ErrInvalidTransition, p.Stage, t.NextStage)
	}

	filled := 0.0
	if t.Quantity > 0 {
		if fill == nil {
			return p, fmt.Errorf("%w: %s exit of %s has no confirmed fill", ErrInvalidTransition, t.Trigger, p.Instrument)
		}
		filled = fill.Quantity
		if filled > p.Quantity+utils.Epsilon {
			return p, fmt.Errorf("%w: fill %.4f exceeds remaining %.4f", ErrInvalidTransition, filled, p.Quantity)
		}
	}

	next := p
	next.Quantity = utils.RoundToPrecision(p.Quantity-filled, l.cfg.QuantityPrecision+6)
	next.Pending = nil
	if t.NextStage == Closed && next.Quantity > utils.Epsilon {
		// A closing exit that only partly filled leaves the remainder at its
		// current stage so the same exit fires again on the next tick.
		return next, nil
	}
	next.Tiers = append(append([]int(nil), p.Tiers...), tierOf(t)...)
	next.Stage = t.NextStage

	if next.Stage == Tier4 && !next.TrailingActive {
		next.TrailingActive = true
		next.TrailingRef = t.Price
	}
	if next.Quantity <= utils.Epsilon {
		next.Quantity = 0
		next.Stage = Closed
	}
	return next, nil
}

func tierOf(t Transition) []int {
	if t.Trigger == risk.TriggerTier {
		return []int{t.Tier}
	}
	return nil
}

// Mark pins the trailing reference to the best price seen since arming.
func (l *Lifecycle) Mark(p Position, price float64) Position {
	if p.TrailingActive && price > 0 {
		p.TrailingRef = l.trailing(p.Direction).Advance(p.TrailingRef, price)
	}
	return p
}
