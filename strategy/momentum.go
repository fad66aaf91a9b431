// strategy/momentum.go
package strategy

import (
	"context"
	"fmt"
	"math"

	"tierbot/config"
	"tierbot/signals"
)

// Momentum follows the rate of change over a fixed lookback.
type Momentum struct {
	cfg config.MomentumConfig
}

func NewMomentum(cfg config.MomentumConfig) *Momentum {
	return &Momentum{cfg: cfg}
}

func (m *Momentum) Name() string { return config.StrategyMomentum }

func (m *Momentum) Evaluate(ctx context.Context, instrument string, state signals.MarketState) (*signals.Signal, error) {
	h := state.History
	if len(h) <= m.cfg.Lookback {
		return nil, fmt.Errorf("%w: momentum needs %d prices, have %d", signals.ErrUnavailable, m.cfg.Lookback+1, len(h))
	}
	base := h[len(h)-1-m.cfg.Lookback]
	if base <= 0 {
		return nil, fmt.Errorf("%w: non-positive base price", signals.ErrUnavailable)
	}

	roc := h[len(h)-1]/base - 1
	if math.Abs(roc) < m.cfg.Threshold {
		return nil, nil
	}
	dir := signals.Long
	if roc < 0 {
		dir = signals.Short
	}
	return signals.New(instrument, dir, saturate(math.Abs(roc), m.cfg.Saturation), m.Name()), nil
}

// saturate maps a non-negative strength onto [0,1], reaching 1 at limit.
func saturate(strength, limit float64) float64 {
	if limit <= 0 {
		return 1
	}
	return math.Min(1, strength/limit)
}
