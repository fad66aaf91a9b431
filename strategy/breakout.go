// strategy/breakout.go
package strategy

import (
	"context"
	"fmt"

	"tierbot/config"
	"tierbot/signals"
)

// Breakout trades a close outside the high/low channel of the preceding window.
type Breakout struct {
	cfg config.BreakoutConfig
}

func NewBreakout(cfg config.BreakoutConfig) *Breakout {
	return &Breakout{cfg: cfg}
}

func (b *Breakout) Name() string { return config.StrategyBreakout }

func (b *Breakout) Evaluate(ctx context.Context, instrument string, state signals.MarketState) (*signals.Signal, error) {
	h := state.History
	if len(h) <= b.cfg.Window {
		return nil, fmt.Errorf("%w: breakout needs %d prices, have %d", signals.ErrUnavailable, b.cfg.Window+1, len(h))
	}
	channel := h[len(h)-1-b.cfg.Window : len(h)-1]
	high, low := channel[0], channel[0]
	for _, p := range channel[1:] {
		if p > high {
			high = p
		}
		if p < low {
			low = p
		}
	}

	last := h[len(h)-1]
	switch {
	case last > high && high > 0:
		return signals.New(instrument, signals.Long, saturate(last/high-1, b.cfg.Saturation), b.Name()), nil
	case last < low && low > 0:
		return signals.New(instrument, signals.Short, saturate(1-last/low, b.cfg.Saturation), b.Name()), nil
	}
	return nil, nil
}
