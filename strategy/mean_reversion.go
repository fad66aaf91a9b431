// strategy/mean_reversion.go
package strategy

import (
	"context"
	"fmt"
	"math"

	"tierbot/config"
	"tierbot/signals"
)

// MeanReversion fades prices stretched away from their rolling mean.
type MeanReversion struct {
	cfg config.MeanReversionConfig
}

func NewMeanReversion(cfg config.MeanReversionConfig) *MeanReversion {
	return &MeanReversion{cfg: cfg}
}

func (m *MeanReversion) Name() string { return config.StrategyMeanReversion }

func (m *MeanReversion) Evaluate(ctx context.Context, instrument string, state signals.MarketState) (*signals.Signal, error) {
	if len(state.History) < m.cfg.Window {
		return nil, fmt.Errorf("%w: mean reversion needs %d prices, have %d", signals.ErrUnavailable, m.cfg.Window, len(state.History))
	}
	window := state.History[len(state.History)-m.cfg.Window:]

	var sum float64
	for _, p := range window {
		sum += p
	}
	mean := sum / float64(len(window))
	var sq float64
	for _, p := range window {
		sq += (p - mean) * (p - mean)
	}
	std := math.Sqrt(sq / float64(len(window)))
	if std == 0 {
		return nil, nil
	}

	z := (window[len(window)-1] - mean) / std
	if math.Abs(z) < m.cfg.ZEntry {
		return nil, nil
	}
	// Stretched above the mean argues for a fall back.
	dir := signals.Short
	if z < 0 {
		dir = signals.Long
	}
	return signals.New(instrument, dir, saturate(math.Abs(z), m.cfg.ZSaturation), m.Name()), nil
}
