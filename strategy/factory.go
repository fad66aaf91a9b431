// strategy/factory.go
package strategy

import (
	"fmt"

	"tierbot/config"
	"tierbot/logs"
	"tierbot/signals"
)

// Build instantiates every enabled strategy in a fixed order.
// scorer may be nil unless the model strategy is enabled.
func Build(cfg *config.Config, scorer Scorer) ([]signals.Source, error) {
	var sources []signals.Source
	if cfg.Momentum != nil {
		sources = append(sources, NewMomentum(*cfg.Momentum))
	}
	if cfg.MeanReversion != nil {
		sources = append(sources, NewMeanReversion(*cfg.MeanReversion))
	}
	if cfg.Breakout != nil {
		sources = append(sources, NewBreakout(*cfg.Breakout))
	}
	if cfg.Model != nil {
		if scorer == nil {
			return nil, fmt.Errorf("strategy '%s' is enabled but no model scorer is configured (set MODEL_SCORE_URL)", config.StrategyModel)
		}
		sources = append(sources, NewModelScore(*cfg.Model, scorer))
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no strategies enabled")
	}

	for _, s := range sources {
		logs.Infof("[Strategy] Enabled %s", s.Name())
	}
	return sources, nil
}
