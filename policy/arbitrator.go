// Package policy resolves one instrument's signals into at most one trade intent.
package policy

import (
	"fmt"

	"tierbot/config"
	"tierbot/signals"
)

// Outcome explains what the arbitrator decided.
type Outcome string

const (
	Intended       Outcome = "intent"
	NoSignals      Outcome = "no_signals"
	Tie            Outcome = "tie"
	BelowThreshold Outcome = "below_threshold"
)

// TradeIntent is the arbitrated decision candidate for one instrument in one cycle.
type TradeIntent struct {
	Instrument string
	Direction  signals.Direction
	Confidence float64
	Support    int
	SignalIDs  []string
}

// Arbitrator combines signals per direction with a fixed aggregation mode.
type Arbitrator struct {
	mode      string
	threshold float64
}

func NewArbitrator(cfg *config.PolicyConfig) (*Arbitrator, error) {
	switch cfg.Aggregation {
	case config.AggregateMax, config.AggregateMean:
	default:
		return nil, fmt.Errorf("unknown aggregation mode '%s'", cfg.Aggregation)
	}
	return &Arbitrator{mode: cfg.Aggregation, threshold: cfg.ConfidenceThreshold}, nil
}

type side struct {
	sum, max float64
	ids      []string
}

func (s *side) add(sig signals.Signal) {
	s.sum += sig.Confidence
	if len(s.ids) == 0 || sig.Confidence > s.max {
		s.max = sig.Confidence
	}
	s.ids = append(s.ids, sig.ID)
}

func (a *Arbitrator) score(s *side) float64 {
	if len(s.ids) == 0 {
		return 0
	}
	if a.mode == config.AggregateMean {
		return s.sum / float64(len(s.ids))
	}
	return s.max
}

// Resolve returns an intent only when Outcome is Intended.
func (a *Arbitrator) Resolve(instrument string, sigs []signals.Signal) (TradeIntent, Outcome) {
	if len(sigs) == 0 {
		return TradeIntent{}, NoSignals
	}

	var long, short side
	for _, sig := range sigs {
		if sig.Direction == signals.Short {
			short.add(sig)
		} else {
			long.add(sig)
		}
	}

	ls, ss := a.score(&long), a.score(&short)
	var win *side
	var dir signals.Direction
	var conf float64
	switch {
	case len(short.ids) == 0:
		win, dir, conf = &long, signals.Long, ls
	case len(long.ids) == 0:
		win, dir, conf = &short, signals.Short, ss
	case ls > ss:
		win, dir, conf = &long, signals.Long, ls
	case ss > ls:
		win, dir, conf = &short, signals.Short, ss
	default:
		return TradeIntent{}, Tie
	}

	if conf < a.threshold {
		return TradeIntent{}, BelowThreshold
	}
	return TradeIntent{
		Instrument: instrument,
		Direction:  dir,
		Confidence: conf,
		Support:    len(win.ids),
		SignalIDs:  win.ids,
	}, Intended
}
