package signals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tierbot/logs"
)

// SourceFailure records one source that contributed nothing this cycle.
type SourceFailure struct {
	Source string
	Err    error
}

// Collection is everything gathered for one instrument in one cycle.
type Collection struct {
	Instrument  string
	Signals     []Signal
	Unavailable []SourceFailure
}

// AllFailed reports whether every source failed to answer.
func (c Collection) AllFailed() bool {
	return len(c.Signals) == 0 && len(c.Unavailable) > 0
}

// Aggregator fans one instrument out to every configured source.
type Aggregator struct {
	sources []Source
	timeout time.Duration
}

// NewAggregator builds an aggregator whose source calls are each bounded by timeout.
func NewAggregator(timeout time.Duration, sources ...Source) *Aggregator {
	return &Aggregator{sources: sources, timeout: timeout}
}

// Sources returns the configured sources in evaluation order.
func (a *Aggregator) Sources() []Source { return a.sources }

type sourceResult struct {
	index  int
	signal *Signal
	err    error
}

// Collect invokes every source and returns their signals in source order.
// A failing, panicking, hung or malformed source only costs its own contribution.
func (a *Aggregator) Collect(ctx context.Context, instrument string, state MarketState) Collection {
	out := Collection{Instrument: instrument}
	if len(a.sources) == 0 {
		return out
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	results := make(chan sourceResult, len(a.sources))
	for i, src := range a.sources {
		go func(i int, src Source) {
			results <- invoke(callCtx, i, src, instrument, state)
		}(i, src)
	}

	got := make([]*sourceResult, len(a.sources))
	pending := len(a.sources)
wait:
	for pending > 0 {
		select {
		case r := <-results:
			got[r.index] = &r
			pending--
		case <-callCtx.Done():
			break wait
		}
	}

	for i, src := range a.sources {
		r := got[i]
		switch {
		case r == nil:
			out.Unavailable = append(out.Unavailable, SourceFailure{Source: src.Name(), Err: fmt.Errorf("%w: timed out after %s", ErrUnavailable, a.timeout)})
		case r.err != nil:
			if errors.Is(r.err, ErrMalformedSignal) {
				logs.Errorf("[Aggregator] %s produced a malformed signal for %s: %v", src.Name(), instrument, r.err)
			} else {
				logs.Debugf("[Aggregator] %s unavailable for %s: %v", src.Name(), instrument, r.err)
			}
			out.Unavailable = append(out.Unavailable, SourceFailure{Source: src.Name(), Err: r.err})
		case r.signal != nil:
			out.Signals = append(out.Signals, *r.signal)
		}
	}
	return out
}

func invoke(ctx context.Context, index int, src Source, instrument string, state MarketState) (res sourceResult) {
	res.index = index
	defer func() {
		if p := recover(); p != nil {
			res.signal = nil
			res.err = fmt.Errorf("%w: source panicked: %v", ErrUnavailable, p)
		}
	}()

	sig, err := src.Evaluate(ctx, instrument, state)
	if err != nil {
		res.err = err
		return res
	}
	if sig == nil {
		return res
	}
	if err := sig.Validate(); err != nil {
		res.err = err
		return res
	}
	if sig.Instrument != instrument {
		res.err = fmt.Errorf("%w: signal for %s returned while evaluating %s", ErrMalformedSignal, sig.Instrument, instrument)
		return res
	}
	res.signal = sig
	return res
}
