// monitor/cycle.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"tierbot/config"
	"tierbot/exchange"
	"tierbot/investment"
	"tierbot/logs"
	"tierbot/policy"
	"tierbot/position"
	"tierbot/profit"
	"tierbot/risk"
	"tierbot/signals"
)

// Summary is the structured record one cycle emits.
type Summary struct {
	At              time.Time
	TradingDay      string
	Phase           Phase
	Scanned         int
	Unavailable     int
	Signals         int
	Intents         int
	Approved        int
	Denied          int
	Executed        int
	ExecutionErrors int
	Errors          int
	Exits           int
	Pending         int
	DenialsByReason map[risk.Reason]int
	ExitsByTrigger  map[risk.Trigger]int
	ErrorsByKind    map[string]int
	AuthFailure     bool
	RiskLevel       risk.Level
	OpenPositions   int
	Duration        time.Duration
}

func newSummary(now time.Time) Summary {
	return Summary{
		At:              now,
		DenialsByReason: make(map[risk.Reason]int),
		ExitsByTrigger:  make(map[risk.Trigger]int),
		ErrorsByKind:    make(map[string]int),
	}
}

// Sink consumes cycle summaries.
type Sink interface {
	ObserveCycle(s Summary)
}

// Persister saves durable state at the end of a cycle.
type Persister interface {
	Persist() error
}

// Deps are the collaborators one cycle drives.
type Deps struct {
	Session    *Session
	Market     exchange.MarketData
	Aggregator *signals.Aggregator
	Arbitrator *policy.Arbitrator
	Guard      *risk.Guard
	Positions  *position.Manager
	Investment *investment.Manager
	Accountant *profit.Accountant
	Persister  Persister
	Sinks      []Sink
}

// Cycle runs one pass: account poll, reconciliation, position monitoring or flatten,
// then the entry scan.
type Cycle struct {
	Deps
	universe    []string
	workers     int
	dataTimeout time.Duration
	volIndex    string
	history     *History

	mu           sync.Mutex
	flattenedDay string
	last         Summary
}

func NewCycle(cfg *config.Config, deps Deps) *Cycle {
	workers := cfg.Cycle.ScanWorkers
	if workers < 1 {
		workers = 1
	}
	return &Cycle{
		Deps:        deps,
		universe:    cfg.Universe,
		workers:     workers,
		dataTimeout: cfg.Cycle.DataTimeout(),
		volIndex:    cfg.Risk.VolIndexSymbol,
		history:     NewHistory(cfg.Cycle.HistoryLength),
	}
}

// Last returns the most recent summary.
func (c *Cycle) Last() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// scanResult is one instrument's outcome from the parallel half of the scan.
type scanResult struct {
	instrument  string
	quote       *exchange.Quote
	unavailable bool
	signals     int
	intent      policy.TradeIntent
	hasIntent   bool
	ivRank      float64
	ivKnown     bool
	err         error
}

// Run executes one cycle to completion and returns its summary.
func (c *Cycle) Run(ctx context.Context, now time.Time) Summary {
	start := time.Now()
	sum := newSummary(now)
	sum.Phase = c.Session.Phase(now)
	sum.TradingDay = c.Session.TradingDay(now)

	if sum.Phase == PhaseClosed {
		sum.RiskLevel = c.Guard.Level()
		sum.OpenPositions = c.Positions.Book().Count()
		c.finish(&sum, start, false)
		return sum
	}

	authFailed := false
	poll := c.Investment.Poll(ctx)
	if poll.AuthFailed {
		authFailed = true
	}

	if snap := c.Guard.Snapshot(); snap.TradingDay != sum.TradingDay {
		c.Guard.ResetDay(sum.TradingDay, poll.Equity)
		c.Accountant.ResetDay()
	}

	if c.Positions.NeedsReconcile() {
		if err := c.Positions.Reconcile(ctx, c.universe); err != nil {
			logs.Errorf("[Cycle] Reconciliation failed, pending positions stay frozen: %v", err)
			sum.Errors++
			if errors.Is(err, exchange.ErrAuth) {
				authFailed = true
			}
		}
	}

	snap := c.Guard.Snapshot()

	c.mu.Lock()
	flattenDue := sum.Phase == PhaseFlatten && c.flattenedDay != sum.TradingDay
	c.mu.Unlock()
	if flattenDue {
		if c.flattenAll(ctx, snap, &sum) {
			c.mu.Lock()
			c.flattenedDay = sum.TradingDay
			c.mu.Unlock()
		}
	} else {
		c.monitorAll(ctx, snap, &sum)
	}

	if sum.Phase == PhaseTrading {
		if c.scan(ctx, snap, poll, &sum) {
			authFailed = true
		}
	}

	authFailed = authFailed || sum.AuthFailure
	sum.AuthFailure = authFailed
	if authFailed {
		c.Guard.RecordAuthFailure()
	} else if poll.Fresh {
		c.Guard.RecordAuthSuccess()
	}

	sum.RiskLevel = c.Guard.Level()
	sum.OpenPositions = c.Positions.Book().Count()
	c.finish(&sum, start, true)
	return sum
}

func (c *Cycle) finish(sum *Summary, start time.Time, persist bool) {
	sum.Duration = time.Since(start)

	c.mu.Lock()
	c.last = *sum
	c.mu.Unlock()

	fields := logs.Fields{
		"day":              sum.TradingDay,
		"phase":            sum.Phase,
		"scanned":          sum.Scanned,
		"unavailable":      sum.Unavailable,
		"signals":          sum.Signals,
		"intents":          sum.Intents,
		"approved":         sum.Approved,
		"denied":           sum.Denied,
		"executed":         sum.Executed,
		"execution_errors": sum.ExecutionErrors,
		"errors":           sum.Errors,
		"exits":            sum.Exits,
		"risk_level":       sum.RiskLevel.String(),
		"open_positions":   sum.OpenPositions,
		"duration_ms":      sum.Duration.Milliseconds(),
	}
	if sum.Phase == PhaseClosed {
		logs.WithFields(fields).Debug("[Cycle] Market closed")
	} else {
		logs.WithFields(fields).Info("[Cycle] Summary")
	}

	for _, sink := range c.Sinks {
		sink.ObserveCycle(*sum)
	}
	if persist && c.Persister != nil {
		if err := c.Persister.Persist(); err != nil {
			logs.Errorf("[Cycle] Failed to persist state: %v", err)
		}
	}
}

// latestPrice fetches one quote under the data timeout.
func (c *Cycle) latestPrice(ctx context.Context, instrument string) (*exchange.Quote, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.dataTimeout)
	defer cancel()
	return c.Market.LatestQuote(callCtx, instrument)
}

func (c *Cycle) monitorAll(ctx context.Context, snap risk.State, sum *Summary) {
	for _, p := range c.Positions.Book().All() {
		c.guarded(sum, p.Instrument, "monitor", func() {
			if p.Pending != nil {
				sum.Pending++
				return
			}
			q, err := c.latestPrice(ctx, p.Instrument)
			if err != nil {
				logs.Warnf("[Cycle] No price for open position %s, skipping this tick: %v", p.Instrument, err)
				sum.Errors++
				return
			}
			c.record(sum, c.Positions.Monitor(ctx, p, q.Last, snap))
		})
	}
}

// flattenAll closes every open position. It reports whether nothing is left to flatten.
func (c *Cycle) flattenAll(ctx context.Context, snap risk.State, sum *Summary) bool {
	done := true
	for _, p := range c.Positions.Book().All() {
		c.guarded(sum, p.Instrument, "flatten", func() {
			if p.Pending != nil {
				sum.Pending++
				done = false
				return
			}
			q, err := c.latestPrice(ctx, p.Instrument)
			if err != nil {
				logs.Errorf("[Cycle] Cannot flatten %s without a price: %v", p.Instrument, err)
				sum.Errors++
				done = false
				return
			}
			res := c.Positions.Flatten(ctx, p, q.Last, snap)
			if !res.Acted() || !res.Closed {
				done = false
			}
			c.record(sum, res)
		})
	}
	if done {
		logs.Infof("[Cycle] Session cutoff reached, all positions flattened for %s", sum.TradingDay)
	}
	return done
}

func (c *Cycle) record(sum *Summary, res position.ExitResult) {
	switch {
	case res.Pending:
		sum.Pending++
	case res.Err != nil:
		sum.ExecutionErrors++
		sum.ErrorsByKind[exchange.KindOf(res.Err)]++
		if errors.Is(res.Err, exchange.ErrAuth) {
			sum.AuthFailure = true
		}
	case res.Acted():
		sum.Exits++
		sum.ExitsByTrigger[res.Trigger]++
	}
}

// guarded runs one instrument's work so a panic only costs that instrument.
func (c *Cycle) guarded(sum *Summary, instrument, stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("[Cycle] %s of %s panicked: %v", stage, instrument, r)
			sum.Errors++
		}
	}()
	fn()
}

// scan evaluates every instrument without a position in parallel, then gates and executes
// intents one by one in universe order. It reports whether an order hit an auth failure.
func (c *Cycle) scan(ctx context.Context, snap risk.State, poll investment.PollResult, sum *Summary) bool {
	book := c.Positions.Book()
	var candidates []string
	for _, sym := range c.universe {
		if !book.Has(sym) {
			candidates = append(candidates, sym)
		}
	}
	sum.Scanned = len(candidates)
	if len(candidates) == 0 {
		return false
	}

	volIndex, volKnown := c.volIndexLevel(ctx)

	results := make([]scanResult, len(candidates))
	p := pool.New().WithMaxGoroutines(c.workers)
	for i, sym := range candidates {
		i, sym := i, sym
		p.Go(func() {
			results[i] = c.scanOne(ctx, sym)
		})
	}
	p.Wait()

	authFailed := false
	open := book.Count()
	for _, r := range results {
		sum.Signals += r.signals
		switch {
		case r.err != nil:
			sum.Errors++
			continue
		case r.unavailable:
			sum.Unavailable++
		}
		if !r.hasIntent {
			continue
		}
		sum.Intents++

		ec := risk.EntryContext{
			HasOpenPosition: book.Has(r.instrument),
			OpenPositions:   open,
			AccountBlocked:  poll.TradingBlocked,
			IVRank:          r.ivRank,
			IVRankKnown:     r.ivKnown,
			VolIndex:        volIndex,
			VolIndexKnown:   volKnown,
			SpreadFraction:  r.quote.Spread(),
		}
		decision := c.Guard.ApproveEntry(r.intent, ec, snap)
		if !decision.Allowed {
			sum.Denied++
			sum.DenialsByReason[decision.Reason]++
			logs.Infof("[Cycle] Entry %s %s %s", r.intent.Direction, r.instrument, decision.Description())
			continue
		}
		sum.Approved++
		open++

		qty := c.Investment.Size(r.quote.Last)
		if qty <= 0 {
			logs.Warnf("[Cycle] Entry for %s approved but sizes to zero at %.4f, skipping", r.instrument, r.quote.Last)
			continue
		}
		c.guarded(sum, r.instrument, "entry", func() {
			if _, err := c.Positions.Enter(ctx, r.intent, qty); err != nil {
				kind := exchange.KindOf(err)
				sum.ExecutionErrors++
				sum.ErrorsByKind[kind]++
				if errors.Is(err, exchange.ErrAuth) {
					authFailed = true
				}
				logs.Errorf("[Cycle] Entry order for %s failed (%s): %v", r.instrument, kind, err)
				return
			}
			sum.Executed++
		})
	}
	return authFailed
}

func (c *Cycle) scanOne(ctx context.Context, instrument string) (res scanResult) {
	res.instrument = instrument
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("[Cycle] Scan of %s panicked: %v", instrument, r)
			res = scanResult{instrument: instrument, err: fmt.Errorf("scan panicked: %v", r)}
		}
	}()

	q, err := c.latestPrice(ctx, instrument)
	if err != nil {
		logs.Debugf("[Cycle] %s unavailable: %v", instrument, err)
		res.unavailable = true
		return res
	}
	res.quote = q

	state := signals.MarketState{
		Instrument: instrument,
		Price:      q.Last,
		Bid:        q.Bid,
		Ask:        q.Ask,
		History:    c.history.Push(instrument, q.Last),
		At:         q.At,
	}
	coll := c.Aggregator.Collect(ctx, instrument, state)
	res.signals = len(coll.Signals)
	if coll.AllFailed() {
		res.unavailable = true
	}

	intent, outcome := c.Arbitrator.Resolve(instrument, coll.Signals)
	if outcome != policy.Intended {
		return res
	}
	res.intent, res.hasIntent = intent, true

	callCtx, cancel := context.WithTimeout(ctx, c.dataTimeout)
	defer cancel()
	if rank, err := c.Market.ImpliedVolatilityRank(callCtx, instrument); err == nil {
		res.ivRank, res.ivKnown = rank, true
	}
	return res
}

func (c *Cycle) volIndexLevel(ctx context.Context) (float64, bool) {
	if c.volIndex == "" {
		return 0, false
	}
	q, err := c.latestPrice(ctx, c.volIndex)
	if err != nil {
		logs.Debugf("[Cycle] Volatility index %s unavailable: %v", c.volIndex, err)
		return 0, false
	}
	return q.Last, true
}
