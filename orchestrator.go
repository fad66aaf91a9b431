// orchestrator.go
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tierbot/admin"
	"tierbot/config"
	"tierbot/exchange"
	"tierbot/investment"
	"tierbot/logs"
	"tierbot/metrics"
	"tierbot/monitor"
	"tierbot/policy"
	"tierbot/position"
	"tierbot/profit"
	"tierbot/risk"
	"tierbot/signals"
	"tierbot/state"
	"tierbot/strategy"
)

type Orchestrator struct {
	cfg          *config.Config
	client       exchange.Client
	mock         *exchange.MockClient
	session      *monitor.Session
	guard        *risk.Guard
	accountant   *profit.Accountant
	positions    *position.Manager
	investment   *investment.Manager
	stateManager state.StateManagerInterface
	stateFile    string
	snapshotter  *state.Snapshotter
	cycle        *monitor.Cycle
	scheduler    *monitor.Scheduler
	admin        *admin.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(cfg *config.Config, envCfg *config.EnvConfig, stateFilePath string) (*Orchestrator, error) {
	o := &Orchestrator{cfg: cfg, stateFile: stateFilePath}
	o.ctx, o.cancel = context.WithCancel(context.Background())

	if cfg.UseSimulation {
		o.mock = newSimulator(cfg)
		o.client = o.mock
		logs.Warnf("<<<<<<<<<< WARNING: Running in simulation mode >>>>>>>>>>")
	} else {
		if envCfg.ApiKey == "" || envCfg.BaseURL == "" {
			return nil, fmt.Errorf("BROKER_API_KEY and BROKER_BASE_URL must be set outside simulation mode")
		}
		o.client = exchange.NewAPIClient(envCfg.ApiKey, envCfg.ApiSecret, envCfg.BaseURL, envCfg.MarketDataURL, envCfg.AnalyticsURL, cfg.Normal.HTTPTimeoutSeconds)
	}

	var scorer strategy.Scorer
	if envCfg.ModelURL != "" {
		scorer = strategy.NewHTTPScorer(envCfg.ModelURL, cfg.Cycle.SourceTimeout())
	}
	sources, err := strategy.Build(cfg, scorer)
	if err != nil {
		return nil, fmt.Errorf("failed to build signal sources: %w", err)
	}
	arbitrator, err := policy.NewArbitrator(cfg.Policy)
	if err != nil {
		return nil, err
	}
	o.session, err = monitor.NewSession(cfg.Session)
	if err != nil {
		return nil, err
	}

	o.guard = risk.NewGuard(cfg.Risk)
	o.accountant = profit.NewAccountant()
	book := position.NewBook()
	o.positions = position.NewManager(o.client, o.guard, position.NewLifecycle(cfg.Lifecycle), book, o.accountant, cfg.Cycle.OrderTimeout())
	o.investment = investment.NewManager(o.client, cfg.Sizing, cfg.Lifecycle.QuantityPrecision, cfg.Cycle.DataTimeout(), o.guard)

	stateManager, err := state.NewStateManager(stateFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state manager: %w", err)
	}
	o.stateManager = stateManager
	o.snapshotter = state.NewSnapshotter(stateManager, o.guard, book, o.accountant)
	logs.Infof("State manager initialized successfully, state will be persisted to: %s", stateFilePath)

	if err := o.reconcileStateOnStartup(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(reg)

	aggregator := signals.NewAggregator(cfg.Cycle.SourceTimeout(), sources...)
	for _, s := range aggregator.Sources() {
		logs.Infof("[Orchestrator] Signal source enabled: %s", s.Name())
	}

	o.cycle = monitor.NewCycle(cfg, monitor.Deps{
		Session:    o.session,
		Market:     o.client,
		Aggregator: aggregator,
		Arbitrator: arbitrator,
		Guard:      o.guard,
		Positions:  o.positions,
		Investment: o.investment,
		Accountant: o.accountant,
		Persister:  o.snapshotter,
		Sinks:      []monitor.Sink{recorder},
	})
	heartbeat := time.Duration(cfg.Normal.HeartbeatIntervalMinutes) * time.Minute
	o.scheduler = monitor.NewScheduler(o.cycle, cfg.Cycle.Interval(), heartbeat)

	if cfg.Admin.Enabled {
		o.admin = admin.NewServer(cfg.Admin.Listen, admin.Deps{
			Guard:      o.guard,
			Book:       book,
			Accountant: o.accountant,
			Session:    o.session,
			Equity:     o.investment,
			LastCycle:  o.cycle.Last,
			Gatherer:   reg,
		})
	}
	return o, nil
}

// newSimulator seeds the paper brokerage with every instrument the bot will touch.
func newSimulator(cfg *config.Config) *exchange.MockClient {
	sim := cfg.Simulation
	mock := exchange.NewMockClient(sim.StartEquity, sim.Seed)
	mock.SetVolatility(sim.Volatility)
	mock.SetSpread(sim.SpreadFrac)
	for _, sym := range cfg.Universe {
		mock.SetPrice(sym, sim.InitialPrice)
		mock.SetIVRank(sym, sim.IVRank)
	}
	if cfg.Risk.VolIndexSymbol != "" {
		mock.SetPrice(cfg.Risk.VolIndexSymbol, sim.VolIndexLevel)
	}
	mock.Start(time.Second)
	return mock
}

// reconcileStateOnStartup restores saved state, with the brokerage as ground truth.
func (o *Orchestrator) reconcileStateOnStartup() error {
	logs.Info("[Orchestrator] Starting state reconciliation on startup...")

	poll := o.investment.Poll(o.ctx)
	if poll.Err != nil {
		return fmt.Errorf("failed to read account at startup: %w", poll.Err)
	}
	o.investment.Seed(poll.Equity)

	today := o.session.TradingDay(time.Now())
	saved := o.stateManager.GetFullState()
	if err := state.Restore(o.ctx, saved, today, o.guard, o.accountant, o.positions, o.cfg.Universe); err != nil {
		return fmt.Errorf("failed to reconcile positions with the brokerage: %w", err)
	}
	if err := o.snapshotter.Persist(); err != nil {
		logs.Errorf("[Orchestrator] Failed to save reconciled state: %v", err)
	}

	logs.Infof("[Orchestrator] State reconciliation complete: %d open positions, risk level %s",
		o.positions.Book().Count(), o.guard.Level())
	return nil
}

func (o *Orchestrator) Start() {
	if o.admin != nil {
		o.admin.Start()
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.scheduler.Run(o.ctx)
	}()
	logs.Infof("Trading %d instruments every %s, press Ctrl+C to exit.", len(o.cfg.Universe), o.cfg.Cycle.Interval())
}

// Stop halts new cycles, waits for the one in flight, then saves and reports.
func (o *Orchestrator) Stop() {
	logs.Info("Received close signal, starting graceful shutdown...")

	o.cancel()
	o.wg.Wait()

	if o.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.admin.Shutdown(ctx); err != nil {
			logs.Errorf("Failed to stop admin server: %v", err)
		}
		cancel()
	}
	if o.mock != nil {
		o.mock.Stop()
	}

	if err := o.snapshotter.Persist(); err != nil {
		logs.Errorf("Failed to save final state: %v", err)
	} else {
		logs.Infof("[Orchestrator] Final state saved to %s", o.stateFile)
	}
	o.printFinalSummary()
	logs.Info("All services stopped successfully.")
}

func (o *Orchestrator) printFinalSummary() {
	sum := o.accountant.Summary()
	snap := o.guard.Snapshot()
	logs.Info("--- Final PnL Summary ---")
	logs.Infof("Realized today: %.2f, lifetime: %.2f (%d wins / %d losses over %d exits)",
		sum.Daily, sum.Total, sum.Wins, sum.Losses, sum.Trades)
	logs.Infof("Risk level %s, equity %.2f, drawdown %.2f%%", o.guard.Level(), snap.Equity, snap.Drawdown*100)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Cycle.DataTimeout())
	defer cancel()
	for _, p := range o.positions.Book().All() {
		q, err := o.client.LatestQuote(ctx, p.Instrument)
		if err != nil {
			logs.Infof("Open %s %s x%.4f @ %.4f (%s), no price: %v", p.Direction, p.Instrument, p.Quantity, p.EntryPrice, p.Stage, err)
			continue
		}
		logs.Infof("Open %s %s x%.4f @ %.4f (%s), unrealized %.2f", p.Direction, p.Instrument, p.Quantity, p.EntryPrice, p.Stage,
			profit.UnrealizedPnL(p.Direction, p.EntryPrice, q.Last, p.Quantity))
	}
	logs.Info("-------------------------")
}
