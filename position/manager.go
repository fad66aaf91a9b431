package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"tierbot/exchange"
	"tierbot/logs"
	"tierbot/policy"
	"tierbot/profit"
	"tierbot/risk"
	"tierbot/signals"
	"tierbot/utils"
)

// RiskGate is the part of the risk engine the position manager consults and feeds.
type RiskGate interface {
	ApproveExit(req risk.ExitRequest, snap risk.State) risk.Decision
	RecordFill(instrument string, realizedPnL float64)
}

// ExitResult reports what one monitoring pass did for one position.
type ExitResult struct {
	Instrument string
	Trigger    risk.Trigger
	Quantity   float64
	Price      float64
	PnL        float64
	Closed     bool
	Pending    bool
	Denied     *risk.Decision
	Err        error
}

// Acted reports whether an exit was committed.
func (r ExitResult) Acted() bool {
	return r.Trigger != "" && r.Err == nil && !r.Pending && r.Denied == nil
}

// Manager executes entries and lifecycle exits against the gateway.
// Positions change only after the gateway confirms.
type Manager struct {
	gateway      exchange.Gateway
	gate         RiskGate
	lifecycle    *Lifecycle
	book         *Book
	accountant   *profit.Accountant
	orderTimeout time.Duration

	mu             sync.Mutex
	needsReconcile bool
}

func NewManager(gateway exchange.Gateway, gate RiskGate, lifecycle *Lifecycle, book *Book, accountant *profit.Accountant, orderTimeout time.Duration) *Manager {
	return &Manager{
		gateway:      gateway,
		gate:         gate,
		lifecycle:    lifecycle,
		book:         book,
		accountant:   accountant,
		orderTimeout: orderTimeout,
	}
}

func (m *Manager) Book() *Book { return m.book }

func closingSide(dir signals.Direction) exchange.Side {
	if dir == signals.Short {
		return exchange.Buy
	}
	return exchange.Sell
}

func (m *Manager) place(ctx context.Context, req exchange.OrderRequest) (*exchange.Fill, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.orderTimeout)
	defer cancel()
	return m.gateway.PlaceOrder(callCtx, req)
}

// Enter places the entry order for an approved intent and opens the position on fill.
func (m *Manager) Enter(ctx context.Context, intent policy.TradeIntent, qty float64) (Position, error) {
	if m.book.Has(intent.Instrument) {
		err := fmt.Errorf("%w: %s", ErrDuplicatePosition, intent.Instrument)
		logs.Errorf("[Position] Refusing entry: %v", err)
		return Position{}, err
	}

	side := exchange.Buy
	if intent.Direction == signals.Short {
		side = exchange.Sell
	}
	req := exchange.OrderRequest{
		ClientID:   uuid.NewString(),
		Instrument: intent.Instrument,
		Side:       side,
		Quantity:   qty,
		Kind:       exchange.Market,
	}
	fill, err := m.place(ctx, req)
	if err != nil {
		if errors.Is(err, exchange.ErrUnknownStatus) {
			m.flagReconcile()
			logs.Warnf("[Position] Entry %s for %s has unknown status, will reconcile: %v", req.ClientID, intent.Instrument, err)
		}
		return Position{}, err
	}

	p := m.lifecycle.Open(intent.Instrument, intent.Direction, fill.Quantity, fill.Price, fill.FilledAt)
	if err := m.book.Open(p); err != nil {
		logs.Errorf("[Position] Entry filled but book refused it: %v", err)
		return Position{}, err
	}
	logs.WithFields(logs.Fields{
		"instrument": p.Instrument,
		"direction":  p.Direction,
		"quantity":   p.Quantity,
		"entry":      p.EntryPrice,
		"stop":       p.StopLossPrice,
		"confidence": intent.Confidence,
	}).Info("[Position] Opened")
	return p, nil
}

// Monitor evaluates one position at price and executes the exit it asks for, if any.
func (m *Manager) Monitor(ctx context.Context, p Position, price float64, snap risk.State) ExitResult {
	if p.Pending != nil {
		return ExitResult{Instrument: p.Instrument, Trigger: p.Pending.Trigger, Pending: true}
	}
	t := m.lifecycle.Evaluate(p, price)
	if t.None() {
		m.book.Put(m.lifecycle.Mark(p, price))
		return ExitResult{Instrument: p.Instrument}
	}
	return m.execute(ctx, p, t, snap)
}

// Flatten closes a position unconditionally at the session cutoff.
func (m *Manager) Flatten(ctx context.Context, p Position, price float64, snap risk.State) ExitResult {
	if p.Pending != nil {
		return ExitResult{Instrument: p.Instrument, Trigger: p.Pending.Trigger, Pending: true}
	}
	t := m.lifecycle.Flatten(p, price)
	if t.None() {
		return ExitResult{Instrument: p.Instrument}
	}
	return m.execute(ctx, p, t, snap)
}

func (m *Manager) execute(ctx context.Context, p Position, t Transition, snap risk.State) ExitResult {
	res := ExitResult{Instrument: p.Instrument, Trigger: t.Trigger, Quantity: t.Quantity, Price: t.Price}

	decision := m.gate.ApproveExit(risk.ExitRequest{Instrument: p.Instrument, Trigger: t.Trigger, Quantity: t.Quantity}, snap)
	if !decision.Allowed {
		logs.Warnf("[Position] %s exit for %s %s", t.Trigger, p.Instrument, decision.Description())
		res.Denied = &decision
		m.book.Put(m.lifecycle.Mark(p, t.Price))
		return res
	}
	if t.Trigger == risk.TriggerStopLoss {
		logs.Warnf("[Position] Stop-loss hit for %s at %.4f (entry %.4f, stop %.4f), closing %.4f",
			p.Instrument, t.Price, p.EntryPrice, p.StopLossPrice, t.Quantity)
	}

	if t.Quantity == 0 {
		next, err := m.lifecycle.Apply(p, t, nil)
		if err != nil {
			res.Err = err
			return res
		}
		logs.Infof("[Position] %s reached %s with nothing to sell at this size", p.Instrument, next.Stage)
		m.book.Put(next)
		return res
	}

	req := exchange.OrderRequest{
		ClientID:   uuid.NewString(),
		Instrument: p.Instrument,
		Side:       closingSide(p.Direction),
		Quantity:   t.Quantity,
		Kind:       exchange.Market,
	}
	fill, err := m.place(ctx, req)
	if err != nil {
		if errors.Is(err, exchange.ErrUnknownStatus) {
			p.Pending = &PendingExit{
				ClientID:          req.ClientID,
				Trigger:           t.Trigger,
				Quantity:          t.Quantity,
				ExpectedRemaining: p.Quantity - t.Quantity,
				NextStage:         t.NextStage,
				Price:             t.Price,
				Since:             time.Now(),
			}
			m.book.Put(p)
			m.flagReconcile()
			logs.Warnf("[Position] %s exit %s for %s has unknown status, holding position until confirmed", t.Trigger, req.ClientID, p.Instrument)
			res.Pending = true
			return res
		}
		logs.Errorf("[Position] %s exit for %s failed, will retry next tick: %v", t.Trigger, p.Instrument, err)
		res.Err = err
		return res
	}

	return m.commit(p, t, fill, res)
}

func (m *Manager) commit(p Position, t Transition, fill *exchange.Fill, res ExitResult) ExitResult {
	next, err := m.lifecycle.Apply(p, t, fill)
	if err != nil {
		logs.Errorf("[Position] Could not apply confirmed %s exit for %s: %v", t.Trigger, p.Instrument, err)
		res.Err = err
		return res
	}
	res.Quantity = fill.Quantity
	res.Price = fill.Price
	res.PnL = m.accountant.RecordExit(p.Instrument, p.Direction, p.EntryPrice, fill.Price, fill.Quantity, string(t.Trigger))
	res.Closed = next.Stage == Closed
	m.gate.RecordFill(p.Instrument, res.PnL)
	if fill.Quantity < t.Quantity-utils.Epsilon {
		m.flagReconcile()
		logs.Warnf("[Position] %s exit for %s filled %.4f of %.4f, will reconcile", t.Trigger, p.Instrument, fill.Quantity, t.Quantity)
	}

	if res.Closed {
		m.book.Remove(p.Instrument)
	} else {
		m.book.Put(m.lifecycle.Mark(next, fill.Price))
	}
	logs.WithFields(logs.Fields{
		"instrument": p.Instrument,
		"trigger":    t.Trigger,
		"quantity":   fill.Quantity,
		"price":      fill.Price,
		"pnl":        res.PnL,
		"remaining":  next.Quantity,
		"stage":      next.Stage.String(),
	}).Info("[Position] Exit filled")
	return res
}

func (m *Manager) flagReconcile() {
	m.mu.Lock()
	m.needsReconcile = true
	m.mu.Unlock()
}

// NeedsReconcile reports whether some order outcome is still unknown.
func (m *Manager) NeedsReconcile() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.needsReconcile || m.book.HasPending()
}

// Reconcile treats the venue's open positions as ground truth. Pending exits are settled,
// venue holdings in the universe without a book entry are adopted, and book entries the
// venue no longer holds are dropped.
func (m *Manager) Reconcile(ctx context.Context, universe []string) error {
	callCtx, cancel := context.WithTimeout(ctx, m.orderTimeout)
	defer cancel()
	held, err := m.gateway.GetOpenPositions(callCtx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	venue := make(map[string]exchange.BrokerPosition, len(held))
	for _, bp := range held {
		venue[bp.Instrument] = bp
	}

	for _, p := range m.book.All() {
		bp, ok := venue[p.Instrument]
		qty := 0.0
		if ok {
			qty = math.Abs(bp.Quantity)
		}

		if p.Pending != nil {
			m.settle(p, qty)
			continue
		}
		if !ok {
			logs.Warnf("[Position] %s is no longer held at the venue, dropping it from the book", p.Instrument)
			m.book.Remove(p.Instrument)
			continue
		}
		if !utils.FloatEquals(qty, p.Quantity) {
			logs.Warnf("[Position] %s quantity differs from venue (%.4f vs %.4f), using venue", p.Instrument, p.Quantity, qty)
			p.Quantity = qty
			m.book.Put(p)
		}
	}

	inUniverse := make(map[string]bool, len(universe))
	for _, sym := range universe {
		inUniverse[sym] = true
	}
	for _, bp := range held {
		if !inUniverse[bp.Instrument] || m.book.Has(bp.Instrument) || bp.Quantity == 0 {
			continue
		}
		dir := signals.Long
		if bp.Quantity < 0 {
			dir = signals.Short
		}
		p := m.lifecycle.Open(bp.Instrument, dir, math.Abs(bp.Quantity), bp.AvgPrice, time.Now())
		if err := m.book.Open(p); err == nil {
			logs.Warnf("[Position] Adopted venue position %s %s x%.4f @ %.4f", dir, bp.Instrument, p.Quantity, p.EntryPrice)
		}
	}

	m.mu.Lock()
	m.needsReconcile = false
	m.mu.Unlock()
	return nil
}

// settle resolves a pending exit from the venue quantity.
func (m *Manager) settle(p Position, venueQty float64) {
	pe := p.Pending
	if venueQty <= pe.ExpectedRemaining+utils.Epsilon {
		filled := p.Quantity - venueQty
		t := Transition{Trigger: pe.Trigger, Quantity: pe.Quantity, NextStage: pe.NextStage, Price: pe.Price}
		if t.Trigger == risk.TriggerTier {
			t.Tier = int(pe.NextStage)
		}
		fill := &exchange.Fill{ClientID: pe.ClientID, Instrument: p.Instrument, Quantity: filled, Price: pe.Price, FilledAt: time.Now()}
		logs.Infof("[Position] Pending %s exit %s for %s confirmed by venue", pe.Trigger, pe.ClientID, p.Instrument)
		m.commit(p, t, fill, ExitResult{Instrument: p.Instrument, Trigger: t.Trigger})
		return
	}

	logs.Warnf("[Position] Pending %s exit %s for %s did not land, retrying on the next evaluation", pe.Trigger, pe.ClientID, p.Instrument)
	p.Pending = nil
	if venueQty > 0 {
		p.Quantity = venueQty
	}
	m.book.Put(p)
}
