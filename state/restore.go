// state/restore.go
package state

import (
	"context"
	"time"

	"tierbot/logs"
	"tierbot/position"
	"tierbot/profit"
	"tierbot/risk"
)

// Snapshotter collects the live risk, position and profit records into one AppState.
type Snapshotter struct {
	store      StateManagerInterface
	guard      *risk.Guard
	book       *position.Book
	accountant *profit.Accountant
	now        func() time.Time
}

func NewSnapshotter(store StateManagerInterface, guard *risk.Guard, book *position.Book, accountant *profit.Accountant) *Snapshotter {
	return &Snapshotter{store: store, guard: guard, book: book, accountant: accountant, now: time.Now}
}

// Capture builds the state that Persist would save.
func (s *Snapshotter) Capture() AppState {
	snap := s.guard.Snapshot()
	sum := s.accountant.Summary()
	return AppState{
		TradingDay: snap.TradingDay,
		SavedAt:    s.now(),
		Risk:       &snap,
		Positions:  s.book.All(),
		Profit:     &sum,
	}
}

// Persist implements the end-of-cycle save.
func (s *Snapshotter) Persist() error {
	return s.store.Save(s.Capture())
}

// Reconciler is the part of the position manager startup recovery needs.
type Reconciler interface {
	Book() *position.Book
	Reconcile(ctx context.Context, universe []string) error
}

// Restore seeds the live components from saved state, then lets the venue overrule it.
// Risk and profit records only carry over within the same trading day. Saved positions
// are loaded into the book and reconciled, so the broker's holdings decide what survives
// and with which quantity.
func Restore(ctx context.Context, saved AppState, today string, guard *risk.Guard, accountant *profit.Accountant, positions Reconciler, universe []string) error {
	if saved.TradingDay == today {
		if saved.Risk != nil {
			guard.Restore(*saved.Risk)
			logs.Infof("[State] Restored risk state for %s at level %s", today, guard.Level())
		}
		if saved.Profit != nil {
			accountant.Restore(*saved.Profit)
		}
	} else if saved.TradingDay != "" {
		logs.Infof("[State] Saved state is from %s, starting %s with fresh risk counters", saved.TradingDay, today)
		if saved.Risk != nil && saved.Risk.KillSwitch {
			guard.SetKillSwitch(true)
			logs.Warnf("[State] Kill switch was engaged on %s and stays engaged", saved.TradingDay)
		}
	}

	book := positions.Book()
	for _, p := range saved.Positions {
		if p.Stage == position.Closed || p.Quantity <= 0 {
			continue
		}
		book.Put(p)
	}
	return positions.Reconcile(ctx, universe)
}
