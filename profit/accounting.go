package profit

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tierbot/signals"
)

// Trade is one closing fill booked by the accountant.
type Trade struct {
	Instrument string
	Direction  signals.Direction
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	PnL        float64
	Trigger    string
	Timestamp  int64
}

// Summary is a point-in-time copy of the books.
type Summary struct {
	Daily  float64 `json:"daily"`
	Total  float64 `json:"total"`
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
	Trades int     `json:"trades"`
}

// Accountant tracks realized profit per instrument and per day.
// Sums are kept in decimal so many partial exits do not drift.
type Accountant struct {
	mu           sync.Mutex
	byInstrument map[string]decimal.Decimal
	daily        decimal.Decimal
	total        decimal.Decimal
	wins         int
	losses       int
	tradeHistory []Trade
}

// NewAccountant creates a new accounting core.
func NewAccountant() *Accountant {
	return &Accountant{
		byInstrument: make(map[string]decimal.Decimal),
		tradeHistory: make([]Trade, 0),
	}
}

// RealizedPnL is the profit of closing qty units entered at entry and exited at exit.
func RealizedPnL(dir signals.Direction, entry, exit, qty float64) decimal.Decimal {
	move := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if dir == signals.Short {
		move = move.Neg()
	}
	return move.Mul(decimal.NewFromFloat(qty))
}

// UnrealizedPnL marks an open quantity to price.
func UnrealizedPnL(dir signals.Direction, entry, price, qty float64) float64 {
	return RealizedPnL(dir, entry, price, qty).InexactFloat64()
}

// RecordExit books one closing fill and returns its realized profit.
func (a *Accountant) RecordExit(instrument string, dir signals.Direction, entry, exit, qty float64, trigger string) float64 {
	pnl := RealizedPnL(dir, entry, exit, qty)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.byInstrument[instrument] = a.byInstrument[instrument].Add(pnl)
	a.daily = a.daily.Add(pnl)
	a.total = a.total.Add(pnl)
	switch pnl.Sign() {
	case 1:
		a.wins++
	case -1:
		a.losses++
	}

	f := pnl.InexactFloat64()
	a.tradeHistory = append(a.tradeHistory, Trade{
		Instrument: instrument,
		Direction:  dir,
		EntryPrice: entry,
		ExitPrice:  exit,
		Quantity:   qty,
		PnL:        f,
		Trigger:    trigger,
		Timestamp:  time.Now().Unix(),
	})
	return f
}

// ByInstrument returns the realized profit of one instrument.
func (a *Accountant) ByInstrument(instrument string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.byInstrument[instrument].InexactFloat64()
}

// Trades returns a copy of the booked trades.
func (a *Accountant) Trades() []Trade {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Trade, len(a.tradeHistory))
	copy(out, a.tradeHistory)
	return out
}

func (a *Accountant) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Summary{
		Daily:  a.daily.InexactFloat64(),
		Total:  a.total.InexactFloat64(),
		Wins:   a.wins,
		Losses: a.losses,
		Trades: len(a.tradeHistory),
	}
}

// ResetDay zeroes the daily total. Lifetime totals are kept.
func (a *Accountant) ResetDay() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.daily = decimal.Zero
}

// Restore recovers realized totals from persistent state.
func (a *Accountant) Restore(s Summary) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.daily = decimal.NewFromFloat(s.Daily)
	a.total = decimal.NewFromFloat(s.Total)
	a.wins, a.losses = s.Wins, s.Losses
}
