// investment/invest_manager.go
package investment

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"tierbot/config"
	"tierbot/exchange"
	"tierbot/logs"
	"tierbot/utils"
)

// IClient defines the client interface required by this module, convenient for testing
type IClient interface {
	GetAccountState(ctx context.Context) (*exchange.AccountState, error)
}

// EquitySink receives every fresh equity reading.
type EquitySink interface {
	MarkEquity(equity float64)
}

// PollResult is what one account poll learned.
type PollResult struct {
	Equity         float64
	TradingBlocked bool
	Fresh          bool
	AuthFailed     bool
	Err            error
}

// Manager polls the account and sizes new entries from the last known equity.
type Manager struct {
	client    IClient
	sizing    *config.SizingConfig
	precision int
	timeout   time.Duration
	sink      EquitySink

	mu              sync.RWMutex
	equity          float64
	isTradingHalted bool
}

// NewManager creates a new investment manager
func NewManager(client IClient, sizing *config.SizingConfig, precision int, timeout time.Duration, sink EquitySink) *Manager {
	return &Manager{
		client:    client,
		sizing:    sizing,
		precision: precision,
		timeout:   timeout,
		sink:      sink,
	}
}

// Poll reads the account once. On failure the last known equity stays in effect.
func (m *Manager) Poll(ctx context.Context) PollResult {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	acct, err := m.client.GetAccountState(callCtx)
	if err != nil {
		res := PollResult{Equity: m.Equity(), TradingBlocked: m.IsTradingHalted(), Err: err}
		res.AuthFailed = errors.Is(err, exchange.ErrAuth)
		if res.AuthFailed {
			logs.Errorf("[Investment-Management-Error] Account poll rejected credentials: %v", err)
		} else {
			logs.Warnf("[Investment-Management-Error] Failed to get account state: %v", err)
		}
		return res
	}

	m.mu.Lock()
	m.equity = acct.Equity
	if acct.TradingBlocked != m.isTradingHalted {
		if acct.TradingBlocked {
			logs.Warnf("[Investment-Management-Warning] Venue reports trading blocked. New entries are denied.")
		} else {
			logs.Infof("[Investment-Management-Restore] Venue lifted the trading block. Resuming entries.")
		}
	}
	m.isTradingHalted = acct.TradingBlocked
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.MarkEquity(acct.Equity)
	}
	return PollResult{Equity: acct.Equity, TradingBlocked: acct.TradingBlocked, Fresh: true}
}

// Seed sets the last known equity before the first successful poll.
func (m *Manager) Seed(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.equity == 0 {
		m.equity = equity
	}
}

// Size returns the entry quantity for price: floor(equity * allocation / price), capped.
func (m *Manager) Size(price float64) float64 {
	if price <= 0 {
		return 0
	}
	qty := utils.FloorToPrecision(m.Equity()*m.sizing.AllocationFraction/price, m.precision)
	if m.sizing.MaxQuantity > 0 {
		qty = math.Min(qty, m.sizing.MaxQuantity)
	}
	return math.Max(qty, 0)
}

func (m *Manager) Equity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equity
}

// IsTradingHalted returns whether the venue blocked new positions at the last poll.
func (m *Manager) IsTradingHalted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isTradingHalted
}
