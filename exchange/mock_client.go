package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"tierbot/logs"
)

//
// Paper simulator for running the bot and its tests without a real brokerage.
//

var (
	_ Gateway    = (*MockClient)(nil)
	_ MarketData = (*MockClient)(nil)
)

// MockClient fills market orders immediately at the simulated mid price.
type MockClient struct {
	mu          sync.RWMutex
	cash        float64
	positions   map[string]*BrokerPosition
	prices      map[string]float64
	ivRanks     map[string]float64
	spreadFrac  float64
	volatility  float64
	rng         *rand.Rand
	nextOrderID int64
	orders      []OrderRequest
	stopChan    chan struct{}
	stopOnce    sync.Once

	// fault injection
	authFailure      bool
	tradingBlocked   bool
	unavailable      map[string]bool
	orderFaults      []error
	unknownFillsLand bool
	partialFills     []float64
}

// NewMockClient creates a simulator holding startEquity in cash.
func NewMockClient(startEquity float64, seed int64) *MockClient {
	return &MockClient{
		cash:        startEquity,
		positions:   make(map[string]*BrokerPosition),
		prices:      make(map[string]float64),
		ivRanks:     make(map[string]float64),
		unavailable: make(map[string]bool),
		rng:         rand.New(rand.NewSource(seed)),
		nextOrderID: 1,
		stopChan:    make(chan struct{}),
	}
}

// Start runs the random-walk price simulator until Stop is called.
func (c *MockClient) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopChan:
				return
			case <-ticker.C:
				c.Step()
			}
		}
	}()
}

// Stop gracefully stops the simulator goroutine.
func (c *MockClient) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// Step moves every simulated price by one random-walk increment.
func (c *MockClient) Step() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.volatility <= 0 {
		return
	}
	for sym, px := range c.prices {
		next := px * math.Exp(c.rng.NormFloat64()*c.volatility)
		c.prices[sym] = math.Max(next, 0.01)
	}
}

// SetPrice sets the mid price of an instrument.
func (c *MockClient) SetPrice(instrument string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[instrument] = price
}

// SetVolatility sets the per-step log-return standard deviation of the random walk.
func (c *MockClient) SetVolatility(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volatility = v
}

// SetSpread sets the simulated bid/ask width as a fraction of the mid.
func (c *MockClient) SetSpread(frac float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spreadFrac = frac
}

// SetIVRank sets the IV rank reported for an instrument.
func (c *MockClient) SetIVRank(instrument string, rank float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ivRanks[instrument] = rank
}

// SetAuthFailure makes every gateway call fail with ErrAuth while enabled.
func (c *MockClient) SetAuthFailure(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authFailure = enabled
}

// SetTradingBlocked flags the account as blocked by the venue.
func (c *MockClient) SetTradingBlocked(blocked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tradingBlocked = blocked
}

// SetUnavailable makes market data for one instrument fail with ErrUnavailable.
func (c *MockClient) SetUnavailable(instrument string, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unavailable[instrument] = down
}

// FailNextOrders queues errors returned by the next PlaceOrder calls, in order.
// If landed is set, ErrUnknownStatus faults still apply the order at the venue.
func (c *MockClient) FailNextOrders(landed bool, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderFaults = append(c.orderFaults, errs...)
	c.unknownFillsLand = landed
}

// PartialFillNext makes the next PlaceOrder calls fill only the given fractions of their quantity.
func (c *MockClient) PartialFillNext(fractions ...float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partialFills = append(c.partialFills, fractions...)
}

// Orders returns every order request the simulator received.
func (c *MockClient) Orders() []OrderRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]OrderRequest, len(c.orders))
	copy(out, c.orders)
	return out
}

// PlaceOrder fills market orders immediately at the current mid.
func (c *MockClient) PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.orders = append(c.orders, req)
	if err := ctx.Err(); err != nil {
		return nil, fail("place order", ErrUnknownStatus, err)
	}
	if c.authFailure {
		return nil, fail("place order", ErrAuth, fmt.Errorf("mock credentials rejected"))
	}
	if req.Quantity <= 0 {
		return nil, fail("place order", ErrRejected, fmt.Errorf("quantity %.4f must be positive", req.Quantity))
	}
	price, ok := c.prices[req.Instrument]
	if !ok {
		return nil, fail("place order", ErrRejected, fmt.Errorf("unknown instrument %s", req.Instrument))
	}

	if len(c.orderFaults) > 0 {
		fault := c.orderFaults[0]
		c.orderFaults = c.orderFaults[1:]
		if !errors.Is(fault, ErrUnknownStatus) || !c.unknownFillsLand {
			return nil, fail("place order", fault, fmt.Errorf("injected"))
		}
		c.apply_noLock(req, price)
		return nil, fail("place order", ErrUnknownStatus, fmt.Errorf("injected after fill"))
	}

	if len(c.partialFills) > 0 {
		req.Quantity *= c.partialFills[0]
		c.partialFills = c.partialFills[1:]
	}
	c.apply_noLock(req, price)
	c.nextOrderID++
	fill := &Fill{
		OrderID:    strconv.FormatInt(c.nextOrderID, 10),
		ClientID:   req.ClientID,
		Instrument: req.Instrument,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Price:      price,
		FilledAt:   time.Now(),
	}
	logs.Debugf("[Mock] Filled %s %s x%.4f @ %.4f", fill.Side, fill.Instrument, fill.Quantity, fill.Price)
	return fill, nil
}

// apply_noLock books an executed order into cash and positions. The caller must hold the lock.
func (c *MockClient) apply_noLock(req OrderRequest, price float64) {
	signed := req.Quantity
	if req.Side == Sell {
		signed = -signed
	}
	c.cash -= signed * price

	pos, ok := c.positions[req.Instrument]
	if !ok {
		pos = &BrokerPosition{Instrument: req.Instrument}
		c.positions[req.Instrument] = pos
	}
	newQty := pos.Quantity + signed
	switch {
	case math.Abs(newQty) < 1e-9:
		delete(c.positions, req.Instrument)
		return
	case pos.Quantity == 0 || (pos.Quantity > 0) != (newQty > 0):
		pos.AvgPrice = price
	case math.Abs(newQty) > math.Abs(pos.Quantity):
		pos.AvgPrice = (pos.AvgPrice*math.Abs(pos.Quantity) + price*req.Quantity) / math.Abs(newQty)
	}
	pos.Quantity = newQty
}

// GetOpenPositions returns a copy of the simulated holdings.
func (c *MockClient) GetOpenPositions(ctx context.Context) ([]BrokerPosition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authFailure {
		return nil, fail("get positions", ErrAuth, fmt.Errorf("mock credentials rejected"))
	}
	out := make([]BrokerPosition, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, *p)
	}
	return out, nil
}

// GetAccountState marks holdings to the current mid.
func (c *MockClient) GetAccountState(ctx context.Context) (*AccountState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authFailure {
		return nil, fail("get account", ErrAuth, fmt.Errorf("mock credentials rejected"))
	}
	equity := c.cash
	for sym, p := range c.positions {
		equity += p.Quantity * c.prices[sym]
	}
	return &AccountState{
		Equity:         equity,
		BuyingPower:    math.Max(c.cash, 0),
		TradingBlocked: c.tradingBlocked,
	}, nil
}

// LatestQuote returns the simulated mid with a symmetric spread around it.
func (c *MockClient) LatestQuote(ctx context.Context, instrument string) (*Quote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.unavailable[instrument] {
		return nil, fail("latest quote", ErrUnavailable, fmt.Errorf("mock data down for %s", instrument))
	}
	px, ok := c.prices[instrument]
	if !ok {
		return nil, fail("latest quote", ErrUnavailable, fmt.Errorf("mock price not found for %s", instrument))
	}
	half := px * c.spreadFrac / 2
	return &Quote{Instrument: instrument, Last: px, Bid: px - half, Ask: px + half, At: time.Now()}, nil
}

// ImpliedVolatilityRank returns the configured IV rank for an instrument.
func (c *MockClient) ImpliedVolatilityRank(ctx context.Context, instrument string) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rank, ok := c.ivRanks[instrument]
	if !ok || c.unavailable[instrument] {
		return 0, fail("iv rank", ErrUnavailable, fmt.Errorf("mock iv rank not found for %s", instrument))
	}
	return rank, nil
}
