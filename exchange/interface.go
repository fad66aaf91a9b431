package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Failure kinds. Callers match them with errors.Is.
var (
	// ErrAuth means the brokerage rejected our credentials. It must be surfaced, never swallowed.
	ErrAuth = errors.New("brokerage authentication failed")
	// ErrUnavailable covers network errors, timeouts, throttling and missing data.
	ErrUnavailable = errors.New("service unavailable")
	// ErrRejected means the venue refused the request (bad quantity, closed market, ...).
	ErrRejected = errors.New("request rejected")
	// ErrUnknownStatus means an order was sent but its fill status could not be confirmed.
	ErrUnknownStatus = errors.New("order status unknown")
)

// Failure wraps a failure kind with the operation and the underlying cause.
type Failure struct {
	Op    string
	Kind  error
	Cause error
}

func (f *Failure) Error() string {
	if f.Cause == nil {
		return fmt.Sprintf("%s: %v", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", f.Op, f.Kind, f.Cause)
}

func (f *Failure) Unwrap() []error {
	if f.Cause == nil {
		return []error{f.Kind}
	}
	return []error{f.Kind, f.Cause}
}

func fail(op string, kind, cause error) error {
	return &Failure{Op: op, Kind: kind, Cause: cause}
}

// KindOf returns a short label for the failure kind of err, used for metrics and logs.
func KindOf(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrUnknownStatus):
		return "unknown_status"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "unavailable"
	default:
		return "other"
	}
}

// Side defines the order direction.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the side that unwinds an order on s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderKind defines the supported order types.
type OrderKind string

const (
	Market  OrderKind = "market"
	Bracket OrderKind = "bracket"
)

// OrderRequest is a simple order sent to the venue.
type OrderRequest struct {
	ClientID   string
	Instrument string
	Side       Side
	Quantity   float64
	Kind       OrderKind
}

// Fill is the venue's confirmation of an executed order.
type Fill struct {
	OrderID    string
	ClientID   string
	Instrument string
	Side       Side
	Quantity   float64
	Price      float64
	FilledAt   time.Time
}

// BrokerPosition is the venue's view of a held instrument. Quantity is negative for shorts.
type BrokerPosition struct {
	Instrument string
	Quantity   float64
	AvgPrice   float64
}

// AccountState is the venue's view of the trading account.
type AccountState struct {
	Equity         float64
	BuyingPower    float64
	TradingBlocked bool
}

// Quote is the latest top-of-book for an instrument.
type Quote struct {
	Instrument string
	Last       float64
	Bid        float64
	Ask        float64
	At         time.Time
}

// Spread returns the bid/ask width as a fraction of the mid price, or 0 without a two-sided quote.
func (q Quote) Spread() float64 {
	if q.Bid <= 0 || q.Ask <= 0 || q.Ask < q.Bid {
		return 0
	}
	mid := (q.Bid + q.Ask) / 2
	return (q.Ask - q.Bid) / mid
}

// Gateway places orders and reports positions and account state.
type Gateway interface {
	// PlaceOrder submits an order and returns its fill. An ErrUnknownStatus failure means
	// the order may or may not have executed and must be confirmed via GetOpenPositions.
	PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error)

	// GetOpenPositions returns every instrument currently held.
	GetOpenPositions(ctx context.Context) ([]BrokerPosition, error)

	// GetAccountState returns equity, buying power and whether trading is blocked.
	GetAccountState(ctx context.Context) (*AccountState, error)
}

// MarketData provides the latest prices and volatility context.
type MarketData interface {
	LatestQuote(ctx context.Context, instrument string) (*Quote, error)

	// ImpliedVolatilityRank returns the instrument's IV rank as a fraction in [0,1].
	ImpliedVolatilityRank(ctx context.Context, instrument string) (float64, error)
}

// Client is a brokerage that both trades and serves market data.
type Client interface {
	Gateway
	MarketData
}
