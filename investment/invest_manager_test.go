package investment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tierbot/config"
	"tierbot/exchange"
)

type fakeAccount struct {
	state *exchange.AccountState
	err   error
}

func (f *fakeAccount) GetAccountState(context.Context) (*exchange.AccountState, error) {
	return f.state, f.err
}

type recordingSink struct{ marks []float64 }

func (r *recordingSink) MarkEquity(e float64) { r.marks = append(r.marks, e) }

func TestPollFeedsEquityAndBlockFlag(t *testing.T) {
	acct := &fakeAccount{state: &exchange.AccountState{Equity: 50000, TradingBlocked: true}}
	sink := &recordingSink{}
	m := NewManager(acct, &config.SizingConfig{AllocationFraction: 0.1, MaxQuantity: 1000}, 0, time.Second, sink)

	res := m.Poll(context.Background())
	assert.True(t, res.Fresh)
	assert.True(t, res.TradingBlocked)
	assert.True(t, m.IsTradingHalted())
	assert.Equal(t, []float64{50000}, sink.marks)
}

func TestPollFailureKeepsLastEquity(t *testing.T) {
	acct := &fakeAccount{state: &exchange.AccountState{Equity: 20000}}
	m := NewManager(acct, &config.SizingConfig{AllocationFraction: 0.1}, 0, time.Second, nil)
	m.Poll(context.Background())

	acct.err = fmt.Errorf("get account: %w", exchange.ErrAuth)
	res := m.Poll(context.Background())
	assert.False(t, res.Fresh)
	assert.True(t, res.AuthFailed)
	assert.Equal(t, 20000.0, res.Equity)
	assert.Equal(t, 20.0, m.Size(100))

	acct.err = exchange.ErrUnavailable
	res = m.Poll(context.Background())
	assert.False(t, res.AuthFailed)
	assert.Error(t, res.Err)
}

func TestSize(t *testing.T) {
	m := NewManager(&fakeAccount{}, &config.SizingConfig{AllocationFraction: 0.05, MaxQuantity: 10}, 0, time.Second, nil)
	m.Seed(100000)

	assert.Equal(t, 10.0, m.Size(5), "capped at max quantity")
	assert.Equal(t, 3.0, m.Size(1500))
	assert.Equal(t, 0.0, m.Size(6000), "too expensive for one unit")
	assert.Equal(t, 0.0, m.Size(0))

	m.Seed(1)
	assert.Equal(t, 100000.0, m.Equity(), "seed never overwrites a known equity")
}
