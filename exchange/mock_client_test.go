package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMockClient(10000, 1)
	c.SetPrice("SPY", 100)

	fill, err := c.PlaceOrder(ctx, OrderRequest{ClientID: "a", Instrument: "SPY", Side: Buy, Quantity: 10, Kind: Market})
	require.NoError(t, err)
	assert.Equal(t, 100.0, fill.Price)

	pos, err := c.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, 10.0, pos[0].Quantity)

	c.SetPrice("SPY", 110)
	acct, err := c.GetAccountState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10100.0, acct.Equity)

	_, err = c.PlaceOrder(ctx, OrderRequest{ClientID: "b", Instrument: "SPY", Side: Sell, Quantity: 10, Kind: Market})
	require.NoError(t, err)
	pos, err = c.GetOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pos)
	assert.Len(t, c.Orders(), 2)
}

func TestMockClientFaultInjection(t *testing.T) {
	ctx := context.Background()
	c := NewMockClient(10000, 1)
	c.SetPrice("SPY", 100)

	c.SetAuthFailure(true)
	_, err := c.PlaceOrder(ctx, OrderRequest{Instrument: "SPY", Side: Buy, Quantity: 1})
	assert.ErrorIs(t, err, ErrAuth)
	_, err = c.GetAccountState(ctx)
	assert.ErrorIs(t, err, ErrAuth)
	c.SetAuthFailure(false)

	c.FailNextOrders(true, ErrUnknownStatus)
	_, err = c.PlaceOrder(ctx, OrderRequest{Instrument: "SPY", Side: Buy, Quantity: 2})
	assert.ErrorIs(t, err, ErrUnknownStatus)
	pos, err := c.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, pos, 1, "landed unknown-status order is visible at the venue")
	assert.Equal(t, 2.0, pos[0].Quantity)

	c.PartialFillNext(0.5)
	fill, err := c.PlaceOrder(ctx, OrderRequest{Instrument: "SPY", Side: Buy, Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, 2.0, fill.Quantity)
	pos, err = c.GetOpenPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4.0, pos[0].Quantity)

	c.SetUnavailable("SPY", true)
	_, err = c.LatestQuote(ctx, "SPY")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMockClientStepMovesPrices(t *testing.T) {
	c := NewMockClient(1000, 3)
	c.SetPrice("SPY", 100)
	c.SetVolatility(0.05)
	c.Step()
	q, err := c.LatestQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.NotEqual(t, 100.0, q.Last)
}
