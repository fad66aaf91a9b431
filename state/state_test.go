package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tierbot/config"
	"tierbot/exchange"
	"tierbot/position"
	"tierbot/profit"
	"tierbot/risk"
	"tierbot/signals"
)

func TestStateManagerStartsFreshAndSavesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	sm, err := NewStateManager(path)
	require.NoError(t, err)
	assert.Empty(t, sm.GetFullState().TradingDay)

	rs := risk.State{TradingDay: "2026-10-15", StartingEquity: 1000, KillSwitch: true}
	st := AppState{
		TradingDay: "2026-10-15",
		Risk:       &rs,
		Positions: []position.Position{{
			Instrument: "AAPL", Direction: signals.Long, Quantity: 40, EntryPrice: 100,
			Stage: position.Tier1, Tiers: []int{1},
		}},
	}
	require.NoError(t, sm.Save(st))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed into place")

	reloaded, err := NewStateManager(path)
	require.NoError(t, err)
	got := reloaded.GetFullState()
	require.NotNil(t, got.Risk)
	assert.True(t, got.Risk.KillSwitch)
	require.Len(t, got.Positions, 1)
	assert.Equal(t, position.Tier1, got.Positions[0].Stage)
	assert.Equal(t, 40.0, got.Positions[0].Quantity)
}

func TestStateManagerRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := NewStateManager(path)
	assert.Error(t, err)
}

func TestGetFullStateIsACopy(t *testing.T) {
	sm, err := NewStateManager(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	require.NoError(t, sm.Save(AppState{Positions: []position.Position{{Instrument: "AAPL", Quantity: 1, Tiers: []int{1}}}}))

	got := sm.GetFullState()
	got.Positions[0].Tiers[0] = 9
	assert.Equal(t, 1, sm.GetFullState().Positions[0].Tiers[0])
}

type restoreEnv struct {
	mock      *exchange.MockClient
	guard     *risk.Guard
	acct      *profit.Accountant
	positions *position.Manager
}

func newRestoreEnv(t *testing.T) *restoreEnv {
	t.Helper()
	cfg := config.NewConfig()
	mock := exchange.NewMockClient(100000, 1)
	guard := risk.NewGuard(cfg.Risk)
	acct := profit.NewAccountant()
	pm := position.NewManager(mock, guard, position.NewLifecycle(cfg.Lifecycle), position.NewBook(), acct, time.Second)
	return &restoreEnv{mock: mock, guard: guard, acct: acct, positions: pm}
}

func (e *restoreEnv) hold(t *testing.T, instrument string, price, qty float64) {
	t.Helper()
	e.mock.SetPrice(instrument, price)
	_, err := e.mock.PlaceOrder(context.Background(), exchange.OrderRequest{
		ClientID: instrument + "-seed", Instrument: instrument, Side: exchange.Buy, Quantity: qty, Kind: exchange.Market,
	})
	require.NoError(t, err)
}

func TestRestoreTreatsVenueAsGroundTruth(t *testing.T) {
	e := newRestoreEnv(t)
	e.hold(t, "AAPL", 140, 6)
	e.hold(t, "NVDA", 50, 3)

	saved := AppState{
		TradingDay: "2026-10-15",
		Positions: []position.Position{
			{Instrument: "AAPL", Direction: signals.Long, Quantity: 10, EntryPrice: 100, Stage: position.Tier1, Tiers: []int{1}, StopLossPrice: 85},
			{Instrument: "MSFT", Direction: signals.Long, Quantity: 5, EntryPrice: 300, Stage: position.Open, StopLossPrice: 255},
		},
	}
	err := Restore(context.Background(), saved, "2026-10-15", e.guard, e.acct, e.positions, []string{"AAPL", "MSFT", "NVDA"})
	require.NoError(t, err)

	book := e.positions.Book()
	aapl, ok := book.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, position.Tier1, aapl.Stage, "saved lifecycle data is kept")
	assert.Equal(t, 6.0, aapl.Quantity, "quantity comes from the venue")
	assert.Equal(t, 100.0, aapl.EntryPrice)

	assert.False(t, book.Has("MSFT"), "saved position the venue no longer holds is dropped")

	nvda, ok := book.Get("NVDA")
	require.True(t, ok)
	assert.Equal(t, position.Open, nvda.Stage)
	assert.Equal(t, 50.0, nvda.EntryPrice)
}

func TestRestoreRiskOnlyForSameDay(t *testing.T) {
	rs := risk.State{TradingDay: "2026-10-14", StartingEquity: 100000, WorstDailyPnL: -5000}
	saved := AppState{TradingDay: "2026-10-14", Risk: &rs, Profit: &profit.Summary{Daily: -5000, Total: -5000}}

	e := newRestoreEnv(t)
	require.NoError(t, Restore(context.Background(), saved, "2026-10-14", e.guard, e.acct, e.positions, nil))
	assert.Equal(t, risk.Elevated, e.guard.Level())
	assert.Equal(t, -5000.0, e.acct.Summary().Daily)

	e = newRestoreEnv(t)
	require.NoError(t, Restore(context.Background(), saved, "2026-10-15", e.guard, e.acct, e.positions, nil))
	assert.Equal(t, risk.Normal, e.guard.Level())
	assert.Zero(t, e.acct.Summary().Total)
}

func TestRestoreKeepsKillSwitchAcrossDays(t *testing.T) {
	rs := risk.State{TradingDay: "2026-10-14", KillSwitch: true}
	e := newRestoreEnv(t)
	require.NoError(t, Restore(context.Background(), AppState{TradingDay: "2026-10-14", Risk: &rs}, "2026-10-15", e.guard, e.acct, e.positions, nil))
	assert.Equal(t, risk.Blocked, e.guard.Level())
}

func TestSnapshotterCapturesLiveState(t *testing.T) {
	e := newRestoreEnv(t)
	e.guard.ResetDay("2026-10-15", 100000)
	e.acct.RecordExit("AAPL", signals.Long, 100, 110, 5, "tier")
	require.NoError(t, e.positions.Book().Open(position.Position{Instrument: "AAPL", Direction: signals.Long, Quantity: 5, EntryPrice: 100}))

	sm, err := NewStateManager(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	snap := NewSnapshotter(sm, e.guard, e.positions.Book(), e.acct)
	require.NoError(t, snap.Persist())

	got := sm.GetFullState()
	assert.Equal(t, "2026-10-15", got.TradingDay)
	require.NotNil(t, got.Profit)
	assert.Equal(t, 50.0, got.Profit.Total)
	require.Len(t, got.Positions, 1)
	assert.Equal(t, "AAPL", got.Positions[0].Instrument)
}
