package risk

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tierbot/config"
	"tierbot/policy"
	"tierbot/signals"
)

func newGuard() *Guard {
	g := NewGuard(config.NewConfig().Risk)
	g.ResetDay("2026-10-15", 100000)
	return g
}

func intent(conf float64) policy.TradeIntent {
	return policy.TradeIntent{Instrument: "SPY", Direction: signals.Long, Confidence: conf}
}

func TestLevelIsPureFunctionOfState(t *testing.T) {
	levels := NewLevels(config.NewConfig().Risk)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		s := State{
			StartingEquity: 100000,
			DailyPnL:       rng.Float64()*-8000 + 2000,
			Drawdown:       rng.Float64() * 0.1,
			LossStreak:     rng.Intn(5),
			AuthHalted:     rng.Intn(10) == 0,
		}
		s.WorstDailyPnL = s.DailyPnL
		s.MaxDrawdown = s.Drawdown
		s.MaxLossStreak = s.LossStreak

		first := levels.Evaluate(s)
		dup := s
		assert.Equal(t, first, levels.Evaluate(dup))
		assert.Equal(t, first, levels.Evaluate(s))
	}
}

func TestEscalationPath(t *testing.T) {
	g := newGuard()
	assert.Equal(t, Normal, g.Level())

	g.RecordFill("SPY", -3500)
	assert.Equal(t, Elevated, g.Level(), "daily loss above 3% of starting equity")

	g.MarkEquity(93000)
	assert.Equal(t, Danger, g.Level(), "drawdown above 6% of peak")

	g.SetKillSwitch(true)
	assert.Equal(t, Blocked, g.Level())
	g.SetKillSwitch(false)
	assert.Equal(t, Danger, g.Level())
}

func TestLossStreakEscalatesToDanger(t *testing.T) {
	g := newGuard()
	for i := 0; i < 3; i++ {
		g.RecordFill("QQQ", -1)
	}
	assert.Equal(t, Danger, g.Level())
}

func TestWinningTradeDoesNotDeescalate(t *testing.T) {
	g := newGuard()
	g.RecordFill("SPY", -4000)
	require.Equal(t, Elevated, g.Level())

	g.RecordFill("SPY", 10000)
	g.MarkEquity(120000)
	assert.Equal(t, Elevated, g.Level())
	assert.Equal(t, 6000.0, g.Snapshot().DailyPnL)

	g.ResetDay("2026-10-16", 120000)
	assert.Equal(t, Normal, g.Level())
}

func TestAuthFailureNeedsConsecutiveCycles(t *testing.T) {
	g := newGuard()
	g.RecordAuthFailure()
	assert.Equal(t, Normal, g.Level(), "one cycle never changes the level")
	g.RecordAuthFailure()
	g.RecordAuthSuccess()
	g.RecordAuthFailure()
	g.RecordAuthFailure()
	assert.Equal(t, Normal, g.Level(), "a success breaks the streak")

	g.RecordAuthFailure()
	assert.Equal(t, Blocked, g.Level())
	g.RecordAuthSuccess()
	assert.Equal(t, Blocked, g.Level(), "halt stays latched until the daily reset")

	g.ResetDay("2026-10-16", 100000)
	assert.Equal(t, Normal, g.Level())
}

func TestKillSwitchSurvivesReset(t *testing.T) {
	g := newGuard()
	g.SetKillSwitch(true)
	g.ResetDay("2026-10-16", 100000)
	assert.Equal(t, Blocked, g.Level())
}

func TestApproveEntryDeniesOpenPositionRegardlessOfConfidence(t *testing.T) {
	g := newGuard()
	snap := g.Snapshot()
	for _, conf := range []float64{0, 0.2, 0.5, 0.99, 1} {
		d := g.ApproveEntry(intent(conf), EntryContext{HasOpenPosition: true}, snap)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonPositionOpen, d.Reason)
	}
}

func TestApproveEntryCheckOrder(t *testing.T) {
	g := newGuard()
	snap := g.Snapshot()

	all := EntryContext{
		HasOpenPosition: true,
		OpenPositions:   5,
		AccountBlocked:  true,
		IVRank:          0.99,
		IVRankKnown:     true,
		VolIndex:        50,
		VolIndexKnown:   true,
		SpreadFraction:  0.5,
	}
	blocked := snap
	blocked.KillSwitch = true
	assert.Equal(t, ReasonBlocked, g.ApproveEntry(intent(0), all, blocked).Reason)

	steps := []struct {
		clear  func(*EntryContext)
		reason Reason
	}{
		{func(ec *EntryContext) {}, ReasonPositionOpen},
		{func(ec *EntryContext) { ec.HasOpenPosition = false }, ReasonMaxPositions},
		{func(ec *EntryContext) { ec.OpenPositions = 4 }, ReasonAccountBlocked},
		{func(ec *EntryContext) { ec.AccountBlocked = false }, ReasonIVRank},
		{func(ec *EntryContext) { ec.IVRankKnown = false }, ReasonVolIndex},
		{func(ec *EntryContext) { ec.VolIndex = 20 }, ReasonSpread},
		{func(ec *EntryContext) { ec.SpreadFraction = 0.01 }, ReasonConfidence},
	}
	ec := all
	for _, step := range steps {
		step.clear(&ec)
		d := g.ApproveEntry(intent(0.1), ec, snap)
		assert.False(t, d.Allowed)
		assert.Equal(t, step.reason, d.Reason, d.Description())
	}
	assert.True(t, g.ApproveEntry(intent(0.2), ec, snap).Allowed)
}

func TestConfidenceThresholdTightensWithLevel(t *testing.T) {
	g := newGuard()
	g.RecordFill("SPY", -3500)
	snap := g.Snapshot()
	require.Equal(t, Elevated, g.Levels().Evaluate(snap))

	assert.Equal(t, ReasonConfidence, g.ApproveEntry(intent(0.4), EntryContext{}, snap).Reason)
	assert.True(t, g.ApproveEntry(intent(0.5), EntryContext{}, snap).Allowed)
}

func TestSnapshotIsolatedFromLaterMutations(t *testing.T) {
	g := newGuard()
	snap := g.Snapshot()
	g.SetKillSwitch(true)
	assert.True(t, g.ApproveEntry(intent(0.9), EntryContext{}, snap).Allowed)
	assert.False(t, g.ApproveEntry(intent(0.9), EntryContext{}, g.Snapshot()).Allowed)
}

func TestApproveExit(t *testing.T) {
	g := newGuard()
	g.SetKillSwitch(true)
	snap := g.Snapshot()

	assert.True(t, g.ApproveExit(ExitRequest{Instrument: "SPY", Trigger: TriggerStopLoss}, snap).Allowed)
	assert.True(t, g.ApproveExit(ExitRequest{Instrument: "SPY", Trigger: TriggerFlatten}, snap).Allowed)
	assert.True(t, g.ApproveExit(ExitRequest{Instrument: "SPY", Trigger: TriggerTier, Quantity: 3}, snap).Allowed)

	d := g.ApproveExit(ExitRequest{Instrument: "SPY", Trigger: TriggerTrailing}, snap)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonInvalidExit, d.Reason)
}

func TestRestoreKeepsVersionMonotone(t *testing.T) {
	g := newGuard()
	before := g.Snapshot().Version
	g.Restore(State{TradingDay: "2026-10-15", StartingEquity: 5, Version: 0})
	after := g.Snapshot()
	assert.Greater(t, after.Version, before)
	assert.Equal(t, 5.0, after.StartingEquity)
}
