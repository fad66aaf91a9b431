package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tierbot/config"
	"tierbot/signals"
)

func state(prices ...float64) signals.MarketState {
	return signals.MarketState{Instrument: "SPY", Price: prices[len(prices)-1], History: prices}
}

func TestMomentum(t *testing.T) {
	m := NewMomentum(config.MomentumConfig{Lookback: 2, Threshold: 0.01, Saturation: 0.10})
	ctx := context.Background()

	sig, err := m.Evaluate(ctx, "SPY", state(100, 101, 105))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, signals.Long, sig.Direction)
	assert.InDelta(t, 0.5, sig.Confidence, 1e-9)
	assert.Equal(t, config.StrategyMomentum, sig.Source)
	assert.NoError(t, sig.Validate())

	sig, err = m.Evaluate(ctx, "SPY", state(100, 99, 70))
	require.NoError(t, err)
	assert.Equal(t, signals.Short, sig.Direction)
	assert.Equal(t, 1.0, sig.Confidence)

	sig, err = m.Evaluate(ctx, "SPY", state(100, 100, 100.5))
	require.NoError(t, err)
	assert.Nil(t, sig, "move below threshold carries no opinion")

	_, err = m.Evaluate(ctx, "SPY", state(100, 101))
	assert.ErrorIs(t, err, signals.ErrUnavailable)
}

func TestMeanReversion(t *testing.T) {
	m := NewMeanReversion(config.MeanReversionConfig{Window: 5, ZEntry: 1.5, ZSaturation: 3})
	ctx := context.Background()

	sig, err := m.Evaluate(ctx, "SPY", state(10, 10, 10, 10, 20))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, signals.Short, sig.Direction)
	assert.InDelta(t, 2.0/3.0, sig.Confidence, 1e-9)

	sig, err = m.Evaluate(ctx, "SPY", state(20, 20, 20, 20, 10))
	require.NoError(t, err)
	assert.Equal(t, signals.Long, sig.Direction)

	sig, err = m.Evaluate(ctx, "SPY", state(5, 5, 5, 5, 5))
	require.NoError(t, err)
	assert.Nil(t, sig)

	_, err = m.Evaluate(ctx, "SPY", state(5, 5))
	assert.ErrorIs(t, err, signals.ErrUnavailable)
}

func TestBreakout(t *testing.T) {
	b := NewBreakout(config.BreakoutConfig{Window: 3, Saturation: 0.10})
	ctx := context.Background()

	sig, err := b.Evaluate(ctx, "SPY", state(10, 11, 12, 13))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, signals.Long, sig.Direction)
	assert.InDelta(t, (13.0/12.0-1)/0.10, sig.Confidence, 1e-9)

	sig, err = b.Evaluate(ctx, "SPY", state(10, 11, 12, 9.5))
	require.NoError(t, err)
	assert.Equal(t, signals.Short, sig.Direction)

	sig, err = b.Evaluate(ctx, "SPY", state(10, 11, 12, 11))
	require.NoError(t, err)
	assert.Nil(t, sig)
}

type stubScorer struct {
	score float64
	err   error
}

func (s stubScorer) Score(context.Context, string, []float64) (float64, error) { return s.score, s.err }

func TestModelScore(t *testing.T) {
	ctx := context.Background()
	cfg := config.ModelConfig{MinScore: 0.05}

	sig, err := NewModelScore(cfg, stubScorer{score: -0.6}).Evaluate(ctx, "SPY", state(1))
	require.NoError(t, err)
	assert.Equal(t, signals.Short, sig.Direction)
	assert.Equal(t, 0.6, sig.Confidence)

	sig, err = NewModelScore(cfg, stubScorer{score: 2}).Evaluate(ctx, "SPY", state(1))
	require.NoError(t, err)
	assert.Equal(t, 1.0, sig.Confidence)

	sig, err = NewModelScore(cfg, stubScorer{score: 0.01}).Evaluate(ctx, "SPY", state(1))
	require.NoError(t, err)
	assert.Nil(t, sig)

	_, err = NewModelScore(cfg, stubScorer{err: errors.New("connection refused")}).Evaluate(ctx, "SPY", state(1))
	assert.ErrorIs(t, err, signals.ErrUnavailable)
}

func TestHTTPScorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/score", r.URL.Path)
		var req scoreRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "QQQ", req.Instrument)
		assert.Equal(t, []float64{1, 2}, req.Prices)
		_, _ = w.Write([]byte(`{"score":0.35}`))
	}))
	defer srv.Close()

	score, err := NewHTTPScorer(srv.URL, time.Second).Score(context.Background(), "QQQ", []float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 0.35, score)
}

func TestBuild(t *testing.T) {
	cfg := config.NewConfig()
	_, err := Build(cfg, nil)
	assert.Error(t, err, "no strategies")

	cfg.Momentum = &config.MomentumConfig{Lookback: 5}
	cfg.Breakout = &config.BreakoutConfig{Window: 5}
	sources, err := Build(cfg, nil)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, config.StrategyMomentum, sources[0].Name())
	assert.Equal(t, config.StrategyBreakout, sources[1].Name())

	cfg.Model = &config.ModelConfig{}
	_, err = Build(cfg, nil)
	assert.Error(t, err, "model without scorer")

	sources, err = Build(cfg, stubScorer{})
	require.NoError(t, err)
	assert.Len(t, sources, 3)
}
