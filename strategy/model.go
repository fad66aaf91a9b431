// strategy/model.go
package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"tierbot/config"
	"tierbot/signals"
)

// Scorer yields an auxiliary directional score in [-1,1] from an external model.
type Scorer interface {
	Score(ctx context.Context, instrument string, history []float64) (float64, error)
}

// ModelScore turns the external model's score into a signal.
type ModelScore struct {
	cfg    config.ModelConfig
	scorer Scorer
}

func NewModelScore(cfg config.ModelConfig, scorer Scorer) *ModelScore {
	return &ModelScore{cfg: cfg, scorer: scorer}
}

func (m *ModelScore) Name() string { return config.StrategyModel }

func (m *ModelScore) Evaluate(ctx context.Context, instrument string, state signals.MarketState) (*signals.Signal, error) {
	score, err := m.scorer.Score(ctx, instrument, state.History)
	if err != nil {
		return nil, fmt.Errorf("%w: model score for %s: %v", signals.ErrUnavailable, instrument, err)
	}
	if math.IsNaN(score) {
		return nil, fmt.Errorf("%w: model returned NaN for %s", signals.ErrUnavailable, instrument)
	}
	score = math.Max(-1, math.Min(1, score))
	if math.Abs(score) < m.cfg.MinScore {
		return nil, nil
	}

	dir := signals.Long
	if score < 0 {
		dir = signals.Short
	}
	return signals.New(instrument, dir, math.Abs(score), m.Name()), nil
}

// HTTPScorer asks a local inference service for a score.
type HTTPScorer struct {
	URL  string
	Http *http.Client
}

func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{URL: strings.TrimRight(url, "/"), Http: &http.Client{Timeout: timeout}}
}

type scoreRequest struct {
	Instrument string    `json:"instrument"`
	Prices     []float64 `json:"prices"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

func (s *HTTPScorer) Score(ctx context.Context, instrument string, history []float64) (float64, error) {
	body, err := json.Marshal(scoreRequest{Instrument: instrument, Prices: history})
	if err != nil {
		return 0, fmt.Errorf("failed to encode score request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL+"/score", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("score service returned status %d", resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode score response: %w", err)
	}
	if out.Score == nil {
		return 0, fmt.Errorf("score response missing 'score'")
	}
	return *out.Score, nil
}
