package monitor

import "sync"

// History keeps the most recent prices per instrument, oldest first.
type History struct {
	mu     sync.Mutex
	limit  int
	prices map[string][]float64
}

func NewHistory(limit int) *History {
	if limit < 1 {
		limit = 1
	}
	return &History{limit: limit, prices: make(map[string][]float64)}
}

// Push appends price and returns a copy of the instrument's window.
func (h *History) Push(instrument string, price float64) []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	w := append(h.prices[instrument], price)
	if len(w) > h.limit {
		w = w[len(w)-h.limit:]
	}
	h.prices[instrument] = w
	out := make([]float64, len(w))
	copy(out, w)
	return out
}
