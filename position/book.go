package position

import (
	"fmt"
	"sort"
	"sync"
)

// Book holds at most one open position per instrument.
type Book struct {
	mu        sync.RWMutex
	positions map[string]Position
}

func NewBook() *Book {
	return &Book{positions: make(map[string]Position)}
}

// Open adds a new position. A second position for the same instrument is refused.
func (b *Book) Open(p Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.positions[p.Instrument]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePosition, p.Instrument)
	}
	b.positions[p.Instrument] = p
	return nil
}

// Put stores the latest value of an existing position; a closed one is removed.
func (b *Book) Put(p Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.Stage == Closed || p.Quantity <= 0 {
		delete(b.positions, p.Instrument)
		return
	}
	b.positions[p.Instrument] = p
}

func (b *Book) Get(instrument string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[instrument]
	return p, ok
}

func (b *Book) Has(instrument string) bool {
	_, ok := b.Get(instrument)
	return ok
}

func (b *Book) Remove(instrument string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, instrument)
}

func (b *Book) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// All returns the open positions sorted by instrument.
func (b *Book) All() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// HasPending reports whether any exit awaits confirmation.
func (b *Book) HasPending() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.positions {
		if p.Pending != nil {
			return true
		}
	}
	return false
}
