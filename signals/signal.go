// Package signals defines the directional opinions strategy sources emit and the
// aggregator that gathers them for one instrument per cycle.
package signals

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnavailable is returned by a source that has no data to form an opinion with.
	ErrUnavailable = errors.New("source data unavailable")
	// ErrMalformedSignal marks a signal that breaks the Signal invariants.
	ErrMalformedSignal = errors.New("malformed signal")
)

// Direction is the side a signal argues for.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool { return d == Long || d == Short }

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Signal is one source's opinion about one instrument in one cycle. It is never mutated.
type Signal struct {
	ID          string
	Instrument  string
	Direction   Direction
	Confidence  float64
	Source      string
	GeneratedAt time.Time
}

// New builds a signal stamped with a fresh id and the current time.
func New(instrument string, dir Direction, confidence float64, source string) *Signal {
	return &Signal{
		ID:          uuid.NewString(),
		Instrument:  instrument,
		Direction:   dir,
		Confidence:  confidence,
		Source:      source,
		GeneratedAt: time.Now(),
	}
}

// Validate checks the Signal invariants.
func (s *Signal) Validate() error {
	switch {
	case s == nil:
		return fmt.Errorf("%w: nil", ErrMalformedSignal)
	case strings.TrimSpace(s.Instrument) == "":
		return fmt.Errorf("%w: empty instrument", ErrMalformedSignal)
	case strings.TrimSpace(s.Source) == "":
		return fmt.Errorf("%w: empty source", ErrMalformedSignal)
	case !s.Direction.Valid():
		return fmt.Errorf("%w: direction %q", ErrMalformedSignal, s.Direction)
	case math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1:
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformedSignal, s.Confidence)
	}
	return nil
}

// MarketState is the per-cycle market context handed to every source.
type MarketState struct {
	Instrument string
	Price      float64
	Bid        float64
	Ask        float64
	// History holds recent prices, oldest first, ending with Price.
	History []float64
	At      time.Time
}

// Source is the capability every strategy variant implements.
// Evaluate returns (nil, nil) when the source has no opinion and ErrUnavailable
// when it lacks the data to decide.
type Source interface {
	Name() string
	Evaluate(ctx context.Context, instrument string, state MarketState) (*Signal, error)
}
