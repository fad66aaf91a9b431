// Package profit - trailing stop tracking.
// The stop follows the best favourable price seen since it was armed and fires on a
// fractional retrace from that peak.

package profit

import "tierbot/signals"

// TrailingStop is stateless; the caller stores the reference price.
type TrailingStop struct {
	Direction signals.Direction
	Fraction  float64
}

// Advance returns the new reference after observing price. The reference only ever
// moves in the position's favour.
func (t TrailingStop) Advance(ref, price float64) float64 {
	if ref == 0 {
		return price
	}
	if t.Direction == signals.Short {
		if price < ref {
			return price
		}
		return ref
	}
	if price > ref {
		return price
	}
	return ref
}

// TriggerPrice is the level at which a retrace from ref fires the stop.
func (t TrailingStop) TriggerPrice(ref float64) float64 {
	if t.Direction == signals.Short {
		return ref * (1 + t.Fraction)
	}
	return ref * (1 - t.Fraction)
}

// Triggered reports whether price has retraced from ref by at least the fraction.
func (t TrailingStop) Triggered(ref, price float64) bool {
	if ref <= 0 || t.Fraction <= 0 {
		return false
	}
	if t.Direction == signals.Short {
		return price >= t.TriggerPrice(ref)
	}
	return price <= t.TriggerPrice(ref)
}
