// utils/math.go
package utils

import "math"

const Epsilon = 1e-9

// FloatEquals compares two floating-point numbers for near-equality.
func FloatEquals(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// RoundToPrecision rounds a float64 to a specified number of decimal places.
func RoundToPrecision(value float64, precision int) float64 {
	pow := math.Pow(10, float64(precision))
	return math.Round(value*pow) / pow
}

// FloorToPrecision truncates a quantity down to the given number of decimal places.
// A small epsilon absorbs representation error so 0.3*100 floors to 30, not 29.
func FloorToPrecision(value float64, precision int) float64 {
	pow := math.Pow(10, float64(precision))
	return math.Floor(value*pow+Epsilon) / pow
}

// PctChange returns the signed fractional move from base to value.
func PctChange(base, value float64) float64 {
	if base == 0 {
		return 0
	}
	return (value - base) / base
}
