// Package trading sizes orders against exchange lot-size rules.
package trading

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoPrice means the last price was zero or negative; the quantity is zero.
	ErrNoPrice = errors.New("no price to size order")
	// ErrMissingFilter means the symbol has no MARKET_LOT_SIZE step size.
	ErrMissingFilter = errors.New("missing MARKET_LOT_SIZE filter")
	// ErrInvalidStepSize means the step size is zero, negative or malformed.
	ErrInvalidStepSize = errors.New("invalid step size")
)

var hundred = decimal.NewFromInt(100)

// ComputeQuantity spends percent of balance at lastPrice and floors the
// result to a multiple of stepSize. It never rounds up.
func ComputeQuantity(balance, percent, lastPrice, stepSize decimal.Decimal) (decimal.Decimal, error) {
	if !stepSize.IsPositive() {
		return decimal.Zero, ErrInvalidStepSize
	}
	if !lastPrice.IsPositive() {
		return decimal.Zero, ErrNoPrice
	}
	amount := balance.Mul(percent).Div(hundred)
	raw := amount.DivRound(lastPrice, 16)
	floored := raw.Sub(raw.Mod(stepSize))
	return floored.Round(roundingPlaces(stepSize)), nil
}

// ComputeQuantityString parses a step size as stored in the symbol cache.
// An empty step means the filter was absent.
func ComputeQuantityString(balance, percent, lastPrice decimal.Decimal, stepSize string) (decimal.Decimal, error) {
	if stepSize == "" {
		return decimal.Zero, ErrMissingFilter
	}
	step, err := decimal.NewFromString(stepSize)
	if err != nil {
		return decimal.Zero, ErrInvalidStepSize
	}
	return ComputeQuantity(balance, percent, lastPrice, step)
}

// StepPrecision is floor(-log10(step)), clamped at zero: 0.001 -> 3,
// 0.002 -> 2, 0.5 -> 0, 10 -> 0.
func StepPrecision(step decimal.Decimal) int32 {
	if !step.IsPositive() {
		return 0
	}
	one := decimal.NewFromInt(1)
	var p int32
	for step.Shift(p).LessThan(one) {
		p++
	}
	if p > 0 && !step.Shift(p).Equal(one) {
		return p - 1
	}
	return p
}

// roundingPlaces widens StepPrecision to the step's own decimals so steps
// that are not powers of ten (0.5, 0.25) are never rounded up.
func roundingPlaces(step decimal.Decimal) int32 {
	p := StepPrecision(step)
	var scale int32
	for !step.Shift(scale).IsInteger() {
		scale++
	}
	if scale > p {
		return scale
	}
	return p
}
