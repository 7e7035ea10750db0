// Package indicator computes moving-average overlays from bar closes.
package indicator

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/markcheno/go-talib"
)

type Kind string

const (
	KindSMA Kind = "sma"
	KindEMA Kind = "ema"
)

var (
	ErrNotEnoughBars = errors.New("not enough bars for indicator")
	// ErrInvalidIndicator covers an unknown kind or a period below 2.
	ErrInvalidIndicator = errors.New("invalid indicator")
)

// ParseKind accepts "sma" or "ema" in any case.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindSMA, KindEMA:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unsupported kind %q", ErrInvalidIndicator, s)
	}
}

// Overlay is an indicator series aligned with its input; the first
// Lookback points have no value.
type Overlay struct {
	Kind     Kind
	Period   int
	Lookback int
	Values   []float64
}

// Label is e.g. "SMA(20)".
func (o Overlay) Label() string {
	return fmt.Sprintf("%s(%d)", strings.ToUpper(string(o.Kind)), o.Period)
}

func Compute(kind Kind, closes []float64, period int) (Overlay, error) {
	if period < 2 {
		return Overlay{}, fmt.Errorf("%w: period must be >= 2, got %d", ErrInvalidIndicator, period)
	}
	if len(closes) < period {
		return Overlay{}, fmt.Errorf("%w: %s(%d) over %d bars", ErrNotEnoughBars, kind, period, len(closes))
	}
	var values []float64
	switch kind {
	case KindSMA:
		values = talib.Sma(closes, period)
	case KindEMA:
		values = talib.Ema(closes, period)
	default:
		return Overlay{}, fmt.Errorf("%w: unsupported kind %q", ErrInvalidIndicator, kind)
	}
	return Overlay{
		Kind:     kind,
		Period:   period,
		Lookback: period - 1,
		Values:   sanitize(values),
	}, nil
}

func sanitize(series []float64) []float64 {
	out := make([]float64, len(series))
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = v
	}
	return out
}
