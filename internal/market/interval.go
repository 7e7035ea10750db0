package market

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrUnknownInterval is returned for interval keys outside the static table.
var ErrUnknownInterval = errors.New("unknown interval")

// Binance kline intervals. "1M" is approximated as 30 days.
var intervalDurations = map[string]time.Duration{
	"1s":  time.Second,
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour,
}

// NormalizeInterval trims the key. Case is significant: "1m" is a minute and
// "1M" a month.
func NormalizeInterval(interval string) string {
	return strings.TrimSpace(interval)
}

// IntervalDuration looks the interval up in the static table.
func IntervalDuration(interval string) (time.Duration, error) {
	key := NormalizeInterval(interval)
	d, ok := intervalDurations[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
	return d, nil
}

// IntervalMillis is IntervalDuration in milliseconds.
func IntervalMillis(interval string) (int64, error) {
	d, err := IntervalDuration(interval)
	if err != nil {
		return 0, err
	}
	return d.Milliseconds(), nil
}

func IsValidInterval(interval string) bool {
	_, ok := intervalDurations[NormalizeInterval(interval)]
	return ok
}

// SupportedIntervals returns all keys ordered by duration.
func SupportedIntervals() []string {
	keys := make([]string, 0, len(intervalDurations))
	for k := range intervalDurations {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return intervalDurations[keys[i]] < intervalDurations[keys[j]]
	})
	return keys
}
