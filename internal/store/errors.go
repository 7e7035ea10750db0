package store

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey reports an Append that would store a second bar with an
	// existing (symbol, interval, open_time).
	ErrDuplicateKey = errors.New("duplicate bar key")

	ErrSymbolNotFound = errors.New("symbol not found")

	ErrInvalidSort = errors.New("invalid sort")

	// ErrSeriesNotFound reports a manifest request for a series never stored.
	ErrSeriesNotFound = errors.New("series not found")

	// ErrManifestUnsupported is returned by backends without per-series files.
	ErrManifestUnsupported = errors.New("manifest not supported by storage backend")

	// ErrInvalidPage reports a negative page or page size.
	ErrInvalidPage = errors.New("invalid page")
)

// DuplicateKey wraps ErrDuplicateKey with the offending key.
func DuplicateKey(symbol, interval string, openTime int64) error {
	return fmt.Errorf("%w: %s %s open_time=%d", ErrDuplicateKey, symbol, interval, openTime)
}

func SymbolNotFound(symbol string) error {
	return fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
}
