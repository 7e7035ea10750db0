// Package symbol converts user-supplied pair names to the exchange form.
package symbol

import (
	"strings"
)

type Symbol struct {
	Base  string
	Quote string
}

// Pair is the human form, "BTC/USDT".
func (s Symbol) Pair() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Binance is the exchange form, "BTCUSDT".
func (s Symbol) Binance() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// quoteCurrencies are tried longest first so "BTCFDUSD" is not read as "BTCF/DUSD".
var quoteCurrencies = []string{"FDUSD", "USDT", "BUSD", "USDC", "TUSD", "BTC", "ETH", "BNB", "EUR", "TRY"}

// Parse accepts "BTC/USDT", "btc-usdt", "BTCUSDT" or "BTC/USDT:USDT".
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 {
			return Symbol{
				Base:  strings.TrimSpace(parts[0]),
				Quote: strings.TrimSpace(parts[1]),
			}
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// Normalize returns the exchange form. Unknown quotes fall back to the
// upper-cased input without separators.
func Normalize(s string) string {
	if out := Parse(s).Binance(); out != "" {
		return out
	}
	r := strings.NewReplacer("/", "", "-", "", "_", "")
	return r.Replace(strings.ToUpper(strings.TrimSpace(s)))
}

// NormalizeList normalizes and de-duplicates, keeping first-seen order.
func NormalizeList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := Normalize(s)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

// IsValid reports whether s is a non-empty alphanumeric exchange symbol.
func IsValid(s string) bool {
	s = Normalize(s)
	if len(s) < 2 || len(s) > 32 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
