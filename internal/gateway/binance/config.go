package binance

import (
	"strings"
	"time"
)

const (
	KindSpot    = "spot"
	KindFutures = "futures"
)

type Config struct {
	// Kind selects the spot or USDT-M futures REST API.
	Kind        string
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string

	// RequestsPerSecond and Burst pace outgoing calls; 0 disables pacing.
	RequestsPerSecond float64
	Burst             int

	// BreakerThreshold consecutive transport failures open the breaker for
	// BreakerCooldown; 0 disables it.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.Kind = strings.ToLower(strings.TrimSpace(out.Kind))
	if out.Kind == "" {
		out.Kind = KindSpot
	}
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.RESTBaseURL == "" {
		if out.Kind == KindFutures {
			out.RESTBaseURL = "https://fapi.binance.com"
		} else {
			out.RESTBaseURL = "https://api.binance.com"
		}
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	if out.RequestsPerSecond > 0 && out.Burst <= 0 {
		out.Burst = 1
	}
	if out.BreakerThreshold > 0 && out.BreakerCooldown <= 0 {
		out.BreakerCooldown = 30 * time.Second
	}
	return out
}
