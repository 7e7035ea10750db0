package gateway

import (
	"fmt"
	"time"

	"klinemirror/internal/config"
	"klinemirror/internal/gateway/binance"
)

// NewSourceFromConfig builds the active market source.
func NewSourceFromConfig(cfg *config.Config) (*binance.Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	active := cfg.Market.ResolveActiveSource()
	if !active.Enabled {
		return nil, fmt.Errorf("market source %s is disabled", active.Name)
	}
	return binance.New(binance.Config{
		Kind:              active.Kind,
		RESTBaseURL:       active.RESTBaseURL,
		HTTPTimeout:       time.Duration(active.TimeoutSeconds) * time.Second,
		ProxyEnabled:      active.Proxy.Enabled,
		RESTProxyURL:      active.Proxy.RESTURL,
		RequestsPerSecond: active.RequestsPerSecond,
		Burst:             active.Burst,
		BreakerThreshold:  active.BreakerThreshold,
		BreakerCooldown:   time.Duration(active.BreakerCooldownSec) * time.Second,
	})
}
