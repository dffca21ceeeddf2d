package main

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/gexlive/internal/api"
	"github.com/dgnsrekt/gexlive/internal/config"
	"github.com/dgnsrekt/gexlive/internal/live"
)

func newAPIClient(cfg *config.Config) *api.HTTPClient {
	return api.NewClient(
		cfg.API.BaseURL,
		cfg.API.RatePerSecond,
		cfg.API.Timeout(),
		cfg.API.RetryDelayDuration(),
		cfg.API.RetryCount,
		logger.Named("api"),
	)
}

// controllerOptions maps polling config and contract specs onto the controller.
func controllerOptions(cfg *config.Config) live.Options {
	opts := live.DefaultOptions()
	opts.QuoteInterval = cfg.Polling.QuoteInterval
	opts.TrendingInterval = cfg.Polling.TrendingInterval
	opts.TickInterval = cfg.Polling.TickInterval
	opts.CountdownInterval = cfg.Polling.CountdownInterval
	opts.StatusTTL = cfg.Polling.StatusTTL
	opts.ContractStep = func(symbol string) int {
		spec, _ := cfg.Contract(symbol)
		return spec.Step
	}
	return opts
}

func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}
