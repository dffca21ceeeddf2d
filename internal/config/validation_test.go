package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/gexlive/internal/notify"
)

func validConfig() *Config {
	return &Config{
		API:     APIConfig{BaseURL: "http://localhost:8000", TimeoutSec: 30, RatePerSecond: 5},
		Session: SessionConfig{ContractSize: 75, Volatility: 0.15, StrikeRange: 5},
		Polling: PollingConfig{
			QuoteInterval:     time.Minute,
			TrendingInterval:  5 * time.Minute,
			TickInterval:      2 * time.Second,
			CountdownInterval: time.Second,
			CountdownStart:    60,
		},
		Server:    ServerConfig{Addr: ":8080"},
		Compute:   ComputeConfig{Workers: 1},
		Contracts: DefaultContracts,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("expected no error for valid config, got: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.API.BaseURL = "localhost:8000"
	cfg.Session.StrikeRange = 0
	cfg.Polling.TickInterval = 0
	cfg.Contracts = map[string]ContractSpec{"NIFTY": {ContractSize: 75, Step: 0}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected *ValidationErrors, got %T", err)
	}
	if len(verrs.Fields) != 3 {
		t.Errorf("expected 3 field errors, got %d: %v", len(verrs.Fields), verrs.Fields)
	}

	msg := err.Error()
	for _, want := range []string{"api.base_url", "session.strike_range", "polling.tick_interval", "NIFTY"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error should mention %s, got: %s", want, msg)
		}
	}
}

func TestValidate_NotifyRequiresTopic(t *testing.T) {
	cfg := validConfig()
	cfg.Notify = notify.Config{Enabled: true, Priority: "default"}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "notify") {
		t.Errorf("expected notify error, got: %v", err)
	}
}

func TestValidationErrors_Empty(t *testing.T) {
	errs := &ValidationErrors{}
	if errs.HasErrors() {
		t.Error("empty ValidationErrors should not have errors")
	}
}
