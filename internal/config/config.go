package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/gexlive/internal/notify"
	"github.com/dgnsrekt/gexlive/internal/session"
)

type Config struct {
	API       APIConfig               `mapstructure:"api"`
	Session   SessionConfig           `mapstructure:"session"`
	Polling   PollingConfig           `mapstructure:"polling"`
	Server    ServerConfig            `mapstructure:"server"`
	Compute   ComputeConfig           `mapstructure:"compute"`
	Notify    notify.Config           `mapstructure:"notify"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Contracts map[string]ContractSpec `mapstructure:"contracts"`
}

type APIConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryDelay    int    `mapstructure:"retry_delay_sec"`
}

func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c APIConfig) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Second
}

type SessionConfig struct {
	Symbol       string  `mapstructure:"symbol"`
	Expiry       string  `mapstructure:"expiry"`
	ContractSize int     `mapstructure:"contract_size"`
	Volatility   float64 `mapstructure:"volatility"`
	StrikeRange  int     `mapstructure:"strike_range"`
}

// Params converts the configured seed into session parameters.
func (c SessionConfig) Params() session.Params {
	return session.Params{
		Symbol:       strings.ToUpper(c.Symbol),
		Expiry:       strings.ToUpper(c.Expiry),
		ContractSize: c.ContractSize,
		Volatility:   c.Volatility,
		StrikeRange:  c.StrikeRange,
	}
}

type PollingConfig struct {
	QuoteInterval     time.Duration `mapstructure:"quote_interval"`
	TrendingInterval  time.Duration `mapstructure:"trending_interval"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	CountdownInterval time.Duration `mapstructure:"countdown_interval"`
	CountdownStart    int           `mapstructure:"countdown_start"`
	StatusTTL         time.Duration `mapstructure:"status_ttl"`
}

type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	WSEnabled  bool   `mapstructure:"ws_enabled"`
	SSEEnabled bool   `mapstructure:"sse_enabled"`
}

type ComputeConfig struct {
	Workers    int    `mapstructure:"workers"`
	OutputDir  string `mapstructure:"output_dir"`
	ColumnMode string `mapstructure:"column_mode"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout_sec", 30)
	v.SetDefault("api.rate_per_second", 5)
	v.SetDefault("api.retry_count", 0)
	v.SetDefault("api.retry_delay_sec", 1)
	v.SetDefault("session.symbol", "")
	v.SetDefault("session.expiry", "")
	v.SetDefault("session.contract_size", session.DefaultContractSize)
	v.SetDefault("session.volatility", session.DefaultVolatility)
	v.SetDefault("session.strike_range", session.DefaultStrikeRange)
	v.SetDefault("polling.quote_interval", 60*time.Second)
	v.SetDefault("polling.trending_interval", 300*time.Second)
	v.SetDefault("polling.tick_interval", 2*time.Second)
	v.SetDefault("polling.countdown_interval", time.Second)
	v.SetDefault("polling.countdown_start", 60)
	v.SetDefault("polling.status_ttl", 8*time.Second)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ws_enabled", true)
	v.SetDefault("server.sse_enabled", true)
	v.SetDefault("compute.workers", 3)
	v.SetDefault("compute.output_dir", "results")
	v.SetDefault("compute.column_mode", "keyword")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "chart_with_upwards_trend")
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("contracts", defaultContractsSetting())

	// Environment variable support
	v.SetEnvPrefix("GEXLIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// ntfy keeps its conventional variable names
	_ = v.BindEnv("notify.enabled", "GEXLIVE_NOTIFY_ENABLED", "NTFY_ENABLED")
	_ = v.BindEnv("notify.server", "GEXLIVE_NOTIFY_SERVER", "NTFY_SERVER")
	_ = v.BindEnv("notify.topic", "GEXLIVE_NOTIFY_TOPIC", "NTFY_TOPIC")
	_ = v.BindEnv("notify.token", "GEXLIVE_NOTIFY_TOKEN", "NTFY_TOKEN")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Contracts = normalizeContracts(cfg.Contracts)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.API.BaseURL == "" {
		errs.add("api.base_url", "is required")
	} else if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		errs.add("api.base_url", "must start with http:// or https://")
	}
	if c.API.TimeoutSec < 1 {
		errs.add("api.timeout_sec", "must be >= 1")
	}
	if c.API.RatePerSecond < 0 {
		errs.add("api.rate_per_second", "must be >= 0")
	}
	if c.API.RetryCount < 0 {
		errs.add("api.retry_count", "must be >= 0")
	}

	if c.Session.ContractSize < 1 {
		errs.add("session.contract_size", "must be a positive integer")
	}
	if c.Session.StrikeRange < 1 {
		errs.add("session.strike_range", "must be a positive integer")
	}

	positive := map[string]time.Duration{
		"polling.quote_interval":     c.Polling.QuoteInterval,
		"polling.trending_interval":  c.Polling.TrendingInterval,
		"polling.tick_interval":      c.Polling.TickInterval,
		"polling.countdown_interval": c.Polling.CountdownInterval,
	}
	for key, d := range positive {
		if d <= 0 {
			errs.add(key, "must be a positive duration")
		}
	}
	if c.Polling.CountdownStart < 1 {
		errs.add("polling.countdown_start", "must be >= 1")
	}

	if c.Server.Addr == "" {
		errs.add("server.addr", "is required")
	}
	if c.Compute.Workers < 1 {
		errs.add("compute.workers", "must be >= 1")
	}

	for symbol, spec := range c.Contracts {
		if spec.ContractSize < 1 || spec.Step < 1 {
			errs.InvalidContracts = append(errs.InvalidContracts, symbol)
		}
	}

	if err := c.Notify.Validate(); err != nil {
		errs.add("notify", err.Error())
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
