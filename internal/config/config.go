package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/validation"
)

type Server struct {
	Port              string `json:"port" yaml:"port" validate:"required,numeric"`
	RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec" validate:"min=1,max=120"`
	LogLevel          string `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	Development       bool   `json:"development" yaml:"development"`
	DefaultBase       string `json:"default_base" yaml:"default_base" validate:"required,currency"`
}

// Endpoint is a provider with nothing to configure but its base URL.
type Endpoint struct {
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
}

type CoinGecko struct {
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

type AlphaVantage struct {
	Endpoint              string `json:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	APIKey                string `json:"api_key" yaml:"api_key"`
	MaxRequestsPerMinute  int    `json:"max_requests_per_minute" yaml:"max_requests_per_minute" validate:"min=0"`
	MinRequestIntervalSec int    `json:"min_request_interval_sec" yaml:"min_request_interval_sec" validate:"min=0"`
	Burst                 int    `json:"burst" yaml:"burst" validate:"min=1"`
}

type OpenExchangeRates struct {
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	AppID    string `json:"app_id" yaml:"app_id"`
}

type Redis struct {
	// URL selects the Redis manual-rate store; empty keeps rates in memory.
	URL string `json:"url" yaml:"url" validate:"omitempty,url"`
}

type Config struct {
	Server            Server            `json:"server" yaml:"server"`
	Binance           Endpoint          `json:"binance" yaml:"binance"`
	CoinGecko         CoinGecko         `json:"coingecko" yaml:"coingecko"`
	Yahoo             Endpoint          `json:"yahoo" yaml:"yahoo"`
	AlphaVantage      AlphaVantage      `json:"alphavantage" yaml:"alphavantage"`
	Frankfurter       Endpoint          `json:"frankfurter" yaml:"frankfurter"`
	OpenExchangeRates OpenExchangeRates `json:"openexchangerates" yaml:"openexchangerates"`
	Redis             Redis             `json:"redis" yaml:"redis"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10, LogLevel: "info", DefaultBase: "USD"},
		AlphaVantage: AlphaVantage{
			MaxRequestsPerMinute: 5,
			Burst:                1,
		},
	}
}

// defaultFiles are tried in order when no path is given.
var defaultFiles = []string{"config.json", "config.yaml", "config.yml"}

// Load reads config from path (JSON, or YAML with ${VAR} expansion). If path
// is empty the first existing default file is used; with none, defaults
// apply. Environment variables override select fields for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		for _, f := range defaultFiles {
			if _, err := os.Stat(f); err == nil {
				path = f
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := decode(path, b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := validation.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), cfg)
	default:
		return json.Unmarshal(b, cfg)
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		if x := envInt(v); x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("DEVELOPMENT"); v != "" {
		cfg.Server.Development = envBool(v, cfg.Server.Development)
	}
	if v := os.Getenv("DEFAULT_BASE_CURRENCY"); v != "" {
		cfg.Server.DefaultBase = strings.ToUpper(v)
	}

	if v := os.Getenv("BINANCE_ENDPOINT"); v != "" {
		cfg.Binance.Endpoint = v
	}
	if v := os.Getenv("COINGECKO_ENDPOINT"); v != "" {
		cfg.CoinGecko.Endpoint = v
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		cfg.CoinGecko.APIKey = v
	}
	if v := os.Getenv("YAHOO_ENDPOINT"); v != "" {
		cfg.Yahoo.Endpoint = v
	}
	if v := os.Getenv("ALPHAVANTAGE_ENDPOINT"); v != "" {
		cfg.AlphaVantage.Endpoint = v
	}
	if v := os.Getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		cfg.AlphaVantage.APIKey = v
	}
	if v := os.Getenv("ALPHAVANTAGE_MAX_RPM"); v != "" {
		if x := envInt(v); x >= 0 {
			cfg.AlphaVantage.MaxRequestsPerMinute = x
		}
	}
	if v := os.Getenv("ALPHAVANTAGE_MIN_INTERVAL_SEC"); v != "" {
		if x := envInt(v); x >= 0 {
			cfg.AlphaVantage.MinRequestIntervalSec = x
		}
	}
	if v := os.Getenv("ALPHAVANTAGE_BURST"); v != "" {
		if x := envInt(v); x > 0 {
			cfg.AlphaVantage.Burst = x
		}
	}
	if v := os.Getenv("FRANKFURTER_ENDPOINT"); v != "" {
		cfg.Frankfurter.Endpoint = v
	}
	if v := os.Getenv("OPENEXCHANGERATES_ENDPOINT"); v != "" {
		cfg.OpenExchangeRates.Endpoint = v
	}
	if v := os.Getenv("OPENEXCHANGERATES_APP_ID"); v != "" {
		cfg.OpenExchangeRates.AppID = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
}

// envInt returns -1 for values that are not integers.
func envInt(v string) int {
	var x int
	if _, err := fmt.Sscanf(v, "%d", &x); err != nil {
		return -1
	}
	return x
}

func envBool(v string, def bool) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	}
	return def
}
