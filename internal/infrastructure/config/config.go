package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"assetwatch/internal/domain/model"
)

const (
	EnvRedisPassword = "ASSETWATCH_REDIS_PASSWORD"
	EnvPostgresDSN   = "ASSETWATCH_POSTGRES_DSN"
	EnvHistoryURL    = "ASSETWATCH_HISTORY_URL"
)

type RuleConfig struct {
	Asset      string `toml:"asset"`
	Comparison string `toml:"comparison"` // above | below
	Threshold  string `toml:"threshold"`
}

type Config struct {
	App struct {
		LogLevel       string `toml:"log_level"`
		LogFile        string `toml:"log_file"`
		MetricsAddr    string `toml:"metrics_addr"`
		RenderEverySec int    `toml:"render_every_sec"`
	} `toml:"app"`

	Symbols struct {
		List  []string `toml:"list"`
		Quote string   `toml:"quote"`
	} `toml:"symbols"`

	Feed struct {
		Provider       string `toml:"provider"` // marketws | binance | bybit | okx | redis | stub
		URL            string `toml:"url"`
		OpenTimeoutSec int    `toml:"open_timeout_sec"`
		IntervalMs     int    `toml:"interval_ms"` // stub only
	} `toml:"feed"`

	Stream struct {
		WindowSize  int     `toml:"window_size"`
		QueueSize   int     `toml:"queue_size"`
		RetryBaseMs int     `toml:"retry_base_ms"`
		RetryFactor float64 `toml:"retry_factor"`
		RetryMaxSec int     `toml:"retry_max_sec"`
	} `toml:"stream"`

	History struct {
		Providers     []string `toml:"providers"` // tried in order: http | sqlite | postgres
		BaseURL       string   `toml:"base_url"`
		LookbackHours int      `toml:"lookback_hours"`
		TimeoutSec    int      `toml:"timeout_sec"`
		Record        bool     `toml:"record"` // persist live ticks to sqlite/postgres
	} `toml:"history"`

	Alerts struct {
		Rules []RuleConfig `toml:"rules"`
	} `toml:"alerts"`

	Notify struct {
		Permission string `toml:"permission"` // granted | denied | undetermined
		OnRequest  string `toml:"on_request"`
		QueueSize  int    `toml:"queue_size"`
		TimeoutSec int    `toml:"timeout_sec"`
		Bell       bool   `toml:"bell"`
	} `toml:"notify"`

	Redis struct {
		Enabled        bool   `toml:"enabled"`
		Addr           string `toml:"addr"`
		Password       string `toml:"password"`
		DB             int    `toml:"db"`
		Prefix         string `toml:"prefix"`
		TTLSeconds     int    `toml:"ttl_seconds"`
		TriggerStream  string `toml:"trigger_stream"`
		TriggerChannel string `toml:"trigger_channel"`
		MirrorLatest   bool   `toml:"mirror_latest"`
	} `toml:"redis"`

	SQLite struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"sqlite"`

	Postgres struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"postgres"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv secrets stay out of the file.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvRedisPassword)); v != "" {
		cfg.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPostgresDSN)); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvHistoryURL)); v != "" {
		cfg.History.BaseURL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.RenderEverySec <= 0 {
		cfg.App.RenderEverySec = 5
	}
	if cfg.Symbols.Quote == "" {
		cfg.Symbols.Quote = "USDT"
	}
	if cfg.Feed.Provider == "" {
		cfg.Feed.Provider = "stub"
	}
	cfg.Feed.Provider = strings.ToLower(strings.TrimSpace(cfg.Feed.Provider))
	if cfg.Feed.OpenTimeoutSec <= 0 {
		cfg.Feed.OpenTimeoutSec = 5
	}
	if cfg.Feed.IntervalMs <= 0 {
		cfg.Feed.IntervalMs = 5000
	}
	if cfg.Stream.WindowSize <= 0 {
		cfg.Stream.WindowSize = 50
	}
	if cfg.Stream.QueueSize <= 0 {
		cfg.Stream.QueueSize = 64
	}
	if cfg.Stream.RetryBaseMs <= 0 {
		cfg.Stream.RetryBaseMs = 1000
	}
	if cfg.Stream.RetryFactor < 1 {
		cfg.Stream.RetryFactor = 2
	}
	if cfg.Stream.RetryMaxSec <= 0 {
		cfg.Stream.RetryMaxSec = 30
	}
	if cfg.History.LookbackHours <= 0 {
		cfg.History.LookbackHours = 1
	}
	if cfg.History.TimeoutSec <= 0 {
		cfg.History.TimeoutSec = 5
	}
	if cfg.Notify.Permission == "" {
		cfg.Notify.Permission = string(model.PermissionUndetermined)
	}
	if cfg.Notify.OnRequest == "" {
		cfg.Notify.OnRequest = string(model.PermissionGranted)
	}
	if cfg.Notify.QueueSize <= 0 {
		cfg.Notify.QueueSize = 256
	}
	if cfg.Notify.TimeoutSec <= 0 {
		cfg.Notify.TimeoutSec = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "assetwatch"
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "data/assetwatch.db"
	}
}

var feedsNeedingURL = map[string]bool{"marketws": true, "binance": true, "bybit": true, "okx": true}

func validate(cfg *Config) error {
	cfg.Symbols.List = normalizeSymbols(cfg.Symbols.List)
	if len(cfg.Symbols.List) == 0 {
		return errors.New("symbols.list is empty")
	}
	for _, s := range cfg.Symbols.List {
		if err := model.ValidateAsset(s); err != nil {
			return fmt.Errorf("symbols.list: %q: %w", s, err)
		}
	}

	if feedsNeedingURL[cfg.Feed.Provider] && strings.TrimSpace(cfg.Feed.URL) == "" {
		return fmt.Errorf("feed.url empty but provider %s needs it", cfg.Feed.Provider)
	}
	if cfg.Feed.Provider == "redis" && !cfg.Redis.Enabled {
		return errors.New("feed.provider redis requires redis.enabled")
	}
	if cfg.Stream.WindowSize < 2 {
		return errors.New("stream.window_size must be at least 2")
	}

	for i, p := range cfg.History.Providers {
		p = strings.ToLower(strings.TrimSpace(p))
		cfg.History.Providers[i] = p
		switch p {
		case "http":
			if strings.TrimSpace(cfg.History.BaseURL) == "" {
				return errors.New("history.base_url empty but http provider listed")
			}
		case "sqlite":
			if !cfg.SQLite.Enabled {
				return errors.New("history provider sqlite requires sqlite.enabled")
			}
		case "postgres":
			if !cfg.Postgres.Enabled {
				return errors.New("history provider postgres requires postgres.enabled")
			}
		default:
			return fmt.Errorf("unknown history provider %q", p)
		}
	}
	if cfg.Postgres.Enabled && strings.TrimSpace(cfg.Postgres.DSN) == "" {
		return fmt.Errorf("postgres.dsn empty but enabled (set %s)", EnvPostgresDSN)
	}

	for i := range cfg.Alerts.Rules {
		r := &cfg.Alerts.Rules[i]
		r.Asset = normalizeAsset(r.Asset)
		if _, err := model.ParseComparison(r.Comparison); err != nil {
			return fmt.Errorf("alerts.rules[%d]: %w", i, err)
		}
		if err := model.ValidateAsset(r.Asset); err != nil {
			return fmt.Errorf("alerts.rules[%d]: %w", i, err)
		}
		if strings.TrimSpace(r.Threshold) == "" {
			return fmt.Errorf("alerts.rules[%d]: threshold empty", i)
		}
	}

	for _, p := range []string{cfg.Notify.Permission, cfg.Notify.OnRequest} {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "granted", "denied", "undetermined", "default":
		default:
			return fmt.Errorf("notify: unknown permission %q", p)
		}
	}
	return nil
}

// normalizeAsset is the host's symbol policy: config symbols are trimmed and
// upper-cased so "btc" and "BTC" name the same stream. The core itself compares
// symbols case-sensitively.
func normalizeAsset(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := normalizeAsset(s)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// ========== Derived values ==========

func (c *Config) OpenTimeout() time.Duration {
	return time.Duration(c.Feed.OpenTimeoutSec) * time.Second
}

func (c *Config) FeedInterval() time.Duration {
	return time.Duration(c.Feed.IntervalMs) * time.Millisecond
}

func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.Stream.RetryBaseMs) * time.Millisecond
}

func (c *Config) RetryMax() time.Duration {
	return time.Duration(c.Stream.RetryMaxSec) * time.Second
}

func (c *Config) HistoryLookback() time.Duration {
	return time.Duration(c.History.LookbackHours) * time.Hour
}

func (c *Config) HistoryTimeout() time.Duration {
	return time.Duration(c.History.TimeoutSec) * time.Second
}

func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notify.TimeoutSec) * time.Second
}

func (c *Config) RenderEvery() time.Duration {
	return time.Duration(c.App.RenderEverySec) * time.Second
}

func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}
