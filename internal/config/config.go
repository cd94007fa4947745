package config

import (
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

type Server struct {
	Addr            string `yaml:"addr"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	IdleTimeout     string `yaml:"idle_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Storage struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	QueryTimeout    string `yaml:"query_timeout"`
}

type Fetcher struct {
	Enabled          bool    `yaml:"enabled"`
	Interval         string  `yaml:"interval"`
	Timeout          string  `yaml:"timeout"`
	RatePerSecond    float64 `yaml:"rate_per_second"`
	Burst            int     `yaml:"burst"`
	FailureThreshold uint32  `yaml:"failure_threshold"`
	BreakerTimeout   string  `yaml:"breaker_timeout"`
}

type Compose struct {
	Seed uint64 `yaml:"seed"`
}

// Bot is a feed registered at startup when no bot with the same URL exists.
type Bot struct {
	Name    string `yaml:"name"`
	FeedURL string `yaml:"feed_url"`
	Topic   string `yaml:"topic,omitempty"`
}

type Config struct {
	Server  Server  `yaml:"server"`
	Log     Log     `yaml:"log"`
	Storage Storage `yaml:"storage"`
	Fetcher Fetcher `yaml:"fetcher"`
	Compose Compose `yaml:"compose"`
	Bots    []Bot   `yaml:"bots"`
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ParseDuration accepts anything time.ParseDuration does plus an "Nd" day
// suffix.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

// duration is only called on validated configs, so the fallback covers
// empty values.
func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func (s Server) ReadTimeoutDuration() time.Duration  { return duration(s.ReadTimeout, 10*time.Second) }
func (s Server) WriteTimeoutDuration() time.Duration { return duration(s.WriteTimeout, 10*time.Second) }
func (s Server) IdleTimeoutDuration() time.Duration  { return duration(s.IdleTimeout, 60*time.Second) }
func (s Server) ShutdownTimeoutDuration() time.Duration {
	return duration(s.ShutdownTimeout, 10*time.Second)
}

func (s Storage) ConnMaxLifetimeDuration() time.Duration {
	return duration(s.ConnMaxLifetime, 30*time.Minute)
}
func (s Storage) QueryTimeoutDuration() time.Duration { return duration(s.QueryTimeout, 5*time.Second) }

func (f Fetcher) IntervalDuration() time.Duration { return duration(f.Interval, 5*time.Minute) }
func (f Fetcher) TimeoutDuration() time.Duration  { return duration(f.Timeout, 15*time.Second) }
func (f Fetcher) BreakerTimeoutDuration() time.Duration {
	return duration(f.BreakerTimeout, 5*time.Minute)
}

// ResolvedDSN fills in the default SQLite file under the XDG data home.
func (s Storage) ResolvedDSN() string {
	if s.DSN == "" && s.Driver == DriverSQLite {
		return DataPath()
	}
	return s.DSN
}

func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "futurefeed", "config.yaml")
}

func DataPath() string {
	return filepath.Join(xdg.DataHome, "futurefeed", "futurefeed.db")
}

func loadDefaults() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}
	return &cfg, nil
}

// Load reads the config at path over the embedded defaults, then applies
// environment overrides. An empty path means DefaultConfigPath, which may be
// absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg, err := loadDefaults()
	if err != nil {
		return nil, err
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	applyEnv(cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deployment environments override the file. PORT and
// DATABASE_URL follow the usual PaaS conventions.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup("PORT"); ok && v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v, ok := lookup("FUTUREFEED_ADDR"); ok && v != "" {
		cfg.Server.Addr = v
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		cfg.Storage.DSN = v
		if cfg.Storage.Driver == DriverMemory {
			cfg.Storage.Driver = DriverPostgres
		}
	}
	if v, ok := lookup("FUTUREFEED_STORAGE_DRIVER"); ok && v != "" {
		cfg.Storage.Driver = v
	}
	if v, ok := lookup("FUTUREFEED_DSN"); ok && v != "" {
		cfg.Storage.DSN = v
	}
	if v, ok := lookup("FUTUREFEED_LOG_LEVEL"); ok && v != "" {
		cfg.Log.Level = v
	}
}

func (c *Config) Validate() error {
	durations := map[string]string{
		"server.read_timeout":       c.Server.ReadTimeout,
		"server.write_timeout":      c.Server.WriteTimeout,
		"server.idle_timeout":       c.Server.IdleTimeout,
		"server.shutdown_timeout":   c.Server.ShutdownTimeout,
		"storage.conn_max_lifetime": c.Storage.ConnMaxLifetime,
		"storage.query_timeout":     c.Storage.QueryTimeout,
		"fetcher.interval":          c.Fetcher.Interval,
		"fetcher.timeout":           c.Fetcher.Timeout,
		"fetcher.breaker_timeout":   c.Fetcher.BreakerTimeout,
	}
	for key, v := range durations {
		if v == "" {
			continue
		}
		if d, err := ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("%s: invalid duration %q", key, v)
		}
	}

	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q (valid: memory, postgres, sqlite)", c.Storage.Driver)
	}

	switch c.Log.Format {
	case "", "auto", "json", "console":
	default:
		return fmt.Errorf("log.format: unknown format %q (valid: auto, json, console)", c.Log.Format)
	}

	for i, b := range c.Bots {
		if b.Name == "" {
			return fmt.Errorf("bot %d: name is required", i)
		}
		u, err := url.Parse(b.FeedURL)
		if err != nil {
			return fmt.Errorf("bot %q: invalid feed_url: %w", b.Name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("bot %q: feed_url scheme must be http or https, got %q", b.Name, u.Scheme)
		}
	}
	return nil
}
