package config

import (
	"github.com/spf13/pflag"
)

// Overrides are command-line values that win over the file and environment.
type Overrides struct {
	Addr      string
	Driver    string
	DSN       string
	LogLevel  string
	LogFormat string
	NoFetch   bool
}

// Bind registers the override flags on fs.
func (o *Overrides) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.Addr, "addr", "", "listen address (e.g. :8080)")
	fs.StringVar(&o.Driver, "storage-driver", "", "storage backend: memory, postgres or sqlite")
	fs.StringVar(&o.DSN, "dsn", "", "database connection string")
	fs.StringVar(&o.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&o.LogFormat, "log-format", "", "log format: auto, json or console")
	fs.BoolVar(&o.NoFetch, "no-fetch", false, "disable the background bot fetcher")
}

// Apply copies every flag the user actually set into cfg and revalidates.
func (o *Overrides) Apply(fs *pflag.FlagSet, cfg *Config) error {
	if fs.Changed("addr") {
		cfg.Server.Addr = o.Addr
	}
	if fs.Changed("storage-driver") {
		cfg.Storage.Driver = o.Driver
	}
	if fs.Changed("dsn") {
		cfg.Storage.DSN = o.DSN
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = o.LogLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = o.LogFormat
	}
	if fs.Changed("no-fetch") && o.NoFetch {
		cfg.Fetcher.Enabled = false
	}
	return cfg.Validate()
}
