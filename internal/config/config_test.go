package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadDefaults()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.True(t, cfg.Fetcher.Enabled)
	assert.NotEmpty(t, cfg.Bots, "expected at least one default bot")
	require.NoError(t, cfg.Validate())
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"90d", 90 * 24 * time.Hour},
		{"1d", 24 * time.Hour},
		{"720h", 720 * time.Hour},
		{"15s", 15 * time.Second},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}

	_, err := ParseDuration("soon")
	assert.Error(t, err)
}

func TestDurationAccessorsFallBack(t *testing.T) {
	var f Fetcher
	assert.Equal(t, 5*time.Minute, f.IntervalDuration())
	f.Interval = "2d"
	assert.Equal(t, 48*time.Hour, f.IntervalDuration())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
fetcher:
  interval: 1h
bots: []
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "10s", cfg.Server.ReadTimeout, "unset keys keep their defaults")
	assert.Equal(t, time.Hour, cfg.Fetcher.IntervalDuration())
	assert.Empty(t, cfg.Bots)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad duration":    "fetcher:\n  interval: soon\n",
		"unknown driver":  "storage:\n  driver: mongo\n",
		"postgres no dsn": "storage:\n  driver: postgres\n",
		"bad bot url":     "bots:\n  - {name: x, feed_url: 'ftp://x'}\n",
		"bad log format":  "log:\n  format: xml\n",
		"malformed yaml":  "server: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg, err := loadDefaults()
	require.NoError(t, err)

	env := map[string]string{
		"PORT":         "3000",
		"DATABASE_URL": "postgres://localhost/futurefeed",
	}
	applyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/futurefeed", cfg.Storage.DSN)

	env = map[string]string{"FUTUREFEED_ADDR": "127.0.0.1:1", "FUTUREFEED_STORAGE_DRIVER": "sqlite"}
	applyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "127.0.0.1:1", cfg.Server.Addr)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
}

func TestResolvedDSN(t *testing.T) {
	s := Storage{Driver: DriverSQLite}
	assert.Equal(t, DataPath(), s.ResolvedDSN())

	s.DSN = "file:test.db"
	assert.Equal(t, "file:test.db", s.ResolvedDSN())
}

func TestOverridesApplyOnlyChangedFlags(t *testing.T) {
	cfg, err := loadDefaults()
	require.NoError(t, err)

	var o Overrides
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.Bind(fs)
	require.NoError(t, fs.Parse([]string{"--addr", ":7070", "--no-fetch", "--log-format", "console"}))

	require.NoError(t, o.Apply(fs, cfg))
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.False(t, cfg.Fetcher.Enabled)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver, "unset flags leave config alone")
}

func TestOverridesRevalidate(t *testing.T) {
	cfg, err := loadDefaults()
	require.NoError(t, err)

	var o Overrides
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.Bind(fs)
	require.NoError(t, fs.Parse([]string{"--storage-driver", "postgres"}))

	assert.Error(t, o.Apply(fs, cfg), "postgres without a dsn")
}
