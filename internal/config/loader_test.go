package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/3leaps/dumpkeeper/pkg/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps tests away from a real user config file.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, 6*time.Hour, cfg.Scheduler.IdleSleep)
		assert.Equal(t, 3, cfg.Scheduler.MaxAttempts)
		assert.Equal(t, time.Minute, cfg.Scheduler.BaseDelay)
		assert.False(t, cfg.Archive.QueueDerive)

		assert.NotEmpty(t, cfg.Host)
		assert.NotEmpty(t, cfg.Store.Path)
		assert.Equal(t, "queue.db", filepath.Base(cfg.Store.Path))

		dumps := cfg.Kinds["dumps"]
		assert.True(t, dumps.Enabled)
		assert.Equal(t, "wikimediadownloads", dumps.Collection)
		assert.Equal(t, "dumps", dumps.IdentifierPrefix)
		assert.NotEmpty(t, dumps.TempDir)
		assert.False(t, cfg.Kinds["mediacounts"].Enabled)
		assert.Equal(t, "English", cfg.Languages["en"])

		assert.Equal(t, []string{"dumps"}, cfg.EnabledKinds())
		assert.NoError(t, cfg.Validate())
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"kinds": map[string]any{
				"mediacounts": map[string]any{"enabled": true},
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, []string{"dumps", "mediacounts"}, cfg.EnabledKinds())
		assert.Equal(t, "wikimediadownloads", cfg.Kinds["mediacounts"].Collection)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("DUMPKEEPER_PORT", "3000")
		t.Setenv("DUMPKEEPER_LOG_LEVEL", "warn")
		t.Setenv("DUMPKEEPER_HOST", "worker-7")
		t.Setenv("DUMPKEEPER_ARCHIVE_QUEUE_DERIVE", "true")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, "worker-7", cfg.Host)
		assert.True(t, cfg.Archive.QueueDerive)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("DUMPKEEPER_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{"server": map[string]any{"port": 5000}})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})
}

func TestLoadFromFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: archiver-1
store:
  url: libsql://queue.example.org
scheduler:
  idle_sleep: 30m
kinds:
  dumps:
    enabled: false
  cirrussearch:
    enabled: true
    include: ["*.json.gz"]
    cooldown: 72h
languages:
  nds: Low German
`), 0o644))

	cfg, err := LoadFrom(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "archiver-1", cfg.Host)
	assert.Equal(t, "libsql://queue.example.org", cfg.Store.URL)
	assert.Empty(t, cfg.Store.Path)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.IdleSleep)
	assert.Equal(t, []string{"cirrussearch"}, cfg.EnabledKinds())

	cirrus := cfg.Kinds["cirrussearch"]
	assert.Equal(t, []string{"*.json.gz"}, cirrus.Include)
	assert.Equal(t, 72*time.Hour, cirrus.Cooldown)
	assert.Equal(t, "https://dumps.wikimedia.org/other/cirrussearch", cirrus.BaseURL)
	assert.Equal(t, "Low German", cfg.Languages["nds"])

	settings := cirrus.Settings(cfg.Languages)
	assert.Equal(t, cirrus.BaseURL, settings.BaseURL)
	assert.Equal(t, 72*time.Hour, settings.Cooldown)
	assert.Equal(t, "Low German", settings.Languages["nds"])
}

func TestLoadFromMissingFile(t *testing.T) {
	isolate(t)
	_, err := LoadFrom(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background(), map[string]any{"server": map[string]any{"port": 8181}})
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
	assert.Equal(t, 8181, retrieved.Server.Port)
}

func TestEnvSpecs(t *testing.T) {
	isolate(t)
	_, err := Load(context.Background())
	require.NoError(t, err)

	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	names := make(map[string]bool)
	for _, spec := range specs {
		names[spec.Name] = true
		assert.Contains(t, spec.Name, "DUMPKEEPER_")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
	}
	assert.True(t, names["DUMPKEEPER_LOG_LEVEL"])
	assert.True(t, names["DUMPKEEPER_PORT"])
	assert.True(t, names["DUMPKEEPER_HOST"])
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("DUMPKEEPER_READ_TIMEOUT", "45s")
	t.Setenv("DUMPKEEPER_SHUTDOWN_TIMEOUT", "5m")
	t.Setenv("DUMPKEEPER_IDLE_SLEEP", "2h")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 2*time.Hour, cfg.Scheduler.IdleSleep)
}

func resetAppIdentity() {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = nil
	appConfig = nil
}

func TestNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer resetAppIdentity()

	assert.Empty(t, getUserConfigPaths())
	assert.Empty(t, getEnvSpecs())
	assert.Nil(t, GetConfig())
	assert.Equal(t, DefaultIdentity, GetIdentity())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Host:    "worker-1",
			Store:   StoreConfig{Path: "/tmp/q.db"},
			Logging: LoggingConfig{Level: "info"},
			Kinds:   map[string]KindConfig{"dumps": {Enabled: true}},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty host", func(c *Config) { c.Host = " " }},
		{"no store", func(c *Config) { c.Store = StoreConfig{} }},
		{"unknown kind", func(c *Config) { c.Kinds["pageviews"] = KindConfig{Enabled: true} }},
		{"nothing enabled", func(c *Config) { c.Kinds["dumps"] = KindConfig{} }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	c := valid()
	c.Kinds["pageviews"] = KindConfig{}
	assert.ErrorIs(t, c.Validate(), dataset.ErrUnknownKind)
}

func TestRetryPolicy(t *testing.T) {
	c := &Config{Scheduler: SchedulerConfig{MaxAttempts: 5, BaseDelay: 2 * time.Second}}
	p := c.RetryPolicy(true)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.BaseDelay)
	assert.True(t, p.Debug)
}
