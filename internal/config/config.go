// Package config loads the runner configuration once at startup. Values come
// from defaults, an optional YAML file, DUMPKEEPER_* environment variables,
// and runtime overrides, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/3leaps/dumpkeeper/pkg/archive"
	"github.com/3leaps/dumpkeeper/pkg/dataset"
	"github.com/3leaps/dumpkeeper/pkg/retry"
	"github.com/3leaps/dumpkeeper/pkg/upstream"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// Config is the full runner configuration.
type Config struct {
	// Host identifies this runner in claimed_by. Defaults to the OS hostname.
	Host string `mapstructure:"host"`
	// DataDir holds the run registry and the database list cache.
	DataDir string `mapstructure:"data_dir"`

	Store     StoreConfig           `mapstructure:"store"`
	Archive   ArchiveConfig         `mapstructure:"archive"`
	Scheduler SchedulerConfig       `mapstructure:"scheduler"`
	Upstream  UpstreamConfig        `mapstructure:"upstream"`
	Logging   LoggingConfig         `mapstructure:"logging"`
	Server    ServerConfig          `mapstructure:"server"`
	Kinds     map[string]KindConfig `mapstructure:"kinds"`
	// Languages maps language codes to English names for item titles.
	Languages map[string]string `mapstructure:"languages"`
}

type StoreConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type ArchiveConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	MetadataURL string        `mapstructure:"metadata_url"`
	AccessKey   string        `mapstructure:"access_key"`
	SecretKey   string        `mapstructure:"secret_key"`
	Region      string        `mapstructure:"region"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SizeHint    string        `mapstructure:"size_hint"`
	QueueDerive bool          `mapstructure:"queue_derive"`
	Verify      bool          `mapstructure:"verify"`
}

type SchedulerConfig struct {
	IdleSleep   time.Duration `mapstructure:"idle_sleep"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

type UpstreamConfig struct {
	// RateLimit is requests per second; 0 disables throttling.
	RateLimit    float64       `mapstructure:"rate_limit"`
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	DBListMaxAge time.Duration `mapstructure:"dblist_max_age"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// KindConfig is the per-kind section under kinds.<name>.
type KindConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Collection       string        `mapstructure:"collection"`
	Creator          string        `mapstructure:"creator"`
	Contributor      string        `mapstructure:"contributor"`
	MediaType        string        `mapstructure:"mediatype"`
	Rights           string        `mapstructure:"rights"`
	LicenseURL       string        `mapstructure:"licenseurl"`
	Subject          string        `mapstructure:"subject"`
	BaseURL          string        `mapstructure:"base_url"`
	DumpDir          string        `mapstructure:"dump_dir"`
	TempDir          string        `mapstructure:"temp_dir"`
	AllDBList        string        `mapstructure:"all_dblist"`
	PrivateDBList    string        `mapstructure:"private_dblist"`
	Include          []string      `mapstructure:"include"`
	Exclude          []string      `mapstructure:"exclude"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	IdentifierPrefix string        `mapstructure:"identifier_prefix"`
}

// Settings converts the section into what a dataset kind is built from.
func (k KindConfig) Settings(languages map[string]string) dataset.Settings {
	return dataset.Settings{
		Collection:       k.Collection,
		Creator:          k.Creator,
		Contributor:      k.Contributor,
		MediaType:        k.MediaType,
		Rights:           k.Rights,
		LicenseURL:       k.LicenseURL,
		Subject:          k.Subject,
		BaseURL:          k.BaseURL,
		DumpDir:          k.DumpDir,
		TempDir:          k.TempDir,
		AllDBList:        k.AllDBList,
		PrivateDBList:    k.PrivateDBList,
		Languages:        languages,
		Include:          k.Include,
		Exclude:          k.Exclude,
		Cooldown:         k.Cooldown,
		IdentifierPrefix: k.IdentifierPrefix,
	}
}

// EnabledKinds returns the enabled kind names in a stable order: builtin
// kinds first, in the order dumps, cirrussearch, mediacounts.
func (c *Config) EnabledKinds() []string {
	var out []string
	for _, name := range []string{string(dataset.KindDumps), string(dataset.KindCirrusSearch), string(dataset.KindMediaCounts)} {
		if k, ok := c.Kinds[name]; ok && k.Enabled {
			out = append(out, name)
		}
	}
	return out
}

// StoreSettings returns the work-item store settings.
func (c *Config) StoreSettings() workqueue.Config {
	return workqueue.Config{Path: c.Store.Path, URL: c.Store.URL, AuthToken: c.Store.AuthToken}
}

// ArchiveSettings returns the archive client settings. scanner fills the
// scanner metadata field.
func (c *Config) ArchiveSettings(scanner string) archive.Config {
	return archive.Config{
		Endpoint:    c.Archive.Endpoint,
		MetadataURL: c.Archive.MetadataURL,
		AccessKey:   c.Archive.AccessKey,
		SecretKey:   c.Archive.SecretKey,
		Region:      c.Archive.Region,
		Scanner:     scanner,
		Timeout:     c.Archive.Timeout,
	}
}

// RetryPolicy returns the policy for archive calls.
func (c *Config) RetryPolicy(debug bool) retry.Policy {
	p := retry.DefaultPolicy()
	if c.Scheduler.MaxAttempts > 0 {
		p.MaxAttempts = c.Scheduler.MaxAttempts
	}
	if c.Scheduler.BaseDelay > 0 {
		p.BaseDelay = c.Scheduler.BaseDelay
	}
	p.Debug = debug
	return p
}

// UpstreamSettings returns the dump source client settings.
func (c *Config) UpstreamSettings() upstream.Config {
	return upstream.Config{
		RateLimit: c.Upstream.RateLimit,
		Timeout:   c.Upstream.Timeout,
		UserAgent: c.Upstream.UserAgent,
	}
}

// Validate checks what every command needs. Archive credentials are checked
// only where uploads happen.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("host is empty and the OS hostname is unavailable")
	}
	if c.Store.Path == "" && c.Store.URL == "" {
		return fmt.Errorf("store.path or store.url is required")
	}
	for name := range c.Kinds {
		if _, ok := dataset.Builtin[name]; !ok {
			return fmt.Errorf("kinds.%s: %w", name, dataset.ErrUnknownKind)
		}
	}
	if len(c.EnabledKinds()) == 0 {
		return fmt.Errorf("no dataset kind is enabled")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}
