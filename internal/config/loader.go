package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppIdentity names the application for config paths and environment keys.
type AppIdentity struct {
	BinaryName string
	ConfigName string
	EnvPrefix  string
}

// DefaultIdentity is used until SetIdentity is called.
var DefaultIdentity = AppIdentity{
	BinaryName: "dumpkeeper",
	ConfigName: "dumpkeeper",
	EnvPrefix:  "DUMPKEEPER_",
}

var (
	configMu    sync.RWMutex
	appConfig   *Config
	appIdentity *AppIdentity
)

// EnvSpec maps one documented environment variable to a config path.
type EnvSpec struct {
	Name string
	Path string
}

// SetIdentity replaces the application identity used by later loads.
func SetIdentity(id AppIdentity) {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = &id
}

// GetIdentity returns the current identity, or DefaultIdentity.
func GetIdentity() AppIdentity {
	configMu.RLock()
	defer configMu.RUnlock()
	if appIdentity == nil {
		return DefaultIdentity
	}
	return *appIdentity
}

// Load reads configuration from the user config file, the environment and
// overrides. Later overrides win.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFrom(ctx, "", overrides...)
}

// LoadFrom is Load with an explicit config file. An empty path searches the
// user config paths; a missing explicit file is an error.
func LoadFrom(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	id := *appIdentity
	configMu.Unlock()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, id)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		for _, candidate := range getUserConfigPaths() {
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			v.SetConfigFile(candidate)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", candidate, err)
			}
			break
		}
	}

	v.SetEnvPrefix(strings.TrimSuffix(id.EnvPrefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	cfg := &Config{}
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		emptyStringMapHook(),
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Host == "" {
		cfg.Host = hostname()
	}
	if cfg.DataDir == "" {
		cfg.DataDir = gfconfig.GetAppDataDir(id.ConfigName)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(os.TempDir(), id.ConfigName)
	}
	if cfg.Store.Path == "" && cfg.Store.URL == "" && cfg.DataDir != "" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "queue.db")
	}
	for name, k := range cfg.Kinds {
		if k.TempDir == "" {
			k.TempDir = filepath.Join(os.TempDir(), id.BinaryName)
			cfg.Kinds[name] = k
		}
	}

	configMu.Lock()
	appConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper, id AppIdentity) {
	v.SetDefault("host", "")
	v.SetDefault("data_dir", "")

	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("archive.endpoint", "https://s3.us.archive.org")
	v.SetDefault("archive.metadata_url", "https://archive.org/metadata")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.timeout", 30*time.Minute)
	v.SetDefault("archive.size_hint", "107374182400")
	v.SetDefault("archive.queue_derive", false)
	v.SetDefault("archive.verify", true)

	v.SetDefault("scheduler.idle_sleep", 6*time.Hour)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.base_delay", time.Minute)

	v.SetDefault("upstream.rate_limit", 2.0)
	v.SetDefault("upstream.timeout", 10*time.Minute)
	v.SetDefault("upstream.user_agent", id.BinaryName+" (+https://github.com/3leaps/dumpkeeper)")
	v.SetDefault("upstream.dblist_max_age", 24*time.Hour)

	v.SetDefault("logging.level", "info")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("languages", map[string]any{
		"ar": "Arabic", "de": "German", "en": "English", "es": "Spanish",
		"fa": "Persian", "fr": "French", "he": "Hebrew", "hi": "Hindi",
		"id": "Indonesian", "it": "Italian", "ja": "Japanese", "ko": "Korean",
		"nl": "Dutch", "pl": "Polish", "pt": "Portuguese", "ru": "Russian",
		"sv": "Swedish", "tr": "Turkish", "uk": "Ukrainian", "vi": "Vietnamese",
		"zh": "Chinese",
	})

	common := map[string]any{
		"collection":  "wikimediadownloads",
		"creator":     "Wikimedia Foundation",
		"contributor": "Wikimedia Foundation",
		"mediatype":   "web",
		"rights":      "https://dumps.wikimedia.org/legal.html",
		"licenseurl":  "https://creativecommons.org/licenses/by-sa/4.0/",
	}
	kinds := map[string]map[string]any{
		"dumps": {
			"enabled":        true,
			"subject":        "",
			"base_url":       "https://dumps.wikimedia.org",
			"dump_dir":       "/public/dumps/public",
			"all_dblist":     "https://noc.wikimedia.org/conf/dblists/all.dblist",
			"private_dblist": "https://noc.wikimedia.org/conf/dblists/private.dblist",
		},
		"cirrussearch": {
			"enabled":  false,
			"subject":  "wiki;search;cirrussearch;elasticsearch",
			"base_url": "https://dumps.wikimedia.org/other/cirrussearch",
		},
		"mediacounts": {
			"enabled":  false,
			"subject":  "wiki;statistics;mediacounts;commons",
			"base_url": "https://dumps.wikimedia.org/other/mediacounts/daily",
		},
	}
	for name, fields := range kinds {
		for key, val := range common {
			v.SetDefault("kinds."+name+"."+key, val)
		}
		for key, val := range fields {
			v.SetDefault("kinds."+name+"."+key, val)
		}
		v.SetDefault("kinds."+name+".identifier_prefix", name)
		v.SetDefault("kinds."+name+".cooldown", time.Duration(0))
	}
}

// getUserConfigPaths lists config files searched when no path is given.
func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []string{}
	}
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, id.ConfigName, "config.yaml"))
	}
	paths = append(paths, "/etc/"+id.ConfigName+"/config.yaml")
	return paths
}

// getEnvSpecs lists the short environment names documented for operators.
// Every other key is reachable as <PREFIX><SECTION>_<KEY>.
func getEnvSpecs() []EnvSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []EnvSpec{}
	}
	p := id.EnvPrefix
	return []EnvSpec{
		{Name: p + "HOST", Path: "host"},
		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "PORT", Path: "server.port"},
		{Name: p + "SERVER_HOST", Path: "server.host"},
		{Name: p + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: p + "STORE_PATH", Path: "store.path"},
		{Name: p + "STORE_URL", Path: "store.url"},
		{Name: p + "STORE_AUTH_TOKEN", Path: "store.auth_token"},
		{Name: p + "ACCESS_KEY", Path: "archive.access_key"},
		{Name: p + "SECRET_KEY", Path: "archive.secret_key"},
		{Name: p + "IDLE_SLEEP", Path: "scheduler.idle_sleep"},
	}
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// emptyStringMapHook lets "" stand for an empty map, as unset env vars do.
func emptyStringMapHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() == reflect.String && to.Kind() == reflect.Map {
			if s, _ := data.(string); s == "" {
				return reflect.MakeMap(to).Interface(), nil
			}
			return nil, errors.New("expected a mapping")
		}
		return data, nil
	}
}
