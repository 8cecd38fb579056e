// Package config loads the service configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "15s" parse naturally.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the application's configuration model.
type Config struct {
	Sessions SessionsConfig `yaml:"sessions"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Cache    CacheConfig    `yaml:"cache"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// SessionsConfig locates the session record source. Path takes precedence;
// when empty, Bucket/Object select a Cloud Storage object.
type SessionsConfig struct {
	Path               string   `yaml:"path"`
	Bucket             string   `yaml:"bucket"`
	Object             string   `yaml:"object"`
	ReloadInterval     Duration `yaml:"reloadInterval"`     // 0 disables live reload
	AcquireWaitCeiling Duration `yaml:"acquireWaitCeiling"` // 0 selects the pool default
}

type UpstreamConfig struct {
	BaseURL       string   `yaml:"baseUrl"`
	Bearer        string   `yaml:"bearer"`
	Timeout       Duration `yaml:"timeout"`
	RetryAttempts uint     `yaml:"retryAttempts"`
	RPS           float64  `yaml:"rps"`
	Burst         int      `yaml:"burst"`
}

type CacheConfig struct {
	DBPath          string   `yaml:"dbPath"` // empty disables the persistent tier
	ConversationTTL Duration `yaml:"conversationTtl"`
	ImmutableTTL    Duration `yaml:"immutableTtl"`
	TimelineTTL     Duration `yaml:"timelineTtl"`
	UserTTL         Duration `yaml:"userTtl"`
	NegativeTTL     Duration `yaml:"negativeTtl"`
}

type ServerConfig struct {
	Port           string   `yaml:"port"`
	RequestTimeout Duration `yaml:"requestTimeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Sessions: SessionsConfig{
			Path:           "./sessions.jsonl",
			ReloadInterval: Duration(5 * time.Minute),
		},
		Upstream: UpstreamConfig{
			Timeout:       Duration(15 * time.Second),
			RetryAttempts: 3,
			RPS:           2,
			Burst:         5,
		},
		Cache: CacheConfig{
			ConversationTTL: Duration(time.Minute),
			ImmutableTTL:    Duration(time.Hour),
			TimelineTTL:     Duration(2 * time.Minute),
			UserTTL:         Duration(15 * time.Minute),
			NegativeTTL:     Duration(30 * time.Second),
		},
		Server: ServerConfig{
			Port:           "8080",
			RequestTimeout: Duration(30 * time.Second),
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads YAML config from path. A missing file yields the defaults, so
// the service runs on env vars alone.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ResolveEnv()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// ResolveEnv fills in config fields from environment variables if set.
func (c *Config) ResolveEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("SESSIONS_PATH"); v != "" {
		c.Sessions.Path = v
	}
	if v := os.Getenv("SESSIONS_BUCKET"); v != "" {
		c.Sessions.Bucket = v
		c.Sessions.Path = ""
	}
	if v := os.Getenv("SESSIONS_OBJECT"); v != "" {
		c.Sessions.Object = v
	}
	if v := os.Getenv("UPSTREAM_BASE_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("UPSTREAM_BEARER"); v != "" {
		c.Upstream.Bearer = v
	}
	if v := os.Getenv("CACHE_DB_PATH"); v != "" {
		c.Cache.DBPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}
