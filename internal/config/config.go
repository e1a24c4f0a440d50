package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/seryn/herald/internal/platform"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig              `json:"server"`
	Platforms map[string]PlatformConfig `json:"platforms"`
	RateLimit RateLimitConfig           `json:"rate_limit"`
	Templates TemplatesConfig           `json:"templates"`
	Database  DatabaseConfig            `json:"database"`
	Security  SecurityConfig            `json:"security"`

	// AnnounceOnStart broadcasts the "emergence" template once all
	// platforms are initialized.
	AnnounceOnStart bool `json:"announce_on_start,omitempty"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// PlatformConfig configures one backend: credentials, target channels, and
// monitor cadence in seconds.
type PlatformConfig struct {
	Enabled      bool              `json:"enabled"`
	Credentials  map[string]string `json:"credentials"`
	Channels     []string          `json:"channels,omitempty"`
	PollInterval int               `json:"poll_interval,omitempty"`
	ErrorDelay   int               `json:"error_delay,omitempty"`
	Options      map[string]string `json:"options,omitempty"`
}

type RateLimitConfig struct {
	MaxRequests   int `json:"max_requests"`
	WindowMinutes int `json:"window_minutes"`
}

type TemplatesConfig struct {
	Path string `json:"path"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type SecurityConfig struct {
	KeyPath string `json:"key_path"`
	// CredentialsFile points at an encrypted credential bundle whose
	// "platform.key" entries are merged into the platform credentials.
	CredentialsFile string `json:"credentials_file,omitempty"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable
// references before parsing, then applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 300
	}
	if c.RateLimit.WindowMinutes == 0 {
		c.RateLimit.WindowMinutes = 180
	}
	if c.Templates.Path == "" {
		c.Templates.Path = "templates/message_templates.json"
	}
	if c.Security.KeyPath == "" {
		c.Security.KeyPath = ".herald_key"
	}
}

// Window returns the rate-limit window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.RateLimit.WindowMinutes) * time.Minute
}

// PlatformSettings converts the enabled platform sections into backend
// settings keyed by platform name.
func (c *Config) PlatformSettings() map[string]platform.Settings {
	out := make(map[string]platform.Settings, len(c.Platforms))
	for name, pc := range c.Platforms {
		if !pc.Enabled {
			continue
		}
		out[name] = platform.Settings{
			Credentials:  pc.Credentials,
			Channels:     pc.Channels,
			PollInterval: time.Duration(pc.PollInterval) * time.Second,
			ErrorDelay:   time.Duration(pc.ErrorDelay) * time.Second,
			Options:      pc.Options,
		}
	}
	return out
}
