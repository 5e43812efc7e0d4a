// Package config defines the authgate configuration file format and its
// defaults. Environment variables referenced as ${VAR_NAME} in the file are
// expanded before parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level authgate configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Routes    RoutesConfig    `yaml:"routes"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string    `yaml:"host"`
	Port            int       `yaml:"port"`
	ShutdownTimeout string    `yaml:"shutdown_timeout"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig controls TLS termination at the server level. HSTS is only sent
// when TLS is enabled.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig controls credential policy. A single access-token TTL is
// consumed by every issuing call site.
type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret"`
	AccessTokenTTL  string `yaml:"access_token_ttl"`
	RefreshTokenTTL string `yaml:"refresh_token_ttl"`
	BcryptCost      int    `yaml:"bcrypt_cost"`
	CookieDomain    string `yaml:"cookie_domain"`
	SecureCookies   bool   `yaml:"secure_cookies"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// RateLimitConfig holds the named throttle policies applied per route class.
type RateLimitConfig struct {
	General       PolicyConfig `yaml:"general"`
	Auth          PolicyConfig `yaml:"auth"`
	Sensitive     PolicyConfig `yaml:"sensitive"`
	SweepInterval string       `yaml:"sweep_interval"`
}

// PolicyConfig is one throttle policy: at most Max requests per Window.
type PolicyConfig struct {
	Window string `yaml:"window"`
	Max    int    `yaml:"max"`
}

// RoutesConfig defines page-route authorization: which paths are always
// public, which prefixes require a session, and which role may enter which
// prefix (the route permission matrix).
type RoutesConfig struct {
	PublicPaths       []string            `yaml:"public_paths"`
	ProtectedPrefixes []string            `yaml:"protected_prefixes"`
	Groups            map[string][]string `yaml:"groups"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses a YAML configuration file, expanding ${VAR_NAME}
// references, and overlays it on the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-filled with production defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
		},
		Auth: AuthConfig{
			AccessTokenTTL:  "1h",
			RefreshTokenTTL: "168h",
			BcryptCost:      12,
			SecureCookies:   true,
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
		},
		RateLimit: RateLimitConfig{
			General:       PolicyConfig{Window: "1m", Max: 100},
			Auth:          PolicyConfig{Window: "15m", Max: 10},
			Sensitive:     PolicyConfig{Window: "1h", Max: 3},
			SweepInterval: "5m",
		},
		Routes: RoutesConfig{
			PublicPaths:       []string{"/", "/login"},
			ProtectedPrefixes: []string{"/admin", "/teacher", "/student", "/dashboard"},
			Groups: map[string][]string{
				"admin":   {"/admin", "/teacher", "/student", "/dashboard"},
				"teacher": {"/teacher", "/dashboard"},
				"student": {"/student", "/dashboard"},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Duration parses a duration string, falling back to def when the string is
// empty or malformed. Config durations are advisory knobs; a typo must not
// prevent startup.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Save writes the configuration to path as YAML, used by `authgate config
// init` to produce a starter file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
