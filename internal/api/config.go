package api

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEditorCDN is where the editor page loads GrapesJS from.
const DefaultEditorCDN = "https://unpkg.com/grapesjs@0.22.5/dist"

// Config holds the server configuration.
type Config struct {
	ListenAddr      string
	DBPath          string
	ShutdownTimeout time.Duration
	AllowSignup     bool
	BaseURL         string
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	RateLimitAuth  int // login endpoints per IP per minute (default: 10)
	RateLimitWrite int // writes per API key per minute (default: 60)
	RateLimitOther int // everything else per API key per minute (default: 300)

	CORSAllowedOrigins []string // allowed origins for /v1 CORS; empty = disabled

	AuthEventRetention      time.Duration // retention period for auth events (default: 90 days)
	RateLimitEventRetention time.Duration // retention period for rate limit events (default: 30 days)
	SessionTTL              time.Duration // browser session lifetime (default: 30 days)

	EditorCDN string // base URL of the GrapesJS dist directory
}

// fileConfig is the YAML shape of the optional config file. Durations are
// strings so that "90d" style values work.
type fileConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	DBPath          string `yaml:"db_path"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	AllowSignup     *bool  `yaml:"allow_signup"`
	BaseURL         string `yaml:"base_url"`
	Log             struct {
		Format string `yaml:"format"`
		Level  string `yaml:"level"`
	} `yaml:"log"`
	RateLimit struct {
		Auth  int `yaml:"auth"`
		Write int `yaml:"write"`
		Other int `yaml:"other"`
	} `yaml:"rate_limit"`
	CORSAllowedOrigins      []string `yaml:"cors_allowed_origins"`
	AuthEventRetention      string   `yaml:"auth_event_retention"`
	RateLimitEventRetention string   `yaml:"rate_limit_event_retention"`
	SessionTTL              string   `yaml:"session_ttl"`
	EditorCDN               string   `yaml:"editor_cdn"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8080",
		DBPath:          "./data/tpled.db",
		ShutdownTimeout: 30 * time.Second,
		AllowSignup:     true,
		BaseURL:         "http://localhost:8080",
		LogFormat:       "json",
		LogLevel:        "info",

		RateLimitAuth:  10,
		RateLimitWrite: 60,
		RateLimitOther: 300,

		AuthEventRetention:      90 * 24 * time.Hour,
		RateLimitEventRetention: 30 * 24 * time.Hour,
		SessionTTL:              30 * 24 * time.Hour,

		EditorCDN: DefaultEditorCDN,
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file
// named by TPLED_CONFIG (if set), then TPLED_* environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("TPLED_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := applyYAML(&cfg, data); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.EditorCDN = strings.TrimRight(cfg.EditorCDN, "/")
	return cfg, nil
}

func applyYAML(cfg *Config, data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.DBPath != "" {
		cfg.DBPath = fc.DBPath
	}
	if fc.ShutdownTimeout != "" {
		d, err := time.ParseDuration(fc.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	if fc.AllowSignup != nil {
		cfg.AllowSignup = *fc.AllowSignup
	}
	if fc.BaseURL != "" {
		cfg.BaseURL = fc.BaseURL
	}
	if fc.Log.Format != "" {
		cfg.LogFormat = fc.Log.Format
	}
	if fc.Log.Level != "" {
		cfg.LogLevel = fc.Log.Level
	}
	if fc.RateLimit.Auth > 0 {
		cfg.RateLimitAuth = fc.RateLimit.Auth
	}
	if fc.RateLimit.Write > 0 {
		cfg.RateLimitWrite = fc.RateLimit.Write
	}
	if fc.RateLimit.Other > 0 {
		cfg.RateLimitOther = fc.RateLimit.Other
	}
	if len(fc.CORSAllowedOrigins) > 0 {
		cfg.CORSAllowedOrigins = fc.CORSAllowedOrigins
	}
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth_event_retention", fc.AuthEventRetention, &cfg.AuthEventRetention},
		{"rate_limit_event_retention", fc.RateLimitEventRetention, &cfg.RateLimitEventRetention},
		{"session_ttl", fc.SessionTTL, &cfg.SessionTTL},
	} {
		if d.raw == "" {
			continue
		}
		v := parseDaysDuration(d.raw)
		if v <= 0 {
			return fmt.Errorf("%s: invalid duration %q", d.name, d.raw)
		}
		*d.dst = v
	}
	if fc.EditorCDN != "" {
		cfg.EditorCDN = fc.EditorCDN
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TPLED_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TPLED_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TPLED_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("TPLED_ALLOW_SIGNUP"); v != "" {
		cfg.AllowSignup = v != "false" && v != "0"
	}
	if v := os.Getenv("TPLED_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("TPLED_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("TPLED_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("TPLED_RATE_LIMIT_AUTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitAuth = n
		}
	}
	if v := os.Getenv("TPLED_RATE_LIMIT_WRITE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitWrite = n
		}
	}
	if v := os.Getenv("TPLED_RATE_LIMIT_OTHER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitOther = n
		}
	}

	if v := os.Getenv("TPLED_AUTH_EVENT_RETENTION"); v != "" {
		if d := parseDaysDuration(v); d > 0 {
			cfg.AuthEventRetention = d
		}
	}
	if v := os.Getenv("TPLED_RATE_LIMIT_EVENT_RETENTION"); v != "" {
		if d := parseDaysDuration(v); d > 0 {
			cfg.RateLimitEventRetention = d
		}
	}
	if v := os.Getenv("TPLED_SESSION_TTL"); v != "" {
		if d := parseDaysDuration(v); d > 0 {
			cfg.SessionTTL = d
		}
	}
	if v := os.Getenv("TPLED_EDITOR_CDN"); v != "" {
		cfg.EditorCDN = v
	}

	if v := os.Getenv("TPLED_CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}
}

// parseDaysDuration parses a string like "90d", "30d" into a time.Duration.
// Falls back to time.ParseDuration for standard Go durations.
func parseDaysDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		numStr := strings.TrimSuffix(s, "d")
		if n, err := strconv.Atoi(numStr); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 0
}
