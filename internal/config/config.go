// Package config loads ~/.huddle/config.toml and the HUDDLE_* environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables that override the file.
const (
	EnvToken       = "HUDDLE_TOKEN"
	EnvEndpoint    = "HUDDLE_ENDPOINT"
	EnvAPIURL      = "HUDDLE_API_URL"
	EnvUserID      = "HUDDLE_USER_ID"
	EnvDisplayName = "HUDDLE_DISPLAY_NAME"
	EnvSession     = "HUDDLE_SESSION"
)

// Duration is a time.Duration written as "30s" in TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the global ~/.huddle/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// Endpoint is the websocket URL of the real-time service.
	Endpoint string `toml:"endpoint"`
	// APIURL is the base URL of the REST API. Empty disables durable writes.
	APIURL      string `toml:"api_url"`
	UserID      string `toml:"user_id"`
	DisplayName string `toml:"display_name"`
	Token       string `toml:"token,omitempty"`

	Reconnect    Reconnect `toml:"reconnect"`
	Heartbeat    Duration  `toml:"heartbeat"`
	TypingWindow Duration  `toml:"typing_window"`
	PageSize     int       `toml:"page_size"`

	Relay Relay `toml:"relay"`
}

// Reconnect tunes the transport backoff.
type Reconnect struct {
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
	MaxAttempts int      `toml:"max_attempts"`
}

// Relay configures huddlerelay.
type Relay struct {
	Addr         string   `toml:"addr"`
	AllowOrigins []string `toml:"allow_origins"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Reconnect.BaseDelay <= 0 {
		c.Reconnect.BaseDelay = Duration(time.Second)
	}
	if c.Reconnect.MaxDelay <= 0 {
		c.Reconnect.MaxDelay = Duration(30 * time.Second)
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = 5
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = Duration(30 * time.Second)
	}
	if c.TypingWindow <= 0 {
		c.TypingWindow = Duration(3 * time.Second)
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.Relay.Addr == "" {
		c.Relay.Addr = "127.0.0.1:8787"
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Resolve loads path if it exists, falls back to defaults otherwise, then
// applies .env files and the environment on top.
func Resolve(path string, envFiles ...string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles loads KEY=value files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields with the HUDDLE_* variables that are set.
func (c *Config) ApplyEnv() error {
	for env, field := range map[string]*string{
		EnvToken:       &c.Token,
		EnvEndpoint:    &c.Endpoint,
		EnvAPIURL:      &c.APIURL,
		EnvUserID:      &c.UserID,
		EnvDisplayName: &c.DisplayName,
		EnvSession:     &c.DefaultSession,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*field = v
		}
	}
	if v := os.Getenv("HUDDLE_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("HUDDLE_MAX_ATTEMPTS: invalid value %q", v)
		}
		c.Reconnect.MaxAttempts = n
	}
	return nil
}

// Validate reports the first missing setting the daemon needs to connect.
func (c *Config) Validate() error {
	switch {
	case c.Endpoint == "":
		return errors.New("endpoint is not configured (set endpoint or " + EnvEndpoint + ")")
	case c.UserID == "":
		return errors.New("user id is not configured (set user_id or " + EnvUserID + ")")
	case c.Token == "":
		return errors.New("token is not configured (set " + EnvToken + ")")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
// The token is never written; it belongs in the environment.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	out := *cfg
	out.Token = ""
	encErr := toml.NewEncoder(f).Encode(out)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
