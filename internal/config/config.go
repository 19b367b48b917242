// Package config holds the per-profile TOML configuration plus the
// environment overrides used for provider credentials.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents a profile's config.toml.
type Config struct {
	DefaultProfile string      `toml:"default_profile"`
	HTTP           HTTP        `toml:"http"`
	Provider       Provider    `toml:"provider"`
	Sync           Sync        `toml:"sync"`
	AutoReplies    []AutoReply `toml:"auto_reply"`
}

// HTTP configures the local API surface.
type HTTP struct {
	ListenAddr string `toml:"listen_addr"`
}

// Provider carries the SMS provider credentials and endpoint.
// AuthToken should come from the environment rather than the file;
// the toml tag exists so a file-based token still loads.
type Provider struct {
	AccountSID string `toml:"account_sid"`
	AuthToken  string `toml:"auth_token"`
	BaseURL    string `toml:"base_url"`
	FromNumber string `toml:"from_number"`
}

// Sync controls the background pull loop.
type Sync struct {
	IntervalSeconds int `toml:"interval_seconds"`
	PageSize        int `toml:"page_size"`
}

// AutoReply is one keyword rule for the autoresponder.
type AutoReply struct {
	Keyword string `toml:"keyword"`
	Reply   string `toml:"reply"`
}

// Default returns a config with usable local defaults and no
// credentials.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		HTTP:           HTTP{ListenAddr: "127.0.0.1:8480"},
		Sync:           Sync{IntervalSeconds: 60, PageSize: 50},
	}
}

// Load reads config from the given path. Returns an error if the file
// is missing; callers decide whether that means "use defaults".
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overlays SMSDESK_* environment variables onto the config.
// The environment wins over the file so credentials can stay out of
// it.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SMSDESK_ACCOUNT_SID"); v != "" {
		c.Provider.AccountSID = v
	}
	if v := os.Getenv("SMSDESK_AUTH_TOKEN"); v != "" {
		c.Provider.AuthToken = v
	}
	if v := os.Getenv("SMSDESK_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("SMSDESK_FROM_NUMBER"); v != "" {
		c.Provider.FromNumber = v
	}
	if v := os.Getenv("SMSDESK_LISTEN_ADDR"); v != "" {
		c.HTTP.ListenAddr = v
	}
}

// Save writes config to the given path, creating parent dirs as
// needed. 0600: the file may hold credentials.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
