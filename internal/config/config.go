package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables holding the upstream API tokens.
const (
	EnvChatToken = "MIRROR_CHAT_TOKEN"
	EnvCRMToken  = "MIRROR_CRM_TOKEN"
)

// Config represents the global ~/.mirror/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	Region         string `toml:"region"`
	ChatAPIURL     string `toml:"chat_api_url"`
	CRMURL         string `toml:"crm_url"`
	HTTPAddr       string `toml:"http_addr"`

	ChatInterval     string `toml:"chat_interval"`
	ContactInterval  string `toml:"contact_interval"`
	ProtectionWindow string `toml:"protection_window"`
	LockTimeout      string `toml:"lock_timeout"`

	MessageWindow   int `toml:"message_window"`
	PageSize        int `toml:"page_size"`
	ContactPageSize int `toml:"contact_page_size"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		DefaultProfile:   "main",
		Region:           "US",
		HTTPAddr:         "127.0.0.1:7717",
		ChatInterval:     "2m",
		ContactInterval:  "15m",
		ProtectionWindow: "5m",
		LockTimeout:      "10m",
		MessageWindow:    30,
		PageSize:         50,
		ContactPageSize:  100,
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
// Keys absent from the file keep their Default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load that falls back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
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

// Intervals holds the parsed duration settings.
type Intervals struct {
	Chats            time.Duration
	Contacts         time.Duration
	ProtectionWindow time.Duration
	LockTimeout      time.Duration
}

// Durations parses the duration strings. An empty string parses as zero,
// which disables the corresponding scheduled job.
func (c *Config) Durations() (Intervals, error) {
	var out Intervals
	fields := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"chat_interval", c.ChatInterval, &out.Chats},
		{"contact_interval", c.ContactInterval, &out.Contacts},
		{"protection_window", c.ProtectionWindow, &out.ProtectionWindow},
		{"lock_timeout", c.LockTimeout, &out.LockTimeout},
	}
	for _, f := range fields {
		if f.val == "" {
			continue
		}
		d, err := time.ParseDuration(f.val)
		if err != nil {
			return Intervals{}, fmt.Errorf("parse %s: %w", f.key, err)
		}
		if d < 0 {
			return Intervals{}, fmt.Errorf("parse %s: negative duration %s", f.key, f.val)
		}
		*f.dst = d
	}
	return out, nil
}

// Secrets are the API tokens read from the environment.
type Secrets struct {
	ChatToken string
	CRMToken  string
}

// LoadSecrets loads the given .env files if they exist, then reads the tokens
// from the environment. Variables already set take precedence over the files.
func LoadSecrets(envFiles ...string) (Secrets, error) {
	var existing []string
	for _, p := range envFiles {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return Secrets{}, fmt.Errorf("load env files: %w", err)
		}
	}
	return Secrets{
		ChatToken: os.Getenv(EnvChatToken),
		CRMToken:  os.Getenv(EnvCRMToken),
	}, nil
}
