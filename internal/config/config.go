// Package config loads and validates the YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Platform  PlatformConfig  `yaml:"platform"`
	HTTP      HTTPConfig      `yaml:"http"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Digest    DigestConfig    `yaml:"digest"`
}

// PlatformConfig describes the controlling bot.
type PlatformConfig struct {
	Credential string `yaml:"credential"`
	OwnerID    int64  `yaml:"owner_id"`
	// DefaultChannelURL backs every channel gate until the owner sets one.
	DefaultChannelURL string `yaml:"default_channel_url"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// PublicBaseURL is where the platform registers tenant webhooks,
	// e.g. "https://bots.example.com".
	PublicBaseURL string   `yaml:"public_base_url"`
	APITimeout    Duration `yaml:"api_timeout"`
}

type StorageConfig struct {
	Path        string   `yaml:"path"`
	BusyTimeout Duration `yaml:"busy_timeout"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
	File    string `yaml:"file"`
}

// BroadcastConfig controls fan-out pacing. Durations are Go duration
// strings (e.g. "50ms", "1s").
type BroadcastConfig struct {
	RecipientInterval Duration `yaml:"recipient_interval"`
	TenantInterval    Duration `yaml:"tenant_interval"`
}

type DigestConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a standard 5-field cron spec.
	Schedule string `yaml:"schedule"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:       ":8080",
			APITimeout: Duration(10 * time.Second),
		},
		Storage: StorageConfig{
			Path:        "./data/botforge.db",
			BusyTimeout: Duration(5 * time.Second),
		},
		Logging: LoggingConfig{Level: "info", Console: true},
		Broadcast: BroadcastConfig{
			RecipientInterval: Duration(50 * time.Millisecond),
			TenantInterval:    Duration(time.Second),
		},
		Digest: DigestConfig{Enabled: true, Schedule: "0 9 * * *"},
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Platform.Credential) == "" {
		return errors.New("platform.credential is required")
	}
	if c.Platform.OwnerID == 0 {
		return errors.New("platform.owner_id is required")
	}
	base := strings.TrimSpace(c.HTTP.PublicBaseURL)
	if base == "" {
		return errors.New("http.public_base_url is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return errors.New("http.public_base_url must be an https URL")
	}
	return nil
}
