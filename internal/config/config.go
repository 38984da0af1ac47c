// Package config handles service configuration and the static entity catalog
// from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Timezone  string          `yaml:"timezone"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Notifier  NotifierConfig  `yaml:"notifier"`
}

// SchedulerConfig controls the ingestion control loop.
type SchedulerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	GracePeriod  time.Duration `yaml:"grace_period"`
	TickTimeout  time.Duration `yaml:"tick_timeout"`
	MaxParallel  int           `yaml:"max_parallel"`
}

// FetchConfig controls the resilient fetch layer.
type FetchConfig struct {
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	FallbackAfter    int           `yaml:"fallback_after"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	BrowserRemoteURL string        `yaml:"browser_remote_url"`
}

// ProxyConfig controls the proxy pool.
type ProxyConfig struct {
	DirectoryURLs []string      `yaml:"directory_urls"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	ProbeBatch    int           `yaml:"probe_batch"`
	PaidOrigin    string        `yaml:"paid_origin"`
}

// NotifierConfig controls result webhook delivery.
type NotifierConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Timezone == "" {
		c.Timezone = "America/Sao_Paulo"
	}
	if c.Scheduler.TickInterval <= 0 {
		c.Scheduler.TickInterval = 5 * time.Minute
	}
	if c.Scheduler.GracePeriod <= 0 {
		c.Scheduler.GracePeriod = time.Minute
	}
	if c.Scheduler.TickTimeout <= 0 {
		c.Scheduler.TickTimeout = 4 * time.Minute
	}
	if c.Scheduler.MaxParallel <= 0 {
		c.Scheduler.MaxParallel = 10
	}
	if c.Fetch.RequestTimeout <= 0 {
		c.Fetch.RequestTimeout = 30 * time.Second
	}
	if c.Fetch.FallbackAfter <= 0 {
		c.Fetch.FallbackAfter = 5
	}
	if c.Fetch.MaxBackoff <= 0 {
		c.Fetch.MaxBackoff = 60 * time.Second
	}
	if c.Proxy.ProbeTimeout <= 0 {
		c.Proxy.ProbeTimeout = 2 * time.Second
	}
	if c.Proxy.ProbeBatch <= 0 {
		c.Proxy.ProbeBatch = 50
	}
	if c.Proxy.PaidOrigin == "" {
		c.Proxy.PaidOrigin = "paid"
	}
}
