// Package config loads the gateway's provider list and runtime settings
// from a JSON file plus environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Known provider names.
const (
	ProviderAnthropic    = "anthropic"
	ProviderOpenAI       = "openai"
	ProviderGoogleAI     = "googleai"
	ProviderVertex       = "vertex"
	ProviderAntigravity  = "antigravity"
	ProviderIFlow        = "iflow"
	ProviderOllama       = "ollama"
	ProviderVertexCompat = "vertex-compat"
)

// Defaults applied when a field is absent.
const (
	DefaultMaxRetries     = 2
	DefaultTimeoutSeconds = 120
	DefaultBucketCapacity = 4
	DefaultBucketMaxWait  = 30 * time.Second
)

// Entry configures one upstream provider. Exactly one of APIKey,
// OAuthToken, or ServiceAccount carries the credential; OAuthToken and
// ServiceAccount are file paths.
type Entry struct {
	Provider       string `json:"provider"`
	APIKey         string `json:"api_key,omitempty"`
	OAuthToken     string `json:"oauth_token,omitempty"`
	ServiceAccount string `json:"service_account,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`
	Model          string `json:"model,omitempty"`
	Location       string `json:"location,omitempty"`
	Priority       int    `json:"priority"`
	MaxRetries     *int   `json:"max_retries,omitempty"`
	TimeoutSeconds *int   `json:"timeout_seconds,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty"`
}

// IsEnabled reports whether the entry participates in routing. Absent
// means enabled.
func (e *Entry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// RetryLimit returns the per-provider retry ceiling.
func (e *Entry) RetryLimit() int {
	if e.MaxRetries != nil && *e.MaxRetries >= 0 {
		return *e.MaxRetries
	}
	return DefaultMaxRetries
}

// Timeout returns the per-attempt timeout.
func (e *Entry) Timeout() time.Duration {
	if e.TimeoutSeconds != nil && *e.TimeoutSeconds > 0 {
		return time.Duration(*e.TimeoutSeconds) * time.Second
	}
	return DefaultTimeoutSeconds * time.Second
}

// Validate checks the entry's provider name and credential shape.
func (e *Entry) Validate() error {
	switch e.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogleAI, ProviderVertex,
		ProviderAntigravity, ProviderIFlow, ProviderOllama, ProviderVertexCompat:
	case "":
		return fmt.Errorf("config: entry missing provider name")
	default:
		return fmt.Errorf("config: unknown provider %q", e.Provider)
	}

	n := 0
	if e.APIKey != "" {
		n++
	}
	if e.OAuthToken != "" {
		n++
	}
	if e.ServiceAccount != "" {
		n++
	}
	// A local daemon carries no credential at all.
	if e.Provider == ProviderOllama {
		if n != 0 {
			return fmt.Errorf("config: ollama takes no credential")
		}
		return nil
	}
	if n == 0 {
		return fmt.Errorf("config: provider %q has no credential", e.Provider)
	}
	if n > 1 {
		return fmt.Errorf("config: provider %q must set exactly one of api_key, oauth_token, service_account", e.Provider)
	}

	if e.Provider == ProviderVertex && e.ServiceAccount == "" {
		return fmt.Errorf("config: vertex requires a service_account file")
	}
	if e.Provider == ProviderVertexCompat {
		if e.APIKey == "" {
			return fmt.Errorf("config: vertex-compat requires an api_key")
		}
		if e.BaseURL == "" {
			return fmt.Errorf("config: vertex-compat requires a base_url")
		}
	}
	return nil
}

// Config is the full gateway configuration.
type Config struct {
	Providers      []Entry       `json:"providers"`
	BucketCapacity int64         `json:"bucket_capacity,omitempty"`
	BucketMaxWait  time.Duration `json:"-"`
	LogLevel       string        `json:"log_level,omitempty"`

	// BucketMaxWaitSeconds is the JSON-facing form of BucketMaxWait.
	BucketMaxWaitSeconds int `json:"bucket_max_wait_seconds,omitempty"`
}

// Load reads the config file at path and applies env overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		// Accept a bare provider list too.
		var entries []Entry
		if err2 := json.Unmarshal(data, &entries); err2 != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg = &Config{Providers: entries}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a config with no file, defaults plus env overrides only.
func FromEnv() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.BucketCapacity <= 0 {
		c.BucketCapacity = DefaultBucketCapacity
	}
	if c.BucketMaxWaitSeconds > 0 {
		c.BucketMaxWait = time.Duration(c.BucketMaxWaitSeconds) * time.Second
	}
	if c.BucketMaxWait <= 0 {
		c.BucketMaxWait = DefaultBucketMaxWait
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) applyEnv() {
	if v := envInt("NEUROLOOM_BUCKET_CAPACITY"); v > 0 {
		c.BucketCapacity = int64(v)
	}
	if v := envInt("NEUROLOOM_BUCKET_MAX_WAIT"); v > 0 {
		c.BucketMaxWait = time.Duration(v) * time.Second
	}
	if v := strings.TrimSpace(os.Getenv("NEUROLOOM_LOG_LEVEL")); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}

// Validate checks every provider entry.
func (c *Config) Validate() error {
	for i := range c.Providers {
		if err := c.Providers[i].Validate(); err != nil {
			return fmt.Errorf("providers[%d]: %w", i, err)
		}
	}
	return nil
}

// EnabledProviders returns the entries that participate in routing.
func (c *Config) EnabledProviders() []Entry {
	var out []Entry
	for _, e := range c.Providers {
		if e.IsEnabled() {
			out = append(out, e)
		}
	}
	return out
}

// DefaultPath returns the config file location, honoring the env
// override.
func DefaultPath() string {
	if p := os.Getenv("NEUROLOOM_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "neuroloom.json"
	}
	return home + "/.neuroloom/config.json"
}

func envInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
