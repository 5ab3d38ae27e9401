// Copyright 2024-2026 Aiku AI

package sync

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aiku/ticketsync/pkg/github"
	"github.com/aiku/ticketsync/pkg/linear"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the engine configuration.
type Config struct {
	// ListenAddr is the webhook HTTP listen address. Defaults to ":29330".
	ListenAddr string `yaml:"listen_addr"`
	// DatabasePath is the SQLite correlation store location.
	DatabasePath string `yaml:"database_path"`

	// PublicURL is the externally reachable base URL of this daemon, used
	// when registering repository webhooks.
	PublicURL string `yaml:"public_url"`

	// LinearIPAllowlist is the set of source addresses Linear webhook
	// deliveries may come from. Events from any other origin are rejected
	// before any further work.
	LinearIPAllowlist []string `yaml:"linear_ip_allowlist"`

	// TrustForwardedFor honors the X-Forwarded-For header when determining
	// a delivery's origin. Enable only behind a proxy that strips the
	// client-supplied header; otherwise any direct client could forge an
	// allow-listed origin.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`

	// EventTimeoutSeconds bounds the processing of a single webhook event,
	// including all outbound calls it triggers. Defaults to 30.
	EventTimeoutSeconds int `yaml:"event_timeout_seconds"`

	// LinearAPIURL and GitHubAPIURL override the platform API endpoints.
	// Leave empty for the public endpoints.
	LinearAPIURL string `yaml:"linear_api_url"`
	GitHubAPIURL string `yaml:"github_api_url"`

	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
}

// Linear's published webhook egress addresses.
var defaultLinearIPs = []string{"35.231.147.226", "35.243.134.228"}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess fills defaults after decoding.
func (c *Config) PostProcess() error {
	if c.ListenAddr == "" {
		c.ListenAddr = ":29330"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "ticketsync.db"
	}
	if len(c.LinearIPAllowlist) == 0 {
		c.LinearIPAllowlist = defaultLinearIPs
	}
	if c.EventTimeoutSeconds <= 0 {
		c.EventTimeoutSeconds = 30
	}
	if c.LogMaxSizeMB <= 0 {
		c.LogMaxSizeMB = 100
	}
	return nil
}

// EventTimeout returns the per-event processing deadline.
func (c *Config) EventTimeout() time.Duration {
	return time.Duration(c.EventTimeoutSeconds) * time.Second
}

// LoadConfig reads and decodes the YAML config at path.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// newLinearClient builds a source-platform client honoring the endpoint
// override.
func (c *Config) newLinearClient(apiKey string) *linear.Client {
	var opts []linear.Option
	if c.LinearAPIURL != "" {
		opts = append(opts, linear.WithBaseURL(c.LinearAPIURL))
	}
	return linear.NewClient(apiKey, opts...)
}

// newGitHubClient builds a target-platform client honoring the endpoint
// override.
func (c *Config) newGitHubClient(token, repoFullName string) *github.Client {
	var opts []github.Option
	if c.GitHubAPIURL != "" {
		opts = append(opts, github.WithBaseURL(c.GitHubAPIURL))
	}
	return github.NewClient(token, repoFullName, opts...)
}
