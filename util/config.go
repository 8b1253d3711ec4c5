package util

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppConfig is the full set of runtime knobs for the federation core, the
// HTTP proxy and the delivery worker. Field names mirror the GUC-style
// settings of the system this was distilled from, flattened into one YAML
// document instead of per-connection session variables.
type AppConfig struct {
	// Domain is the instance's federated hostname, used to build every
	// actor URI, inbox URI and WebFinger response this instance serves.
	Domain string `yaml:"domain"`

	// Https controls the scheme used when building URIs from Domain.
	Https bool `yaml:"https"`

	// AutoAcceptFollows accepts incoming Follow activities immediately
	// instead of leaving them pending for manual approval.
	AutoAcceptFollows bool `yaml:"auto_accept_follows"`

	// MaxDeliveryAttempts is the number of delivery attempts (including
	// the first) after which a delivery is marked Expired instead of
	// retried again. Valid range is 1-20.
	MaxDeliveryAttempts int `yaml:"max_delivery_attempts"`

	// DeliveryTimeoutSeconds bounds how long the external worker waits
	// for a single outbound POST before treating it as a failure. Valid
	// range is 5-120.
	DeliveryTimeoutSeconds int `yaml:"delivery_timeout_seconds"`

	// UserAgent is sent on every outbound delivery request.
	UserAgent string `yaml:"user_agent"`

	// SignatureClockSkewSeconds is the maximum allowed drift between an
	// inbound request's Date header and local time before the signature
	// is rejected as stale.
	SignatureClockSkewSeconds int `yaml:"signature_clock_skew_seconds"`

	// BlockSubdomains extends a domain block to match subdomains of the
	// blocked domain, not just an exact match.
	BlockSubdomains bool `yaml:"block_subdomains"`

	// HttpPort is the port the proxy listens on.
	HttpPort int `yaml:"http_port"`

	// DbPath is the path to the SQLite database file.
	DbPath string `yaml:"db_path"`

	// WorkerBatchSize is how many pending deliveries the external worker
	// claims per poll.
	WorkerBatchSize int `yaml:"worker_batch_size"`

	// WorkerPollIntervalSeconds is how often the external worker polls
	// for pending deliveries.
	WorkerPollIntervalSeconds int `yaml:"worker_poll_interval_seconds"`

	// WithJournald sends log output to journald instead of stderr.
	WithJournald bool `yaml:"with_journald"`

	// NodeName and NodeDescription populate the metadata block of the
	// NodeInfo document.
	NodeName        string `yaml:"node_name"`
	NodeDescription string `yaml:"node_description"`

	// OpenRegistrations is reported verbatim in the NodeInfo document.
	// This instance has no self-service signup endpoint; it only reflects
	// operator intent to crawlers.
	OpenRegistrations bool `yaml:"open_registrations"`
}

// DefaultConfig returns the configuration defaults, matching the original
// GUC defaults where this system carries a direct equivalent.
func DefaultConfig() AppConfig {
	return AppConfig{
		Https:                     true,
		AutoAcceptFollows:         true,
		MaxDeliveryAttempts:       8,
		DeliveryTimeoutSeconds:    30,
		UserAgent:                 fmt.Sprintf("%s/%s", Name, GetVersion()),
		SignatureClockSkewSeconds: 300,
		BlockSubdomains:           false,
		HttpPort:                  8080,
		DbPath:                    "./fedigraph.db",
		WorkerBatchSize:           20,
		WorkerPollIntervalSeconds: 5,
		WithJournald:              false,
		NodeName:                  Name,
		OpenRegistrations:         false,
	}
}

// ReadConf loads configuration from a YAML file at path, layering it over
// DefaultConfig. Domain has no default: a config that never sets it fails
// validation, since every URI this instance builds needs it.
func ReadConf(path string) (*AppConfig, error) {
	conf := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

// Validate checks that the loaded configuration is self-consistent enough
// to run, mirroring the range checks the original GUCs enforced at set
// time.
func (c *AppConfig) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("domain must be set")
	}
	if c.MaxDeliveryAttempts < 1 || c.MaxDeliveryAttempts > 20 {
		return fmt.Errorf("max_delivery_attempts must be between 1 and 20, got %d", c.MaxDeliveryAttempts)
	}
	if c.DeliveryTimeoutSeconds < 5 || c.DeliveryTimeoutSeconds > 120 {
		return fmt.Errorf("delivery_timeout_seconds must be between 5 and 120, got %d", c.DeliveryTimeoutSeconds)
	}
	if c.HttpPort < 1 || c.HttpPort > 65535 {
		return fmt.Errorf("http_port must be a valid port number, got %d", c.HttpPort)
	}
	return nil
}

// BaseURL returns the scheme+host prefix used to build every URI this
// instance serves.
func (c *AppConfig) BaseURL() string {
	scheme := "http"
	if c.Https {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Domain)
}
