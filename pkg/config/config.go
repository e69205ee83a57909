// Package config loads and validates leadpipe configuration. Built-in
// defaults are merged with an optional leadpipe.yaml and finally overridden
// by environment variables, so deployments can run with nothing but env.
package config

import "time"

// Config is the umbrella configuration object returned by Initialize().
type Config struct {
	configDir string

	// Pipeline holds worker/lease/oversampling controls.
	Pipeline *PipelineConfig

	// Agent holds the Agent gateway client settings.
	Agent *AgentConfig

	// Delivery holds export + email notification settings.
	Delivery *DeliveryConfig
}

// AgentConfig contains the Agent gateway client settings.
type AgentConfig struct {
	// BaseURL of the agent gateway, e.g. http://localhost:9090.
	BaseURL string `yaml:"base_url"`

	// InvokeTimeout bounds a single non-regional agent invocation
	// (research, contacts). Regional discovery calls use
	// Pipeline.RegionTimeout instead.
	InvokeTimeout time.Duration `yaml:"invoke_timeout"`

	// MaxAttempts for the retry harness around agent calls.
	MaxAttempts int `yaml:"max_attempts"`

	// RatePerSecond throttles gateway calls across all in-process workers.
	RatePerSecond float64 `yaml:"rate_per_second"`

	// RateBurst is the limiter burst size.
	RateBurst int `yaml:"rate_burst"`
}

// DefaultAgentConfig returns the built-in agent gateway defaults.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		BaseURL:       "http://localhost:9090",
		InvokeTimeout: 10 * time.Minute,
		MaxAttempts:   3,
		RatePerSecond: 1,
		RateBurst:     4,
	}
}

// DeliveryConfig contains email notification settings. Delivery is disabled
// (nil notifier) when SMTPAddr or From is empty.
type DeliveryConfig struct {
	SMTPAddr     string `yaml:"smtp_addr"` // host:port
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
	From         string `yaml:"from"`

	// OperatorEmail receives error alerts and dead-worker notices.
	OperatorEmail string `yaml:"operator_email"`
}

// DefaultDeliveryConfig returns the built-in delivery defaults.
func DefaultDeliveryConfig() *DeliveryConfig {
	return &DeliveryConfig{}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}
