package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// leadpipeYAML is the on-disk leadpipe.yaml structure.
type leadpipeYAML struct {
	Pipeline *PipelineConfig `yaml:"pipeline"`
	Agent    *AgentConfig    `yaml:"agent"`
	Delivery *DeliveryConfig `yaml:"delivery"`
}

// Initialize loads, merges, and validates configuration.
//
// Resolution order, lowest to highest precedence:
//  1. Built-in defaults
//  2. leadpipe.yaml in configDir (optional)
//  3. Environment variables
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := &Config{
		configDir: configDir,
		Pipeline:  DefaultPipelineConfig(),
		Agent:     DefaultAgentConfig(),
		Delivery:  DefaultDeliveryConfig(),
	}

	fileCfg, err := loadYAML(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if fileCfg != nil {
		if fileCfg.Pipeline != nil {
			if err := mergo.Merge(cfg.Pipeline, fileCfg.Pipeline, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge pipeline config: %w", err)
			}
		}
		if fileCfg.Agent != nil {
			if err := mergo.Merge(cfg.Agent, fileCfg.Agent, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge agent config: %w", err)
			}
		}
		if fileCfg.Delivery != nil {
			if err := mergo.Merge(cfg.Delivery, fileCfg.Delivery, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge delivery config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"oversample_factor", cfg.Pipeline.OversampleFactor,
		"region_count", cfg.Pipeline.RegionCount,
		"batch_size", cfg.Pipeline.BatchSize,
		"run_filter_id", cfg.Pipeline.RunFilterID)

	return cfg, nil
}

// loadYAML reads leadpipe.yaml from configDir. A missing file is not an
// error; env-only deployments are supported.
func loadYAML(configDir string) (*leadpipeYAML, error) {
	if configDir == "" {
		return nil, nil
	}
	path := filepath.Join(configDir, "leadpipe.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var cfg leadpipeYAML
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return &cfg, nil
}

// applyEnvOverrides maps the documented environment variables onto cfg.
func applyEnvOverrides(cfg *Config) {
	p := cfg.Pipeline
	envDuration("WORKER_POLL_INTERVAL", &p.WorkerPollInterval)
	envInt("LEASE_SECONDS", &p.LeaseSeconds)
	envDuration("HEARTBEAT_INTERVAL", &p.HeartbeatInterval)
	envDuration("DEAD_WORKER_THRESHOLD", &p.DeadWorkerThreshold)
	envDuration("MONITOR_INTERVAL", &p.MonitorInterval)
	envFloat("OVERSAMPLE_FACTOR", &p.OversampleFactor)
	envInt("REGION_COUNT", &p.RegionCount)
	envInt("BATCH_SIZE", &p.BatchSize)
	envInt("WORKER_MAX_LOOPS", &p.WorkerMaxLoops)
	envString("RUN_FILTER_ID", &p.RunFilterID)
	envDuration("REGION_TIMEOUT", &p.RegionTimeout)
	envDuration("SUPPRESSION_WINDOW", &p.SuppressionWindow)

	a := cfg.Agent
	envString("AGENT_GATEWAY_URL", &a.BaseURL)
	envDuration("AGENT_INVOKE_TIMEOUT", &a.InvokeTimeout)
	envInt("AGENT_MAX_ATTEMPTS", &a.MaxAttempts)
	envFloat("AGENT_RATE_PER_SECOND", &a.RatePerSecond)

	d := cfg.Delivery
	envString("SMTP_ADDR", &d.SMTPAddr)
	envString("SMTP_USER", &d.SMTPUser)
	envString("SMTP_PASSWORD", &d.SMTPPassword)
	envString("DELIVERY_FROM", &d.From)
	envString("OPERATOR_EMAIL", &d.OperatorEmail)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			slog.Warn("Ignoring invalid integer env var", "key", key, "value", v)
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		} else {
			slog.Warn("Ignoring invalid float env var", "key", key, "value", v)
		}
	}
}

// envDuration accepts either a Go duration string ("90s") or a bare number
// of seconds ("90"), matching how operators historically set these knobs.
func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return
	}
	slog.Warn("Ignoring invalid duration env var", "key", key, "value", v)
}

// validate performs sanity checks on the merged configuration.
func validate(cfg *Config) error {
	p := cfg.Pipeline
	if p.OversampleFactor < 1.0 {
		return fmt.Errorf("oversample_factor must be >= 1.0, got %v", p.OversampleFactor)
	}
	if p.RegionCount < 1 {
		return fmt.Errorf("region_count must be >= 1, got %d", p.RegionCount)
	}
	if p.LeaseSeconds <= 0 {
		return fmt.Errorf("lease_seconds must be positive, got %d", p.LeaseSeconds)
	}
	if p.BatchSize < 0 {
		return fmt.Errorf("batch_size must be >= 0, got %d", p.BatchSize)
	}
	if p.WorkerMaxLoops < 0 {
		return fmt.Errorf("worker_max_loops must be >= 0, got %d", p.WorkerMaxLoops)
	}
	if p.HeartbeatInterval <= 0 || p.DeadWorkerThreshold <= 0 {
		return fmt.Errorf("heartbeat_interval and dead_worker_threshold must be positive")
	}
	if p.DeadWorkerThreshold <= p.HeartbeatInterval {
		return fmt.Errorf("dead_worker_threshold (%v) must exceed heartbeat_interval (%v)",
			p.DeadWorkerThreshold, p.HeartbeatInterval)
	}
	if cfg.Agent.MaxAttempts < 1 {
		return fmt.Errorf("agent max_attempts must be >= 1, got %d", cfg.Agent.MaxAttempts)
	}
	return nil
}
