package config

import "time"

// PipelineConfig contains the operational controls for the pipeline workers.
// Every field maps to an environment variable (see loader.go) and may also be
// set in leadpipe.yaml.
type PipelineConfig struct {
	// WorkerPollInterval is the sleep between idle polls of the run store.
	WorkerPollInterval time.Duration `yaml:"worker_poll_interval"`

	// LeaseSeconds is the duration of a per-entity claim lease.
	LeaseSeconds int `yaml:"lease_seconds"`

	// HeartbeatInterval is how often a worker upserts its heartbeat row.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// DeadWorkerThreshold is how stale a heartbeat must be before the
	// monitor treats the worker as dead and releases its leases.
	DeadWorkerThreshold time.Duration `yaml:"dead_worker_threshold"`

	// MonitorInterval is how often the heartbeat monitor scans.
	MonitorInterval time.Duration `yaml:"monitor_interval"`

	// StoppedHeartbeatRetention is how long stopped heartbeat rows are kept
	// before the monitor purges them.
	StoppedHeartbeatRetention time.Duration `yaml:"stopped_heartbeat_retention"`

	// OversampleFactor multiplies target_quantity to derive the discovery
	// target, compensating for research/contact attrition.
	OversampleFactor float64 `yaml:"oversample_factor"`

	// RegionCount is the number of parallel Agent regions during discovery.
	RegionCount int `yaml:"region_count"`

	// BatchSize caps companies per Agent call within a region. 0 disables
	// batching.
	BatchSize int `yaml:"batch_size"`

	// WorkerMaxLoops bounds a worker's iterations per run. 0 means unbounded;
	// defaults to 3 whenever RunFilterID is set, so bounded test runs never
	// spin forever.
	WorkerMaxLoops int `yaml:"worker_max_loops"`

	// RunFilterID restricts a worker to a single run when non-empty.
	RunFilterID string `yaml:"run_filter_id"`

	// RegionTimeout bounds a single regional Agent call.
	RegionTimeout time.Duration `yaml:"region_timeout"`

	// SettleSleep is the pause after a gateway session reset, giving the
	// tool gateway time to tear sessions down.
	SettleSleep time.Duration `yaml:"settle_sleep"`

	// SuppressionWindow is the recently-contacted lookback for suppression.
	SuppressionWindow time.Duration `yaml:"suppression_window"`
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		WorkerPollInterval:        3 * time.Second,
		LeaseSeconds:              600,
		HeartbeatInterval:         30 * time.Second,
		DeadWorkerThreshold:       5 * time.Minute,
		MonitorInterval:           60 * time.Second,
		StoppedHeartbeatRetention: 24 * time.Hour,
		OversampleFactor:          2.0,
		RegionCount:               1,
		BatchSize:                 10,
		WorkerMaxLoops:            0,
		RegionTimeout:             15 * time.Minute,
		SettleSleep:               2 * time.Second,
		SuppressionWindow:         90 * 24 * time.Hour,
	}
}

// Lease returns LeaseSeconds as a duration.
func (c *PipelineConfig) Lease() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

// MaxLoops resolves the effective loop bound: when a run filter is set and no
// explicit bound was configured, workers default to 3 loops.
func (c *PipelineConfig) MaxLoops() int {
	if c.WorkerMaxLoops == 0 && c.RunFilterID != "" {
		return 3
	}
	return c.WorkerMaxLoops
}
