// Package config provides configuration loading for remedyd.
//
// Configuration is loaded from a YAML file, then overridden with environment
// variables. Every section carries defaults so an empty file yields a working
// advisory-mode deployment. Configuration load failure is the only fatal
// startup condition in remedyd.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete remedyd configuration.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Engine     EngineConfig     `koanf:"engine"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Memory     MemoryConfig     `koanf:"memory"`
	Policy     PolicyConfig     `koanf:"policy"`
	Gateway    GatewayConfig    `koanf:"gateway"`
	Audit      AuditConfig      `koanf:"audit"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// EngineConfig controls the event processing pipeline.
type EngineConfig struct {
	// RecallK is the number of similar incidents requested per event.
	RecallK int `koanf:"recall_k"`
	// BranchTimeout bounds the parallel recall/evaluate join.
	BranchTimeout Duration `koanf:"branch_timeout"`
	// EventRatePerSecond caps pipeline intake; excess events are rejected
	// before validation.
	EventRatePerSecond int `koanf:"event_rate_per_second"`
	// EventRateBurst is the token bucket burst size.
	EventRateBurst int `koanf:"event_rate_burst"`
	// Mode is the execution mode requested for gateway submissions:
	// "advisory", "approval" or "autonomous".
	Mode string `koanf:"mode"`
}

// ClassifierConfig controls anomaly classification.
type ClassifierConfig struct {
	// LatencyWeight, ErrorRateWeight and ResourceWeight combine per-metric
	// deviation scores into the overall anomaly score. They must sum to 1.
	LatencyWeight   float64 `koanf:"latency_weight"`
	ErrorRateWeight float64 `koanf:"error_rate_weight"`
	ResourceWeight  float64 `koanf:"resource_weight"`

	// BaselineAlpha is the exponential blend factor for adaptive baselines.
	BaselineAlpha float64 `koanf:"baseline_alpha"`

	// Static warning thresholds, used directly when no baseline exists and
	// as the fallback when baseline state is corrupt.
	LatencyWarningMs float64 `koanf:"latency_warning_ms"`
	ErrorRateWarning float64 `koanf:"error_rate_warning"`
	CPUWarning       float64 `koanf:"cpu_warning"`
	MemoryWarning    float64 `koanf:"memory_warning"`
}

// BreakerConfig configures a circuit breaker instance.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold int `koanf:"failure_threshold"`
	// RecoveryTimeout is how long the breaker stays open before permitting
	// a half-open trial call.
	RecoveryTimeout Duration `koanf:"recovery_timeout"`
}

// MemoryConfig controls the incident-outcome memory.
type MemoryConfig struct {
	// MaxIncidents is the LRU ceiling for incident nodes.
	MaxIncidents int `koanf:"max_incidents"`
	// VectorSize must match the embedding provider's dimension.
	VectorSize int `koanf:"vector_size"`
	// Breaker guards every memory call.
	Breaker BreakerConfig `koanf:"breaker"`
}

// ConditionSpec is one policy condition: metric OP threshold.
type ConditionSpec struct {
	Metric    string  `koanf:"metric"`
	Operator  string  `koanf:"operator"`
	Threshold float64 `koanf:"threshold"`
}

// PolicySpec declares a healing policy. Policies are immutable after load.
type PolicySpec struct {
	Name              string          `koanf:"name"`
	Priority          int             `koanf:"priority"`
	Conditions        []ConditionSpec `koanf:"conditions"`
	Actions           []string        `koanf:"actions"`
	Cooldown          Duration        `koanf:"cooldown"`
	MaxPerHour        int             `koanf:"max_per_hour"`
	Terminal          bool            `koanf:"terminal"`
	MinClassification string          `koanf:"min_classification"`
}

// PolicyConfig controls the policy engine.
type PolicyConfig struct {
	// MaxTrackedComponents bounds per-component cooldown/rate state.
	MaxTrackedComponents int `koanf:"max_tracked_components"`
	// Policies overrides the built-in default policy set when non-empty.
	Policies []PolicySpec `koanf:"policies"`
}

// BusinessHoursConfig restricts execution during configured hours.
type BusinessHoursConfig struct {
	Enabled bool `koanf:"enabled"`
	// StartHour and EndHour are local hours in [0,24).
	StartHour int `koanf:"start_hour"`
	EndHour   int `koanf:"end_hour"`
	// Location is an IANA timezone name, default UTC.
	Location string `koanf:"location"`
}

// GatewayConfig controls the safety gateway.
type GatewayConfig struct {
	// Blacklist lists tool names that are always denied.
	Blacklist []string `koanf:"blacklist"`
	// MaxBlastRadius is the maximum number of affected components/instances.
	MaxBlastRadius int `koanf:"max_blast_radius"`
	// ToolCooldown applies per tool+component pair.
	ToolCooldown Duration `koanf:"tool_cooldown"`
	// MaxCooldownEntries bounds the tool+component cooldown map.
	MaxCooldownEntries int `koanf:"max_cooldown_entries"`
	// ApprovalTTL is how long a pending approval lives before auto-reject.
	ApprovalTTL Duration `koanf:"approval_ttl"`
	// BusinessHours restricts unsafe actions during configured hours.
	BusinessHours BusinessHoursConfig `koanf:"business_hours"`
	// Breaker guards each registered tool.
	Breaker BreakerConfig `koanf:"breaker"`
}

// AuditConfig controls audit trail export.
type AuditConfig struct {
	// Exporter is "none", "jsonl" or "nats".
	Exporter string `koanf:"exporter"`
	// Path is the JSONL file path (jsonl exporter).
	Path string `koanf:"path"`
	// URL is the NATS server URL (nats exporter).
	URL string `koanf:"url"`
	// Subject is the NATS subject for execution records.
	Subject string `koanf:"subject"`
	// DisableScrubbing turns off secret redaction on exported records.
	// Scrubbing is on unless explicitly disabled.
	DisableScrubbing bool `koanf:"disable_scrubbing"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "metric" (deterministic projection) or "fastembed".
	Provider string `koanf:"provider"`
	// Model is the fastembed model name.
	Model string `koanf:"model"`
	// CacheDir is the fastembed model cache directory.
	CacheDir string `koanf:"cache_dir"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Listen  string `koanf:"listen"`
}

// TelemetryConfig controls OTLP trace export. Disabled by default; spans are
// no-ops until a provider is installed.
type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
	// Endpoint is the OTLP gRPC collector endpoint, host:port.
	Endpoint string `koanf:"endpoint"`
	// Insecure disables TLS on the collector connection.
	Insecure bool `koanf:"insecure"`
	// SampleRate is the parent-based trace sampling ratio in [0,1].
	SampleRate float64 `koanf:"sample_rate"`
	// ServiceName overrides the resource service.name attribute.
	ServiceName string `koanf:"service_name"`
}

// applyDefaults fills unset fields with working defaults.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Engine.RecallK == 0 {
		cfg.Engine.RecallK = 3
	}
	if cfg.Engine.BranchTimeout == 0 {
		cfg.Engine.BranchTimeout = Duration(2 * time.Second)
	}
	if cfg.Engine.EventRatePerSecond == 0 {
		cfg.Engine.EventRatePerSecond = 100
	}
	if cfg.Engine.EventRateBurst == 0 {
		cfg.Engine.EventRateBurst = cfg.Engine.EventRatePerSecond
	}
	if cfg.Engine.Mode == "" {
		cfg.Engine.Mode = "advisory"
	}

	if cfg.Classifier.LatencyWeight == 0 && cfg.Classifier.ErrorRateWeight == 0 && cfg.Classifier.ResourceWeight == 0 {
		cfg.Classifier.LatencyWeight = 0.4
		cfg.Classifier.ErrorRateWeight = 0.3
		cfg.Classifier.ResourceWeight = 0.3
	}
	if cfg.Classifier.BaselineAlpha == 0 {
		cfg.Classifier.BaselineAlpha = 0.1
	}
	if cfg.Classifier.LatencyWarningMs == 0 {
		cfg.Classifier.LatencyWarningMs = 200
	}
	if cfg.Classifier.ErrorRateWarning == 0 {
		cfg.Classifier.ErrorRateWarning = 0.05
	}
	if cfg.Classifier.CPUWarning == 0 {
		cfg.Classifier.CPUWarning = 0.75
	}
	if cfg.Classifier.MemoryWarning == 0 {
		cfg.Classifier.MemoryWarning = 0.75
	}

	if cfg.Memory.MaxIncidents == 0 {
		cfg.Memory.MaxIncidents = 1000
	}
	if cfg.Memory.VectorSize == 0 {
		cfg.Memory.VectorSize = 8
	}
	applyBreakerDefaults(&cfg.Memory.Breaker)

	if cfg.Policy.MaxTrackedComponents == 0 {
		cfg.Policy.MaxTrackedComponents = 1000
	}

	if cfg.Gateway.Blacklist == nil {
		cfg.Gateway.Blacklist = []string{
			"database_drop",
			"full_rollout",
			"system_shutdown",
			"secret_rotation",
		}
	}
	if cfg.Gateway.MaxBlastRadius == 0 {
		cfg.Gateway.MaxBlastRadius = 3
	}
	if cfg.Gateway.ToolCooldown == 0 {
		cfg.Gateway.ToolCooldown = Duration(5 * time.Minute)
	}
	if cfg.Gateway.MaxCooldownEntries == 0 {
		cfg.Gateway.MaxCooldownEntries = 100
	}
	if cfg.Gateway.ApprovalTTL == 0 {
		cfg.Gateway.ApprovalTTL = Duration(15 * time.Minute)
	}
	if cfg.Gateway.BusinessHours.Location == "" {
		cfg.Gateway.BusinessHours.Location = "UTC"
	}
	if cfg.Gateway.BusinessHours.EndHour == 0 && cfg.Gateway.BusinessHours.StartHour == 0 {
		cfg.Gateway.BusinessHours.StartHour = 9
		cfg.Gateway.BusinessHours.EndHour = 17
	}
	applyBreakerDefaults(&cfg.Gateway.Breaker)

	if cfg.Audit.Exporter == "" {
		cfg.Audit.Exporter = "none"
	}
	if cfg.Audit.Subject == "" {
		cfg.Audit.Subject = "remedyd.audit"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "metric"
	}

	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9464"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "remedyd"
	}
}

func applyBreakerDefaults(b *BreakerConfig) {
	if b.FailureThreshold == 0 {
		b.FailureThreshold = 3
	}
	if b.RecoveryTimeout == 0 {
		b.RecoveryTimeout = Duration(30 * time.Second)
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format: must be json or console, got %q", c.Logging.Format)
	}

	switch c.Engine.Mode {
	case "advisory", "approval", "autonomous":
	default:
		return fmt.Errorf("engine.mode: must be advisory, approval or autonomous, got %q", c.Engine.Mode)
	}

	sum := c.Classifier.LatencyWeight + c.Classifier.ErrorRateWeight + c.Classifier.ResourceWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("classifier: metric weights must sum to 1, got %.3f", sum)
	}
	if c.Classifier.BaselineAlpha <= 0 || c.Classifier.BaselineAlpha >= 1 {
		return fmt.Errorf("classifier.baseline_alpha: must be in (0,1), got %v", c.Classifier.BaselineAlpha)
	}

	if c.Memory.MaxIncidents < 1 {
		return fmt.Errorf("memory.max_incidents: must be positive, got %d", c.Memory.MaxIncidents)
	}
	if c.Memory.VectorSize < 1 {
		return fmt.Errorf("memory.vector_size: must be positive, got %d", c.Memory.VectorSize)
	}

	for i, p := range c.Policy.Policies {
		if p.Name == "" {
			return fmt.Errorf("policy.policies[%d]: name is required", i)
		}
		if len(p.Conditions) == 0 {
			return fmt.Errorf("policy %q: at least one condition is required", p.Name)
		}
		if len(p.Actions) == 0 {
			return fmt.Errorf("policy %q: at least one action is required", p.Name)
		}
	}

	bh := c.Gateway.BusinessHours
	if bh.StartHour < 0 || bh.StartHour > 23 || bh.EndHour < 0 || bh.EndHour > 24 {
		return fmt.Errorf("gateway.business_hours: hours out of range (%d-%d)", bh.StartHour, bh.EndHour)
	}

	switch c.Audit.Exporter {
	case "none", "jsonl", "nats":
	default:
		return fmt.Errorf("audit.exporter: must be none, jsonl or nats, got %q", c.Audit.Exporter)
	}
	if c.Audit.Exporter == "jsonl" && c.Audit.Path == "" {
		return fmt.Errorf("audit.path: required for jsonl exporter")
	}
	if c.Audit.Exporter == "nats" && c.Audit.URL == "" {
		return fmt.Errorf("audit.url: required for nats exporter")
	}

	switch c.Embeddings.Provider {
	case "metric", "fastembed":
	default:
		return fmt.Errorf("embeddings.provider: must be metric or fastembed, got %q", c.Embeddings.Provider)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate: must be in [0,1], got %v", c.Telemetry.SampleRate)
	}

	return nil
}
