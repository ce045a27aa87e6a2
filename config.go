package orchestrator

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devmind-run/orchestrator-core/events"
)

// Config is the orchestration-level configuration every request's defaults
// are drawn from, loadable from YAML the way WorkflowDefinition is.
type Config struct {
	GlobalTimeout      time.Duration `yaml:"global_timeout" json:"global_timeout"`
	DefaultToolTimeout time.Duration `yaml:"default_tool_timeout" json:"default_tool_timeout"`

	MaxRetryAttempts int           `yaml:"max_retry_attempts" json:"max_retry_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay" json:"retry_max_delay"`
	RetryJitter      float64       `yaml:"retry_jitter" json:"retry_jitter"`

	MaxPhaseConcurrency int  `yaml:"max_phase_concurrency" json:"max_phase_concurrency"`
	AllowPartialSuccess bool `yaml:"allow_partial_success" json:"allow_partial_success"`
	EnableCircuitBreaker bool `yaml:"enable_circuit_breaker" json:"enable_circuit_breaker"`

	EventQueueCapacity int                   `yaml:"event_queue_capacity" json:"event_queue_capacity"`
	EventOverflowPolicy events.OverflowPolicy `yaml:"-" json:"-"`

	AutoRegisterUnknownResources bool `yaml:"auto_register_unknown_resources" json:"auto_register_unknown_resources"`
	UnknownResourceCapacity      int  `yaml:"unknown_resource_capacity" json:"unknown_resource_capacity"`
}

// DefaultConfig returns sane defaults for every field Config doesn't require
// a caller to set explicitly.
func DefaultConfig() Config {
	return Config{
		GlobalTimeout:       5 * time.Minute,
		DefaultToolTimeout:  60 * time.Second,
		MaxRetryAttempts:    3,
		RetryBaseDelay:      200 * time.Millisecond,
		RetryMaxDelay:       30 * time.Second,
		RetryJitter:         0.2,
		MaxPhaseConcurrency: 0,
		AllowPartialSuccess: false,
		EventQueueCapacity:  1024,
		EventOverflowPolicy: events.DropOldestNonCritical,
	}
}

// LoadConfigYAML parses a YAML document into a Config, starting from
// DefaultConfig so an omitted field keeps its default rather than zeroing
// out.
func LoadConfigYAML(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
