package operations

import (
	"time"
)

// Config represents the operation execution configuration
type Config struct {
	// Execution mode (sequential or parallel)
	ExecutionMode ExecutionMode `json:"execution_mode"`

	// Step-specific timeouts
	StepTimeouts map[string]time.Duration `json:"step_timeouts"`

	// Retry configuration for steps
	RetryConfig RetryConfig `json:"retry_config"`

	// Whether to continue past steps that do not depend on a failure
	ContinueOnError bool `json:"continue_on_error"`

	// Maximum concurrent steps (for parallel execution)
	MaxConcurrency int `json:"max_concurrency"`

	// Whether to persist the manifest after each step
	EnableCheckpoints bool `json:"enable_checkpoints"`

	// Checkpoint directory
	CheckpointDir string `json:"checkpoint_dir"`

	// Custom step configurations
	StepConfigs map[string]interface{} `json:"step_configs"`
}

// NewConfig returns the default operation configuration
func NewConfig() *Config {
	return &Config{
		ExecutionMode: ExecutionModeSequential,
		StepTimeouts: map[string]time.Duration{
			StepIDDiscover: DefaultDiscoverTimeout,
			StepIDLoad:     DefaultLoadTimeout,
			StepIDMetrics:  DefaultMetricsTimeout,
			StepIDScreen:   DefaultScreenTimeout,
			StepIDExport:   DefaultExportTimeout,
			StepIDReport:   DefaultReportTimeout,
		},
		RetryConfig:       NewRetryConfig(),
		ContinueOnError:   false,
		MaxConcurrency:    2,
		EnableCheckpoints: false,
		CheckpointDir:     "data/checkpoints",
		StepConfigs:       make(map[string]interface{}),
	}
}

// GetStepTimeout returns the timeout for a specific step
func (c *Config) GetStepTimeout(stepID string) time.Duration {
	if timeout, ok := c.StepTimeouts[stepID]; ok {
		return timeout
	}
	return DefaultStepTimeout
}

// SetStepTimeout sets the timeout for a specific step
func (c *Config) SetStepTimeout(stepID string, timeout time.Duration) {
	if c.StepTimeouts == nil {
		c.StepTimeouts = make(map[string]time.Duration)
	}
	c.StepTimeouts[stepID] = timeout
}

// GetStepConfig returns the configuration for a specific step
func (c *Config) GetStepConfig(stepID string) (interface{}, bool) {
	if c.StepConfigs == nil {
		return nil, false
	}
	config, ok := c.StepConfigs[stepID]
	return config, ok
}

// SetStepConfig sets the configuration for a specific step
func (c *Config) SetStepConfig(stepID string, config interface{}) {
	if c.StepConfigs == nil {
		c.StepConfigs = make(map[string]interface{})
	}
	c.StepConfigs[stepID] = config
}

// StepConfig represents configuration for individual steps
type StepConfig struct {
	// Step identification
	ID string `json:"id"`

	// Step type
	Type string `json:"type"`

	// Step dependencies
	Dependencies []string `json:"dependencies,omitempty"`

	// Number of retries
	Retries int `json:"retries,omitempty"`

	// Whether this step is enabled
	Enabled bool `json:"enabled"`

	// Whether to skip this step on failure
	SkipOnFailure bool `json:"skip_on_failure"`

	// Custom timeout for this step
	Timeout time.Duration `json:"timeout"`

	// Retry configuration override
	RetryConfig *RetryConfig `json:"retry_config,omitempty"`

	// Step-specific parameters
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// DiscoverStepConfig represents configuration for the discovery step
type DiscoverStepConfig struct {
	StepConfig
	Directory string `json:"directory"`
}

// LoadStepConfig represents configuration for the workbook loading step
type LoadStepConfig struct {
	StepConfig
	Workers int `json:"workers"`
}

// MetricsStepConfig represents configuration for the quality metrics step
type MetricsStepConfig struct {
	StepConfig
	SNRLastLag int `json:"snr_last_lag"`
}

// ScreenStepConfig represents configuration for the rule screening step
type ScreenStepConfig struct {
	StepConfig
	RulesPath string `json:"rules_path"`
}

// ExportStepConfig represents configuration for the export step
type ExportStepConfig struct {
	StepConfig
	OutputPath string `json:"output_path"`
}

// ReportStepConfig represents configuration for the report step
type ReportStepConfig struct {
	StepConfig
	OutputPath string `json:"output_path"`
}

// ConfigBuilder provides a fluent interface for building operation configurations
type ConfigBuilder struct {
	config *Config
}

// NewConfigBuilder creates a new configuration builder
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: NewConfig(),
	}
}

// WithExecutionMode sets the execution mode
func (b *ConfigBuilder) WithExecutionMode(mode ExecutionMode) *ConfigBuilder {
	b.config.ExecutionMode = mode
	return b
}

// WithStepTimeout sets the timeout for a step
func (b *ConfigBuilder) WithStepTimeout(stepID string, timeout time.Duration) *ConfigBuilder {
	b.config.SetStepTimeout(stepID, timeout)
	return b
}

// WithRetryConfig sets the retry configuration
func (b *ConfigBuilder) WithRetryConfig(config RetryConfig) *ConfigBuilder {
	b.config.RetryConfig = config
	return b
}

// WithContinueOnError sets whether to continue on errors
func (b *ConfigBuilder) WithContinueOnError(continueOnError bool) *ConfigBuilder {
	b.config.ContinueOnError = continueOnError
	return b
}

// WithMaxConcurrency sets the maximum concurrency
func (b *ConfigBuilder) WithMaxConcurrency(maxConcurrency int) *ConfigBuilder {
	b.config.MaxConcurrency = maxConcurrency
	return b
}

// WithCheckpoints enables manifest checkpointing
func (b *ConfigBuilder) WithCheckpoints(enabled bool, dir string) *ConfigBuilder {
	b.config.EnableCheckpoints = enabled
	if dir != "" {
		b.config.CheckpointDir = dir
	}
	return b
}

// WithStepConfig sets the configuration for a step
func (b *ConfigBuilder) WithStepConfig(stepID string, config interface{}) *ConfigBuilder {
	b.config.SetStepConfig(stepID, config)
	return b
}

// Build returns the built configuration
func (b *ConfigBuilder) Build() *Config {
	return b.config
}
