package themefinder

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads a pipeline configuration from a YAML file and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with. Zero values
// are allowed; they get defaults applied later.
func (c Config) Validate() error {
	if c.MaxBatchSize < 0 {
		return fmt.Errorf("max_batch_size must not be negative, got %d", c.MaxBatchSize)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must not be negative, got %d", c.MaxConcurrency)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.BackoffBaseMs < 0 {
		return fmt.Errorf("backoff_base_ms must not be negative, got %d", c.BackoffBaseMs)
	}
	if c.BackoffCapMs < 0 {
		return fmt.Errorf("backoff_cap_ms must not be negative, got %d", c.BackoffCapMs)
	}
	if c.BackoffCapMs > 0 && c.BackoffBaseMs > c.BackoffCapMs {
		return fmt.Errorf("backoff_base_ms (%d) must not exceed backoff_cap_ms (%d)", c.BackoffBaseMs, c.BackoffCapMs)
	}
	return nil
}
