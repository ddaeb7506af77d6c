// Package themefinder extracts a consolidated set of qualitative themes from
// free-text survey responses by batching structured LLM classifications and
// reconciling the per-batch proposals into one canonical taxonomy.
package themefinder

import (
	"time"

	"github.com/dan-solli/themefinder/pkg/batch"
	"github.com/dan-solli/themefinder/pkg/cluster"
	"github.com/dan-solli/themefinder/pkg/extraction"
	"github.com/dan-solli/themefinder/pkg/llm"
	"github.com/dan-solli/themefinder/pkg/metrics"
	"github.com/dan-solli/themefinder/pkg/store"
	"github.com/dan-solli/themefinder/pkg/trace"
)

// Config holds configuration for the pipeline
type Config struct {
	// OpenAI API key (or key for any OpenAI-compatible endpoint)
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint (default: api.openai.com)
	BaseURL string `yaml:"base_url"`

	// Model for all pipeline stages (default: "gpt-4o-mini")
	Model string `yaml:"model"`

	// MaxBatchSize is the maximum responses per model call (default: 10)
	MaxBatchSize int `yaml:"max_batch_size"`

	// MaxConcurrency bounds in-flight model calls (default: 5)
	MaxConcurrency int `yaml:"max_concurrency"`

	// MaxRetries per batch before splitting (default: 3)
	MaxRetries int `yaml:"max_retries"`

	// BackoffBaseMs is the initial retry delay in milliseconds (default: 1000)
	BackoffBaseMs int `yaml:"backoff_base_ms"`

	// BackoffCapMs caps the retry delay in milliseconds (default: 30000)
	BackoffCapMs int `yaml:"backoff_cap_ms"`

	// MergeInstructions overrides the semantic-equivalence wording used
	// during reconciliation (optional)
	MergeInstructions string `yaml:"merge_instructions"`

	// Metrics receives pipeline metrics (optional, defaults to no-op)
	Metrics metrics.Collector `yaml:"-"`

	// Trace receives one run record per pipeline run (optional)
	Trace trace.Exporter `yaml:"-"`

	// Store persists finished runs (optional)
	Store store.ResultStore `yaml:"-"`
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 10
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 5
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBaseMs == 0 {
		c.BackoffBaseMs = 1000
	}
	if c.BackoffCapMs == 0 {
		c.BackoffCapMs = 30000
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNoopCollector()
	}
	return c
}

func (c Config) batchConfig() batch.Config {
	return batch.Config{
		MaxBatchSize:   c.MaxBatchSize,
		MaxConcurrency: c.MaxConcurrency,
		MaxRetries:     c.MaxRetries,
		BackoffBase:    time.Duration(c.BackoffBaseMs) * time.Millisecond,
		BackoffCap:     time.Duration(c.BackoffCapMs) * time.Millisecond,
	}
}

// Themefinder is the main entry point for the pipeline
type Themefinder struct {
	config    Config
	llm       llm.Client
	extractor *extraction.ThemeExtractor
	agent     *cluster.Agent
	generate  *batch.Processor
}

// New creates a pipeline backed by the OpenAI-compatible provider named in
// the config.
func New(cfg Config) (*Themefinder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var client *llm.OpenAIClient
	if cfg.BaseURL != "" {
		client = llm.NewOpenAIClientWithBaseURL(cfg.APIKey, cfg.BaseURL)
	} else {
		client = llm.NewOpenAIClient(cfg.APIKey)
	}
	if cfg.Model != "" {
		client.Model = cfg.Model
	}

	return NewWithClient(cfg, client)
}

// NewWithClient creates a pipeline with a caller-supplied completion client.
func NewWithClient(cfg Config, client llm.Client) (*Themefinder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	agent := cluster.NewAgent(client, cfg.batchConfig(), cfg.Metrics)
	agent.MergeInstructions = cfg.MergeInstructions

	return &Themefinder{
		config:    cfg,
		llm:       client,
		extractor: extraction.NewThemeExtractor(client),
		agent:     agent,
		generate:  batch.NewProcessor(cfg.batchConfig(), StageGenerate, cfg.Metrics),
	}, nil
}

// GetLLM returns the configured completion client
func (tf *Themefinder) GetLLM() llm.Client {
	return tf.llm
}
