package config

import (
	"fmt"
	"time"
)

// Config holds storyframe configuration.
// Stored at: ./config.yaml or ~/.storyframe/config.yaml
type Config struct {
	Segmenter SegmenterCfg `mapstructure:"segmenter" yaml:"segmenter"`
	Context   ContextCfg   `mapstructure:"context" yaml:"context"`
	Inference InferenceCfg `mapstructure:"inference" yaml:"inference"`
	Images    ImagesCfg    `mapstructure:"images" yaml:"images"`
	Prompt    PromptCfg    `mapstructure:"prompt" yaml:"prompt"`
	State     StateCfg     `mapstructure:"state" yaml:"state"`
}

// SegmenterCfg controls how paragraphs are grouped into pages.
// Lengths are in runes of page text.
type SegmenterCfg struct {
	TargetPageLength int     `mapstructure:"target_page_length" yaml:"target_page_length"`
	MaxPageLength    int     `mapstructure:"max_page_length" yaml:"max_page_length"`
	DialogueWeight   float64 `mapstructure:"dialogue_weight" yaml:"dialogue_weight"`
}

// ContextCfg controls the rolling narrative summary.
type ContextCfg struct {
	// TokenBudget caps the summary the tracker carries between pages.
	TokenBudget int `mapstructure:"token_budget" yaml:"token_budget"`
	// InputLimit caps the combined prior-summary + page text submitted to
	// inference; the prior summary is truncated oldest-first to fit.
	InputLimit int `mapstructure:"input_limit" yaml:"input_limit"`
}

// InferenceCfg configures the local text-inference capability.
type InferenceCfg struct {
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model          string        `mapstructure:"model" yaml:"model"`
	RetryLimit     int           `mapstructure:"retry_limit" yaml:"retry_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// RateLimit is requests per second against the local engine.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// ImagesCfg configures the hosted image-generation capability.
type ImagesCfg struct {
	// Provider selects the backend: "http" or "gemini".
	Provider string `mapstructure:"provider" yaml:"provider"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Model    string `mapstructure:"model" yaml:"model"`
	// APIKey supports ${ENV_VAR} syntax.
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	RetryLimit        int           `mapstructure:"retry_limit" yaml:"retry_limit"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	WorkerConcurrency int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	// RateLimit is requests per minute against the hosted service.
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// PromptCfg configures prompt synthesis.
type PromptCfg struct {
	// StyleDirective is prepended to every image prompt to keep the book's
	// illustrations in one visual style.
	StyleDirective string `mapstructure:"style_directive" yaml:"style_directive"`
}

// StateCfg configures run-state persistence.
type StateCfg struct {
	// Path is the SQLite checkpoint database location. Empty means
	// ~/.storyframe/storyframe.db.
	Path string `mapstructure:"path" yaml:"path"`
}

// Error reports an invalid configuration option. Config errors are fatal:
// they abort a run before any page is processed.
type Error struct {
	Option string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s %s", e.Option, e.Reason)
}

// Validate checks options the pipeline depends on. Component-level checks
// (segmenter lengths) happen where the values are used.
func (c *Config) Validate() error {
	if c.Segmenter.MaxPageLength <= 0 {
		return &Error{Option: "segmenter.max_page_length", Reason: "must be positive"}
	}
	if c.Segmenter.TargetPageLength <= 0 {
		return &Error{Option: "segmenter.target_page_length", Reason: "must be positive"}
	}
	if c.Context.TokenBudget <= 0 {
		return &Error{Option: "context.token_budget", Reason: "must be positive"}
	}
	if c.Images.WorkerConcurrency <= 0 {
		return &Error{Option: "images.worker_concurrency", Reason: "must be positive"}
	}
	if c.Images.RetryLimit < 0 {
		return &Error{Option: "images.retry_limit", Reason: "must not be negative"}
	}
	if c.Inference.RetryLimit < 0 {
		return &Error{Option: "inference.retry_limit", Reason: "must not be negative"}
	}
	return nil
}
