package config

import "time"

// DefaultStyleDirective keeps a book's illustrations in one coherent visual
// register when the config does not override it.
const DefaultStyleDirective = "Epic, cinematic high-fantasy style: sweeping natural " +
	"landscapes, dramatic contrast between light and shadow, detailed costumes in " +
	"earthy weathered tones, grounded realism with an otherworldly quality."

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Segmenter: SegmenterCfg{
			TargetPageLength: 1200,
			MaxPageLength:    2000,
			DialogueWeight:   0.7,
		},
		Context: ContextCfg{
			TokenBudget: 256,
			InputLimit:  6000,
		},
		Inference: InferenceCfg{
			Endpoint:       "http://localhost:11434",
			Model:          "mistral-nemo",
			RetryLimit:     3,
			RequestTimeout: 120 * time.Second,
			RateLimit:      2.0,
		},
		Images: ImagesCfg{
			Provider:          "http",
			Endpoint:          "",
			Model:             "",
			APIKey:            "${STORYFRAME_IMAGE_API_KEY}",
			RetryLimit:        5,
			RetryBaseDelay:    time.Second,
			RequestTimeout:    180 * time.Second,
			WorkerConcurrency: 4,
			RateLimit:         30,
		},
		Prompt: PromptCfg{
			StyleDirective: DefaultStyleDirective,
		},
		State: StateCfg{
			// Empty means ~/.storyframe/storyframe.db.
			Path: "",
		},
	}
}
