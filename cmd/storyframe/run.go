package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/storyframe/storyframe/internal/book"
	"github.com/storyframe/storyframe/internal/config"
	"github.com/storyframe/storyframe/internal/export"
	"github.com/storyframe/storyframe/internal/home"
	"github.com/storyframe/storyframe/internal/imagegen"
	"github.com/storyframe/storyframe/internal/inference"
	"github.com/storyframe/storyframe/internal/pipeline"
	"github.com/storyframe/storyframe/internal/runstate"
)

var (
	outputPath string
	epubPath   string
)

var runCmd = &cobra.Command{
	Use:   "run <book.json>",
	Short: "Illustrate a book, resuming any interrupted run",
	Long: `Run processes the book page by page, generating one illustration per
page. Progress is checkpointed after every page: re-running the same book
skips pages that already finished and never regenerates an image whose
prompt is unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := slog.Default()

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := cm.Get()
		if err := cfg.Validate(); err != nil {
			return err
		}

		store, err := book.Load(args[0])
		if err != nil {
			return err
		}

		infClient, err := inference.NewOllamaClient(inference.OllamaConfig{
			Endpoint:       cfg.Inference.Endpoint,
			Model:          cfg.Inference.Model,
			RequestTimeout: cfg.Inference.RequestTimeout,
			RateLimit:      cfg.Inference.RateLimit,
		})
		if err != nil {
			return err
		}

		gen, err := buildGenerator(cmd, cfg)
		if err != nil {
			return err
		}

		statePath := cfg.State.Path
		if statePath == "" {
			dir, err := home.New("")
			if err != nil {
				return err
			}
			if err := dir.EnsureExists(); err != nil {
				return err
			}
			statePath = dir.StatePath()
		}
		stateStore, err := runstate.OpenSQLite(statePath)
		if err != nil {
			return err
		}
		defer stateStore.Close()

		coord := &pipeline.Coordinator{
			Inference: infClient,
			Generator: gen,
			Limiter:   imagegen.NewRateLimiter(cfg.Images.RateLimit),
			Store:     stateStore,
			Config:    cfg,
			Logger:    logger,
		}

		results, runErr := coord.Run(ctx, store)

		out := outputPath
		if out == "" {
			out = store.ID + ".pages.json"
		}
		if len(results) > 0 {
			if err := export.WriteFile(out, results); err != nil {
				return err
			}
			logger.Info("export written", "path", out, "pages", len(results))
		}
		if runErr != nil {
			return fmt.Errorf("run did not complete: %w", runErr)
		}
		if epubPath != "" {
			builder := export.NewEPUBBuilder(export.EPUBMeta{Title: store.ID}, results)
			if err := builder.Build(epubPath); err != nil {
				return err
			}
			logger.Info("epub written", "path", epubPath)
		}
		return nil
	},
}

// buildGenerator selects the image backend from config.
func buildGenerator(cmd *cobra.Command, cfg *config.Config) (imagegen.Generator, error) {
	apiKey := config.ResolveEnvVars(cfg.Images.APIKey)
	switch cfg.Images.Provider {
	case "gemini":
		return imagegen.NewGeminiGenerator(cmd.Context(), apiKey, cfg.Images.Model)
	case "http", "":
		return imagegen.NewHTTPGenerator(imagegen.HTTPConfig{
			Endpoint:       cfg.Images.Endpoint,
			APIKey:         apiKey,
			RequestTimeout: cfg.Images.RequestTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown image provider %q", cfg.Images.Provider)
	}
}

func init() {
	runCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output JSON path (default: <book>.pages.json)")
	runCmd.Flags().StringVar(&epubPath, "epub", "", "also write an illustrated ePub to this path")
}
