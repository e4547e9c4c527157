package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/storyframe/storyframe/version"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "storyframe",
	Short: "Turn books into sequences of illustrated pages",
	Long: `Storyframe converts a full-length literary text into illustrated pages:
contiguous spans of narrative text, each paired with an AI-generated image.

The pipeline includes:
  - Content-adaptive segmentation of paragraphs into pages
  - A bounded rolling summary that keeps illustrations consistent
  - Prompt synthesis via a local text-inference engine
  - Concurrent, rate-limited image generation with per-page caching
  - Resumable runs checkpointed after every page`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.storyframe/config.yaml)",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
