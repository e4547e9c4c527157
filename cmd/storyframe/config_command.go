package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/storyframe/storyframe/internal/config"
	"github.com/storyframe/storyframe/internal/home"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage storyframe configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default config file (default: ~/.storyframe/config.yaml)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			dir, err := home.New("")
			if err != nil {
				return err
			}
			if err := dir.EnsureExists(); err != nil {
				return err
			}
			path = dir.ConfigPath()
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}
