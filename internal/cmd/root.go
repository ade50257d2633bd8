package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agent-command/tgbridge/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tgbridge",
	Short: "Drive Claude Code sessions in tmux from a Telegram chat",
	Long: `tgbridge relays Claude Code hook events to a Telegram chat and types the
operator's replies into the matching tmux window.

Run "tgbridge listen" once per machine and register "tgbridge hook" as the
Claude Code hook command (with CLAUDE_TG_HOOKS=1).`,
	SilenceUsage: true,
}

// Execute runs the root command and exits 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to config file")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "tgbridge", "config.yaml")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// loadChatConfig is loadConfig for commands that talk to Telegram.
func loadChatConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
