package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agent-command/tgbridge/internal/logger"
	"github.com/agent-command/tgbridge/internal/telegram"
)

var sendPhotoCmd = &cobra.Command{
	Use:     "send-photo <path> [caption]",
	Short:   "Send an image to the chat",
	Long:    "Send an image to the chat. Images over 1280px on either side go as a document.",
	Example: `  tgbridge send-photo screenshot.png "login page after the fix"`,
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendFile(cmd, args, "Photo", func(c *telegram.Client, ctx context.Context, path, caption string) (int, error) {
			return c.SendPhoto(ctx, path, caption)
		})
	},
}

var sendDocCmd = &cobra.Command{
	Use:     "send-doc <path> [caption]",
	Short:   "Send a file to the chat as a document",
	Example: `  tgbridge send-doc coverage.html`,
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendFile(cmd, args, "Document", func(c *telegram.Client, ctx context.Context, path, caption string) (int, error) {
			return c.SendDocument(ctx, path, caption)
		})
	},
}

func init() {
	rootCmd.AddCommand(sendPhotoCmd)
	rootCmd.AddCommand(sendDocCmd)
}

func sendFile(cmd *cobra.Command, args []string, kind string,
	upload func(c *telegram.Client, ctx context.Context, path, caption string) (int, error)) error {
	path := args[0]
	caption := ""
	if len(args) > 1 {
		caption = args[1]
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return fmt.Errorf("file not found: %s", path)
	}
	cfg, err := loadChatConfig()
	if err != nil {
		return err
	}
	logger.Configure(cfg.Log.Level, os.Stderr)
	if _, err := upload(telegram.NewClient(&cfg.Telegram), cmd.Context(), path, caption); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s sent: %s\n", kind, path)
	return nil
}
