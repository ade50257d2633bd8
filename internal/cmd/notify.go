package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent-command/tgbridge/internal/logger"
	"github.com/agent-command/tgbridge/internal/telegram"
)

var notifyCmd = &cobra.Command{
	Use:   "notify [message]",
	Short: "Send a message to the chat",
	Example: `  tgbridge notify "deploy finished"`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadChatConfig()
		if err != nil {
			return err
		}
		logger.Configure(cfg.Log.Level, os.Stderr)
		msg := "ping"
		if len(args) > 0 {
			msg = args[0]
		}
		_, err = telegram.NewClient(&cfg.Telegram).Send(cmd.Context(), msg, telegram.SendOptions{})
		return err
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the chat a question and print the reply",
	Long: `Send a question to the chat and print the first reply on stdout. Gives up
after listener.ask_timeout_sec and exits 1.`,
	Example: `  answer=$(tgbridge ask "Ship it?")`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadChatConfig()
		if err != nil {
			return err
		}
		logger.Configure(cfg.Log.Level, os.Stderr)
		question := "Yes or no?"
		if len(args) > 0 {
			question = args[0]
		}
		client := telegram.NewClient(&cfg.Telegram)
		since := time.Now()
		if _, err := client.Send(cmd.Context(), fmt.Sprintf("❓ *Claude Code asks:*\n%s\n\nReply to respond", question), telegram.SendOptions{}); err != nil {
			return err
		}
		timeout := time.Duration(cfg.Listener.AskTimeoutSec) * time.Second
		reply, ok, err := client.WaitReply(cmd.Context(), since, timeout)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no reply within %s", timeout)
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(askCmd)
}
