package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent-command/tgbridge/internal/config"
	"github.com/agent-command/tgbridge/internal/logger"
	"github.com/agent-command/tgbridge/internal/providers"
	"github.com/agent-command/tgbridge/internal/signal"
	"github.com/agent-command/tgbridge/internal/tmux"
)

const hookTmuxTimeout = 3 * time.Second

var hookCmd = &cobra.Command{
	Use:    "hook",
	Short:  "Process a Claude Code hook event from stdin (internal use)",
	Hidden: true,
	Long: `Read one Claude Code hook payload from stdin and write a signal file for
the listener. Does nothing unless CLAUDE_TG_HOOKS=1.

The hook never talks to Telegram and always exits 0 so it cannot block the
agent.`,
	Example: `  echo '{"hook_event_name":"Stop","cwd":"/home/me/api"}' | CLAUDE_TG_HOOKS=1 tgbridge hook`,
	Args:    cobra.NoArgs,
	RunE:    runHook,
}

func init() {
	rootCmd.AddCommand(hookCmd)
}

func runHook(cmd *cobra.Command, _ []string) error {
	raw, _ := io.ReadAll(cmd.InOrStdin())
	if !config.HooksEnabled() {
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil
	}
	if err := os.MkdirAll(cfg.Paths.RuntimeDir, 0o700); err == nil {
		if closer, err := logger.ConfigureFile(cfg.Log.Level, filepath.Join(cfg.Paths.RuntimeDir, "hook.log")); err == nil {
			defer closer.Close()
		}
	}

	hc := hookContext(cmd.Context(), cfg)
	dir := cfg.SignalDir()
	sig, err := providers.HandleHook(raw, hc, signal.NewWriter(dir), signal.NewStash(dir))
	if err != nil {
		logger.Errorf("hook: %v", err)
		return nil
	}
	if sig != nil {
		logger.Infof("hook: wrote %s for %s (%s)", sig.Event, sig.Window, sig.Project)
	}
	return nil
}

// hookContext locates the agent's pane and window from TMUX_PANE.
func hookContext(ctx context.Context, cfg *config.Config) providers.HookContext {
	pane := os.Getenv("TMUX_PANE")
	hc := providers.HookContext{Pane: pane}
	if pane == "" {
		return hc
	}
	ctx, cancel := context.WithTimeout(ctx, hookTmuxTimeout)
	defer cancel()
	w, err := tmux.NewClient(&cfg.Tmux).WindowID(ctx, pane)
	if err != nil {
		logger.Warnf("hook: window of %s: %v", pane, err)
		return hc
	}
	hc.Window = w
	return hc
}
