package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/agent-command/tgbridge/internal/config"
	"github.com/agent-command/tgbridge/internal/listener"
	"github.com/agent-command/tgbridge/internal/logger"
	"github.com/agent-command/tgbridge/internal/metrics"
	"github.com/agent-command/tgbridge/internal/proc"
	"github.com/agent-command/tgbridge/internal/signal"
	"github.com/agent-command/tgbridge/internal/state"
	"github.com/agent-command/tgbridge/internal/telegram"
	"github.com/agent-command/tgbridge/internal/tmux"
)

const (
	gitCacheTTL     = 10 * time.Second
	farewellTimeout = 5 * time.Second
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the bridge loop",
	Long: `Run the bridge loop: drain hook signals, watch sessions and answer the chat.

Only one listener may run per runtime directory. When the tgbridge binary is
rebuilt in place the listener persists its state and re-executes itself.`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, _ []string) error {
	cfg, err := loadChatConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	if cfg.Log.File != "" {
		closer, err := logger.ConfigureFile(cfg.Log.Level, cfg.Log.File)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer closer.Close()
	} else {
		logger.Configure(cfg.Log.Level, os.Stderr)
	}

	lock, err := state.AcquireLock(cfg.Paths.StateDir, cfg.Paths.RuntimeDir)
	if err != nil {
		return err
	}
	locked := true
	defer func() {
		if locked {
			lock.Release()
		}
	}()

	ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := state.Open(cfg.VolatileDir(), cfg.Paths.StateDir, nil)
	if err != nil {
		return err
	}

	m := metrics.New()
	go func() {
		if err := m.Serve(ctx, cfg.Metrics.Listen); err != nil {
			logger.Warnf("metrics: %v", err)
		}
	}()

	tc := tmux.NewClient(&cfg.Tmux)
	scanner := tmux.NewScanner(tc, cfg.Tmux.AgentCommand,
		func() proc.Tree { return proc.TakeSnapshot() },
		tmux.NewGitCache(gitCacheTTL))

	exe, err := os.Executable()
	if err != nil {
		logger.Warnf("listen: cannot locate executable, reload disabled: %v", err)
		exe = ""
	}
	deps := listener.Deps{
		Config:  cfg,
		Chat:    telegram.NewClient(&cfg.Telegram),
		Mux:     tc,
		Scanner: scanner,
		Store:   store,
		Spool:   signal.NewSpool(cfg.SignalDir()),
		Metrics: m,
	}
	if w, err := listener.NewWatcher(exe, cfg.SignalDir(), config.Millis(cfg.Listener.ReloadDebounceMs)); err != nil {
		logger.Warnf("listen: filesystem watcher disabled: %v", err)
	} else {
		go w.Run(ctx)
		deps.Reload, deps.Wake = w.Reload(), w.Wake()
	}

	l := listener.New(deps)
	logger.Infof("listen: starting (runtime %s, state %s)", cfg.Paths.RuntimeDir, cfg.Paths.StateDir)
	runErr := l.Run(ctx)

	switch {
	case errors.Is(runErr, listener.ErrReload):
		if err := store.Flush(); err != nil {
			logger.Warnf("listen: flush before reload: %v", err)
		}
		lock.Release()
		locked = false
		logger.Infof("listen: re-executing %s", exe)
		if err := unix.Exec(exe, os.Args, os.Environ()); err != nil {
			return fmt.Errorf("failed to re-exec %s: %w", exe, err)
		}
		return nil
	case errors.Is(runErr, listener.ErrQuit):
		logger.Infof("listen: quit from chat")
	case runErr != nil:
		return runErr
	default:
		fctx, cancel := context.WithTimeout(context.Background(), farewellTimeout)
		l.Farewell(fctx)
		cancel()
		logger.Infof("listen: stopped")
	}
	return store.Flush()
}
