package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Tmux     TmuxConfig     `yaml:"tmux"`
	Paths    PathsConfig    `yaml:"paths"`
	Listener ListenerConfig `yaml:"listener"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

type TelegramConfig struct {
	Token          string `yaml:"token"`
	ChatID         string `yaml:"chat_id"`
	BaseURL        string `yaml:"base_url"`
	RequestTimeout int    `yaml:"request_timeout_ms"`
	RetryBackoffMs []int  `yaml:"retry_backoff_ms"`
	EnvFile        string `yaml:"env_file"`
}

type TmuxConfig struct {
	Bin            string `yaml:"bin"`
	Socket         string `yaml:"socket"`
	CommandTimeout int    `yaml:"command_timeout_ms"`
	RetryBackoffMs []int  `yaml:"retry_backoff_ms"`
	AgentCommand   string `yaml:"agent_command"`
}

type PathsConfig struct {
	RuntimeDir string `yaml:"runtime_dir"`
	StateDir   string `yaml:"state_dir"`
	ProjectDir string `yaml:"project_dir"`
}

type ListenerConfig struct {
	PollIntervalMs      int `yaml:"poll_interval_ms"`
	UpdatesTimeoutSec   int `yaml:"updates_timeout_sec"`
	RescanIntervalMs    int `yaml:"rescan_interval_ms"`
	InterruptIntervalMs int `yaml:"interrupt_interval_ms"`
	CleanupIntervalMs   int `yaml:"cleanup_interval_ms"`
	StopSettleMs        int `yaml:"stop_settle_ms"`
	BusyGraceMs         int `yaml:"busy_grace_ms"`
	QueueConfirmMs      int `yaml:"queue_confirm_ms"`
	DeepfocusDebounceMs int `yaml:"deepfocus_debounce_ms"`
	DeepfocusMaxDelayMs int `yaml:"deepfocus_max_delay_ms"`
	ReloadDebounceMs    int `yaml:"reload_debounce_ms"`
	SignalMaxAgeSec     int `yaml:"signal_max_age_sec"`
	DedupTTLMs          int `yaml:"dedup_ttl_ms"`
	AskTimeoutSec       int `yaml:"ask_timeout_sec"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ErrMissingCredentials is returned by Validate when the bot token or chat id is unset.
var ErrMissingCredentials = errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set")

// LoadConfig reads the YAML file at path. A missing file yields defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	home, _ := os.UserHomeDir()

	if cfg.Telegram.BaseURL == "" {
		cfg.Telegram.BaseURL = "https://api.telegram.org"
	}
	if cfg.Telegram.RequestTimeout == 0 {
		cfg.Telegram.RequestTimeout = 15000
	}
	if len(cfg.Telegram.RetryBackoffMs) == 0 {
		cfg.Telegram.RetryBackoffMs = []int{0, 500, 2000}
	}
	if cfg.Telegram.EnvFile == "" && home != "" {
		cfg.Telegram.EnvFile = filepath.Join(home, ".config", "tg_hook.env")
	}
	if cfg.Tmux.Bin == "" {
		cfg.Tmux.Bin = "tmux"
	}
	if cfg.Tmux.CommandTimeout == 0 {
		cfg.Tmux.CommandTimeout = 5000
	}
	if len(cfg.Tmux.RetryBackoffMs) == 0 {
		cfg.Tmux.RetryBackoffMs = []int{0, 200}
	}
	if cfg.Tmux.AgentCommand == "" {
		cfg.Tmux.AgentCommand = "claude"
	}
	if cfg.Paths.RuntimeDir == "" {
		cfg.Paths.RuntimeDir = filepath.Join(os.TempDir(), "tgbridge")
	}
	if cfg.Paths.StateDir == "" {
		cfg.Paths.StateDir = filepath.Join(home, ".config", "tgbridge")
	}
	if cfg.Paths.ProjectDir == "" {
		cfg.Paths.ProjectDir = filepath.Join(home, "projects")
	}

	l := &cfg.Listener
	setDefault(&l.PollIntervalMs, 1000)
	setDefault(&l.UpdatesTimeoutSec, 1)
	setDefault(&l.RescanIntervalMs, 10000)
	setDefault(&l.InterruptIntervalMs, 5000)
	setDefault(&l.CleanupIntervalMs, 5000)
	setDefault(&l.StopSettleMs, 4000)
	setDefault(&l.BusyGraceMs, 5000)
	setDefault(&l.QueueConfirmMs, 3000)
	setDefault(&l.DeepfocusDebounceMs, 3000)
	setDefault(&l.DeepfocusMaxDelayMs, 15000)
	setDefault(&l.ReloadDebounceMs, 2000)
	setDefault(&l.SignalMaxAgeSec, 600)
	setDefault(&l.DedupTTLMs, 10000)
	setDefault(&l.AskTimeoutSec, 300)

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func setDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func (cfg *Config) applyEnv() {
	// The env file is a fallback; process environment wins.
	fileVars, _ := ReadEnvFile(cfg.Telegram.EnvFile)

	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fileVars[key]
	}

	if v := lookup("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := lookup("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("TGBRIDGE_STATE_DIR"); v != "" {
		cfg.Paths.StateDir = v
	}
	if v := os.Getenv("TGBRIDGE_RUNTIME_DIR"); v != "" {
		cfg.Paths.RuntimeDir = v
	}
	if v := os.Getenv("TMUX_SOCKET"); v != "" {
		cfg.Tmux.Socket = v
	}
	if v := os.Getenv("TGBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks the settings needed to talk to Telegram.
func (cfg *Config) Validate() error {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "" {
		return ErrMissingCredentials
	}
	if _, err := strconv.ParseInt(cfg.Telegram.ChatID, 10, 64); err != nil {
		return fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", cfg.Telegram.ChatID, err)
	}
	return nil
}

// HooksEnabled reports whether hook events should be emitted. Read once per hook invocation.
func HooksEnabled() bool {
	return os.Getenv("CLAUDE_TG_HOOKS") == "1"
}

func (cfg *Config) SignalDir() string {
	return filepath.Join(cfg.Paths.RuntimeDir, "signals")
}

func (cfg *Config) VolatileDir() string {
	return filepath.Join(cfg.Paths.RuntimeDir, "state")
}

// EnsureDirs creates the runtime and state directories.
func (cfg *Config) EnsureDirs() error {
	for _, dir := range []string{cfg.SignalDir(), cfg.VolatileDir(), cfg.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Backoff converts a millisecond slice into retry delays.
func Backoff(ms []int) []time.Duration {
	out := make([]time.Duration, len(ms))
	for i, v := range ms {
		out[i] = Millis(v)
	}
	return out
}
