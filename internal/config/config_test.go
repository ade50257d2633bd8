package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "TGBRIDGE_STATE_DIR", "TGBRIDGE_RUNTIME_DIR", "TMUX_SOCKET", "TGBRIDGE_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  env_file: "+filepath.Join(dir, "none.env")+"\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "tmux", cfg.Tmux.Bin)
	assert.Equal(t, "https://api.telegram.org", cfg.Telegram.BaseURL)
	assert.Equal(t, 5000, cfg.Listener.BusyGraceMs)
	assert.Equal(t, 4000, cfg.Listener.StopSettleMs)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, filepath.Join(cfg.Paths.RuntimeDir, "signals"), cfg.SignalDir())
}

func TestLoadConfigMissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Listener.PollIntervalMs)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram: [\n"), 0o600))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverridesAndEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, "tg.env")
	require.NoError(t, os.WriteFile(envFile, []byte("# creds\nTELEGRAM_BOT_TOKEN=file-token\nTELEGRAM_CHAT_ID=\"42\"\n"), 0o600))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  env_file: "+envFile+"\n"), 0o600))

	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("TGBRIDGE_STATE_DIR", filepath.Join(dir, "state"))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, "42", cfg.Telegram.ChatID)
	assert.Equal(t, filepath.Join(dir, "state"), cfg.Paths.StateDir)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	assert.ErrorIs(t, cfg.Validate(), ErrMissingCredentials)

	cfg.Telegram.Token = "t"
	cfg.Telegram.ChatID = "abc"
	assert.Error(t, cfg.Validate())

	cfg.Telegram.ChatID = "-100123"
	assert.NoError(t, cfg.Validate())
}

func TestHooksEnabled(t *testing.T) {
	t.Setenv("CLAUDE_TG_HOOKS", "")
	assert.False(t, HooksEnabled())
	t.Setenv("CLAUDE_TG_HOOKS", "1")
	assert.True(t, HooksEnabled())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, []time.Duration{0, 500 * time.Millisecond}, Backoff([]int{0, 500}))
}

func TestEnsureDirs(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{Paths: PathsConfig{RuntimeDir: filepath.Join(dir, "run"), StateDir: filepath.Join(dir, "cfg")}}
	require.NoError(t, cfg.EnsureDirs())
	assert.DirExists(t, cfg.SignalDir())
	assert.DirExists(t, cfg.VolatileDir())
	assert.DirExists(t, cfg.Paths.StateDir)
}
