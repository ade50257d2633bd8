package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-command/tgbridge/internal/signal"
)

func execute(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestVersion(t *testing.T) {
	out := execute(t, "", "version")
	assert.Equal(t, "tgbridge version "+Version+"\n", out)
}

func TestHookWritesSignal(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLAUDE_TG_HOOKS", "1")
	t.Setenv("TGBRIDGE_RUNTIME_DIR", dir)
	t.Setenv("TGBRIDGE_STATE_DIR", filepath.Join(dir, "state"))
	t.Setenv("TMUX_PANE", "")

	execute(t, `{"hook_event_name":"Stop","cwd":"/home/me/api"}`,
		"hook", "--config", filepath.Join(dir, "missing.yaml"))

	sigs, errs := signal.NewSpool(filepath.Join(dir, "signals")).Drain()
	require.Empty(t, errs)
	require.Len(t, sigs, 1)
	assert.Equal(t, signal.EventStop, sigs[0].Event)
	assert.Equal(t, "api", sigs[0].Project)
}

func TestHookDisabledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLAUDE_TG_HOOKS", "")
	t.Setenv("TGBRIDGE_RUNTIME_DIR", dir)

	execute(t, `{"hook_event_name":"Stop","cwd":"/home/me/api"}`,
		"hook", "--config", filepath.Join(dir, "missing.yaml"))

	sigs, errs := signal.NewSpool(filepath.Join(dir, "signals")).Drain()
	assert.Empty(t, errs)
	assert.Empty(t, sigs)
}

func TestSendPhotoMissingFile(t *testing.T) {
	rootCmd.SetArgs([]string{"send-photo", filepath.Join(t.TempDir(), "nope.png")})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}
