package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-command/tgbridge/internal/signal"
)

func setup(t *testing.T) (*signal.Writer, *signal.Stash, *signal.Spool) {
	dir := t.TempDir()
	return signal.NewWriter(dir), signal.NewStash(dir), signal.NewSpool(dir)
}

var hc = HookContext{Pane: "%12", Window: "w4"}

func TestStopHook(t *testing.T) {
	w, stash, spool := setup(t)
	sig, err := HandleHook([]byte(`{"hook_event_name":"Stop","cwd":"/home/me/projects/api/"}`), hc, w, stash)
	require.NoError(t, err)
	require.NotNil(t, sig)

	sigs, errs := spool.Drain()
	require.Empty(t, errs)
	require.Len(t, sigs, 1)
	assert.Equal(t, signal.EventStop, sigs[0].Event)
	assert.Equal(t, "api", sigs[0].Project)
	assert.Equal(t, "%12", sigs[0].Pane)
	assert.Equal(t, "w4", sigs[0].Window)
}

func TestBashCommandStashedForPermission(t *testing.T) {
	w, stash, spool := setup(t)
	sig, err := HandleHook([]byte(`{"hook_event_name":"PreToolUse","tool_name":"Bash","tool_input":{"command":"rm -rf build"}}`), hc, w, stash)
	require.NoError(t, err)
	assert.Nil(t, sig)

	_, err = HandleHook([]byte(`{"hook_event_name":"Notification","notification_type":"permission_prompt","message":"Claude needs your permission to use Bash"}`), hc, w, stash)
	require.NoError(t, err)

	sigs, _ := spool.Drain()
	require.Len(t, sigs, 1)
	assert.Equal(t, signal.EventPermission, sigs[0].Event)
	assert.Equal(t, "rm -rf build", sigs[0].Cmd)
	assert.Equal(t, "Bash", sigs[0].Tool)
}

func TestPlanPermissionBecomesPlanEvent(t *testing.T) {
	w, stash, spool := setup(t)
	_, err := HandleHook([]byte(`{"hook_event_name":"PreToolUse","tool_name":"ExitPlanMode","tool_input":{}}`), hc, w, stash)
	require.NoError(t, err)
	_, err = HandleHook([]byte(`{"hook_event_name":"Notification","notification_type":"permission_prompt","message":"Claude needs your permission"}`), hc, w, stash)
	require.NoError(t, err)

	sigs, _ := spool.Drain()
	require.Len(t, sigs, 1)
	assert.Equal(t, signal.EventPlan, sigs[0].Event)
	assert.Equal(t, "ExitPlanMode", sigs[0].Tool)
}

func TestAttentionNotificationSkipped(t *testing.T) {
	w, stash, spool := setup(t)
	sig, err := HandleHook([]byte(`{"hook_event_name":"Notification","notification_type":"permission_prompt","message":"Claude needs your attention"}`), hc, w, stash)
	require.NoError(t, err)
	assert.Nil(t, sig)
	sigs, _ := spool.Drain()
	assert.Empty(t, sigs)
}

func TestQuestionHook(t *testing.T) {
	w, stash, _ := setup(t)
	payload := `{"hook_event_name":"PreToolUse","tool_name":"AskUserQuestion","tool_input":{"questions":[{"question":"Which DB?","options":[{"label":"Postgres","description":"relational"},{"label":"Redis"}]}]}}`
	sig, err := HandleHook([]byte(payload), hc, w, stash)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, signal.EventQuestion, sig.Event)
	require.Len(t, sig.Questions, 1)
	assert.Equal(t, "Which DB?", sig.Questions[0].Question)
	assert.Equal(t, "relational", sig.Questions[0].Options[0].Description)
}

func TestMalformedPayloadStillRecorded(t *testing.T) {
	w, stash, spool := setup(t)
	sig, err := HandleHook([]byte(`{"hook_event_name":`), hc, w, stash)
	require.NoError(t, err)
	require.NotNil(t, sig)

	sigs, _ := spool.Drain()
	require.Len(t, sigs, 1)
	assert.Equal(t, signal.EventError, sigs[0].Event)
	assert.NotEmpty(t, sigs[0].ParseError)
	assert.Equal(t, `{"hook_event_name":`, sigs[0].Raw)
}

func TestIdleAndEmptyPayloadsIgnored(t *testing.T) {
	w, stash, spool := setup(t)
	for _, raw := range []string{"", "  \n", `{"hook_event_name":"Notification","notification_type":"idle_prompt","message":"waiting"}`, `{"hook_event_name":"PostToolUse"}`} {
		sig, err := HandleHook([]byte(raw), hc, w, stash)
		require.NoError(t, err)
		assert.Nil(t, sig, raw)
	}
	sigs, _ := spool.Drain()
	assert.Empty(t, sigs)
}

func TestOtherNotificationForwarded(t *testing.T) {
	w, stash, _ := setup(t)
	sig, err := HandleHook([]byte(`{"hook_event_name":"Notification","notification_type":"auth_success","message":"Logged in"}`), hc, w, stash)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, signal.EventNotify, sig.Event)
}
