package listener

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-command/tgbridge/internal/clock"
	"github.com/agent-command/tgbridge/internal/config"
	"github.com/agent-command/tgbridge/internal/metrics"
	"github.com/agent-command/tgbridge/internal/permission"
	"github.com/agent-command/tgbridge/internal/signal"
	"github.com/agent-command/tgbridge/internal/state"
	"github.com/agent-command/tgbridge/internal/telegram"
	"github.com/agent-command/tgbridge/internal/tmux"
)

const (
	idleScreen   = "● Done with task\n  Result: 42\n\n❯ \n"
	busyScreen   = "● Working on something\n  Processing files...\n"
	dialogScreen = "● Bash(ls -la)\n\nDo you want to proceed?\n❯ 1. Yes\n  2. Yes, and don't ask again\n  3. No\n"
)

type sentMessage struct {
	Text string
	Opts telegram.SendOptions
}

type fakeChat struct {
	mu       sync.Mutex
	sent     []sentMessage
	updates  [][]telegram.Update
	answered map[string]string
	removed  []int
}

func (c *fakeChat) Send(_ context.Context, text string, opts telegram.SendOptions) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{Text: text, Opts: opts})
	return len(c.sent), nil
}

func (c *fakeChat) GetUpdates(context.Context, int, int) ([]telegram.Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.updates) == 0 {
		return nil, nil
	}
	u := c.updates[0]
	c.updates = c.updates[1:]
	return u, nil
}

func (c *fakeChat) SkipBacklog(context.Context) (int, error) { return 0, nil }

func (c *fakeChat) AnswerCallback(_ context.Context, id, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answered == nil {
		c.answered = map[string]string{}
	}
	c.answered[id] = text
	return nil
}

func (c *fakeChat) RemoveKeyboard(_ context.Context, id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, id)
	return nil
}

func (c *fakeChat) SetCommands(context.Context, []telegram.BotCommand) error { return nil }

func (c *fakeChat) DownloadFile(context.Context, string, string) error { return nil }

func (c *fakeChat) ChatID() string { return "42" }

// containing returns the sent messages whose text contains substr.
func (c *fakeChat) containing(substr string) []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sentMessage
	for _, m := range c.sent {
		if strings.Contains(m.Text, substr) {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeChat) last() sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return sentMessage{}
	}
	return c.sent[len(c.sent)-1]
}

type fakeMux struct {
	mu      sync.Mutex
	screens map[string]string
	gone    map[string]bool
	sent    []*tmux.Sequence
}

func (m *fakeMux) vanish(pane string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gone == nil {
		m.gone = map[string]bool{}
	}
	m.gone[pane] = true
}

func (m *fakeMux) setScreen(pane, raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screens[pane] = raw
}

func (m *fakeMux) Capture(_ context.Context, target string, _ int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gone[target] {
		return "", tmux.ErrSessionVanished
	}
	return m.screens[target], nil
}

func (m *fakeMux) CursorX(context.Context, string) (int, bool) { return 0, false }

func (m *fakeMux) Width(context.Context, string) int { return 120 }

func (m *fakeMux) Send(_ context.Context, seq *tmux.Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, seq)
	return nil
}

func (m *fakeMux) NewWindow(context.Context, string, string) (string, error) { return "9", nil }

// literals returns the text typed by every sequence, in order.
func (m *fakeMux) literals() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, seq := range m.sent {
		args := seq.Args()
		for i := 0; i+1 < len(args); i++ {
			if args[i] == "-l" && args[i+1] == "--" && i+2 < len(args) {
				out = append(out, args[i+2])
			}
		}
	}
	return out
}

func (m *fakeMux) sequences() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.sent))
	for i, seq := range m.sent {
		out[i] = seq.Args()
	}
	return out
}

type fakeScanner struct {
	sessions map[string]tmux.Session
	onScan   func()
}

func (s *fakeScanner) Scan(context.Context) (tmux.ScanResult, error) {
	if s.onScan != nil {
		s.onScan()
	}
	out := make(map[string]tmux.Session, len(s.sessions))
	for k, v := range s.sessions {
		out[k] = v
	}
	return tmux.ScanResult{Sessions: out}, nil
}

func (s *fakeScanner) Forget(string) {}

type harness struct {
	l       *Listener
	chat    *fakeChat
	mux     *fakeMux
	scanner *fakeScanner
	store  *state.Store
	clock  *clock.FakeClock
	writer *signal.Writer
}

func session(w, project string) tmux.Session {
	return tmux.Session{
		Window:  w,
		Project: project,
		Pane:    tmux.Pane{PaneID: "%" + w, SessionName: "main", PaneIndex: 0},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Paths.RuntimeDir = filepath.Join(dir, "run")
	cfg.Paths.StateDir = filepath.Join(dir, "persist")
	cfg.Paths.ProjectDir = filepath.Join(dir, "projects")

	clk := clock.Fake(time.Now())
	store, err := state.Open(cfg.VolatileDir(), cfg.Paths.StateDir, clk)
	require.NoError(t, err)

	chat := &fakeChat{}
	mux := &fakeMux{screens: map[string]string{"%4": idleScreen}}
	scanner := &fakeScanner{sessions: map[string]tmux.Session{"4": session("4", "api")}}

	l := New(Deps{
		Config:  cfg,
		Chat:    chat,
		Mux:     mux,
		Scanner: scanner,
		Store:   store,
		Spool:   signal.NewSpool(cfg.SignalDir()),
		Metrics: metrics.New(),
		Clock:   clk,
	})
	l.rescan(context.Background())
	return &harness{l: l, chat: chat, mux: mux, scanner: scanner, store: store, clock: clk, writer: signal.NewWriter(cfg.SignalDir())}
}

func (h *harness) write(t *testing.T, sig signal.Signal) {
	t.Helper()
	sig.CreatedAt = h.clock.Now()
	_, err := h.writer.Write(&sig)
	require.NoError(t, err)
}

func (h *harness) text(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, h.l.dispatch(context.Background(), telegram.Incoming{Text: text}))
}

func TestDuplicateSignalSendsOneMessage(t *testing.T) {
	h := newHarness(t)
	notify := signal.Signal{Event: signal.EventNotify, Window: "w4", Pane: "%4", Project: "api", Message: "needs your attention"}
	h.write(t, notify)
	h.write(t, notify)

	require.NoError(t, h.l.Step(context.Background()))

	assert.Len(t, h.chat.containing("needs your attention"), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.l.metrics.SignalsDropped.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.l.metrics.SignalsProcessed.WithLabelValues("notification")))
}

func TestStaleSignalDropped(t *testing.T) {
	h := newHarness(t)
	old := signal.Signal{Event: signal.EventNotify, Window: "w4", Message: "from before the restart"}
	h.write(t, old)
	h.clock.Advance(time.Duration(h.l.lc.SignalMaxAgeSec+1) * time.Second)

	require.NoError(t, h.l.Step(context.Background()))

	assert.Empty(t, h.chat.containing("from before the restart"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.l.metrics.SignalsDropped.WithLabelValues("stale")))
}

func TestQueuedMessagesFlushInOrderAfterConfirmedIdle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mux.setScreen("%4", busyScreen)

	h.text(t, "M1")
	h.text(t, "M2")
	h.text(t, "M3")
	require.Len(t, h.store.Queued("w4"), 3)
	assert.Len(t, h.chat.containing("Saved for"), 3)
	assert.Empty(t, h.mux.literals())

	h.mux.setScreen("%4", idleScreen)
	require.NoError(t, h.l.Step(ctx))
	assert.Empty(t, h.mux.literals(), "one idle observation is not enough")

	h.clock.Advance(config.Millis(h.l.lc.QueueConfirmMs))
	require.NoError(t, h.l.Step(ctx))

	assert.Equal(t, []string{"M1 M2 M3"}, h.mux.literals())
	assert.Empty(t, h.store.Queued("w4"))
	assert.Len(t, h.chat.containing("Sent 3 saved message(s)"), 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(h.l.metrics.MessagesFlushed))
}

func TestBusyObservationRestartsConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mux.setScreen("%4", busyScreen)
	h.text(t, "later")

	h.mux.setScreen("%4", idleScreen)
	require.NoError(t, h.l.Step(ctx))
	h.mux.setScreen("%4", busyScreen)
	h.clock.Advance(2 * time.Second)
	require.NoError(t, h.l.Step(ctx))
	h.mux.setScreen("%4", idleScreen)
	h.clock.Advance(2 * time.Second)
	require.NoError(t, h.l.Step(ctx))

	assert.Empty(t, h.mux.literals())
	assert.Len(t, h.store.Queued("w4"), 1)
}

func TestGodModeAutoApprovesBashButNotPlan(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SetGodMode("4", true))
	h.mux.setScreen("%4", dialogScreen)

	h.write(t, signal.Signal{Event: signal.EventPermission, Window: "w4", Pane: "%4", Project: "api", Tool: "Bash", Cmd: "ls -la"})
	require.NoError(t, h.l.Step(context.Background()))

	assert.Equal(t, [][]string{permission.SelectSequence("%4", 1).Args()}, h.mux.sequences())
	assert.Nil(t, h.store.Prompt("w4"))
	assert.Len(t, h.chat.containing("Auto-allowed"), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.l.metrics.AutoApprovals))

	h.clock.Advance(time.Second)
	h.write(t, signal.Signal{Event: signal.EventPlan, Window: "w4", Pane: "%4", Project: "api", Tool: "ExitPlanMode", Message: "Ready to code?"})
	require.NoError(t, h.l.Step(context.Background()))

	assert.Len(t, h.mux.sequences(), 1, "plan approval must not be typed")
	p := h.store.Prompt("w4")
	require.NotNil(t, p)
	assert.Equal(t, permission.KindPlan, p.Kind)
	assert.Len(t, h.chat.containing("🔧"), 1)
}

func TestPermissionCallbackSelectsOption(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mux.setScreen("%4", dialogScreen)
	h.write(t, signal.Signal{Event: signal.EventPermission, Window: "w4", Pane: "%4", Project: "api", Cmd: "rm -rf build"})
	require.NoError(t, h.l.Step(ctx))

	p := h.store.Prompt("w4")
	require.NotNil(t, p)
	perm := h.chat.containing("needs permission")
	require.Len(t, perm, 1)
	kb, ok := perm[0].Opts.Markup.(*telegram.InlineKeyboard)
	require.True(t, ok)
	require.NotNil(t, kb)

	cb := &telegram.Callback{ID: "cb1", Data: "perm_w4_" + strconv.Itoa(p.Total), MessageID: 77}
	require.NoError(t, h.l.dispatch(ctx, telegram.Incoming{Callback: cb}))

	assert.Equal(t, [][]string{permission.SelectSequence("%4", p.Total).Args()}, h.mux.sequences())
	assert.Contains(t, h.chat.answered, "cb1")
	assert.Equal(t, []int{77}, h.chat.removed)
	assert.Contains(t, h.chat.last().Text, "❌ Denied in `w4`")
	assert.Nil(t, h.store.Prompt("w4"))
}

func TestExpiredPermissionCallback(t *testing.T) {
	h := newHarness(t)
	cb := &telegram.Callback{ID: "cb2", Data: "perm_w4_1", MessageID: 5}
	require.NoError(t, h.l.dispatch(context.Background(), telegram.Incoming{Callback: cb}))

	assert.Equal(t, "Prompt expired", h.chat.answered["cb2"])
	assert.Empty(t, h.mux.sequences())
}

func TestReplyAnswersOpenPrompt(t *testing.T) {
	h := newHarness(t)
	p := permission.NewPermission("%4", "api", 3, nil, h.clock.Now())
	require.NoError(t, h.store.SavePrompt("w4", p))

	h.text(t, "2")

	assert.Equal(t, [][]string{permission.SelectSequence("%4", 2).Args()}, h.mux.sequences())
	assert.Contains(t, h.chat.last().Text, "Selected option 2")
	assert.Nil(t, h.store.Prompt("w4"))
}

func TestUnmatchedReplyKeepsPrompt(t *testing.T) {
	h := newHarness(t)
	p := permission.NewPermission("%4", "api", 3, nil, h.clock.Now())
	require.NoError(t, h.store.SavePrompt("w4", p))

	h.text(t, "maybe later")

	assert.Empty(t, h.mux.sequences())
	assert.NotNil(t, h.store.Prompt("w4"))
	assert.Contains(t, h.chat.last().Text, "waiting on a prompt")
}

func TestNotificationPolicyControlsSilence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.text(t, "/notification off")
	assert.Empty(t, h.store.Loud())
	h.write(t, signal.Signal{Event: signal.EventStop, Window: "w4", Pane: "%4", Project: "api"})
	require.NoError(t, h.l.Step(ctx))
	done := h.chat.containing("finished")
	require.Len(t, done, 1)
	assert.True(t, done[0].Opts.Silent)

	h.text(t, "/notification all")
	assert.Len(t, h.store.Loud(), len(state.AllCategories()))
	h.clock.Advance(time.Minute)
	h.write(t, signal.Signal{Event: signal.EventStop, Window: "w4", Pane: "%4", Project: "api", Message: "again"})
	require.NoError(t, h.l.Step(ctx))
	done = h.chat.containing("finished")
	require.Len(t, done, 2)
	assert.False(t, done[1].Opts.Silent)
}

func TestStopSendsCleanedResponse(t *testing.T) {
	h := newHarness(t)
	h.write(t, signal.Signal{Event: signal.EventStop, Window: "w4", Pane: "%4", Project: "api"})
	require.NoError(t, h.l.Step(context.Background()))

	done := h.chat.containing("finished")
	require.Len(t, done, 1)
	assert.Contains(t, done[0].Text, "Result: 42")
	assert.Equal(t, config.Millis(h.l.lc.StopSettleMs), h.clock.Slept())
	msg, ok := h.store.LastMessage("w4")
	assert.True(t, ok)
	assert.Contains(t, msg, "Result: 42")
}

func TestStopsCloseTogetherBothReported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, signal.Signal{Event: signal.EventStop, Window: "w4", Pane: "%4", Project: "api"})
	require.NoError(t, h.l.Step(ctx))

	h.mux.setScreen("%4", "● Second answer\n  Result: 43\n\n❯ \n")
	h.clock.Advance(4 * time.Second)
	h.write(t, signal.Signal{Event: signal.EventStop, Window: "w4", Pane: "%4", Project: "api"})
	require.NoError(t, h.l.Step(ctx))

	require.Len(t, h.chat.containing("finished"), 2)
	assert.Len(t, h.chat.containing("Result: 43"), 1)
}

func TestRefiredStopSendsOneMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stop := signal.Signal{Event: signal.EventStop, Window: "w4", Pane: "%4", Project: "api"}
	h.write(t, stop)
	h.write(t, stop)
	require.NoError(t, h.l.Step(ctx))

	assert.Len(t, h.chat.containing("finished"), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.l.metrics.SignalsDropped.WithLabelValues("duplicate")))
}

func TestStopSuppressedWhileFocused(t *testing.T) {
	h := newHarness(t)
	h.store.SetFocus(state.FocusWatch, state.Target{Window: "w4", Pane: "%4", Project: "api"})
	h.write(t, signal.Signal{Event: signal.EventStop, Window: "w4", Pane: "%4", Project: "api"})
	require.NoError(t, h.l.Step(context.Background()))

	assert.Empty(t, h.chat.containing("finished"))
}

func TestIdleSendTypesTextAndStartsSmartfocus(t *testing.T) {
	h := newHarness(t)
	h.text(t, "w4 fix the\nflaky test")

	assert.Equal(t, []string{"fix the flaky test"}, h.mux.literals())
	assert.Len(t, h.chat.containing("Sent to `w4`"), 1)
	_, busy := h.store.BusySince("w4")
	assert.True(t, busy)
	smart := h.store.Focus(state.FocusSmart)
	require.NotNil(t, smart)
	assert.Equal(t, "w4", smart.Window)
	assert.Equal(t, "4", h.store.LastUsed())
}

func TestUnknownWindowListsSessions(t *testing.T) {
	h := newHarness(t)
	h.text(t, "w9 hello")

	assert.Empty(t, h.mux.literals())
	assert.Contains(t, h.chat.last().Text, "No Claude session at `w9`")
}

func TestClearResetsTransientStateOnly(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SavePrompt("w4", permission.NewPermission("%4", "api", 3, nil, h.clock.Now())))
	h.store.MarkBusy("w4")
	_, err := h.store.Enqueue("w4", "keep me")
	require.NoError(t, err)
	require.NoError(t, h.store.SetGodMode("4", true))

	h.text(t, "/clear")

	assert.Nil(t, h.store.Prompt("w4"))
	_, busy := h.store.BusySince("w4")
	assert.False(t, busy)
	assert.Len(t, h.store.Queued("w4"), 1)
	assert.True(t, h.store.IsGodMode("4"))
	assert.Contains(t, h.chat.last().Text, "Cleared transient state")
}

func TestGodCommands(t *testing.T) {
	h := newHarness(t)
	h.text(t, "g4")
	assert.True(t, h.store.IsGodMode("4"))

	h.text(t, "/god off w4")
	assert.False(t, h.store.IsGodMode("4"))

	h.text(t, "ga")
	assert.True(t, h.store.IsGodMode("7"))

	h.text(t, "goff")
	assert.Empty(t, h.store.GodModeWindows())
}

func TestQuitNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.text(t, "/quit")
	assert.Contains(t, h.chat.last().Text, "Shut down listener?")
	h.text(t, "no")
	assert.Equal(t, "Cancelled.", h.chat.last().Text)

	h.text(t, "/quit")
	err := h.l.dispatch(ctx, telegram.Incoming{Text: "y"})
	assert.ErrorIs(t, err, ErrQuit)
}

func TestPausedListenerStillProcessesSignals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.text(t, "/stop")
	require.True(t, h.l.paused)

	h.chat.updates = [][]telegram.Update{{{
		UpdateID: 10,
		Message:  &telegram.Message{MessageID: 3, Chat: telegram.Chat{ID: 42}, Text: "w4 do something"},
	}}}
	h.write(t, signal.Signal{Event: signal.EventNotify, Window: "w4", Message: "ping while paused"})
	require.NoError(t, h.l.Step(ctx))

	assert.Len(t, h.chat.containing("ping while paused"), 1)
	assert.Empty(t, h.mux.literals())
	assert.Contains(t, h.chat.last().Text, "Paused")

	h.chat.updates = [][]telegram.Update{{{
		UpdateID: 11,
		Message:  &telegram.Message{MessageID: 4, Chat: telegram.Chat{ID: 42}, Text: "/start"},
	}}}
	require.NoError(t, h.l.Step(ctx))
	assert.False(t, h.l.paused)
	assert.Contains(t, h.chat.last().Text, "Resumed")
}

func TestInterruptNoticeOncePerInterruption(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mux.setScreen("%4", "● Bash(npm test)\n  ⎿  Interrupted · What should Claude do instead?\n\n❯ \n")

	require.NoError(t, h.l.Step(ctx))
	h.clock.Advance(config.Millis(h.l.lc.InterruptIntervalMs))
	require.NoError(t, h.l.Step(ctx))

	assert.Len(t, h.chat.containing("was interrupted"), 1)
}

func TestQuestionFlowAdvancesToSubmit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	qs := []signal.Question{
		{Question: "Which database?", Options: []signal.Option{{Label: "Postgres"}, {Label: "SQLite"}}},
		{Question: "Add migrations?", Options: []signal.Option{{Label: "Yes"}, {Label: "No"}}},
	}
	h.mux.setScreen("%4", busyScreen)
	h.write(t, signal.Signal{Event: signal.EventQuestion, Window: "w4", Pane: "%4", Project: "api", Questions: qs})
	require.NoError(t, h.l.Step(ctx))
	require.Len(t, h.chat.containing("Which database?"), 1)

	require.NoError(t, h.l.dispatch(ctx, telegram.Incoming{Callback: &telegram.Callback{ID: "q1", Data: "q_w4_1"}}))
	require.Len(t, h.chat.containing("Add migrations?"), 1)
	p := h.store.Prompt("w4")
	require.NotNil(t, p)
	assert.Equal(t, permission.KindQuestion, p.Kind)

	h.text(t, "SQLite is fine too")
	p = h.store.Prompt("w4")
	require.NotNil(t, p)
	assert.Equal(t, permission.KindSubmit, p.Kind)
	assert.Len(t, h.chat.containing("Submit answers?"), 1)
	assert.Contains(t, h.mux.literals(), "SQLite is fine too")
}

func TestRecreatedWindowDropsOldPrompt(t *testing.T) {
	h := newHarness(t)
	h.mux.setScreen("%4", dialogScreen)
	require.NoError(t, h.store.SavePrompt("w4", permission.NewPermission("%4", "api", 3, nil, h.clock.Now())))

	fresh := session("4", "api")
	fresh.Pane.PaneID = "%77"
	h.scanner.sessions["4"] = fresh
	h.mux.setScreen("%77", idleScreen)
	ctx := context.Background()
	h.l.rescan(ctx)
	h.l.cleanup(ctx)

	assert.Nil(t, h.store.Prompt("w4"))
	h.text(t, "run the tests")
	assert.Equal(t, []string{"run the tests"}, h.mux.literals())
	assert.Equal(t, "%77", h.mux.sent[len(h.mux.sent)-1].Target())
	assert.Empty(t, h.chat.containing("waiting on a prompt"))
}

func TestVanishedPaneDropsPrompt(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SavePrompt("w4", permission.NewPermission("%4", "api", 3, nil, h.clock.Now())))
	h.mux.vanish("%4")

	h.l.cleanup(context.Background())
	assert.Nil(t, h.store.Prompt("w4"))
}

func TestPromptOnBusyLivePaneSurvivesCleanup(t *testing.T) {
	h := newHarness(t)
	h.mux.setScreen("%4", dialogScreen)
	require.NoError(t, h.store.SavePrompt("w4", permission.NewPermission("%4", "api", 3, nil, h.clock.Now())))

	h.l.cleanup(context.Background())
	assert.NotNil(t, h.store.Prompt("w4"))
}

func TestQuestionTextIsEscaped(t *testing.T) {
	h := newHarness(t)
	h.mux.setScreen("%4", busyScreen)
	qs := []signal.Question{{
		Question: "Rename foo_bar?",
		Options:  []signal.Option{{Label: "*keep*", Description: "leave snake_case"}, {Label: "fooBar"}},
	}}
	h.write(t, signal.Signal{Event: signal.EventQuestion, Window: "w4", Pane: "%4", Project: "api", Questions: qs})
	require.NoError(t, h.l.Step(context.Background()))

	msgs := h.chat.containing("Rename foo\\_bar?")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "1. \\*keep\\* — leave snake\\_case")
	assert.Contains(t, msgs[0].Text, "2. fooBar")
	require.NotNil(t, msgs[0].Opts.Markup)
}

func TestNotificationMessageIsEscaped(t *testing.T) {
	h := newHarness(t)
	h.write(t, signal.Signal{Event: signal.EventNotify, Window: "w4", Pane: "%4", Project: "api", Message: "waiting on my_file *now*"})
	require.NoError(t, h.l.Step(context.Background()))

	assert.Len(t, h.chat.containing("waiting on my\\_file \\*now\\*"), 1)
}

func TestStepHandlesSignalsBeforeRescan(t *testing.T) {
	h := newHarness(t)
	sentAtScan := -1
	h.scanner.onScan = func() { sentAtScan = len(h.chat.sent) }
	h.clock.Advance(config.Millis(h.l.lc.RescanIntervalMs))
	h.write(t, signal.Signal{Event: signal.EventNotify, Window: "w4", Pane: "%4", Project: "api", Message: "hello"})

	require.NoError(t, h.l.Step(context.Background()))
	assert.Equal(t, 1, sentAtScan)
}

func TestSmartfocusWithoutWatermarkSendsFullResponse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetFocus(state.FocusSmart, state.Target{Window: "w4", Pane: "%4", Project: "api"})
	require.Empty(t, h.store.Watermark("w4"))

	h.l.tickSmart(ctx)
	msgs := h.chat.containing("👁")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "Result: 42")

	h.l.tickSmart(ctx)
	assert.Len(t, h.chat.containing("👁"), 1, "unchanged screen sends nothing")
}
