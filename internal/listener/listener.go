// Package listener is the bridge daemon: one cooperative loop that drains
// hook signals, watches sessions, and serves the Telegram chat.
package listener

import (
	"context"
	"errors"
	"time"

	"github.com/agent-command/tgbridge/internal/clock"
	"github.com/agent-command/tgbridge/internal/config"
	"github.com/agent-command/tgbridge/internal/logger"
	"github.com/agent-command/tgbridge/internal/metrics"
	"github.com/agent-command/tgbridge/internal/router"
	"github.com/agent-command/tgbridge/internal/signal"
	"github.com/agent-command/tgbridge/internal/state"
	"github.com/agent-command/tgbridge/internal/telegram"
	"github.com/agent-command/tgbridge/internal/tmux"
)

var (
	// ErrQuit is returned by Run after a confirmed /quit.
	ErrQuit = errors.New("listener: quit requested")
	// ErrReload is returned by Run when the executable changed on disk.
	ErrReload = errors.New("listener: reload requested")
)

// Chat is the part of the Telegram client the listener uses.
type Chat interface {
	Send(ctx context.Context, text string, opts telegram.SendOptions) (int, error)
	GetUpdates(ctx context.Context, offset, timeoutSec int) ([]telegram.Update, error)
	SkipBacklog(ctx context.Context) (int, error)
	AnswerCallback(ctx context.Context, id, text string) error
	RemoveKeyboard(ctx context.Context, messageID int) error
	SetCommands(ctx context.Context, cmds []telegram.BotCommand) error
	DownloadFile(ctx context.Context, fileID, dest string) error
	ChatID() string
}

// Mux is the part of the tmux client the listener uses.
type Mux interface {
	Capture(ctx context.Context, target string, n int) (string, error)
	CursorX(ctx context.Context, target string) (int, bool)
	Width(ctx context.Context, target string) int
	Send(ctx context.Context, seq *tmux.Sequence) error
	NewWindow(ctx context.Context, dir, command string) (string, error)
}

// Scanner finds live agent sessions.
type Scanner interface {
	Scan(ctx context.Context) (tmux.ScanResult, error)
	Forget(window string)
}

type Deps struct {
	Config  *config.Config
	Chat    Chat
	Mux     Mux
	Scanner Scanner
	Store   *state.Store
	Spool   *signal.Spool
	Metrics *metrics.Metrics
	Clock   clock.Clock
	// Reload fires when the executable changed. Wake fires when a signal
	// file lands. Both may be nil.
	Reload <-chan struct{}
	Wake   <-chan struct{}
	// PhotoDir receives downloaded chat photos.
	PhotoDir string
}

type Listener struct {
	cfg     *config.Config
	lc      config.ListenerConfig
	chat    Chat
	mux     Mux
	scanner Scanner
	store   *state.Store
	spool   *signal.Spool
	metrics *metrics.Metrics
	clock   clock.Clock
	reload  <-chan struct{}
	wake    <-chan struct{}

	photoDir string
	dedup    *signal.Deduper
	idle     *router.IdleConfirm

	sessions map[string]tmux.Session
	offset   int

	paused      bool
	quitPending bool

	lastScan      time.Time
	lastCleanup   time.Time
	lastInterrupt time.Time

	focus focusWatch
	smart smartWatch
	deep  deepWatch
}

func New(d Deps) *Listener {
	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}
	m := d.Metrics
	if m == nil {
		m = metrics.New()
	}
	lc := d.Config.Listener
	photoDir := d.PhotoDir
	if photoDir == "" {
		photoDir = d.Config.Paths.RuntimeDir
	}
	return &Listener{
		cfg:      d.Config,
		lc:       lc,
		chat:     d.Chat,
		mux:      d.Mux,
		scanner:  d.Scanner,
		store:    d.Store,
		spool:    d.Spool,
		metrics:  m,
		clock:    clk,
		reload:   d.Reload,
		wake:     d.Wake,
		photoDir: photoDir,
		dedup:    signal.NewDeduper(config.Millis(lc.DedupTTLMs)),
		idle:     router.NewIdleConfirm(config.Millis(lc.QueueConfirmMs)),
		sessions: map[string]tmux.Session{},
	}
}

// Start resets the volatile tier, skips the chat backlog, registers the
// command menu and announces the live sessions.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.store.ResetVolatile(); err != nil {
		return err
	}
	for _, w := range l.store.Warnings() {
		l.send(ctx, state.CatError, "⚠️ "+w.Error(), nil)
	}

	offset, err := l.chat.SkipBacklog(ctx)
	if err != nil {
		l.transportError("telegram", err)
	}
	l.offset = offset
	if err := l.chat.SetCommands(ctx, telegram.BotCommands); err != nil {
		l.transportError("telegram", err)
	}

	l.rescan(ctx)
	l.send(ctx, state.CatConfirmation, l.sessionsMessage(), telegram.DefaultReplyKeyboard())
	logger.Infof("listener: started, %d session(s)", len(l.sessions))
	return nil
}

// Run loops until ctx is done, /quit is confirmed, or a reload is due.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.Start(ctx); err != nil {
		return err
	}
	for {
		if err := l.Step(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-l.reload:
			return ErrReload
		case <-l.wake:
		case <-time.After(config.Millis(l.lc.PollIntervalMs)):
		}
	}
}

// Step runs one loop iteration. Signals are processed even while paused;
// only chat handling stops.
func (l *Listener) Step(ctx context.Context) error {
	select {
	case <-l.reload:
		return ErrReload
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil
	}

	l.processSignals(ctx)

	now := l.clock.Now()
	if now.Sub(l.lastScan) >= config.Millis(l.lc.RescanIntervalMs) {
		l.rescan(ctx)
	}
	if now.Sub(l.lastCleanup) >= config.Millis(l.lc.CleanupIntervalMs) {
		l.cleanup(ctx)
		l.lastCleanup = now
	}

	if l.paused {
		return l.pollPaused(ctx)
	}

	if now.Sub(l.lastInterrupt) >= config.Millis(l.lc.InterruptIntervalMs) {
		l.scanInterrupts(ctx)
		l.lastInterrupt = now
	}
	l.tickFocus(ctx)
	l.tickSmart(ctx)
	l.tickDeep(ctx)
	l.flushQueues(ctx)

	return l.poll(ctx)
}

// Farewell is sent when the process is stopped from outside the chat.
func (l *Listener) Farewell(ctx context.Context) {
	l.send(ctx, state.CatConfirmation, "👋 Bye.", nil)
}

// rescan refreshes the live session set. Windows missing from two scans
// lose their transient state.
func (l *Listener) rescan(ctx context.Context) {
	l.lastScan = l.clock.Now()
	res, err := l.scanner.Scan(ctx)
	if err != nil {
		l.transportError("tmux", err)
		return
	}
	l.sessions = res.Sessions
	if l.sessions == nil {
		l.sessions = map[string]tmux.Session{}
	}
	for _, w := range res.Gone {
		logger.Infof("listener: session w%s gone", w)
		l.store.Forget(wid(w))
		l.idle.Reset(w)
	}
	l.metrics.Sessions.Set(float64(len(l.sessions)))
}

// cleanup drops prompts that were answered in the terminal or whose pane
// moved, and busy flags for windows that are gone.
func (l *Listener) cleanup(ctx context.Context) {
	for _, w := range l.store.PromptWindows() {
		p := l.store.Prompt(w)
		if p == nil {
			continue
		}
		sess, live := l.sessions[index(w)]
		if state.IsStalePrompt(p, sess.Pane.PaneID, sess.Pane.Target(), live) {
			logger.Infof("listener: discarding stale prompt for %s (pane %s)", w, p.Pane)
			l.store.TakePrompt(w)
			continue
		}
		raw, err := l.mux.Capture(ctx, p.Pane, 15)
		if errors.Is(err, tmux.ErrSessionVanished) {
			logger.Infof("listener: discarding prompt for %s, pane %s vanished", w, p.Pane)
			l.store.TakePrompt(w)
			continue
		}
		if err != nil {
			continue
		}
		if idle, _ := l.idleState(ctx, p.Pane, raw); idle {
			l.store.TakePrompt(w)
		}
	}
	for _, w := range l.store.BusyWindows() {
		if _, ok := l.sessions[index(w)]; !ok {
			l.store.ClearBusy(w)
		}
	}
}

// poll fetches chat updates and dispatches them.
func (l *Listener) poll(ctx context.Context) error {
	updates, err := l.chat.GetUpdates(ctx, l.offset, l.lc.UpdatesTimeoutSec)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		l.transportError("telegram", err)
		return nil
	}
	l.offset = telegram.NextOffset(l.offset, updates)
	for _, in := range telegram.FromChat(updates, l.chat.ChatID()) {
		if err := l.dispatch(ctx, in); err != nil {
			return err
		}
		if l.paused {
			// /stop: the rest of the batch is ignored.
			break
		}
	}
	return nil
}

// pollPaused answers only /start, /quit and /help.
func (l *Listener) pollPaused(ctx context.Context) error {
	updates, err := l.chat.GetUpdates(ctx, l.offset, l.lc.UpdatesTimeoutSec)
	if err != nil {
		if ctx.Err() == nil {
			l.transportError("telegram", err)
		}
		return nil
	}
	l.offset = telegram.NextOffset(l.offset, updates)
	for _, in := range telegram.FromChat(updates, l.chat.ChatID()) {
		if in.Callback != nil {
			l.answer(ctx, in.Callback, "")
			continue
		}
		cmd := router.Parse(in.Text, false)
		switch cmd.Kind {
		case router.KindStart:
			if err := l.store.ResetVolatile(); err != nil {
				logger.Warnf("listener: reset volatile: %v", err)
			}
			l.focus, l.smart, l.deep = focusWatch{}, smartWatch{}, deepWatch{}
			l.rescan(ctx)
			l.paused = false
			l.send(ctx, state.CatConfirmation, "▶️ Resumed.\n\n"+l.sessionsMessage(), telegram.DefaultReplyKeyboard())
			logger.Infof("listener: resumed")
			return nil
		case router.KindQuit:
			l.send(ctx, state.CatConfirmation, "👋 Bye.", nil)
			return ErrQuit
		case router.KindHelp:
			l.send(ctx, state.CatConfirmation, "⏸ Paused. Send `/start` to resume or `/quit` to exit.", nil)
		default:
			l.send(ctx, state.CatConfirmation, "⏸ Paused. Send `/start` to resume.", nil)
		}
	}
	return nil
}

// dispatch handles one chat update.
func (l *Listener) dispatch(ctx context.Context, in telegram.Incoming) error {
	if in.Callback != nil {
		return l.handleCallback(ctx, in.Callback)
	}
	if in.PhotoID != "" {
		l.handlePhoto(ctx, in)
		return nil
	}
	if l.quitPending {
		l.quitPending = false
		switch lowered(in.Text) {
		case "y", "yes":
			l.send(ctx, state.CatConfirmation, "👋 Bye.", nil)
			return ErrQuit
		}
		l.send(ctx, state.CatConfirmation, "Cancelled.", nil)
		return nil
	}

	cmd := router.Parse(in.Text, l.store.AnyPrompt())
	if cmd.Kind == router.KindText {
		l.routeText(ctx, cmd.Text, in.ReplyWindow)
		return nil
	}
	return l.handleCommand(ctx, cmd)
}

func (l *Listener) transportError(service string, err error) {
	l.metrics.TransportErrors.WithLabelValues(service).Inc()
	logger.Warnf("listener: %s: %v", service, err)
}
