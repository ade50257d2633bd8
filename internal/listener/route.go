package listener

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/agent-command/tgbridge/internal/config"
	"github.com/agent-command/tgbridge/internal/content"
	"github.com/agent-command/tgbridge/internal/logger"
	"github.com/agent-command/tgbridge/internal/permission"
	"github.com/agent-command/tgbridge/internal/router"
	"github.com/agent-command/tgbridge/internal/state"
	"github.com/agent-command/tgbridge/internal/telegram"
	"github.com/agent-command/tgbridge/internal/tmux"
)

const typedClearSettle = 200 * time.Millisecond

// paneOf is the send-keys target for a session: the stable pane id when
// known, else session:window.pane.
func paneOf(s tmux.Session) string {
	if s.Pane.PaneID != "" {
		return s.Pane.PaneID
	}
	return s.Pane.Target()
}

// idleState reads the pane's idle state from raw, using the cursor column
// to ignore suggestion text.
func (l *Listener) idleState(ctx context.Context, pane, raw string) (bool, string) {
	x, ok := l.mux.CursorX(ctx, pane)
	if !ok {
		x = content.NoCursor
	}
	return content.IdleState(raw, x)
}

func (l *Listener) paneIdle(ctx context.Context, pane string) (bool, string) {
	raw, err := l.mux.Capture(ctx, pane, 15)
	if err != nil {
		return false, ""
	}
	return l.idleState(ctx, pane, raw)
}

func (l *Listener) routerSessions(replyTo string) router.Sessions {
	return router.Sessions{
		Live:     tmux.SortWindows(l.sessions),
		Names:    l.store.Names(),
		ReplyTo:  replyTo,
		LastUsed: l.store.LastUsed(),
	}
}

// routeText resolves the target of a plain message and delivers it.
func (l *Listener) routeText(ctx context.Context, text, replyTo string) {
	r, err := router.Resolve(text, l.routerSessions(replyTo))
	if err != nil {
		var uw *router.UnknownWindowError
		switch {
		case errors.As(err, &uw):
			l.sendSessions(ctx, fmt.Sprintf("⚠️ No Claude session at `w%s`.\n", uw.Window))
		case errors.Is(err, router.ErrNoSessions):
			l.send(ctx, state.CatConfirmation, "⚠️ No Claude sessions found. Send `/sessions` to rescan.", nil)
		default:
			l.sendSessions(ctx, "⚠️ Multiple sessions — prefix with `wN`.\n")
		}
		return
	}
	l.deliverTo(ctx, r.Window, r.Text)
}

// deliverTo routes text to a live window and reports the outcome.
func (l *Listener) deliverTo(ctx context.Context, w, text string) {
	sess, ok := l.sessions[w]
	if !ok {
		l.send(ctx, state.CatConfirmation, fmt.Sprintf("⚠️ Session `w%s` no longer active.", w), nil)
		return
	}
	reply, sent := l.routeToPane(ctx, sess, text)
	l.send(ctx, state.CatConfirmation, reply, nil)
	l.store.SetLastUsed(w)
	l.logSent(w, reply)
	if sent {
		l.maybeSmartfocus(ctx, sess)
	}
}

// routeToPane answers an open prompt, queues the text for a busy session,
// or types it. sent reports a plain delivery.
func (l *Listener) routeToPane(ctx context.Context, sess tmux.Session, text string) (reply string, sent bool) {
	w := sess.Window
	key := wid(w)
	label := l.label(w)

	if p := l.store.Prompt(key); p != nil {
		return l.answerPrompt(ctx, w, p, text), false
	}

	idle, typed := l.paneIdle(ctx, paneOf(sess))
	if since, busy := l.store.BusySince(key); busy {
		if !idle || l.clock.Now().Sub(since) < config.Millis(l.lc.BusyGraceMs) {
			return l.enqueue(key, label, text), false
		}
		// The stop signal was missed; the pane says it is idle.
		l.store.ClearBusy(key)
	}
	if !idle {
		return l.enqueue(key, label, text), false
	}

	if err := l.deliver(ctx, sess, text, typed); err != nil {
		return l.sendFailure(label, err), false
	}
	return fmt.Sprintf("📨 Sent to %s:\n%s", label, telegram.Code(clip(text, 500))), true
}

func (l *Listener) sendFailure(label string, err error) string {
	l.transportError("tmux", err)
	if errors.Is(err, tmux.ErrSessionVanished) {
		return fmt.Sprintf("⚠️ %s is gone. Send `/status` to rescan.", label)
	}
	return fmt.Sprintf("⚠️ Could not type into %s. Try again.", label)
}

func (l *Listener) enqueue(key, label, text string) string {
	if _, err := l.store.Enqueue(key, text); err != nil {
		logger.Warnf("listener: queue for %s: %v", key, err)
		return fmt.Sprintf("⚠️ Could not save the message for %s.", label)
	}
	l.metrics.MessagesQueued.Inc()
	return fmt.Sprintf("💾 Saved for %s (busy):\n%s", label, telegram.Code(clip(text, 500)))
}

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// deliver types text into an idle pane and submits it. Text the operator
// had typed locally is queued and cleared first. Literal newlines would not
// submit, so they become spaces.
func (l *Listener) deliver(ctx context.Context, sess tmux.Session, text, typed string) error {
	key := wid(sess.Window)
	seq := tmux.NewSequence(paneOf(sess))
	if typed != "" {
		if _, err := l.store.Enqueue(key, typed); err != nil {
			logger.Warnf("listener: queue typed text for %s: %v", key, err)
		}
		seq.Keys("Escape").Wait(typedClearSettle)
	}
	seq.Text(newlines.Replace(text)).Wait(permission.TextSettle).Keys("Enter")
	if err := l.mux.Send(ctx, seq); err != nil {
		return err
	}
	l.store.MarkBusy(key)
	return nil
}

// answerPrompt turns a reply into keystrokes for the open prompt. Replies
// that match nothing leave the prompt open and return a hint.
func (l *Listener) answerPrompt(ctx context.Context, w string, p *permission.Prompt, reply string) string {
	label := l.label(w)
	r := permission.Resolve(p, reply)
	if r.Kind == permission.Guidance {
		return fmt.Sprintf("❓ %s is waiting on a prompt: %s.", label, r.Hint)
	}
	l.store.TakePrompt(wid(w))
	if err := l.mux.Send(ctx, permission.Sequence(p, r)); err != nil {
		return l.sendFailure(label, err)
	}
	l.advance(ctx, w, p)
	if r.Kind == permission.FreeText {
		return fmt.Sprintf("📨 Answered in %s:\n%s", label, telegram.Code(clip(r.Text, 500)))
	}
	return fmt.Sprintf("📨 Selected option %d in %s", r.Option, label)
}

// maybeSmartfocus starts following a window after a message was sent to it,
// when autofocus is on and no explicit focus covers it.
func (l *Listener) maybeSmartfocus(ctx context.Context, sess tmux.Session) {
	key := wid(sess.Window)
	if !l.store.Autofocus() || l.store.Focused(key) {
		return
	}
	pane := paneOf(sess)
	l.store.SetFocus(state.FocusSmart, state.Target{Window: key, Pane: pane, Project: sess.Project})
	l.smart = smartWatch{}
	raw := l.captureResponse(ctx, pane, 50, 150)
	lines := splitNonEmpty(content.CleanResponse(raw, l.mux.Width(ctx, pane)))
	if len(lines) == 0 {
		// An empty watermark would replay the whole screen on the next tick.
		lines = []string{""}
	}
	l.store.SetWatermark(key, lines)
}

// flushQueues delivers queued messages once their window has been seen
// idle across the confirmation window.
func (l *Listener) flushQueues(ctx context.Context) {
	now := l.clock.Now()
	for _, key := range l.store.QueuedWindows() {
		w := index(key)
		sess, ok := l.sessions[w]
		if !ok || l.store.Prompt(key) != nil {
			l.idle.Reset(w)
			continue
		}
		idle, typed := l.paneIdle(ctx, paneOf(sess))
		if since, busy := l.store.BusySince(key); busy {
			if !idle || now.Sub(since) < config.Millis(l.lc.BusyGraceMs) {
				l.idle.Reset(w)
				continue
			}
			l.store.ClearBusy(key)
		}
		if !l.idle.Observe(w, idle, now) {
			continue
		}
		l.flush(ctx, sess, typed)
	}
}

// flush drains a window's queue into one delivery. On failure the messages
// go back on the queue.
func (l *Listener) flush(ctx context.Context, sess tmux.Session, typed string) {
	key := wid(sess.Window)
	msgs, err := l.store.DrainQueue(key)
	if err != nil {
		logger.Warnf("listener: drain queue %s: %v", key, err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Text
	}
	text := router.Combine(texts)
	if err := l.deliver(ctx, sess, text, typed); err != nil {
		for _, t := range texts {
			if _, qerr := l.store.Enqueue(key, t); qerr != nil {
				logger.Warnf("listener: requeue for %s: %v", key, qerr)
			}
		}
		l.send(ctx, state.CatError, l.sendFailure(l.label(sess.Window), err), nil)
		return
	}
	l.metrics.MessagesFlushed.Add(float64(len(msgs)))
	l.send(ctx, state.CatConfirmation,
		fmt.Sprintf("📨 Sent %d saved message(s) to %s:\n%s", len(msgs), l.label(sess.Window), telegram.Code(clip(text, 500))), nil)
	l.store.SetLastUsed(sess.Window)
}

var rePhotoTarget = regexp.MustCompile(`(?s)^w(\d+)\s*(.*)$`)

// handlePhoto downloads a chat photo and asks the target session to read it.
func (l *Listener) handlePhoto(ctx context.Context, in telegram.Incoming) {
	dest := filepath.Join(l.photoDir, fmt.Sprintf("tg_photo_%d.jpg", l.clock.Now().UnixNano()))
	if err := l.chat.DownloadFile(ctx, in.PhotoID, dest); err != nil {
		l.transportError("telegram", err)
		l.send(ctx, state.CatError, "⚠️ Failed to download photo.", nil)
		return
	}

	caption := in.Text
	target := ""
	if m := rePhotoTarget.FindStringSubmatch(caption); m != nil {
		if _, ok := l.sessions[m[1]]; ok {
			target = m[1]
			caption = strings.TrimSpace(m[2])
		}
	}
	if target == "" {
		if w := index(in.ReplyWindow); w != "" {
			if _, ok := l.sessions[w]; ok {
				target = w
			}
		}
	}
	if target == "" && len(l.sessions) == 1 {
		for w := range l.sessions {
			target = w
		}
	}
	if target == "" {
		if w := index(l.store.LastUsed()); w != "" {
			if _, ok := l.sessions[w]; ok {
				target = w
			}
		}
	}
	if target == "" {
		l.sendSessions(ctx, fmt.Sprintf("📷 Photo saved to %s — no target session.\n", telegram.Code(dest)))
		return
	}

	sess := l.sessions[target]
	instruction := "Read " + dest
	if caption != "" {
		instruction += " — " + caption
	}
	seq := tmux.NewSequence(paneOf(sess)).Text(newlines.Replace(instruction)).Wait(permission.TextSettle).Keys("Enter")
	if err := l.mux.Send(ctx, seq); err != nil {
		l.send(ctx, state.CatError, l.sendFailure(l.label(target), err), nil)
		return
	}
	l.store.SetLastUsed(target)
	l.send(ctx, state.CatConfirmation,
		fmt.Sprintf("📷 Photo sent to `w%s` (%s):\n%s", target, telegram.Code(sess.Project), telegram.Code(dest)), nil)
}

func splitNonEmpty(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
