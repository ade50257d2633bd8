package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agent-command/tgbridge/internal/content"
	"github.com/agent-command/tgbridge/internal/logger"
	"github.com/agent-command/tgbridge/internal/permission"
	"github.com/agent-command/tgbridge/internal/signal"
	"github.com/agent-command/tgbridge/internal/state"
	"github.com/agent-command/tgbridge/internal/telegram"
	"github.com/agent-command/tgbridge/internal/tmux"
)

const (
	acceptEditsCycles = 5
	acceptEditsSettle = 300 * time.Millisecond
)

// processSignals drains the spool. Stale and duplicate signals are dropped
// before any chat message goes out.
func (l *Listener) processSignals(ctx context.Context) {
	sigs, errs := l.spool.Drain()
	for _, err := range errs {
		l.metrics.SignalsDropped.WithLabelValues("malformed").Inc()
		logger.Warnf("listener: %v", err)
	}

	now := l.clock.Now()
	maxAge := time.Duration(l.lc.SignalMaxAgeSec) * time.Second
	for _, sig := range sigs {
		if maxAge > 0 && !sig.CreatedAt.IsZero() && now.Sub(sig.CreatedAt) > maxAge {
			l.metrics.SignalsDropped.WithLabelValues("stale").Inc()
			logger.Debugf("listener: dropping stale %s signal for %s", sig.Event, sig.Window)
			continue
		}
		if l.dedup.Seen(sig, now) {
			l.metrics.SignalsDropped.WithLabelValues("duplicate").Inc()
			logger.Debugf("listener: dropping duplicate %s signal for %s", sig.Event, sig.Window)
			continue
		}
		l.metrics.SignalsProcessed.WithLabelValues(string(sig.Event)).Inc()
		l.handleSignal(ctx, sig)
		if w := sig.WindowIndex(); w != "" {
			l.store.SetLastUsed(w)
		}
		logger.Infof("listener: %s for %s (%s)", sig.Event, sig.Window, sig.Project)
	}
}

func (l *Listener) handleSignal(ctx context.Context, sig signal.Signal) {
	switch sig.Event {
	case signal.EventStop:
		l.onStop(ctx, sig)
	case signal.EventPermission, signal.EventPlan:
		l.onPermission(ctx, sig)
	case signal.EventQuestion:
		l.onQuestion(ctx, sig)
	case signal.EventNotify:
		l.notice(ctx, state.CatFocusUpdate, sig.WindowIndex(),
			fmt.Sprintf("🔔%s Claude Code (%s): %s", l.tag(sig.WindowIndex()), telegram.Code(l.project(sig)), telegram.Escape(sig.Message)), nil)
	case signal.EventError:
		detail := sig.ParseError
		if detail == "" {
			detail = sig.Message
		}
		l.send(ctx, state.CatError, fmt.Sprintf("⚠️%s hook error: %s", l.tag(sig.WindowIndex()), telegram.Code(clip(detail, 500))), nil)
	default:
		l.metrics.SignalsDropped.WithLabelValues("unknown_event").Inc()
	}
}

// project prefers the live session's project over the hook's guess.
func (l *Listener) project(sig signal.Signal) string {
	if s, ok := l.sessions[sig.WindowIndex()]; ok && s.Project != "" {
		return s.Project
	}
	if sig.Project != "" {
		return sig.Project
	}
	return "unknown"
}

// captureResponse captures progressively deeper until the response start is
// in view, returning the last capture.
func (l *Listener) captureResponse(ctx context.Context, pane string, depths ...int) string {
	var raw string
	for _, n := range depths {
		out, err := l.mux.Capture(ctx, pane, n)
		if err != nil {
			return raw
		}
		raw = out
		if content.HasResponseStart(raw) {
			break
		}
	}
	return raw
}

func (l *Listener) onStop(ctx context.Context, sig signal.Signal) {
	w := sig.WindowIndex()
	key := wid(w)
	l.store.ClearBusy(key)
	if t := l.store.Focus(state.FocusSmart); t != nil && t.Window == key {
		l.store.ClearFocus(state.FocusSmart)
		l.smart = smartWatch{}
	}
	if l.store.Focused(key) {
		return
	}

	proj := l.project(sig)
	cleaned := "(could not capture pane)"
	if sig.Pane != "" {
		l.clock.Sleep(time.Duration(l.lc.StopSettleMs) * time.Millisecond)
		width := l.mux.Width(ctx, sig.Pane)
		if raw := l.captureResponse(ctx, sig.Pane, 30, 80, 200); raw != "" {
			cleaned = content.CleanResponse(raw, width)
		}
	}
	// A re-fired Stop hook captures the same screen; a new turn does not.
	if l.dedup.SeenKey(fmt.Sprintf("stop:%s:%x", key, hashOf(cleaned)), l.clock.Now()) {
		l.metrics.SignalsDropped.WithLabelValues("duplicate").Inc()
		logger.Debugf("listener: dropping repeated stop for %s", key)
		return
	}
	header := fmt.Sprintf("✅%s Claude Code (%s) finished:\n\n", l.tag(w), telegram.Code(proj))
	kb := telegram.Inline([]telegram.Button{
		telegram.Btn("📋 Status", "cmd_status_"+key),
		telegram.Btn("🔍 Focus", "cmd_focus_"+key),
	})
	l.sendLong(ctx, state.CatCompletion, w, header, cleaned, "", kb)

	if queued := l.store.Queued(key); len(queued) > 0 {
		lines := make([]string, 0, len(queued))
		for i, m := range queued {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, telegram.Code(clip(m.Text, 100))))
		}
		l.send(ctx, state.CatCompletion,
			fmt.Sprintf("💾 %d saved message(s) for %s:\n%s", len(queued), l.label(w), strings.Join(lines, "\n")),
			telegram.Inline([]telegram.Button{
				telegram.Btn("✉️ Send", "saved_send_"+key),
				telegram.Btn("🗑 Discard", "saved_discard_"+key),
			}))
	} else if text, ok := l.store.TakePromptText(key); ok && text != "" && sig.Pane != "" {
		if err := l.mux.Send(ctx, tmux.NewSequence(sig.Pane).Text(text)); err != nil {
			l.transportError("tmux", err)
		}
	}

	if sig.Pane != "" && l.store.IsGodMode(w) {
		l.acceptEdits(ctx, sig.Pane)
	}
}

// acceptEdits cycles the agent's mode with Shift+Tab until edits are
// auto-accepted, giving up after a few cycles.
func (l *Listener) acceptEdits(ctx context.Context, pane string) {
	for i := 0; i < acceptEditsCycles; i++ {
		raw, err := l.mux.Capture(ctx, pane, 15)
		if err != nil {
			return
		}
		if strings.Contains(strings.ToLower(raw), content.AcceptEditsOn) {
			return
		}
		if err := l.mux.Send(ctx, tmux.NewSequence(pane).Keys("BTab")); err != nil {
			l.transportError("tmux", err)
			return
		}
		l.clock.Sleep(acceptEditsSettle)
	}
}

// dialog parses the permission dialog, capturing deeper when the body was
// cut off at the top of the first capture.
func (l *Listener) dialog(ctx context.Context, pane string) (content.Dialog, error) {
	if pane == "" {
		return content.Dialog{}, content.ErrNoDialog
	}
	raw, err := l.mux.Capture(ctx, pane, 50)
	if err != nil {
		return content.Dialog{}, err
	}
	d, err := content.ExtractPermission(raw)
	if err == nil && d.NeedsMoreContext {
		if deeper, cerr := l.mux.Capture(ctx, pane, 150); cerr == nil {
			if d2, err2 := content.ExtractPermission(deeper); err2 == nil {
				d = d2
			}
		}
	}
	return d, err
}

func (l *Listener) onPermission(ctx context.Context, sig signal.Signal) {
	w := sig.WindowIndex()
	key := wid(w)
	proj := l.project(sig)
	tag := l.tag(w)

	d, err := l.dialog(ctx, sig.Pane)
	if err != nil && !errors.Is(err, content.ErrNoDialog) {
		l.transportError("tmux", err)
	}

	if permission.AutoApprove(l.store.IsGodMode(w), sig, d.Header) {
		if serr := l.mux.Send(ctx, permission.SelectSequence(sig.Pane, 1)); serr != nil {
			l.transportError("tmux", serr)
		} else {
			l.metrics.AutoApprovals.Inc()
			what := d.Header
			if what == "" {
				what = "permission"
			}
			msg := fmt.Sprintf("⚡%s Auto-allowed (%s): %s", tag, telegram.Code(proj), what)
			if sig.Cmd != "" {
				msg = fmt.Sprintf("⚡%s Auto-allowed (%s):\n```\n%s\n```", tag, telegram.Code(proj), clip(sig.Cmd, 500))
			}
			l.notice(ctx, state.CatConfirmation, w, msg, nil)
			return
		}
	}

	options := d.NormalizedOptions()
	total := d.Total()
	kb := telegram.Inline([]telegram.Button{
		telegram.Btn("✅ Allow", fmt.Sprintf("perm_%s_1", key)),
		telegram.Btn("✅ Always", fmt.Sprintf("perm_%s_2", key)),
		telegram.Btn("❌ Deny", fmt.Sprintf("perm_%s_%d", key, total)),
	})
	opts := strings.Join(options, "\n")
	ctxBlock := ""
	if d.Context != "" {
		ctxBlock = "```\n" + strings.ReplaceAll(d.Context, "```", "'''") + "\n```\n\n"
	}

	switch {
	case sig.Cmd != "":
		msg := fmt.Sprintf("🔧%s Claude Code (%s) needs permission:\n\n%s```\n%s\n```\n%s",
			tag, telegram.Code(proj), ctxBlock, clip(sig.Cmd, 2000), opts)
		l.notice(ctx, state.CatPermission, w, msg, kb)
	case errors.Is(err, content.ErrNoDialog) && sig.Message != "":
		l.notice(ctx, state.CatPermission, w,
			fmt.Sprintf("🔧%s Claude Code (%s) needs permission:\n\n%s", tag, telegram.Code(proj), telegram.Escape(sig.Message)), kb)
	default:
		title := d.Header
		if title == "" {
			title = "needs permission"
		}
		header := fmt.Sprintf("🔧%s Claude Code (%s) %s:\n\n%s", tag, telegram.Code(proj), title, ctxBlock)
		if d.Body != "" {
			l.sendLong(ctx, state.CatPermission, w, header, d.Body, opts, kb)
		} else {
			l.notice(ctx, state.CatPermission, w, header+opts, kb)
		}
	}

	p := permission.NewPermission(sig.Pane, proj, total, options, l.clock.Now())
	if permission.IsPlan(sig, d.Header) {
		p.Kind = permission.KindPlan
	}
	if err := l.store.SavePrompt(key, p); err != nil {
		logger.Warnf("listener: save prompt for %s: %v", key, err)
	}
}

func questionMessage(tag, project string, q signal.Question) string {
	parts := []string{fmt.Sprintf("❓%s Claude Code (%s) asks:\n", tag, telegram.Code(project))}
	text := telegram.Escape(q.Question)
	if text == "" {
		text = "?"
	}
	parts = append(parts, text)
	for i, o := range q.Options {
		if o.Description != "" {
			parts = append(parts, fmt.Sprintf("  %d. %s — %s", i+1, telegram.Escape(o.Label), telegram.Escape(o.Description)))
		} else {
			parts = append(parts, fmt.Sprintf("  %d. %s", i+1, telegram.Escape(o.Label)))
		}
	}
	n := len(q.Options)
	parts = append(parts, fmt.Sprintf("  %d. Type your answer", n+1), fmt.Sprintf("  %d. Chat about this", n+2))
	return strings.Join(parts, "\n")
}

func questionKeyboard(key string, q signal.Question) *telegram.InlineKeyboard {
	buttons := make([]telegram.Button, 0, len(q.Options))
	for i, o := range q.Options {
		buttons = append(buttons, telegram.Btn(clip(o.Label, 20), fmt.Sprintf("q_%s_%d", key, i+1)))
	}
	return telegram.Grid(buttons, 3)
}

// askQuestion posts the first of qs and opens its prompt.
func (l *Listener) askQuestion(ctx context.Context, w, project string, p *permission.Prompt, q signal.Question) {
	key := wid(w)
	l.notice(ctx, state.CatQuestion, w, questionMessage(l.tag(w), project, q), questionKeyboard(key, q))
	if err := l.store.SavePrompt(key, p); err != nil {
		logger.Warnf("listener: save prompt for %s: %v", key, err)
	}
}

func (l *Listener) onQuestion(ctx context.Context, sig signal.Signal) {
	w := sig.WindowIndex()
	proj := l.project(sig)
	if len(sig.Questions) == 0 {
		l.notice(ctx, state.CatQuestion, w,
			fmt.Sprintf("❓%s Claude Code (%s) asks:\n\n(check terminal)", l.tag(w), telegram.Code(proj)), nil)
		return
	}
	p := permission.NewQuestion(sig.Pane, proj, sig.Questions, l.clock.Now())
	l.askQuestion(ctx, w, proj, p, sig.Questions[0])
}

// advance opens whatever follows an answered prompt: the next question of a
// multi-question ask, or the final submit confirmation.
func (l *Listener) advance(ctx context.Context, w string, answered *permission.Prompt) {
	next := answered.Next(l.clock.Now())
	if next == nil {
		return
	}
	key := wid(w)
	if next.Kind == permission.KindQuestion && len(answered.Remaining) > 0 {
		l.askQuestion(ctx, w, next.Project, next, answered.Remaining[0])
		return
	}
	l.notice(ctx, state.CatQuestion, w, fmt.Sprintf("❓%s Submit answers? (y/n)", l.tag(w)),
		telegram.Inline([]telegram.Button{
			telegram.Btn("✅ Yes", "perm_"+key+"_1"),
			telegram.Btn("❌ No", "perm_"+key+"_2"),
		}))
	if err := l.store.SavePrompt(key, next); err != nil {
		logger.Warnf("listener: save prompt for %s: %v", key, err)
	}
}
