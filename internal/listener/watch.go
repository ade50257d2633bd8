package listener

import (
	"context"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
	"time"

	"github.com/agent-command/tgbridge/internal/config"
	"github.com/agent-command/tgbridge/internal/content"
	"github.com/agent-command/tgbridge/internal/state"
	"github.com/agent-command/tgbridge/internal/telegram"
	"github.com/agent-command/tgbridge/internal/tmux"
)

// The watchers keep per-target scratch state in memory. The targets
// themselves live in the store so /status and reloads see them.

type focusWatch struct {
	window string
	width  int
	hash   uint64
	primed bool
}

type smartWatch struct {
	window string
	width  int
}

type deepWatch struct {
	window  string
	width   int
	prev    []string
	primed  bool
	pending []string
	first   time.Time
	last    time.Time
}

// ensureLive reports whether the window still has a session, rescanning
// once before giving up on it.
func (l *Listener) ensureLive(ctx context.Context, w string) bool {
	if _, ok := l.sessions[w]; ok {
		return true
	}
	l.rescan(ctx)
	_, ok := l.sessions[w]
	return ok
}

func hashOf(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// tickFocus re-sends the cleaned response of the focused window whenever it
// changes. The first capture only primes the hash.
func (l *Listener) tickFocus(ctx context.Context) {
	t := l.store.Focus(state.FocusWatch)
	if t == nil {
		l.focus = focusWatch{}
		return
	}
	w := index(t.Window)
	if t.Window != l.focus.window {
		l.focus = focusWatch{window: t.Window, width: l.mux.Width(ctx, t.Pane)}
	}
	if !l.ensureLive(ctx, w) {
		l.store.ClearFocus(state.FocusWatch)
		l.focus = focusWatch{}
		l.send(ctx, state.CatFocusUpdate, fmt.Sprintf("🔍 Focus on %s ended — session gone.", l.label(w)), nil)
		return
	}

	cleaned := content.CleanResponse(l.captureResponse(ctx, t.Pane, 50, 150), l.focus.width)
	if cleaned == "" {
		return
	}
	h := hashOf(cleaned)
	if l.focus.primed && h != l.focus.hash {
		header := fmt.Sprintf("🔍 %s (%s):\n\n", l.label(w), telegram.Code(t.Project))
		l.sendLong(ctx, state.CatFocusUpdate, w, header, cleaned, "", nil)
	}
	l.focus.hash = h
	l.focus.primed = true
}

// tickSmart sends what the auto-followed window added since the watermark.
// Windows covered by focus or deepfocus are left to those.
func (l *Listener) tickSmart(ctx context.Context) {
	t := l.store.Focus(state.FocusSmart)
	if t == nil {
		l.smart = smartWatch{}
		return
	}
	if l.store.Focused(t.Window) {
		return
	}
	w := index(t.Window)
	if t.Window != l.smart.window {
		l.smart = smartWatch{window: t.Window, width: l.mux.Width(ctx, t.Pane)}
	}
	if !l.ensureLive(ctx, w) {
		l.store.ClearFocus(state.FocusSmart)
		l.smart = smartWatch{}
		return
	}

	cleaned := content.CleanResponse(l.captureResponse(ctx, t.Pane, 50, 150), l.smart.width)
	cur := splitNonEmpty(cleaned)
	if len(cur) == 0 {
		return
	}
	// No watermark (volatile reset) means everything on screen is new.
	wm := l.store.Watermark(t.Window)
	if slices.Equal(wm, cur) {
		return
	}
	if text := strings.TrimSpace(strings.Join(content.Delta(wm, cur), "\n")); text != "" {
		header := fmt.Sprintf("👁 %s (%s):\n\n", l.label(w), telegram.Code(t.Project))
		l.sendLong(ctx, state.CatFocusUpdate, w, header, text, "", nil)
	}
	l.store.SetWatermark(t.Window, cur)
}

// tickDeep streams new pane lines of the deep-focused window, batched until
// output pauses for the debounce or the oldest pending line hits the max
// delay.
func (l *Listener) tickDeep(ctx context.Context) {
	t := l.store.Focus(state.FocusDeep)
	if t == nil {
		l.deep = deepWatch{}
		return
	}
	w := index(t.Window)
	if t.Window != l.deep.window {
		l.deep = deepWatch{window: t.Window, width: l.mux.Width(ctx, t.Pane)}
	}
	if !l.ensureLive(ctx, w) {
		l.store.ClearFocus(state.FocusDeep)
		l.deep = deepWatch{}
		l.send(ctx, state.CatFocusUpdate, fmt.Sprintf("🔬 Deep focus on %s ended — session gone.", l.label(w)), nil)
		return
	}

	raw, err := l.mux.Capture(ctx, t.Pane, 50)
	if err != nil {
		l.transportError("tmux", err)
		return
	}
	now := l.clock.Now()
	cur := content.StreamLines(raw, l.deep.width)
	if l.deep.primed {
		if added := content.ComputeNewLines(l.deep.prev, cur); len(added) > 0 && !slices.Equal(l.deep.prev, cur) {
			l.deep.pending = append(l.deep.pending, added...)
			l.deep.last = now
			if l.deep.first.IsZero() {
				l.deep.first = now
			}
		}
	}
	l.deep.prev = cur
	l.deep.primed = true

	if len(l.deep.pending) == 0 {
		return
	}
	debounced := now.Sub(l.deep.last) >= config.Millis(l.lc.DeepfocusDebounceMs)
	overdue := now.Sub(l.deep.first) >= config.Millis(l.lc.DeepfocusMaxDelayMs)
	if !debounced && !overdue {
		return
	}
	chunk := strings.TrimSpace(strings.Join(l.deep.pending, "\n"))
	l.deep.pending = nil
	l.deep.first, l.deep.last = time.Time{}, time.Time{}
	if chunk == "" {
		return
	}
	msg := fmt.Sprintf("🔬 %s (%s):\n```\n%s\n```", l.label(w), telegram.Code(t.Project),
		strings.ReplaceAll(clip(chunk, 3500), "```", "'''"))
	l.notice(ctx, state.CatFocusUpdate, w, msg, nil)
}

// scanInterrupts reports turns ended with Escape, which fire no hook. An
// idle pane past the busy grace also clears a stale busy flag.
func (l *Listener) scanInterrupts(ctx context.Context) {
	now := l.clock.Now()
	for _, w := range tmux.SortWindows(l.sessions) {
		sess := l.sessions[w]
		key := wid(w)
		pane := paneOf(sess)
		raw, err := l.mux.Capture(ctx, pane, 15)
		if err != nil {
			continue
		}
		if idle, _ := l.idleState(ctx, pane, raw); !idle {
			l.store.ClearInterruptNotified(key)
			continue
		}
		if since, busy := l.store.BusySince(key); busy && now.Sub(since) >= config.Millis(l.lc.BusyGraceMs) {
			l.store.ClearBusy(key)
		}
		if content.DetectInterrupted(raw) && l.store.MarkInterruptNotified(key) {
			l.notice(ctx, state.CatInterrupted, w,
				fmt.Sprintf("⏹ %s (%s) was interrupted — waiting for instructions.", l.label(w), telegram.Code(sess.Project)), nil)
		}
	}
}
