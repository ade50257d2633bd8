package listener

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/agent-command/tgbridge/internal/logger"
	"github.com/agent-command/tgbridge/internal/state"
	"github.com/agent-command/tgbridge/internal/telegram"
	"github.com/agent-command/tgbridge/internal/tmux"
)

// wid maps a window index to the "w4" key used by the volatile tier.
func wid(idx string) string {
	if strings.HasPrefix(idx, "w") {
		return idx
	}
	return "w" + idx
}

func index(window string) string {
	return strings.TrimPrefix(window, "w")
}

func lowered(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// clip cuts s to n runes.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// tail keeps the last n runes of s.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// send posts text with the notification policy of cat applied. Failures are
// counted and logged; the loop never stops for them.
func (l *Listener) send(ctx context.Context, cat state.Category, text string, markup any) int {
	switch m := markup.(type) {
	case *telegram.InlineKeyboard:
		if m == nil {
			markup = nil
		}
	case *telegram.ReplyKeyboard:
		if m == nil {
			markup = nil
		}
	}
	id, err := l.chat.Send(ctx, text, telegram.SendOptions{Markup: markup, Silent: !l.store.IsLoud(cat)})
	if err != nil {
		l.transportError("telegram", err)
		return 0
	}
	l.metrics.MessagesSent.WithLabelValues(cat.String()).Inc()
	return id
}

// sendLong sends header, a code-block body and footer, chunked as needed.
// The keyboard rides on the last chunk. The text is remembered for /last.
func (l *Listener) sendLong(ctx context.Context, cat state.Category, window, header, body, footer string, kb *telegram.InlineKeyboard) {
	chunks := telegram.Chunks(header, body, footer)
	for i, c := range chunks {
		var markup any
		if i == len(chunks)-1 && kb != nil {
			markup = kb
		}
		l.send(ctx, cat, c, markup)
	}
	if window != "" && len(chunks) > 0 {
		l.store.SetLastMessage(wid(window), chunks[len(chunks)-1])
	}
}

// notice is a one-line message about a window that is also kept for /last.
func (l *Listener) notice(ctx context.Context, cat state.Category, window, text string, kb *telegram.InlineKeyboard) {
	l.send(ctx, cat, text, kb)
	if window != "" {
		l.store.SetLastMessage(wid(window), text)
	}
}

func (l *Listener) label(window string) string {
	return l.store.Label(index(window))
}

// tag is the " `w4 [name]`" fragment of event headers.
func (l *Listener) tag(window string) string {
	if window == "" {
		return ""
	}
	return " " + l.label(window)
}

func (l *Listener) sessionsMessage() string {
	if len(l.sessions) == 0 {
		return "⚠️ No Claude sessions found in tmux."
	}
	lines := []string{"📋 *Active Claude sessions:*"}
	for _, w := range tmux.SortWindows(l.sessions) {
		s := l.sessions[w]
		line := fmt.Sprintf("  %s — %s (%s)", l.label(w), telegram.Code(s.Project), telegram.Code(s.Pane.Target()))
		if s.Branch != "" {
			line += " " + telegram.Code(s.Branch)
		}
		lines = append(lines, line)
	}
	lines = append(lines, "\nPrefix messages with `wN` to route (e.g. `w1 fix the bug`).")
	return strings.Join(lines, "\n")
}

// buttonLabel is "w4 [name]" or "w4 project", cut to fit a button.
func (l *Listener) buttonLabel(w string) string {
	label := "w" + w + " " + l.sessions[w].Project
	if name := l.store.Names()[w]; name != "" {
		label = "w" + w + " [" + name + "]"
	}
	return runewidth.Truncate(label, 20, "")
}

// sessionsKeyboard has one sess_N button per live session.
func (l *Listener) sessionsKeyboard() *telegram.InlineKeyboard {
	return l.picker(tmux.SortWindows(l.sessions), func(w string) string { return "sess_" + w })
}

// commandKeyboard picks a live session for a command: cmd_focus_4.
func (l *Listener) commandKeyboard(action string) *telegram.InlineKeyboard {
	return l.commandKeyboardFor(action, tmux.SortWindows(l.sessions))
}

func (l *Listener) commandKeyboardFor(action string, windows []string) *telegram.InlineKeyboard {
	return l.picker(windows, func(w string) string { return "cmd_" + action + "_" + w })
}

func (l *Listener) picker(windows []string, data func(string) string) *telegram.InlineKeyboard {
	buttons := make([]telegram.Button, 0, len(windows))
	for _, w := range windows {
		buttons = append(buttons, telegram.Btn(l.buttonLabel(w), data(w)))
	}
	return telegram.Grid(buttons, 3)
}

// sendSessions posts the session list with its picker.
func (l *Listener) sendSessions(ctx context.Context, prefix string) {
	l.send(ctx, state.CatConfirmation, prefix+l.sessionsMessage(), l.sessionsKeyboard())
}

func (l *Listener) logSent(window, text string) {
	logger.Infof("listener: w%s: %s", index(window), clip(text, 100))
}
