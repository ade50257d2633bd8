package telegram

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Code wraps user-controlled text in a Markdown code span. Backticks inside
// would close the span early, so they are replaced.
func Code(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "'") + "`"
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// Escape makes s render literally in a Markdown message.
func Escape(s string) string {
	return markdownEscaper.Replace(s)
}

// Chunks lays out header, a code-block body and footer as one or more
// messages within MaxMessage. The body is split at line boundaries; the
// first chunk carries the header with a "(1/N)" label, later chunks a
// "(cont. i/N)" label, and the footer follows the last chunk.
func Chunks(header, body, footer string) []string {
	body = strings.ReplaceAll(body, "```", "'''")
	footerStr := ""
	if footer != "" {
		footerStr = "\n" + footer
	}
	overhead := len(header) + len("```\n") + len("\n```") + len(footerStr) + 50
	size := MaxMessage - overhead
	if size < 200 {
		size = 200
	}

	if len(body) <= size {
		return []string{header + "```\n" + body + "\n```" + footerStr}
	}

	var parts []string
	var cur strings.Builder
	for _, line := range strings.SplitAfter(body, "\n") {
		for len(line) > size {
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
			cut := truncate(line, size)
			parts = append(parts, cut)
			line = line[len(cut):]
		}
		if cur.Len()+len(line) > size && cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}

	total := len(parts)
	out := make([]string, total)
	for i, p := range parts {
		label := fmt.Sprintf("(cont. %d/%d)\n", i+1, total)
		if i == 0 {
			label = fmt.Sprintf("%s(1/%d)\n", header, total)
		}
		msg := label + "```\n" + strings.TrimRight(p, "\n") + "\n```"
		if i == total-1 {
			msg += footerStr
		}
		out[i] = msg
	}
	return out
}

// Inline builds an inline keyboard from rows of (label, callback data) pairs.
func Inline(rows ...[]Button) *InlineKeyboard {
	return &InlineKeyboard{InlineKeyboard: rows}
}

func Btn(text, data string) Button {
	return Button{Text: text, CallbackData: data}
}

// Grid lays buttons out n per row.
func Grid(buttons []Button, n int) *InlineKeyboard {
	var rows [][]Button
	for i := 0; i < len(buttons); i += n {
		end := i + n
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, buttons[i:end])
	}
	if len(rows) == 0 {
		return nil
	}
	return Inline(rows...)
}

// DefaultReplyKeyboard is the persistent keyboard with the common commands.
func DefaultReplyKeyboard() *ReplyKeyboard {
	return &ReplyKeyboard{
		Keyboard: [][]Button{
			{{Text: "/status"}, {Text: "/last"}, {Text: "/saved"}},
			{{Text: "/focus"}, {Text: "/interrupt"}, {Text: "/help"}},
		},
		ResizeKeyboard: true,
		IsPersistent:   true,
	}
}

// BotCommands is the command menu registered at startup.
var BotCommands = []BotCommand{
	{Command: "status", Description: "List sessions, or show session status with wN"},
	{Command: "help", Description: "Show available commands"},
	{Command: "focus", Description: "Watch completed responses from a session"},
	{Command: "deepfocus", Description: "Stream all session output in real-time"},
	{Command: "unfocus", Description: "Stop real-time monitoring"},
	{Command: "clear", Description: "Reset transient state (prompts, busy, focus)"},
	{Command: "autofocus", Description: "Toggle auto-monitor on message send"},
	{Command: "god", Description: "Auto-accept permissions (god mode)"},
	{Command: "notification", Description: "Control which alerts buzz your phone"},
	{Command: "name", Description: "Name a session (e.g. /name w4 auth)"},
	{Command: "interrupt", Description: "Interrupt current task (Esc)"},
	{Command: "last", Description: "Re-send last message for a session"},
	{Command: "saved", Description: "Review queued messages for busy sessions"},
	{Command: "new", Description: "Start new Claude session"},
	{Command: "stop", Description: "Pause the listener"},
	{Command: "start", Description: "Resume the listener"},
	{Command: "kill", Description: "Exit a Claude session (Ctrl+C)"},
	{Command: "quit", Description: "Shut down the listener"},
}

// Incoming is one update from the configured chat, flattened for routing.
type Incoming struct {
	Text string
	// PhotoID is the largest size of an attached photo.
	PhotoID string
	// ReplyWindow is the "wN" found in the message being replied to.
	ReplyWindow string
	Callback    *Callback
}

type Callback struct {
	ID        string
	Data      string
	MessageID int
}

var reWindowRef = regexp.MustCompile(`w(\d+)`)

// FromChat keeps updates from chatID and flattens them. Updates from other
// chats are dropped.
func FromChat(updates []Update, chatID string) []Incoming {
	var out []Incoming
	for _, u := range updates {
		if cb := u.CallbackQuery; cb != nil {
			if cb.Message == nil || strconv.FormatInt(cb.Message.Chat.ID, 10) != chatID {
				continue
			}
			out = append(out, Incoming{Callback: &Callback{ID: cb.ID, Data: cb.Data, MessageID: cb.Message.MessageID}})
			continue
		}
		m := u.Message
		if m == nil || strconv.FormatInt(m.Chat.ID, 10) != chatID {
			continue
		}
		in := Incoming{}
		if r := m.ReplyToMessage; r != nil {
			ref := r.Text
			if ref == "" {
				ref = r.Caption
			}
			if sm := reWindowRef.FindStringSubmatch(ref); sm != nil {
				in.ReplyWindow = "w" + sm[1]
			}
		}
		switch {
		case len(m.Photo) > 0:
			in.PhotoID = m.Photo[len(m.Photo)-1].FileID
			in.Text = strings.TrimSpace(m.Caption)
		case m.Text != "":
			in.Text = strings.TrimSpace(m.Text)
		default:
			continue
		}
		out = append(out, in)
	}
	return out
}
