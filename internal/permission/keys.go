package permission

import (
	"time"

	"github.com/agent-command/tgbridge/internal/tmux"
)

// Settle delays. The agent UI drops keystrokes that arrive back to back, so
// navigation and confirmation are separated inside one tmux invocation.
const (
	SelectSettle   = 100 * time.Millisecond
	FreeTextSettle = 200 * time.Millisecond
	TextSettle     = 100 * time.Millisecond
)

// SelectSequence highlights option k (the first option is highlighted by
// default) and confirms it.
func SelectSequence(pane string, k int) *tmux.Sequence {
	if k < 1 {
		k = 1
	}
	return tmux.NewSequence(pane).
		Repeat("Down", k-1).
		Wait(SelectSettle).
		Keys("Enter")
}

// FreeTextSequence moves to the free-text entry, types text and submits.
func FreeTextSequence(pane string, downs int, text string) *tmux.Sequence {
	return tmux.NewSequence(pane).
		Repeat("Down", downs).
		Wait(FreeTextSettle).
		Text(text).
		Wait(TextSettle).
		Keys("Enter")
}

// Sequence renders a resolution for the prompt's pane. Guidance has no keys.
func Sequence(p *Prompt, r Resolution) *tmux.Sequence {
	switch r.Kind {
	case Select:
		return SelectSequence(p.Pane, r.Option)
	case FreeText:
		downs := 0
		if p.FreeTextAt != nil {
			downs = *p.FreeTextAt
		}
		return FreeTextSequence(p.Pane, downs, r.Text)
	default:
		return nil
	}
}
