// Package permission turns operator replies into keystrokes for an open
// permission or question dialog.
package permission

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agent-command/tgbridge/internal/signal"
)

type Kind string

const (
	KindPermission Kind = "permission"
	KindPlan       Kind = "plan"
	KindQuestion   Kind = "question"
	KindSubmit     Kind = "submit"
)

// Prompt is an open dialog waiting for an operator reply. It lives in the
// volatile state tier and is consumed by the reply that answers it.
type Prompt struct {
	Pane      string         `json:"pane"`
	Total     int            `json:"total"`
	Shortcuts map[string]int `json:"shortcuts,omitempty"`
	// FreeTextAt is the number of Down presses that reach the free-text
	// entry, set for questions only.
	FreeTextAt *int     `json:"free_text_at,omitempty"`
	Options    []string `json:"options,omitempty"`
	// Remaining questions of a multi-question ask. Multi marks that a
	// submit confirmation follows the last one.
	Remaining []signal.Question `json:"remaining,omitempty"`
	Multi     bool              `json:"multi,omitempty"`
	Project   string            `json:"project,omitempty"`
	Kind      Kind              `json:"kind"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewPermission builds the prompt for a permission dialog with total options.
// The last option is always the deny choice.
func NewPermission(pane, project string, total int, options []string, now time.Time) *Prompt {
	if total < 2 {
		total = 3
	}
	return &Prompt{
		Pane:  pane,
		Total: total,
		Shortcuts: map[string]int{
			"y": 1, "yes": 1, "allow": 1, "approve": 1,
			"n": total, "no": total, "deny": total,
		},
		Options:   options,
		Project:   project,
		Kind:      KindPermission,
		CreatedAt: now,
	}
}

// NewQuestion builds the prompt for the first of qs. The dialog lists the
// options followed by "Type something" and "Chat about this".
func NewQuestion(pane, project string, qs []signal.Question, now time.Time) *Prompt {
	if len(qs) == 0 {
		return nil
	}
	q := qs[0]
	n := len(q.Options)
	labels := make([]string, 0, n)
	for _, o := range q.Options {
		labels = append(labels, o.Label)
	}
	return &Prompt{
		Pane:       pane,
		Total:      n + 2,
		FreeTextAt: &n,
		Options:    labels,
		Remaining:  qs[1:],
		Multi:      len(qs) > 1,
		Project:    project,
		Kind:       KindQuestion,
		CreatedAt:  now,
	}
}

// NewSubmit is the final yes/no of a multi-question ask.
func NewSubmit(pane, project string, now time.Time) *Prompt {
	return &Prompt{
		Pane:      pane,
		Total:     2,
		Shortcuts: map[string]int{"y": 1, "yes": 1, "n": 2, "no": 2},
		Project:   project,
		Kind:      KindSubmit,
		CreatedAt: now,
	}
}

// Next returns the prompt that follows once p is answered: the next
// question, the submit confirmation, or nil.
func (p *Prompt) Next(now time.Time) *Prompt {
	if p.Kind != KindQuestion || !p.Multi {
		return nil
	}
	if len(p.Remaining) > 0 {
		next := NewQuestion(p.Pane, p.Project, p.Remaining, now)
		next.Multi = true
		return next
	}
	return NewSubmit(p.Pane, p.Project, now)
}

type Action int

const (
	Select Action = iota + 1
	FreeText
	Guidance
)

type Resolution struct {
	Kind   Action
	Option int
	Text   string
	Hint   string
}

// Resolve maps a reply onto the prompt. Shortcuts win, then option numbers,
// then option labels. Anything else is typed into the free-text entry when the
// dialog has one; otherwise the operator gets a hint and the prompt stays open.
func Resolve(p *Prompt, reply string) Resolution {
	r := strings.TrimSpace(reply)
	lower := strings.ToLower(r)

	if n, ok := p.Shortcuts[lower]; ok {
		return Resolution{Kind: Select, Option: n}
	}
	if n, err := strconv.Atoi(r); err == nil && n >= 1 && n <= p.Total {
		return Resolution{Kind: Select, Option: n}
	}
	if lower != "" {
		for i, label := range p.Options {
			if strings.EqualFold(optionLabel(label), r) {
				return Resolution{Kind: Select, Option: i + 1}
			}
		}
	}
	if p.FreeTextAt != nil && r != "" {
		return Resolution{Kind: FreeText, Text: r}
	}
	return Resolution{Kind: Guidance, Hint: p.Hint()}
}

// Hint lists the replies the prompt accepts.
func (p *Prompt) Hint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "reply with a number 1-%d", p.Total)
	if len(p.Shortcuts) > 0 {
		keys := make([]string, 0, len(p.Shortcuts))
		for k := range p.Shortcuts {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if p.Shortcuts[keys[i]] != p.Shortcuts[keys[j]] {
				return p.Shortcuts[keys[i]] < p.Shortcuts[keys[j]]
			}
			return keys[i] < keys[j]
		})
		quoted := make([]string, len(keys))
		for i, k := range keys {
			quoted[i] = "`" + k + "`"
		}
		b.WriteString(" or " + strings.Join(quoted, ", "))
	}
	return b.String()
}

// optionLabel strips the "2. " numbering from a parsed dialog option.
func optionLabel(opt string) string {
	if i := strings.Index(opt, ". "); i > 0 {
		if _, err := strconv.Atoi(opt[:i]); err == nil {
			return strings.TrimSpace(opt[i+2:])
		}
	}
	return strings.TrimSpace(opt)
}
