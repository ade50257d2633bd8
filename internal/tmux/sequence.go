package tmux

import (
	"strconv"
	"strings"
	"time"
)

type step struct {
	keys    []string
	literal string
	isText  bool
	delay   time.Duration
}

// Sequence is an ordered list of keystrokes, literal text and settle delays
// for one pane. It renders as a single tmux command chain joined with ";",
// with delays expressed as blocking run-shell sleeps inside tmux itself.
type Sequence struct {
	target string
	steps  []step
}

func NewSequence(target string) *Sequence {
	return &Sequence{target: target}
}

func (s *Sequence) Target() string { return s.target }

// Keys appends named keys (Down, Enter, Escape, C-u ...). Zero keys is a no-op.
func (s *Sequence) Keys(keys ...string) *Sequence {
	if len(keys) > 0 {
		s.steps = append(s.steps, step{keys: keys})
	}
	return s
}

// Repeat appends key n times as one send-keys.
func (s *Sequence) Repeat(key string, n int) *Sequence {
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, key)
	}
	return s.Keys(keys...)
}

// Text appends literal text, typed as-is.
func (s *Sequence) Text(text string) *Sequence {
	s.steps = append(s.steps, step{literal: text, isText: true})
	return s
}

// Wait appends a settle delay.
func (s *Sequence) Wait(d time.Duration) *Sequence {
	if d > 0 {
		s.steps = append(s.steps, step{delay: d})
	}
	return s
}

func (s *Sequence) Empty() bool { return len(s.steps) == 0 }

func (s *Sequence) TotalDelay() time.Duration {
	var total time.Duration
	for _, st := range s.steps {
		total += st.delay
	}
	return total
}

// Args renders the tmux argument vector.
func (s *Sequence) Args() []string {
	var args []string
	for i, st := range s.steps {
		if i > 0 {
			args = append(args, ";")
		}
		switch {
		case st.delay > 0:
			args = append(args, "run-shell", "sleep "+strconv.FormatFloat(st.delay.Seconds(), 'f', -1, 64))
		case st.isText:
			args = append(args, "send-keys", "-t", s.target, "-l", "--", escapeArg(st.literal))
		default:
			args = append(args, "send-keys", "-t", s.target)
			args = append(args, st.keys...)
		}
	}
	return args
}

// String is the shell-ish rendering used in logs.
func (s *Sequence) String() string {
	return strings.Join(s.Args(), " ")
}

// escapeArg protects a trailing semicolon, which tmux would otherwise read
// as a command separator. tmux turns a trailing `\;` back into `;`.
func escapeArg(arg string) string {
	if strings.HasSuffix(arg, ";") {
		return arg[:len(arg)-1] + `\;`
	}
	return arg
}
