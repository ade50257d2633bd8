package router

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNoSessions means no agent session is live.
	ErrNoSessions = errors.New("no agent sessions")
	// ErrAmbiguous means several sessions are live and nothing picks one.
	ErrAmbiguous = errors.New("multiple sessions, no target")
)

// UnknownWindowError is an explicit wN prefix naming a window with no agent.
type UnknownWindowError struct {
	Window string
}

func (e *UnknownWindowError) Error() string {
	return fmt.Sprintf("no agent session at w%s", e.Window)
}

// Route is where a message goes and what it says once the prefix is gone.
type Route struct {
	Window string // window index, "4"
	Text   string
	// Explicit is set when the message named its target.
	Explicit bool
}

// Sessions is what the resolver needs to know about the live set.
type Sessions struct {
	Live  []string          // window indexes
	Names map[string]string // window index -> name
	// ReplyTo is the window referenced by the message being replied to.
	ReplyTo  string
	LastUsed string
}

func (s Sessions) has(window string) bool {
	for _, w := range s.Live {
		if w == window {
			return true
		}
	}
	return false
}

// Lookup resolves a /command target, either an index or a session name.
func (s Sessions) Lookup(target string) (string, bool) {
	target = normalizeTarget(target)
	if IsWindow(target) {
		return target, s.has(target)
	}
	for _, w := range s.Live {
		if n := s.Names[w]; n != "" && strings.EqualFold(n, target) {
			return w, true
		}
	}
	return "", false
}

var rePrefix = regexp.MustCompile(`(?s)^w(\d+)\s+(.*)$`)

// Resolve picks the target session for plain text: an explicit wN prefix,
// then a session-name prefix, then the window of a replied-to message, then
// the sole live session, then the last one used.
func Resolve(text string, s Sessions) (Route, error) {
	text = strings.TrimSpace(text)

	if m := rePrefix.FindStringSubmatch(text); m != nil {
		if !s.has(m[1]) {
			return Route{}, &UnknownWindowError{Window: m[1]}
		}
		return Route{Window: m[1], Text: strings.TrimSpace(m[2]), Explicit: true}, nil
	}

	if first, rest, ok := strings.Cut(text, " "); ok && strings.TrimSpace(rest) != "" {
		if w, found := s.Lookup(first); found && !IsWindow(first) {
			return Route{Window: w, Text: strings.TrimSpace(rest), Explicit: true}, nil
		}
	}

	if w := normalizeTarget(s.ReplyTo); w != "" && s.has(w) {
		return Route{Window: w, Text: text}, nil
	}

	switch {
	case len(s.Live) == 1:
		return Route{Window: s.Live[0], Text: text}, nil
	case s.LastUsed != "" && s.has(normalizeTarget(s.LastUsed)):
		return Route{Window: normalizeTarget(s.LastUsed), Text: text}, nil
	case len(s.Live) == 0:
		return Route{}, ErrNoSessions
	default:
		return Route{}, ErrAmbiguous
	}
}
