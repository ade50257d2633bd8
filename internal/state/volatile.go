package state

import (
	"sort"
	"time"

	"github.com/agent-command/tgbridge/internal/permission"
)

// Target is the window a focus mode watches.
type Target struct {
	Window  string `json:"wid"`
	Pane    string `json:"pane"`
	Project string `json:"project"`
}

type FocusMode int

const (
	FocusNone FocusMode = iota
	FocusWatch
	FocusDeep
	FocusSmart
)

type volatile struct {
	Prompts     map[string]*permission.Prompt `json:"prompts"`
	Busy        map[string]time.Time          `json:"busy"`
	Focus       *Target                       `json:"focus,omitempty"`
	Deepfocus   *Target                       `json:"deepfocus,omitempty"`
	Smartfocus  *Target                       `json:"smartfocus,omitempty"`
	Watermarks  map[string][]string           `json:"watermarks"`
	SavedText   map[string]string             `json:"saved_text"`
	LastMessage map[string]string             `json:"last_message"`
	LastUsed    string                        `json:"last_used,omitempty"`
	Interrupted map[string]bool               `json:"interrupted"`
}

func newVolatile() volatile {
	var v volatile
	v.fill()
	return v
}

// fill replaces nil maps left by decoding an older or partial file.
func (v *volatile) fill() {
	if v.Prompts == nil {
		v.Prompts = map[string]*permission.Prompt{}
	}
	if v.Busy == nil {
		v.Busy = map[string]time.Time{}
	}
	if v.Watermarks == nil {
		v.Watermarks = map[string][]string{}
	}
	if v.SavedText == nil {
		v.SavedText = map[string]string{}
	}
	if v.LastMessage == nil {
		v.LastMessage = map[string]string{}
	}
	if v.Interrupted == nil {
		v.Interrupted = map[string]bool{}
	}
}

// ResetVolatile discards the whole volatile tier. Persisted state, including
// queues, is untouched.
func (s *Store) ResetVolatile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vol = newVolatile()
	return s.saveVolatileLocked()
}

// Forget clears a vanished or killed window's transient flags. Its name and
// queue are kept.
func (s *Store) Forget(window string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vol.Prompts, window)
	delete(s.vol.Busy, window)
	delete(s.vol.Watermarks, window)
	delete(s.vol.SavedText, window)
	delete(s.vol.Interrupted, window)
	for _, t := range []**Target{&s.vol.Focus, &s.vol.Deepfocus, &s.vol.Smartfocus} {
		if *t != nil && (*t).Window == window {
			*t = nil
		}
	}
	s.flushVolatileLocked()
}

// --- busy ---

func (s *Store) MarkBusy(window string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vol.Busy[window] = s.now()
	s.flushVolatileLocked()
}

func (s *Store) ClearBusy(window string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vol.Busy[window]; !ok {
		return
	}
	delete(s.vol.Busy, window)
	s.flushVolatileLocked()
}

// BusySince returns when the window was marked busy.
func (s *Store) BusySince(window string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.vol.Busy[window]
	return t, ok
}

func (s *Store) BusyWindows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.vol.Busy))
	for w := range s.vol.Busy {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// --- focus modes ---

func (s *Store) targetLocked(mode FocusMode) **Target {
	switch mode {
	case FocusWatch:
		return &s.vol.Focus
	case FocusDeep:
		return &s.vol.Deepfocus
	case FocusSmart:
		return &s.vol.Smartfocus
	}
	return nil
}

// SetFocus points a focus mode at t. Focus and deepfocus exclude each other.
func (s *Store) SetFocus(mode FocusMode, t Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch mode {
	case FocusWatch:
		s.vol.Deepfocus = nil
	case FocusDeep:
		s.vol.Focus = nil
	}
	if p := s.targetLocked(mode); p != nil {
		*p = &t
	}
	s.flushVolatileLocked()
}

// Focus returns the target of mode, or nil.
func (s *Store) Focus(mode FocusMode) *Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.targetLocked(mode)
	if p == nil || *p == nil {
		return nil
	}
	t := **p
	return &t
}

func (s *Store) ClearFocus(mode FocusMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.targetLocked(mode); p != nil && *p != nil {
		*p = nil
		if mode == FocusSmart {
			s.vol.Watermarks = map[string][]string{}
		}
		s.flushVolatileLocked()
	}
}

// Focused reports whether focus or deepfocus watches the window. Stop
// notifications for such windows are redundant.
func (s *Store) Focused(window string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (s.vol.Focus != nil && s.vol.Focus.Window == window) ||
		(s.vol.Deepfocus != nil && s.vol.Deepfocus.Window == window)
}

// Watermark is the smartfocus record of lines already surfaced.
func (s *Store) Watermark(window string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.vol.Watermarks[window]...)
}

func (s *Store) SetWatermark(window string, lines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vol.Watermarks[window] = append([]string(nil), lines...)
	s.flushVolatileLocked()
}

// --- typed prompt text ---

// SavePromptText keeps text the operator typed locally before a chat message
// replaced it, so it can be restored when the turn ends.
func (s *Store) SavePromptText(window, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vol.SavedText[window] = text
	s.flushVolatileLocked()
}

func (s *Store) TakePromptText(window string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.vol.SavedText[window]
	if ok {
		delete(s.vol.SavedText, window)
		s.flushVolatileLocked()
	}
	return t, ok
}

// --- last message and routing memory ---

func (s *Store) SetLastMessage(window, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vol.LastMessage[window] = text
	s.flushVolatileLocked()
}

func (s *Store) LastMessage(window string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.vol.LastMessage[window]
	return t, ok
}

// LastMessageWindows lists windows with a remembered message.
func (s *Store) LastMessageWindows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.vol.LastMessage))
	for w := range s.vol.LastMessage {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

func (s *Store) SetLastUsed(window string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vol.LastUsed == window {
		return
	}
	s.vol.LastUsed = window
	s.flushVolatileLocked()
}

func (s *Store) LastUsed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vol.LastUsed
}

// --- interruption notices ---

// MarkInterruptNotified records that the current interruption was reported.
// It returns false when it already was.
func (s *Store) MarkInterruptNotified(window string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vol.Interrupted[window] {
		return false
	}
	s.vol.Interrupted[window] = true
	s.flushVolatileLocked()
	return true
}

func (s *Store) ClearInterruptNotified(window string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.vol.Interrupted[window] {
		return
	}
	delete(s.vol.Interrupted, window)
	s.flushVolatileLocked()
}
