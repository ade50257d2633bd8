// Package state is the listener's single source of truth. It has two tiers:
// a volatile tier in the runtime dir that is reset at startup and on /clear,
// and a persisted tier in the config dir that survives restarts and reloads.
// Every mutation is flushed to disk before the call returns.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agent-command/tgbridge/internal/clock"
	"github.com/agent-command/tgbridge/internal/logger"
	"github.com/agent-command/tgbridge/internal/permission"
	"github.com/agent-command/tgbridge/internal/queue"
)

const (
	godModeFile       = "god_mode.json"
	namesFile         = "names.json"
	notificationsFile = "notifications.json"
	settingsFile      = "settings.json"
	volatileFile      = "volatile.json"

	// AllWindows is the god-mode entry that covers every session.
	AllWindows = "all"

	defaultQueueSize = 100
)

// CorruptionError reports a state file that could not be decoded and was
// replaced by defaults.
type CorruptionError struct {
	File string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("state file %s is corrupt, using defaults: %v", filepath.Base(e.File), e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

type godModeRecord struct {
	Wids []string `json:"wids"`
}

type notificationsRecord struct {
	Loud []int `json:"loud"`
}

type Settings struct {
	Autofocus bool `json:"autofocus"`
}

type Store struct {
	mu          sync.Mutex
	volatileDir string
	persistDir  string
	clock       clock.Clock

	god      []string
	names    map[string]string
	loud     map[Category]bool
	settings Settings
	queues   map[string]*queue.Queue
	vol      volatile

	warnings []error
}

// Open loads both tiers. Unreadable files fall back to defaults and are
// reported once through Warnings.
func Open(volatileDir, persistDir string, clk clock.Clock) (*Store, error) {
	for _, dir := range []string{volatileDir, persistDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir %s: %w", dir, err)
		}
	}
	if clk == nil {
		clk = clock.Real()
	}
	s := &Store{
		volatileDir: volatileDir,
		persistDir:  persistDir,
		clock:       clk,
		names:       map[string]string{},
		loud:        DefaultLoud(),
		settings:    Settings{Autofocus: true},
		queues:      map[string]*queue.Queue{},
		vol:         newVolatile(),
	}
	s.loadPersisted()
	s.loadVolatile()
	return s, nil
}

func (s *Store) loadPersisted() {
	var god godModeRecord
	if s.readJSON(s.persistDir, godModeFile, &god) {
		s.god = god.Wids
	}

	names := map[string]string{}
	if s.readJSON(s.persistDir, namesFile, &names) {
		s.names = names
	}

	var notif notificationsRecord
	if s.readJSON(s.persistDir, notificationsFile, &notif) {
		s.loud = map[Category]bool{}
		for _, c := range notif.Loud {
			if Category(c).Valid() {
				s.loud[Category(c)] = true
			}
		}
	}

	var settings Settings
	if s.readJSON(s.persistDir, settingsFile, &settings) {
		s.settings = settings
	}
}

func (s *Store) loadVolatile() {
	var v volatile
	if s.readJSON(s.volatileDir, volatileFile, &v) {
		v.fill()
		s.vol = v
	}
}

// readJSON decodes dir/name into v. A missing file is not an error; a corrupt
// one is recorded as a warning and reported as not loaded.
func (s *Store) readJSON(dir, name string, v any) bool {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.warnings = append(s.warnings, &CorruptionError{File: path, Err: err})
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.warnings = append(s.warnings, &CorruptionError{File: path, Err: err})
		logger.Warnf("state: %s unreadable, using defaults: %v", path, err)
		return false
	}
	return true
}

func writeJSON(dir, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Warnings returns corruption warnings collected since the last call.
func (s *Store) Warnings() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.warnings
	s.warnings = nil
	return out
}

// Flush writes both tiers. Mutations flush on their own; reload calls this
// before re-exec.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := []error{
		s.saveGodLocked(),
		writeJSON(s.persistDir, namesFile, s.names),
		s.saveLoudLocked(),
		writeJSON(s.persistDir, settingsFile, s.settings),
		s.saveVolatileLocked(),
	}
	for _, q := range s.queues {
		errs = append(errs, q.Close())
	}
	return errors.Join(errs...)
}

// windowIndex maps "w4" to "4"; "all" and bare indexes pass through.
func windowIndex(window string) string {
	return strings.TrimPrefix(window, "w")
}

// --- god mode ---

func (s *Store) saveGodLocked() error {
	if len(s.god) == 0 {
		err := os.Remove(filepath.Join(s.persistDir, godModeFile))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return writeJSON(s.persistDir, godModeFile, godModeRecord{Wids: s.god})
}

// SetGodMode enables or disables auto-approval for a window or AllWindows.
func (s *Store) SetGodMode(window string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := windowIndex(window)
	kept := s.god[:0:0]
	for _, w := range s.god {
		if w != idx {
			kept = append(kept, w)
		}
	}
	if on {
		kept = append(kept, idx)
	}
	s.god = kept
	return s.saveGodLocked()
}

func (s *Store) ClearGodMode() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.god = nil
	return s.saveGodLocked()
}

func (s *Store) IsGodMode(window string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := windowIndex(window)
	for _, w := range s.god {
		if w == AllWindows || w == idx {
			return true
		}
	}
	return false
}

// GodModeWindows returns the enabled entries ("4", "all") in insertion order.
func (s *Store) GodModeWindows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.god...)
}

// --- names ---

func (s *Store) SetName(window, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[windowIndex(window)] = name
	return writeJSON(s.persistDir, namesFile, s.names)
}

func (s *Store) ClearName(window string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.names, windowIndex(window))
	return writeJSON(s.persistDir, namesFile, s.names)
}

// Names returns a copy keyed by window index ("4").
func (s *Store) Names() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.names))
	for k, v := range s.names {
		out[k] = v
	}
	return out
}

// Label renders "`w4 [auth]`", or "`w4`" for an unnamed window.
func (s *Store) Label(window string) string {
	s.mu.Lock()
	name := s.names[windowIndex(window)]
	s.mu.Unlock()
	idx := windowIndex(window)
	if name != "" {
		return "`w" + idx + " [" + name + "]`"
	}
	return "`w" + idx + "`"
}

// ResolveName finds the window ("w4") for a session name, case-insensitively,
// among live windows.
func (s *Store) ResolveName(name string, live []string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range live {
		if n := s.names[windowIndex(w)]; n != "" && strings.EqualFold(n, name) {
			return w, true
		}
	}
	return "", false
}

// --- notification policy ---

func (s *Store) saveLoudLocked() error {
	return writeJSON(s.persistDir, notificationsFile, notificationsRecord{Loud: sortedCategories(s.loud)})
}

func (s *Store) IsLoud(c Category) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loud[c]
}

// SetLoud replaces the set of categories that notify with sound.
func (s *Store) SetLoud(cats []Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loud = map[Category]bool{}
	for _, c := range cats {
		if c.Valid() {
			s.loud[c] = true
		}
	}
	return s.saveLoudLocked()
}

func (s *Store) Loud() []Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Category, 0, len(s.loud))
	for _, c := range sortedCategories(s.loud) {
		out = append(out, Category(c))
	}
	return out
}

func sortedCategories(m map[Category]bool) []int {
	out := make([]int, 0, len(m))
	for c, on := range m {
		if on {
			out = append(out, int(c))
		}
	}
	sort.Ints(out)
	return out
}

// --- settings ---

func (s *Store) Autofocus() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Autofocus
}

func (s *Store) SetAutofocus(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Autofocus = on
	return writeJSON(s.persistDir, settingsFile, s.settings)
}

// --- queues ---

func (s *Store) queueLocked(window string) (*queue.Queue, error) {
	if q, ok := s.queues[window]; ok {
		return q, nil
	}
	q, err := queue.NewQueue(s.persistDir, window, defaultQueueSize)
	if err != nil {
		return nil, err
	}
	if n := q.Skipped(); n > 0 {
		s.warnings = append(s.warnings, &CorruptionError{
			File: filepath.Join(s.persistDir, queue.FileName(window)),
			Err:  fmt.Errorf("%d unreadable line(s) dropped", n),
		})
	}
	s.queues[window] = q
	return q, nil
}

// Enqueue appends an operator message for a busy window and returns the
// queue length.
func (s *Store) Enqueue(window, text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.queueLocked(window)
	if err != nil {
		return 0, err
	}
	if _, err := q.Push(text, s.clock.Now()); err != nil {
		return 0, err
	}
	return q.Len(), nil
}

func (s *Store) Queued(window string) []queue.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.queueLocked(window)
	if err != nil {
		logger.Warnf("state: queue %s: %v", window, err)
		return nil
	}
	return q.List()
}

// DrainQueue removes and returns the window's queued messages in order.
func (s *Store) DrainQueue(window string) ([]queue.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.queueLocked(window)
	if err != nil {
		return nil, err
	}
	return q.Drain()
}

// QueuedWindows lists windows with a non-empty queue file on disk.
func (s *Store) QueuedWindows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.persistDir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "queue_") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		w := strings.TrimSuffix(strings.TrimPrefix(name, "queue_"), ".jsonl")
		if q, err := s.queueLocked(w); err == nil && q.Len() > 0 {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(windowIndex(out[i]))
		b, _ := strconv.Atoi(windowIndex(out[j]))
		return a < b
	})
	return out
}

// --- prompts ---

func (s *Store) SavePrompt(window string, p *permission.Prompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vol.Prompts[window] = p
	return s.saveVolatileLocked()
}

// TakePrompt removes and returns the window's open prompt.
func (s *Store) TakePrompt(window string) *permission.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.vol.Prompts[window]
	if !ok {
		return nil
	}
	delete(s.vol.Prompts, window)
	s.flushVolatileLocked()
	return p
}

func (s *Store) Prompt(window string) *permission.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vol.Prompts[window]
}

func (s *Store) AnyPrompt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vol.Prompts) > 0
}

// PromptWindows lists windows with an open prompt.
func (s *Store) PromptWindows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.vol.Prompts))
	for w := range s.vol.Prompts {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// IsStalePrompt reports a prompt whose pane no longer matches the live
// session. A recreated window keeps its index but gets a new pane id, so the
// prompt's pane must equal the live pane id or, for target-form panes, the
// live session:window.pane target.
func IsStalePrompt(p *permission.Prompt, livePaneID, liveTarget string, live bool) bool {
	if !live {
		return true
	}
	if strings.HasPrefix(p.Pane, "%") {
		return livePaneID != "" && p.Pane != livePaneID
	}
	return p.Pane != liveTarget && p.Pane != livePaneID
}

// --- flush helpers ---

func (s *Store) saveVolatileLocked() error {
	return writeJSON(s.volatileDir, volatileFile, s.vol)
}

// flushVolatileLocked is for mutations whose callers cannot act on a write
// failure.
func (s *Store) flushVolatileLocked() {
	if err := s.saveVolatileLocked(); err != nil {
		logger.Warnf("state: flush volatile tier: %v", err)
	}
}

func (s *Store) now() time.Time { return s.clock.Now() }
