package tmux

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/agent-command/tgbridge/internal/proc"
)

// Session is a live agent bound to one tmux window.
type Session struct {
	Window  string // window index, "4"
	Pane    Pane
	Project string
	Branch  string
}

// ID returns the wN form.
func (s Session) ID() string { return "w" + s.Window }

// PaneLister is the part of Client the scanner needs.
type PaneLister interface {
	ListPanes(ctx context.Context) ([]Pane, error)
}

type ScanResult struct {
	Sessions map[string]Session
	// Gone lists window indexes missing from two consecutive scans.
	Gone []string
}

// Windows returns the live window indexes in numeric order.
func (r ScanResult) Windows() []string {
	return SortWindows(r.Sessions)
}

func SortWindows(sessions map[string]Session) []string {
	out := make([]string, 0, len(sessions))
	for w := range sessions {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i])
		b, _ := strconv.Atoi(out[j])
		return a < b
	})
	return out
}

// Scanner discovers agent sessions by window index. A window survives one
// missed scan so a restarting agent does not lose its session state.
type Scanner struct {
	lister  PaneLister
	agent   string
	procs   func() proc.Tree
	git     *GitCache
	known   map[string]bool
	missing map[string]int
}

func NewScanner(lister PaneLister, agent string, procs func() proc.Tree, git *GitCache) *Scanner {
	if agent == "" {
		agent = "claude"
	}
	return &Scanner{
		lister:  lister,
		agent:   agent,
		procs:   procs,
		git:     git,
		known:   make(map[string]bool),
		missing: make(map[string]int),
	}
}

func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	panes, err := s.lister.ListPanes(ctx)
	if err != nil {
		return ScanResult{}, err
	}

	var tree proc.Tree
	sessions := make(map[string]Session)
	for _, p := range panes {
		w := strconv.Itoa(p.WindowIndex)
		if existing, ok := sessions[w]; ok && existing.Pane.PaneIndex <= p.PaneIndex {
			continue
		}
		if !strings.EqualFold(p.CurrentCommand, s.agent) {
			if s.procs == nil {
				continue
			}
			if tree == nil {
				tree = s.procs()
			}
			if !tree.HasDescendant(p.PanePID, []string{s.agent}) {
				continue
			}
		}
		sess := Session{Window: w, Pane: p, Project: ProjectName(p.CurrentPath)}
		if s.git != nil {
			sess.Branch = s.git.Branch(p.CurrentPath)
		}
		sessions[w] = sess
	}

	result := ScanResult{Sessions: sessions}
	for w := range sessions {
		s.known[w] = true
		delete(s.missing, w)
	}
	for w := range s.known {
		if _, ok := sessions[w]; ok {
			continue
		}
		s.missing[w]++
		if s.missing[w] >= 2 {
			result.Gone = append(result.Gone, w)
			delete(s.known, w)
			delete(s.missing, w)
		}
	}
	sort.Strings(result.Gone)
	return result, nil
}

// Forget drops a window immediately, as after /kill.
func (s *Scanner) Forget(window string) {
	delete(s.known, window)
	delete(s.missing, window)
}

func ProjectName(cwd string) string {
	cwd = strings.TrimRight(cwd, "/")
	if cwd == "" {
		return "?"
	}
	return filepath.Base(cwd)
}
