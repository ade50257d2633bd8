// Package proc reads the process table so the scanner can tell whether a
// pane's shell is hosting an agent process somewhere below it.
package proc

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Entry struct {
	Pid     int
	PPid    int
	Argv0   string
	Cmdline string
	Comm    string
}

// Tree is the read side the scanner depends on.
type Tree interface {
	HasDescendant(pid int, names []string) bool
}

type Snapshot struct {
	entries  map[int]*Entry
	children map[int][]int
}

// TakeSnapshot reads /proc.
func TakeSnapshot() *Snapshot {
	return TakeSnapshotAt("/proc")
}

// TakeSnapshotAt reads a procfs-shaped directory. An unreadable root gives an empty snapshot.
func TakeSnapshotAt(root string) *Snapshot {
	snap := &Snapshot{entries: make(map[int]*Entry), children: make(map[int][]int)}

	dirs, err := os.ReadDir(root)
	if err != nil {
		return snap
	}
	for _, dir := range dirs {
		pid, ok := parsePID(dir.Name())
		if !ok || !dir.IsDir() {
			continue
		}
		stat, err := os.ReadFile(filepath.Join(root, dir.Name(), "stat"))
		if err != nil {
			continue
		}
		comm, ppid, ok := parseStat(string(stat))
		if !ok {
			continue
		}
		argv := readCmdline(filepath.Join(root, dir.Name(), "cmdline"))
		e := &Entry{Pid: pid, PPid: ppid, Comm: strings.ToLower(comm)}
		if len(argv) > 0 {
			e.Argv0 = strings.ToLower(filepath.Base(argv[0]))
			e.Cmdline = strings.ToLower(strings.Join(argv, " "))
		}
		snap.entries[pid] = e
		snap.children[ppid] = append(snap.children[ppid], pid)
	}
	return snap
}

// HasDescendant reports whether pid or any process below it runs one of
// names, matched against the executable name (comm or argv[0] basename).
// Interpreted agents (node .../claude) are matched on their script argument.
func (s *Snapshot) HasDescendant(pid int, names []string) bool {
	if s == nil || pid <= 0 {
		return false
	}

	queue := []int{pid}
	visited := make(map[int]bool)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		if e, ok := s.entries[current]; ok && e.matches(names) {
			return true
		}
		queue = append(queue, s.children[current]...)
	}
	return false
}

func (e *Entry) matches(names []string) bool {
	for _, name := range names {
		name = strings.ToLower(name)
		if name == "" {
			continue
		}
		if e.Comm == name || e.Argv0 == name {
			return true
		}
		for _, field := range strings.Fields(e.Cmdline) {
			if filepath.Base(field) == name {
				return true
			}
		}
	}
	return false
}

func parsePID(name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	for _, ch := range name {
		if ch < '0' || ch > '9' {
			return 0, false
		}
	}
	pid, err := strconv.Atoi(name)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// parseStat extracts comm and ppid. comm may contain spaces and parens, so
// the last ')' ends it.
func parseStat(stat string) (string, int, bool) {
	stat = strings.TrimSpace(stat)
	lparen := strings.Index(stat, "(")
	rparen := strings.LastIndex(stat, ")")
	if lparen == -1 || rparen <= lparen || rparen+2 > len(stat) {
		return "", 0, false
	}

	comm := stat[lparen+1 : rparen]
	rest := strings.Fields(stat[rparen+2:])
	if len(rest) < 2 {
		return comm, 0, false
	}
	ppid, err := strconv.Atoi(rest[1])
	if err != nil {
		return comm, 0, false
	}
	return comm, ppid, true
}

func readCmdline(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var argv []string
	for _, part := range strings.Split(string(data), "\x00") {
		if part != "" {
			argv = append(argv, part)
		}
	}
	return argv
}
