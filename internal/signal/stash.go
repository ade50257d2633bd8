package signal

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Stash carries tool context from PreToolUse to the permission
// notification that follows it. The two hooks run in separate processes.
type Stash struct {
	dir string
}

type stashed struct {
	Tool string `json:"tool"`
	Cmd  string `json:"cmd,omitempty"`
}

func NewStash(dir string) *Stash {
	return &Stash{dir: dir}
}

func (s *Stash) path(window string) string {
	return filepath.Join(s.dir, "_pending_tool_"+window+".json")
}

func (s *Stash) Put(window, tool, cmd string) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(stashed{Tool: tool, Cmd: cmd})
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(window), data, 0o600)
}

// Take returns and removes the stashed tool and command. Both are empty when nothing is stashed.
func (s *Stash) Take(window string) (tool, cmd string) {
	path := s.path(window)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", ""
	}
	os.Remove(path)
	var v stashed
	if json.Unmarshal(data, &v) != nil {
		return "", ""
	}
	return v.Tool, v.Cmd
}
