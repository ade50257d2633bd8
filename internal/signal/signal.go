// Package signal is the file protocol between the hook process and the
// listener. The hook writes one JSON file per event into a spool directory;
// the listener drains (reads and deletes) the directory each poll cycle.
package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Event string

const (
	EventStop       Event = "stop"
	EventPermission Event = "permission"
	EventQuestion   Event = "question"
	EventPlan       Event = "plan"
	EventNotify     Event = "notification"
	EventError      Event = "error"
)

type Option struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

type Question struct {
	Question    string   `json:"question"`
	Header      string   `json:"header,omitempty"`
	Options     []Option `json:"options,omitempty"`
	MultiSelect bool     `json:"multiSelect,omitempty"`
}

type Signal struct {
	ID         string     `json:"id"`
	Event      Event      `json:"event"`
	Window     string     `json:"wid"`
	Pane       string     `json:"pane"`
	Project    string     `json:"project"`
	Message    string     `json:"message,omitempty"`
	Cmd        string     `json:"cmd,omitempty"`
	Tool       string     `json:"tool,omitempty"`
	Questions  []Question `json:"questions,omitempty"`
	ParseError string     `json:"parse_error,omitempty"`
	Raw        string     `json:"raw,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// WindowIndex returns "4" for window "w4".
func (s Signal) WindowIndex() string {
	return strings.TrimPrefix(s.Window, "w")
}

// Fingerprint identifies the logical event independent of file identity,
// so a hook that fires twice for one event maps to the same value.
func (s Signal) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%s", s.Event, s.Window, s.Pane, s.Message, s.Cmd, s.ParseError)
	if len(s.Questions) > 0 {
		q, _ := json.Marshal(s.Questions)
		h.Write(q)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ProtocolError reports a signal file that could not be decoded.
type ProtocolError struct {
	File string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed signal %s: %v", e.File, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
