package providers

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/agent-command/tgbridge/internal/signal"
)

// ClaudeHookPayload is the JSON Claude Code writes to a hook's stdin.
type ClaudeHookPayload struct {
	HookEventName    string          `json:"hook_event_name"`
	SessionID        string          `json:"session_id"`
	Cwd              string          `json:"cwd"`
	ToolName         string          `json:"tool_name"`
	ToolInput        json.RawMessage `json:"tool_input"`
	Message          string          `json:"message"`
	NotificationType string          `json:"notification_type"`
}

type toolInput struct {
	Command   string            `json:"command"`
	Questions []signal.Question `json:"questions"`
}

// HookContext is where the hook is running, resolved from the environment.
type HookContext struct {
	Pane   string
	Window string
}

// Tools whose permission dialog is a plan approval.
var planTools = map[string]bool{
	"EnterPlanMode": true,
	"ExitPlanMode":  true,
}

// HandleHook maps one hook invocation onto the signal spool. It returns the
// signal it wrote, or nil when the event produces none.
func HandleHook(raw []byte, hc HookContext, w *signal.Writer, stash *signal.Stash) (*signal.Signal, error) {
	if strings.TrimSpace(string(raw)) == "" {
		return nil, nil
	}

	var p ClaudeHookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		sig := &signal.Signal{
			Event:      signal.EventError,
			Window:     hc.Window,
			Pane:       hc.Pane,
			Project:    "unknown",
			ParseError: err.Error(),
			Raw:        truncate(string(raw), 200),
		}
		_, werr := w.Write(sig)
		return sig, werr
	}

	base := signal.Signal{
		Window:  hc.Window,
		Pane:    hc.Pane,
		Project: projectName(p.Cwd),
		Tool:    p.ToolName,
	}

	switch p.HookEventName {
	case "Stop":
		sig := base
		sig.Event = signal.EventStop
		return write(w, &sig)

	case "Notification":
		return handleNotification(p, base, hc, w, stash)

	case "PreToolUse":
		var in toolInput
		if len(p.ToolInput) > 0 {
			_ = json.Unmarshal(p.ToolInput, &in)
		}
		switch {
		case p.ToolName == "AskUserQuestion":
			sig := base
			sig.Event = signal.EventQuestion
			sig.Questions = in.Questions
			return write(w, &sig)
		case p.ToolName == "Bash":
			return nil, stash.Put(hc.Window, p.ToolName, in.Command)
		case planTools[p.ToolName]:
			return nil, stash.Put(hc.Window, p.ToolName, "")
		}
	}
	return nil, nil
}

func handleNotification(p ClaudeHookPayload, base signal.Signal, hc HookContext, w *signal.Writer, stash *signal.Stash) (*signal.Signal, error) {
	switch p.NotificationType {
	case "permission_prompt":
		if strings.Contains(p.Message, "needs your attention") {
			return nil, nil
		}
		sig := base
		sig.Event = signal.EventPermission
		sig.Message = p.Message

		tool, cmd := stash.Take(hc.Window)
		switch {
		case planTools[tool] || IsPlanMessage(p.Message):
			sig.Event = signal.EventPlan
			sig.Tool = tool
		case tool == "Bash" && strings.Contains(strings.ToLower(p.Message), "bash"):
			sig.Cmd = cmd
			sig.Tool = tool
		}
		return write(w, &sig)

	case "idle_prompt", "":
		// Stop already reported the turn.
		return nil, nil

	default:
		if p.Message == "" {
			return nil, nil
		}
		sig := base
		sig.Event = signal.EventNotify
		sig.Message = p.Message
		return write(w, &sig)
	}
}

// IsPlanMessage reports whether a permission message refers to plan mode.
func IsPlanMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "plan")
}

func write(w *signal.Writer, sig *signal.Signal) (*signal.Signal, error) {
	_, err := w.Write(sig)
	return sig, err
}

func projectName(cwd string) string {
	cwd = strings.TrimRight(cwd, "/")
	if cwd == "" {
		return "unknown"
	}
	return filepath.Base(cwd)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
