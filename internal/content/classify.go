package content

import "strings"

// State is what a pane capture shows.
type State int

const (
	Noise State = iota
	Idle
	Busy
	Interrupted
	CompletedResponse
	PermissionDialog
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Interrupted:
		return "interrupted"
	case CompletedResponse:
		return "completed-response"
	case PermissionDialog:
		return "permission-dialog"
	default:
		return "noise"
	}
}

// NoCursor tells IdleState the cursor column is unknown.
const NoCursor = -1

// IdleState decides whether the agent is waiting for input. The last line
// that is not chrome must be the prompt, and the line above the input box
// must not be a running spinner. typed is text already on the prompt line;
// with a known cursor column, greyed-out suggestions right of it are ignored.
func IdleState(raw string, cursorX int) (idle bool, typed string) {
	lines := splitLines(raw)
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if IsChrome(strings.TrimSpace(line)) {
			continue
		}
		m := rePrompt.FindStringSubmatch(line)
		if m == nil || reSelectedOption.MatchString(line) {
			return false, ""
		}
		if spinnerAbove(lines[:i]) {
			return false, ""
		}
		if cursorX == NoCursor {
			return true, strings.TrimSpace(m[2])
		}
		runes := []rune(line)
		prefix := len([]rune(m[1]))
		if cursorX > len(runes) {
			cursorX = len(runes)
		}
		if cursorX <= prefix {
			return true, ""
		}
		return true, strings.TrimSpace(string(runes[prefix:cursorX]))
	}
	return false, ""
}

// spinnerAbove looks at the nearest content line above the input box for
// the running-turn status line.
func spinnerAbove(lines []string) bool {
	for i := len(lines) - 1; i >= 0; i-- {
		s := strings.TrimSpace(lines[i])
		if s == "" || reSeparator.MatchString(s) {
			continue
		}
		return strings.Contains(strings.ToLower(s), EscToInterrupt)
	}
	return false
}

// HasDialog reports an open selection dialog: a highlighted numbered option
// near the bottom of the pane.
func HasDialog(raw string) bool {
	lines := splitLines(raw)
	from := len(lines) - 8
	if from < 0 {
		from = 0
	}
	for _, line := range lines[from:] {
		if reSelectedOption.MatchString(line) {
			return true
		}
	}
	return false
}

// Classify maps a capture onto one State. An open dialog wins over
// everything else because it blocks the agent until answered.
func Classify(raw string) State {
	if strings.TrimSpace(raw) == "" {
		return Noise
	}
	if HasDialog(raw) {
		return PermissionDialog
	}
	idle, _ := IdleState(raw, NoCursor)
	if !idle {
		for _, line := range splitLines(raw) {
			s := strings.TrimSpace(line)
			if s != "" && !IsChrome(s) || strings.Contains(strings.ToLower(s), EscToInterrupt) {
				return Busy
			}
		}
		return Noise
	}
	if DetectInterrupted(raw) {
		return Interrupted
	}
	if HasResponseStart(raw) {
		return CompletedResponse
	}
	return Idle
}
