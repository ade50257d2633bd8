// Package content reads Claude Code's terminal UI as captured from a tmux
// pane. Every marker the classifier relies on is a named pattern below so a
// UI change breaks one rule and one test, not the whole extractor.
package content

import (
	"regexp"
	"strings"
)

const (
	// Bullet starts a response paragraph or a tool call.
	Bullet = "●"
	// PromptGlyph starts the input line when the agent is waiting.
	PromptGlyph = "❯"
	// InterruptedMarker is printed under the last tool call after Esc.
	InterruptedMarker = "⎿  Interrupted ·"
	// EscToInterrupt appears in the working spinner while a turn is running.
	EscToInterrupt = "esc to interrupt"
	// AcceptEditsOn is the mode banner once edits are auto-accepted.
	AcceptEditsOn = "accept edits on"
)

var (
	// Input box borders.
	reSeparator = regexp.MustCompile(`^[─━]{3,}$`)
	// Dialog borders also use the dashed box char.
	reDialogSeparator = regexp.MustCompile(`^[─━╌]{3,}$`)
	// "● Bash(ls)" and friends.
	reToolBullet = regexp.MustCompile(`^● \w+\(`)
	reToolHeader = regexp.MustCompile(`^● (\w+)\((.+?)\)`)
	// "✻ Cogitated for 12s"
	reThinkingDone = regexp.MustCompile(`^✻ \w+ for `)
	// Spinner glyph followed by a word, combined with reDuration.
	reTimedSpinner = regexp.MustCompile(`^[^\w\s●❯] \w`)
	reDuration     = regexp.MustCompile(`\d+[hms]`)
	// Spinner without timing: "⠐ Thinking…", "✶ Working…".
	reSpinner = regexp.MustCompile(`^[^\w\s●❯] \w+.*…`)
	// "+12 more lines (ctrl+e to expand)"
	reMoreLines = regexp.MustCompile(`^\+\d+ more lines \(`)
	// "1 file +2 -2 · esc to interrupt"
	reStatusBar = regexp.MustCompile(`^\d+ files? \+\d+ -\d+`)
	rePrompt    = regexp.MustCompile(`^(\s*❯\s*)(.*)`)
	// Dialog options: "❯ 1. Yes", "  2. No".
	reOption         = regexp.MustCompile(`^\s*[❯>]?\s*(\d+\.\s+.+)`)
	reOptionStart    = regexp.MustCompile(`^\s*[❯>]?\s*\d+\.\s+`)
	reSelectedOption = regexp.MustCompile(`^\s*❯\s*\d+\.\s+`)
	reOptionNumber   = regexp.MustCompile(`^(\d+)`)
	// Numbered diff lines inside edit dialogs.
	reDiffChange  = regexp.MustCompile(`^\s*\d+\s*([+-])(.*)`)
	reDiffContext = regexp.MustCompile(`^\s*\d+\s+(.*)`)
	reLineNumber  = regexp.MustCompile(`^\s*\d+\s*$`)
	// Lines that start a new logical line and are never soft-wrap continuations.
	reWrapMarker = regexp.MustCompile(`^[●•─━❯✻⏵⏸>*\-\d]`)
)

// Chrome prefixes that never carry response content.
var chromePrefixes = []string{"⏵⏵ ", "⏸ ", "Context left until auto-compact:"}

// Dialog boilerplate lines dropped from permission bodies.
var dialogTitles = map[string]bool{
	"Edit file":    true,
	"Write file":   true,
	"Create file":  true,
	"Fetch":        true,
	"Bash command": true,
}

// IsChrome reports whether a trimmed line is UI decoration: borders, mode
// banners, spinners, hints, the status bar, or blank.
func IsChrome(s string) bool {
	if s == "" {
		return true
	}
	return isFrame(s) || isSpinner(s)
}

// isFrame covers decoration that is filtered even from /status output.
func isFrame(s string) bool {
	if reSeparator.MatchString(s) || reMoreLines.MatchString(s) || reStatusBar.MatchString(s) {
		return true
	}
	for _, p := range chromePrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return strings.HasPrefix(s, "ctrl+") && strings.Contains(s, "background")
}

// isSpinner covers progress indicators, kept in /status output.
func isSpinner(s string) bool {
	if s == "⏳ Working..." || s == "* Working..." {
		return true
	}
	if reThinkingDone.MatchString(s) {
		return true
	}
	if reTimedSpinner.MatchString(s) && reDuration.MatchString(s) {
		return true
	}
	return reSpinner.MatchString(s)
}

func isToolBullet(s string) bool {
	return reToolBullet.MatchString(s)
}

// isTextBullet is a response paragraph, not a tool call.
func isTextBullet(s string) bool {
	return strings.HasPrefix(s, Bullet) && !isToolBullet(s)
}

func isPromptLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), PromptGlyph)
}
