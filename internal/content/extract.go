package content

import (
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/pmezard/go-difflib/difflib"
)

func splitLines(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(raw, "\n"), "\n")
}

// FilterNoise drops UI chrome from captured pane text. With keepStatus,
// spinner and timing lines are kept, which /status wants to show.
func FilterNoise(raw string, keepStatus bool) []string {
	lines := splitLines(raw)
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		s := strings.TrimSpace(line)
		if s != "" && isFrame(s) {
			continue
		}
		if !keepStatus && s != "" && isSpinner(s) {
			continue
		}
		filtered = append(filtered, strings.TrimRight(line, " \t"))
	}
	return filtered
}

// lastPrompt returns the index of the last prompt line, or -1.
func lastPrompt(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if isPromptLine(lines[i]) {
			return i
		}
	}
	return -1
}

// HasResponseStart reports whether a text bullet appears above the last prompt,
// meaning the capture reaches back far enough to hold the whole turn.
func HasResponseStart(raw string) bool {
	lines := splitLines(raw)
	end := lastPrompt(lines)
	if end < 0 {
		end = len(lines)
	}
	for i := end - 1; i >= 0; i-- {
		if isTextBullet(strings.TrimSpace(lines[i])) {
			return true
		}
	}
	return false
}

// ResponseRegion returns the lines strictly between the last text bullet and
// the last prompt: one logical turn of output.
func ResponseRegion(raw string) []string {
	lines := splitLines(raw)
	end := lastPrompt(lines)
	if end < 0 {
		end = len(lines)
	}
	start := 0
	for i := end - 1; i >= 0; i-- {
		if isTextBullet(strings.TrimSpace(lines[i])) {
			start = i
			break
		}
	}
	return lines[start:end]
}

// CleanResponse extracts the last completed response, noise filtered and
// soft wraps rejoined for a pane of the given width.
func CleanResponse(raw string, width int) string {
	region := ResponseRegion(raw)
	filtered := FilterNoise(strings.Join(region, "\n"), false)
	filtered = JoinWrapped(filtered, width)
	return strings.TrimSpace(strings.Join(filtered, "\n"))
}

// CleanStatus renders the pane tail for /status, keeping spinners.
func CleanStatus(raw string, width int) string {
	filtered := JoinWrapped(FilterNoise(raw, true), width)
	return strings.TrimSpace(strings.Join(filtered, "\n"))
}

// StreamLines is the deepfocus view: noise filtered, cut at the last prompt.
func StreamLines(raw string, width int) []string {
	lines := FilterNoise(raw, false)
	if i := lastPrompt(lines); i >= 0 {
		lines = lines[:i]
	}
	return JoinWrapped(lines, width)
}

// FilterToolCalls removes tool call bullets and everything under them up to
// the next text bullet.
func FilterToolCalls(lines []string) []string {
	filtered := make([]string, 0, len(lines))
	inTool := false
	for _, line := range lines {
		s := strings.TrimSpace(line)
		if isToolBullet(s) {
			inTool = true
			continue
		}
		if strings.HasPrefix(s, Bullet) {
			inTool = false
		}
		if inTool {
			continue
		}
		filtered = append(filtered, line)
	}
	return filtered
}

// JoinWrapped rejoins lines the terminal soft-wrapped. A line is treated as a
// continuation when the previous line nearly fills the pane and the line is
// indented without starting a new bullet, rule or list item.
func JoinWrapped(lines []string, width int) []string {
	if width < 40 || len(lines) == 0 {
		return lines
	}
	result := []string{lines[0]}
	for _, line := range lines[1:] {
		prevWidth := runewidth.StringWidth(result[len(result)-1])
		s := strings.TrimLeft(line, " \t")
		indent := len(line) - len(s)
		if prevWidth >= width-15 && indent >= 2 && s != "" && !reWrapMarker.MatchString(s) {
			result[len(result)-1] += " " + s
			continue
		}
		result = append(result, line)
	}
	return result
}

// ComputeNewLines returns the lines inserted in cur relative to prev. When
// the two captures share fewer than three lines the screen scrolled past the
// old view and all of cur is new.
func ComputeNewLines(prev, cur []string) []string {
	if len(prev) == 0 {
		return cur
	}
	m := difflib.NewMatcherWithJunk(prev, cur, false, nil)
	ops := m.GetOpCodes()

	equal := 0
	for _, op := range ops {
		if op.Tag == 'e' {
			equal += op.J2 - op.J1
		}
	}
	if equal < 3 {
		return cur
	}

	var added []string
	for _, op := range ops {
		if op.Tag == 'i' {
			added = append(added, cur[op.J1:op.J2]...)
		}
	}
	return added
}

// Delta is the smartfocus update: everything after the watermark. With no
// watermark recorded the whole response is delivered.
func Delta(watermark, lines []string) []string {
	return ComputeNewLines(watermark, lines)
}

// DetectInterrupted reports whether the turn ended by interruption: the
// interrupted marker is the last content above the prompt.
func DetectInterrupted(raw string) bool {
	lines := splitLines(raw)
	end := lastPrompt(lines)
	if end < 0 {
		return false
	}
	for i := end - 1; i >= 0; i-- {
		s := strings.TrimSpace(lines[i])
		if s == "" || reSeparator.MatchString(s) {
			continue
		}
		return strings.Contains(lines[i], InterruptedMarker)
	}
	return false
}
