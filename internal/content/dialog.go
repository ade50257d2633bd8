package content

import (
	"errors"
	"path"
	"strconv"
	"strings"
)

// ErrNoDialog means the capture holds no numbered options.
var ErrNoDialog = errors.New("no permission dialog in pane")

// Dialog is a permission or plan dialog parsed from a capture.
type Dialog struct {
	Header  string // "wants to update `main.go`", empty if no tool bullet
	Body    string
	Options []string
	Context string // the response text that preceded the tool call
	Raw     string
	// NeedsMoreContext is set when the bullets sit at the very top of the
	// capture, so a deeper capture may reveal more of the body.
	NeedsMoreContext bool
}

// Total is the highest option number, or 3 when none parsed.
func (d Dialog) Total() int {
	n := 0
	for _, o := range d.Options {
		if m := reOptionNumber.FindString(o); m != "" {
			if v, _ := strconv.Atoi(m); v > n {
				n = v
			}
		}
	}
	if n == 0 {
		return 3
	}
	return n
}

// NormalizedOptions inserts the default "1. Yes" that scrolls off when the
// dialog is taller than the pane.
func (d Dialog) NormalizedOptions() []string {
	if len(d.Options) == 0 {
		return nil
	}
	for _, o := range d.Options {
		if strings.HasPrefix(o, "1.") {
			return d.Options
		}
	}
	return append([]string{"1. Yes"}, d.Options...)
}

// ExtractPermission parses the dialog at the bottom of a capture. Options
// come from the last 8 lines; the body is everything between the tool
// bullet and the first option, with diff gutters stripped.
func ExtractPermission(raw string) (Dialog, error) {
	lines := splitLines(raw)
	d := Dialog{Raw: raw}
	if len(lines) == 0 {
		return d, ErrNoDialog
	}

	tail := len(lines) - 8
	if tail < 0 {
		tail = 0
	}
	firstOpt := len(lines)
	for i := tail; i < len(lines); i++ {
		if m := reOption.FindStringSubmatch(lines[i]); m != nil {
			d.Options = append(d.Options, strings.TrimSpace(m[1]))
			if firstOpt == len(lines) && reOptionStart.MatchString(lines[i]) {
				firstOpt = i
			}
		}
	}
	if len(d.Options) == 0 {
		return d, ErrNoDialog
	}

	start := 0
	for i := firstOpt - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), Bullet) {
			start = i
			break
		}
	}
	ctxStart := start
	for i := start - 1; i >= 0; i-- {
		if isTextBullet(strings.TrimSpace(lines[i])) {
			ctxStart = i
			break
		}
	}
	d.NeedsMoreContext = min(start, ctxStart) <= 2

	var ctx []string
	for _, line := range lines[ctxStart:start] {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}
		if strings.HasPrefix(s, Bullet) {
			s = strings.TrimSpace(strings.TrimPrefix(s, Bullet))
		}
		ctx = append(ctx, s)
	}
	d.Context = strings.TrimSpace(strings.Join(ctx, "\n"))

	var file string
	for _, line := range lines[start:firstOpt] {
		if m := reToolHeader.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			d.Header = "wants to " + strings.ToLower(m[1]) + " `" + m[2] + "`"
			file = m[2]
			break
		}
	}

	d.Body = cleanDialogBody(lines[start:firstOpt], file)
	return d, nil
}

func cleanDialogBody(lines []string, file string) string {
	var cleaned []string
	for _, line := range lines {
		s := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(s, Bullet),
			reDialogSeparator.MatchString(s),
			strings.HasPrefix(s, "⎿"),
			strings.HasPrefix(s, "Do you want"),
			strings.HasPrefix(s, "Claude wants"),
			dialogTitles[s]:
			continue
		case file != "" && (s == file || s == path.Base(file)):
			continue
		}

		if m := reDiffChange.FindStringSubmatch(line); m != nil {
			cleaned = append(cleaned, m[1]+m[2])
		} else if m := reDiffContext.FindStringSubmatch(line); m != nil {
			cleaned = append(cleaned, " "+m[1])
		} else if reLineNumber.MatchString(line) {
			cleaned = append(cleaned, "")
		} else {
			cleaned = append(cleaned, s)
		}
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
