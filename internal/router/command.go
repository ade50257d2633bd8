// Package router turns inbound chat text into either a bridge command or a
// message for one agent session.
package router

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind tags a parsed chat message.
type Kind int

const (
	// KindText is plain text for an agent session.
	KindText Kind = iota
	KindHelp
	KindSessions
	KindStatus
	KindFocus
	KindDeepfocus
	KindUnfocus
	KindName
	KindNew
	KindInterrupt
	KindKill
	KindLast
	KindSaved
	KindClear
	KindAutofocus
	KindGod
	KindNotification
	KindStop
	KindStart
	KindQuit
	// KindUnknown is a slash command that did not parse. Usage holds the hint.
	KindUnknown
)

var kindNames = map[string]Kind{
	"help":         KindHelp,
	"sessions":     KindSessions,
	"status":       KindStatus,
	"focus":        KindFocus,
	"deepfocus":    KindDeepfocus,
	"unfocus":      KindUnfocus,
	"name":         KindName,
	"new":          KindNew,
	"interrupt":    KindInterrupt,
	"kill":         KindKill,
	"last":         KindLast,
	"saved":        KindSaved,
	"clear":        KindClear,
	"autofocus":    KindAutofocus,
	"god":          KindGod,
	"notification": KindNotification,
	"stop":         KindStop,
	"start":        KindStart,
	"quit":         KindQuit,
}

func (k Kind) String() string {
	for name, v := range kindNames {
		if v == k {
			return name
		}
	}
	if k == KindText {
		return "text"
	}
	return "unknown"
}

// Command is one parsed chat message.
type Command struct {
	Kind Kind
	// Target is the session argument: a window index ("4") when given as
	// wN or N, otherwise a session name as typed.
	Target string
	// Arg is the free-form remainder: a session label, a directory, a
	// notification categories, on/off.
	Arg string
	// Lines is the explicit line count for /status, 0 if not given.
	Lines int
	// Text is the message for KindText and the original input otherwise.
	Text string
	// Usage explains the expected syntax when Kind is KindUnknown.
	Usage string
}

// Text aliases. They are plain words, so they stand down while a prompt is
// open and the operator may be answering it.
var wordAliases = map[string]string{
	"?":    "/help",
	"s":    "/status",
	"uf":   "/unfocus",
	"sv":   "/saved",
	"c":    "/clear",
	"af":   "/autofocus",
	"ga":   "/god all",
	"goff": "/god off",
}

// Numbered aliases name a window and never collide with an answer.
var (
	reStatusAlias = regexp.MustCompile(`^s(\d+)(?:\s+(\d+))?$`)
	reNumAlias    = regexp.MustCompile(`^(f|df|i|c|g)(\d+)$`)
)

var numAliasCommand = map[string]string{
	"f":  "/focus",
	"df": "/deepfocus",
	"i":  "/interrupt",
	"c":  "/clear",
	"g":  "/god",
}

var reWindowArg = regexp.MustCompile(`^[wW]?(\d+)$`)

var usage = map[Kind]string{
	KindStatus:       "`/status [wN] [lines]`",
	KindFocus:        "`/focus [wN]`",
	KindDeepfocus:    "`/deepfocus [wN]`",
	KindName:         "`/name wN [label]`",
	KindInterrupt:    "`/interrupt [wN]`",
	KindKill:         "`/kill [wN]`",
	KindLast:         "`/last [wN]`",
	KindSaved:        "`/saved [wN]`",
	KindClear:        "`/clear [wN]`",
	KindAutofocus:    "`/autofocus [on|off]`",
	KindGod:          "`/god [wN|all|off|off wN]`",
	KindNotification: "`/notification [all|off|1,2,3]`",
}

// expandAlias rewrites an alias to its slash form.
func expandAlias(text string, promptActive bool) string {
	s := strings.TrimSpace(text)
	lower := strings.ToLower(s)
	if full, ok := wordAliases[lower]; ok {
		if promptActive {
			return text
		}
		return full
	}
	if m := reStatusAlias.FindStringSubmatch(lower); m != nil {
		out := "/status w" + m[1]
		if m[2] != "" {
			out += " " + m[2]
		}
		return out
	}
	if m := reNumAlias.FindStringSubmatch(lower); m != nil {
		return numAliasCommand[m[1]] + " w" + m[2]
	}
	return text
}

// normalizeTarget maps "w4" and "4" to "4" and leaves names alone.
func normalizeTarget(arg string) string {
	if m := reWindowArg.FindStringSubmatch(arg); m != nil {
		return m[1]
	}
	return arg
}

// Parse classifies one chat message. Aliases are expanded first; a message
// that is not a command comes back as KindText.
func Parse(text string, promptActive bool) Command {
	expanded := strings.TrimSpace(expandAlias(text, promptActive))
	if !strings.HasPrefix(expanded, "/") {
		return Command{Kind: KindText, Text: strings.TrimSpace(text)}
	}

	name, rest, _ := strings.Cut(expanded[1:], " ")
	name, _, _ = strings.Cut(name, "@") // /status@my_bot
	rest = strings.TrimSpace(rest)
	kind, ok := kindNames[strings.ToLower(name)]
	if !ok {
		return Command{Kind: KindUnknown, Text: text, Usage: "Unknown command `/" + name + "`. Send `/help` for the list."}
	}
	cmd := Command{Kind: kind, Text: text}
	fields := strings.Fields(rest)

	bad := func() Command {
		return Command{Kind: KindUnknown, Text: text, Usage: "Usage: " + usage[kind]}
	}

	switch kind {
	case KindHelp, KindSessions, KindUnfocus, KindStop, KindStart, KindQuit:
		if len(fields) > 0 {
			return Command{Kind: KindUnknown, Text: text, Usage: "Usage: `/" + strings.ToLower(name) + "`"}
		}
	case KindStatus:
		switch len(fields) {
		case 0:
		case 1:
			cmd.Target = normalizeTarget(fields[0])
		case 2:
			n, err := strconv.Atoi(fields[1])
			if err != nil || n <= 0 {
				return bad()
			}
			cmd.Target = normalizeTarget(fields[0])
			cmd.Lines = n
		default:
			return bad()
		}
	case KindFocus, KindDeepfocus, KindInterrupt, KindKill, KindLast, KindSaved, KindClear:
		if len(fields) > 1 {
			return bad()
		}
		if len(fields) == 1 {
			cmd.Target = normalizeTarget(fields[0])
		}
	case KindName:
		if len(fields) == 0 {
			return bad()
		}
		cmd.Target = normalizeTarget(fields[0])
		cmd.Arg = strings.TrimSpace(strings.TrimPrefix(rest, fields[0]))
	case KindNew:
		cmd.Arg = rest
	case KindAutofocus:
		if len(fields) > 1 {
			return bad()
		}
		if len(fields) == 1 {
			cmd.Arg = strings.ToLower(fields[0])
			if cmd.Arg != "on" && cmd.Arg != "off" {
				return bad()
			}
		}
	case KindGod:
		switch {
		case len(fields) == 0:
		case len(fields) == 2 && strings.EqualFold(fields[0], "off"):
			cmd.Arg = "off"
			cmd.Target = normalizeTarget(fields[1])
		case len(fields) > 1:
			return bad()
		default:
			switch arg := strings.ToLower(fields[0]); arg {
			case "all", "off":
				cmd.Arg = arg
			default:
				cmd.Target = normalizeTarget(fields[0])
			}
		}
	case KindNotification:
		cmd.Arg = strings.ToLower(rest)
	}
	return cmd
}

// IsWindow reports whether a target is a window index rather than a name.
func IsWindow(target string) bool {
	_, err := strconv.Atoi(target)
	return err == nil && target != ""
}
