package listener

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agent-command/tgbridge/internal/content"
	"github.com/agent-command/tgbridge/internal/logger"
	"github.com/agent-command/tgbridge/internal/router"
	"github.com/agent-command/tgbridge/internal/state"
	"github.com/agent-command/tgbridge/internal/telegram"
	"github.com/agent-command/tgbridge/internal/tmux"
)

const (
	killSettle      = 2 * time.Second
	keySettle       = 100 * time.Millisecond
	focusPreviewLen = 3000
)

var helpText = strings.Join([]string{
	"📖 *Commands:*",
	"`/status` — list active Claude sessions",
	"`/status wN [lines]` — show last response or N filtered lines",
	"`/last [wN]` — re-send last Telegram message for a session",
	"`/saved [wN]` — review saved messages for busy sessions",
	"`/focus wN` — watch completed responses",
	"`/deepfocus wN` — stream all output in real-time",
	"`/unfocus` — stop monitoring",
	"`/autofocus [on|off]` — follow a session after each message",
	"`/name wN [label]` — name a session",
	"`/new [dir]` — start new Claude session (default: `~/projects/`)",
	"`/interrupt [wN]` — interrupt current task (Esc)",
	"`/kill wN` — exit a Claude session (Ctrl+C x3)",
	"`/clear [wN]` — reset transient state (prompts, busy, focus)",
	"`/god [wN|all|off]` — auto-accept permissions (plan mode still asks)",
	"`/notification [all|off|1,2,3]` — choose which alerts make a sound",
	"`/stop` — pause the listener",
	"`/quit` — shut down the listener",
	"",
	"*Aliases:*",
	"`s` status | `s4` status w4 | `s4 10` status w4 10",
	"`f4` focus w4 | `df4` deepfocus w4 | `uf` unfocus | `i4` interrupt w4",
	"`g4` god w4 | `ga` god all | `goff` god off | `c` clear | `c4` clear w4",
	"`af` autofocus | `sv` saved | `?` help",
	"",
	"*Routing:* prefix with `wN` (e.g. `w4 fix the bug`) or send without prefix for single/last-used session.",
	"*Photos:* send a photo to have Claude read it. Add `wN` in caption to target.",
}, "\n")

// handleCommand runs one parsed slash command.
func (l *Listener) handleCommand(ctx context.Context, cmd router.Command) error {
	switch cmd.Kind {
	case router.KindHelp:
		l.rescan(ctx)
		l.send(ctx, state.CatConfirmation, helpText, l.sessionsKeyboard())
	case router.KindSessions:
		l.rescan(ctx)
		l.sendSessions(ctx, "")
	case router.KindStatus:
		l.cmdStatus(ctx, cmd)
	case router.KindFocus:
		l.cmdFocus(ctx, cmd.Target, state.FocusWatch)
	case router.KindDeepfocus:
		l.cmdFocus(ctx, cmd.Target, state.FocusDeep)
	case router.KindUnfocus:
		l.store.ClearFocus(state.FocusWatch)
		l.store.ClearFocus(state.FocusDeep)
		l.store.ClearFocus(state.FocusSmart)
		l.focus, l.smart, l.deep = focusWatch{}, smartWatch{}, deepWatch{}
		l.send(ctx, state.CatConfirmation, "🔍 Focus stopped.", nil)
	case router.KindName:
		l.cmdName(ctx, cmd)
	case router.KindNew:
		l.cmdNew(ctx, cmd.Arg)
	case router.KindInterrupt:
		l.cmdInterrupt(ctx, cmd.Target)
	case router.KindKill:
		l.cmdKill(ctx, cmd.Target)
	case router.KindLast:
		l.cmdLast(ctx, cmd.Target)
	case router.KindSaved:
		l.cmdSaved(ctx, cmd.Target)
	case router.KindClear:
		l.cmdClear(ctx, cmd.Target)
	case router.KindAutofocus:
		l.cmdAutofocus(ctx, cmd.Arg)
	case router.KindGod:
		l.cmdGod(ctx, cmd)
	case router.KindNotification:
		l.cmdNotification(ctx, cmd.Arg)
	case router.KindStop:
		l.paused = true
		l.send(ctx, state.CatConfirmation, "⏸ Paused. Send `/start` to resume or `/quit` to exit.", nil)
		logger.Infof("listener: paused")
	case router.KindStart:
		l.rescan(ctx)
		l.send(ctx, state.CatConfirmation, "▶️ Already running.\n\n"+l.sessionsMessage(), telegram.DefaultReplyKeyboard())
	case router.KindQuit:
		l.quitPending = true
		l.send(ctx, state.CatConfirmation, "⚠️ Shut down listener? Reply `y` to confirm.",
			telegram.Inline([]telegram.Button{
				telegram.Btn("✅ Yes", "quit_y"),
				telegram.Btn("❌ No", "quit_n"),
			}))
	default:
		l.send(ctx, state.CatConfirmation, "⚠️ "+cmd.Usage, nil)
	}
	return nil
}

// find resolves a command target to a live window index, rescanning once
// when it is not in the current set.
func (l *Listener) find(ctx context.Context, target string) (string, bool) {
	if w, ok := l.routerSessions("").Lookup(target); ok {
		return w, true
	}
	l.rescan(ctx)
	return l.routerSessions("").Lookup(target)
}

func (l *Listener) noSession(ctx context.Context, target string) {
	l.sendSessions(ctx, fmt.Sprintf("⚠️ No session %s.\n", telegram.Code(target)))
}

// pick asks which session a bare command is for.
func (l *Listener) pick(ctx context.Context, action, question string) {
	l.rescan(ctx)
	if len(l.sessions) == 0 {
		l.send(ctx, state.CatConfirmation, "⚠️ No Claude sessions found.", nil)
		return
	}
	l.send(ctx, state.CatConfirmation, question, l.commandKeyboard(action))
}

func (l *Listener) cmdStatus(ctx context.Context, cmd router.Command) {
	if cmd.Target == "" {
		l.rescan(ctx)
		l.sendSessions(ctx, "")
		if extra := l.statusFooter(); extra != "" {
			l.send(ctx, state.CatConfirmation, extra, nil)
		}
		return
	}
	w, ok := l.find(ctx, cmd.Target)
	if !ok {
		l.noSession(ctx, cmd.Target)
		return
	}
	sess := l.sessions[w]
	pane := paneOf(sess)
	width := l.mux.Width(ctx, pane)

	var body string
	if cmd.Lines > 0 {
		raw, err := l.mux.Capture(ctx, pane, cmd.Lines*3+20)
		if err != nil {
			l.send(ctx, state.CatError, l.sendFailure(l.label(w), err), nil)
			return
		}
		lines := splitNonEmpty(content.CleanStatus(raw, width))
		if len(lines) > cmd.Lines {
			lines = lines[len(lines)-cmd.Lines:]
		}
		body = strings.Join(lines, "\n")
	} else {
		raw := l.captureResponse(ctx, pane, 30, 80, 200)
		recent, _ := l.mux.Capture(ctx, pane, 30)
		body = content.CleanStatus(recent, width)
		if content.HasResponseStart(raw) {
			if resp := content.CleanResponse(raw, width); len(resp) >= len(body) {
				body = resp
			}
		}
	}
	if body == "" {
		body = "(empty)"
	}
	header := fmt.Sprintf("📋 %s — %s:\n\n", l.label(w), telegram.Code(sess.Project))
	l.sendLong(ctx, state.CatConfirmation, w, header, body, "", telegram.Inline([]telegram.Button{
		telegram.Btn("🔍 Focus", "cmd_focus_"+w),
		telegram.Btn("⏹ Interrupt", "cmd_interrupt_"+w),
	}))
	l.store.SetLastUsed(w)
}

// statusFooter lists the active monitoring and auto-approval modes.
func (l *Listener) statusFooter() string {
	var lines []string
	if t := l.store.Focus(state.FocusWatch); t != nil {
		lines = append(lines, "🔍 Focus: "+l.label(t.Window))
	}
	if t := l.store.Focus(state.FocusDeep); t != nil {
		lines = append(lines, "🔬 Deep focus: "+l.label(t.Window))
	}
	if t := l.store.Focus(state.FocusSmart); t != nil {
		lines = append(lines, "👁 Following: "+l.label(t.Window))
	}
	if god := l.godSummary(); god != "" {
		lines = append(lines, "⚡ God mode: "+god)
	}
	if n := len(l.store.QueuedWindows()); n > 0 {
		lines = append(lines, fmt.Sprintf("💾 Saved messages in %d session(s). Send `/saved` to review.", n))
	}
	return strings.Join(lines, "\n")
}

func (l *Listener) godSummary() string {
	wins := l.store.GodModeWindows()
	labels := make([]string, 0, len(wins))
	for _, w := range wins {
		if w == state.AllWindows {
			labels = append(labels, "all sessions")
			continue
		}
		labels = append(labels, l.label(w))
	}
	return strings.Join(labels, ", ")
}

func (l *Listener) cmdFocus(ctx context.Context, target string, mode state.FocusMode) {
	icon, action, verb := "🔍", "focus", "Focusing on"
	if mode == state.FocusDeep {
		icon, action, verb = "🔬", "deepfocus", "Deep focus on"
	}
	if target == "" {
		question := "🔍 Focus on which session?"
		if mode == state.FocusDeep {
			question = "🔬 Deep focus on which session?"
		}
		l.pick(ctx, action, question)
		return
	}
	w, ok := l.find(ctx, target)
	if !ok {
		l.noSession(ctx, target)
		return
	}
	sess := l.sessions[w]
	pane := paneOf(sess)
	l.store.SetFocus(mode, state.Target{Window: wid(w), Pane: pane, Project: sess.Project})
	if mode == state.FocusDeep {
		l.deep = deepWatch{}
	} else {
		l.focus = focusWatch{}
	}
	l.store.SetLastUsed(w)

	raw, _ := l.mux.Capture(ctx, pane, 20)
	preview := content.CleanStatus(raw, l.mux.Width(ctx, pane))
	if preview == "" {
		preview = "(empty)"
	}
	l.send(ctx, state.CatConfirmation,
		fmt.Sprintf("%s %s %s (%s). Send `/unfocus` to stop.\n\n```\n%s\n```", icon, verb, l.label(w),
			telegram.Code(sess.Project), strings.ReplaceAll(tail(preview, focusPreviewLen), "```", "'''")), nil)
}

func (l *Listener) cmdName(ctx context.Context, cmd router.Command) {
	w, ok := l.find(ctx, cmd.Target)
	if !ok {
		if !router.IsWindow(cmd.Target) {
			l.noSession(ctx, cmd.Target)
			return
		}
		w = cmd.Target
	}
	var err error
	var reply string
	if cmd.Arg == "" {
		err = l.store.ClearName(w)
		reply = fmt.Sprintf("✏️ Session `w%s` name cleared.", w)
	} else {
		err = l.store.SetName(w, cmd.Arg)
		reply = fmt.Sprintf("✏️ Session `w%s` named %s.", w, telegram.Code(cmd.Arg))
	}
	if err != nil {
		logger.Warnf("listener: name w%s: %v", w, err)
		reply = "⚠️ Could not save the session name."
	}
	l.send(ctx, state.CatConfirmation, reply, nil)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func (l *Listener) cmdNew(ctx context.Context, arg string) {
	dir := expandHome(strings.TrimSpace(arg))
	if dir == "" {
		dir = filepath.Join(l.cfg.Paths.ProjectDir, "claude-"+l.clock.Now().Format("0102-1504"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		l.send(ctx, state.CatError, fmt.Sprintf("⚠️ Failed to start session: %s", telegram.Code(err.Error())), nil)
		return
	}
	w, err := l.mux.NewWindow(ctx, dir, l.cfg.Tmux.AgentCommand)
	if err != nil {
		l.transportError("tmux", err)
		l.send(ctx, state.CatError, fmt.Sprintf("⚠️ Failed to start session: %s", telegram.Code(err.Error())), nil)
		return
	}
	l.rescan(ctx)
	l.store.SetLastUsed(w)
	l.send(ctx, state.CatConfirmation,
		fmt.Sprintf("🚀 Started Claude in `w%s` (%s):\n%s", w, telegram.Code(filepath.Base(dir)), telegram.Code(dir)), nil)
}

func (l *Listener) cmdInterrupt(ctx context.Context, target string) {
	if target == "" {
		l.rescan(ctx)
		if len(l.sessions) == 1 {
			for w := range l.sessions {
				l.interrupt(ctx, w)
			}
			return
		}
		l.pick(ctx, "interrupt", "⏹ Interrupt which session?")
		return
	}
	w, ok := l.find(ctx, target)
	if !ok {
		l.noSession(ctx, target)
		return
	}
	l.interrupt(ctx, w)
}

// interrupt presses Escape and clears the input line. Any open prompt and
// the busy flag go with it.
func (l *Listener) interrupt(ctx context.Context, w string) {
	sess := l.sessions[w]
	seq := tmux.NewSequence(paneOf(sess)).Keys("Escape").Wait(keySettle).Keys("C-u")
	if err := l.mux.Send(ctx, seq); err != nil {
		l.send(ctx, state.CatError, l.sendFailure(l.label(w), err), nil)
		return
	}
	key := wid(w)
	l.store.ClearBusy(key)
	l.store.TakePrompt(key)
	l.store.SetLastUsed(w)
	l.send(ctx, state.CatConfirmation, fmt.Sprintf("⏹ Interrupted %s (%s).", l.label(w), telegram.Code(sess.Project)), nil)
}

func (l *Listener) cmdKill(ctx context.Context, target string) {
	if target == "" {
		l.pick(ctx, "kill", "🛑 Kill which session?")
		return
	}
	w, ok := l.find(ctx, target)
	if !ok {
		l.noSession(ctx, target)
		return
	}
	sess := l.sessions[w]
	seq := tmux.NewSequence(paneOf(sess)).Keys("C-c").Wait(keySettle).Keys("C-c").Wait(keySettle).Keys("C-c")
	if err := l.mux.Send(ctx, seq); err != nil {
		l.send(ctx, state.CatError, l.sendFailure(l.label(w), err), nil)
		return
	}
	l.clock.Sleep(killSettle)
	l.rescan(ctx)
	if _, still := l.sessions[w]; still {
		l.send(ctx, state.CatConfirmation,
			fmt.Sprintf("⚠️ %s (%s) still running after Ctrl+C.", l.label(w), telegram.Code(sess.Project)), nil)
		return
	}
	l.store.Forget(wid(w))
	l.scanner.Forget(w)
	l.idle.Reset(w)
	l.send(ctx, state.CatConfirmation, fmt.Sprintf("🛑 Killed %s (%s).", l.label(w), telegram.Code(sess.Project)), nil)
}

func (l *Listener) cmdLast(ctx context.Context, target string) {
	if target != "" {
		w, ok := l.routerSessions("").Lookup(target)
		if !ok && router.IsWindow(target) {
			w = target
		}
		if msg, found := l.store.LastMessage(wid(w)); w != "" && found {
			l.send(ctx, state.CatConfirmation, msg, nil)
			return
		}
		l.send(ctx, state.CatConfirmation, fmt.Sprintf("⚠️ No saved message for %s.", telegram.Code(target)), nil)
		return
	}

	keys := l.store.LastMessageWindows()
	switch len(keys) {
	case 0:
		l.send(ctx, state.CatConfirmation, "⚠️ No saved messages yet.", nil)
		return
	case 1:
		msg, _ := l.store.LastMessage(keys[0])
		l.send(ctx, state.CatConfirmation, msg, nil)
		return
	}
	live := make(map[string]tmux.Session)
	for _, k := range keys {
		if s, ok := l.sessions[index(k)]; ok {
			live[index(k)] = s
		}
	}
	if len(live) == 0 {
		l.send(ctx, state.CatConfirmation, "⚠️ No saved messages.", nil)
		return
	}
	l.send(ctx, state.CatConfirmation, "📋 Last message for which session?",
		l.commandKeyboardFor("last", tmux.SortWindows(live)))
}

// savedPreview lists a window's queue with Send/Discard buttons. It reports
// whether there was anything to show.
func (l *Listener) savedPreview(ctx context.Context, w string) bool {
	key := wid(w)
	queued := l.store.Queued(key)
	if len(queued) == 0 {
		return false
	}
	lines := make([]string, 0, len(queued))
	for i, m := range queued {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, telegram.Code(clip(m.Text, 100))))
	}
	l.send(ctx, state.CatConfirmation,
		fmt.Sprintf("💾 %d saved message(s) for %s:\n%s", len(queued), l.label(w), strings.Join(lines, "\n")),
		telegram.Inline([]telegram.Button{
			telegram.Btn("✉️ Send", "saved_send_"+key),
			telegram.Btn("🗑 Discard", "saved_discard_"+key),
		}))
	return true
}

func (l *Listener) cmdSaved(ctx context.Context, target string) {
	if target != "" {
		w, ok := l.routerSessions("").Lookup(target)
		if !ok {
			if !router.IsWindow(target) {
				l.send(ctx, state.CatConfirmation, fmt.Sprintf("⚠️ No session %s.", telegram.Code(target)), nil)
				return
			}
			w = target
		}
		if !l.savedPreview(ctx, w) {
			l.send(ctx, state.CatConfirmation, fmt.Sprintf("No saved messages for %s.", l.label(w)), nil)
		}
		return
	}
	found := false
	for _, key := range l.store.QueuedWindows() {
		if l.savedPreview(ctx, index(key)) {
			found = true
		}
	}
	if !found {
		l.send(ctx, state.CatConfirmation, "No saved messages.", nil)
	}
}

// cmdClear resets the volatile tier, or one window's share of it. Queues,
// names and god mode are persisted and stay.
func (l *Listener) cmdClear(ctx context.Context, target string) {
	if target == "" {
		if err := l.store.ResetVolatile(); err != nil {
			logger.Warnf("listener: reset volatile: %v", err)
		}
		l.focus, l.smart, l.deep = focusWatch{}, smartWatch{}, deepWatch{}
		for w := range l.sessions {
			l.idle.Reset(w)
		}
		l.send(ctx, state.CatConfirmation, "🧹 Cleared transient state (prompts, busy, focus).", nil)
		return
	}
	w, ok := l.routerSessions("").Lookup(target)
	if !ok {
		if !router.IsWindow(target) {
			l.noSession(ctx, target)
			return
		}
		w = target
	}
	l.store.Forget(wid(w))
	l.idle.Reset(w)
	l.send(ctx, state.CatConfirmation, fmt.Sprintf("🧹 Cleared transient state for %s.", l.label(w)), nil)
}

func (l *Listener) cmdAutofocus(ctx context.Context, arg string) {
	on := !l.store.Autofocus()
	switch arg {
	case "on":
		on = true
	case "off":
		on = false
	}
	if err := l.store.SetAutofocus(on); err != nil {
		logger.Warnf("listener: autofocus: %v", err)
	}
	if !on {
		l.store.ClearFocus(state.FocusSmart)
		l.smart = smartWatch{}
		l.send(ctx, state.CatConfirmation, "👁 Autofocus off.", nil)
		return
	}
	l.send(ctx, state.CatConfirmation, "👁 Autofocus on. Sessions you message are followed until they finish.", nil)
}

func (l *Listener) cmdGod(ctx context.Context, cmd router.Command) {
	var err error
	switch {
	case cmd.Arg == "" && cmd.Target == "":
		status := l.godSummary()
		if status == "" {
			status = "off"
		}
		l.send(ctx, state.CatConfirmation,
			"⚡ God mode: "+status+"\nUsage: `/god wN`, `/god all`, `/god off`, `/god off wN`", nil)
		return
	case cmd.Arg == "all":
		err = l.store.SetGodMode(state.AllWindows, true)
		if err == nil {
			l.send(ctx, state.CatConfirmation, "⚡ God mode on for all sessions. Plan approvals still ask.", nil)
		}
	case cmd.Arg == "off" && cmd.Target == "":
		err = l.store.ClearGodMode()
		if err == nil {
			l.send(ctx, state.CatConfirmation, "🛡 God mode off.", nil)
		}
	case cmd.Arg == "off":
		w := cmd.Target
		if found, ok := l.routerSessions("").Lookup(cmd.Target); ok {
			w = found
		} else if !router.IsWindow(w) {
			l.noSession(ctx, cmd.Target)
			return
		}
		err = l.store.SetGodMode(w, false)
		if err == nil {
			reply := "🛡 God mode off for " + l.label(w) + "."
			if l.store.IsGodMode(w) {
				reply += " It is still on for all sessions; send `/god off` to stop that."
			}
			l.send(ctx, state.CatConfirmation, reply, nil)
		}
	default:
		w, ok := l.find(ctx, cmd.Target)
		if !ok {
			l.noSession(ctx, cmd.Target)
			return
		}
		err = l.store.SetGodMode(w, true)
		if err == nil {
			l.send(ctx, state.CatConfirmation,
				fmt.Sprintf("⚡ God mode on for %s. Plan approvals still ask.", l.label(w)), nil)
			pane := paneOf(l.sessions[w])
			if idle, _ := l.paneIdle(ctx, pane); idle {
				l.acceptEdits(ctx, pane)
			}
		}
	}
	if err != nil {
		logger.Warnf("listener: god mode: %v", err)
		l.send(ctx, state.CatError, "⚠️ Could not save god mode.", nil)
	}
}

func (l *Listener) notificationStatus() string {
	var loud, silent []string
	for _, c := range state.AllCategories() {
		entry := fmt.Sprintf("%d %s", int(c), c)
		if l.store.IsLoud(c) {
			loud = append(loud, entry)
		} else {
			silent = append(silent, entry)
		}
	}
	none := func(s []string) string {
		if len(s) == 0 {
			return "none"
		}
		return strings.Join(s, ", ")
	}
	return "🔔 Loud: " + none(loud) + "\n🔕 Silent: " + none(silent)
}

const notificationUsage = "Usage: `/notification all`, `/notification off`, `/notification 1,2,3`"

func (l *Listener) cmdNotification(ctx context.Context, arg string) {
	if arg == "" {
		l.send(ctx, state.CatConfirmation, l.notificationStatus()+"\n"+notificationUsage, nil)
		return
	}
	cats, err := state.ParseCategories(arg)
	if err != nil {
		l.send(ctx, state.CatConfirmation, fmt.Sprintf("⚠️ %s.\n%s", err, notificationUsage), nil)
		return
	}
	if err := l.store.SetLoud(cats); err != nil {
		logger.Warnf("listener: notification policy: %v", err)
		l.send(ctx, state.CatError, "⚠️ Could not save the notification policy.", nil)
		return
	}
	l.send(ctx, state.CatConfirmation, "Notifications updated.\n"+l.notificationStatus(), nil)
}
