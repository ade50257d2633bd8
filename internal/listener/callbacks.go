package listener

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/agent-command/tgbridge/internal/logger"
	"github.com/agent-command/tgbridge/internal/permission"
	"github.com/agent-command/tgbridge/internal/router"
	"github.com/agent-command/tgbridge/internal/state"
	"github.com/agent-command/tgbridge/internal/telegram"
)

var (
	rePermCallback  = regexp.MustCompile(`^perm_w(\d+)_(\d+)$`)
	reQuestionCb    = regexp.MustCompile(`^q_w(\d+)_(\d+)$`)
	reCommandCb     = regexp.MustCompile(`^cmd_(status|focus|deepfocus|interrupt|kill|last)_w?(\d+)$`)
	reSessionCb     = regexp.MustCompile(`^sess_(\d+)$`)
	reSavedCallback = regexp.MustCompile(`^saved_(send|discard)_w(\d+)$`)
)

var commandCallbacks = map[string]router.Kind{
	"status":    router.KindStatus,
	"focus":     router.KindFocus,
	"deepfocus": router.KindDeepfocus,
	"interrupt": router.KindInterrupt,
	"kill":      router.KindKill,
	"last":      router.KindLast,
}

// answer acknowledges a button press and removes the keyboard it came from.
func (l *Listener) answer(ctx context.Context, cb *telegram.Callback, text string) {
	if err := l.chat.AnswerCallback(ctx, cb.ID, text); err != nil {
		l.transportError("telegram", err)
	}
	if cb.MessageID != 0 {
		if err := l.chat.RemoveKeyboard(ctx, cb.MessageID); err != nil {
			l.transportError("telegram", err)
		}
	}
}

// handleCallback dispatches an inline button press.
func (l *Listener) handleCallback(ctx context.Context, cb *telegram.Callback) error {
	data := cb.Data
	switch data {
	case "quit_y":
		l.answer(ctx, cb, "")
		l.send(ctx, state.CatConfirmation, "👋 Bye.", nil)
		return ErrQuit
	case "quit_n":
		l.answer(ctx, cb, "")
		l.quitPending = false
		l.send(ctx, state.CatConfirmation, "Cancelled.", nil)
		return nil
	}

	if m := rePermCallback.FindStringSubmatch(data); m != nil {
		n, _ := strconv.Atoi(m[2])
		l.permCallback(ctx, cb, m[1], n)
		return nil
	}
	if m := reQuestionCb.FindStringSubmatch(data); m != nil {
		w, choice := m[1], m[2]
		p := l.store.Prompt(wid(w))
		if p == nil {
			l.answer(ctx, cb, "Prompt expired")
			return nil
		}
		l.answer(ctx, cb, "")
		l.send(ctx, state.CatConfirmation, l.answerPrompt(ctx, w, p, choice), nil)
		l.store.SetLastUsed(w)
		return nil
	}
	if m := reCommandCb.FindStringSubmatch(data); m != nil {
		l.answer(ctx, cb, "")
		return l.handleCommand(ctx, router.Command{Kind: commandCallbacks[m[1]], Target: m[2], Text: data})
	}
	if m := reSessionCb.FindStringSubmatch(data); m != nil {
		l.answer(ctx, cb, "")
		l.store.SetLastUsed(m[1])
		l.cmdStatus(ctx, router.Command{Kind: router.KindStatus, Target: m[1]})
		return nil
	}
	if m := reSavedCallback.FindStringSubmatch(data); m != nil {
		l.answer(ctx, cb, "")
		if m[1] == "send" {
			l.sendSaved(ctx, m[2])
		} else {
			l.discardSaved(ctx, m[2])
		}
		return nil
	}

	l.answer(ctx, cb, "")
	logger.Debugf("listener: unknown callback data %q", data)
	return nil
}

func permLabel(p *permission.Prompt, n int) string {
	if p.Kind == permission.KindSubmit {
		if n == 1 {
			return "✅ Submitted answers"
		}
		return "❌ Answers not submitted"
	}
	switch {
	case n == 1:
		return "✅ Allowed"
	case n == p.Total:
		return "❌ Denied"
	case n == 2:
		return "✅ Always allowed"
	}
	return fmt.Sprintf("Selected option %d", n)
}

// permCallback answers a permission or submit prompt from its buttons.
func (l *Listener) permCallback(ctx context.Context, cb *telegram.Callback, w string, n int) {
	key := wid(w)
	p := l.store.Prompt(key)
	if p == nil {
		l.answer(ctx, cb, "Prompt expired")
		return
	}
	if n < 1 || n > p.Total {
		l.answer(ctx, cb, "Invalid option")
		return
	}
	l.answer(ctx, cb, "")
	l.store.TakePrompt(key)
	seq := permission.Sequence(p, permission.Resolution{Kind: permission.Select, Option: n})
	if err := l.mux.Send(ctx, seq); err != nil {
		l.send(ctx, state.CatError, l.sendFailure(l.label(w), err), nil)
		return
	}
	l.send(ctx, state.CatConfirmation, fmt.Sprintf("%s in %s", permLabel(p, n), l.label(w)), nil)
	l.store.SetLastUsed(w)
	logger.Infof("listener: callback perm %s option %d", key, n)
	l.advance(ctx, w, p)
}

// sendSaved delivers a window's queue now, as one message.
func (l *Listener) sendSaved(ctx context.Context, w string) {
	key := wid(w)
	msgs, err := l.store.DrainQueue(key)
	if err != nil {
		logger.Warnf("listener: drain queue %s: %v", key, err)
	}
	if len(msgs) == 0 {
		l.send(ctx, state.CatConfirmation, "No saved messages to send.", nil)
		return
	}
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Text
	}
	sess, ok := l.sessions[w]
	if !ok {
		for _, t := range texts {
			if _, err := l.store.Enqueue(key, t); err != nil {
				logger.Warnf("listener: requeue for %s: %v", key, err)
			}
		}
		l.send(ctx, state.CatConfirmation, fmt.Sprintf("⚠️ Session `w%s` no longer active.", w), nil)
		return
	}
	l.idle.Reset(w)
	reply, sent := l.routeToPane(ctx, sess, router.Combine(texts))
	if sent {
		l.metrics.MessagesFlushed.Add(float64(len(msgs)))
	}
	l.send(ctx, state.CatConfirmation, reply, nil)
	l.store.SetLastUsed(w)
	if sent {
		l.maybeSmartfocus(ctx, sess)
	}
}

func (l *Listener) discardSaved(ctx context.Context, w string) {
	if _, err := l.store.DrainQueue(wid(w)); err != nil {
		logger.Warnf("listener: drain queue w%s: %v", w, err)
	}
	l.idle.Reset(w)
	l.send(ctx, state.CatConfirmation, fmt.Sprintf("🗑 Discarded saved messages for %s.", l.label(w)), nil)
}
