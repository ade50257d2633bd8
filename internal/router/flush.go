package router

import (
	"strings"
	"time"
)

// IdleConfirm guards queue flushes against a pane that looks idle for one
// frame between tool calls. A window is confirmed once it has been observed
// idle twice at least confirm apart with no busy observation in between.
type IdleConfirm struct {
	confirm time.Duration
	since   map[string]time.Time
}

func NewIdleConfirm(confirm time.Duration) *IdleConfirm {
	return &IdleConfirm{confirm: confirm, since: make(map[string]time.Time)}
}

// Observe records one look at window and reports whether it is confirmed
// idle. A confirmed window starts over, so the next flush needs a fresh
// confirmation.
func (c *IdleConfirm) Observe(window string, idle bool, now time.Time) bool {
	if !idle {
		delete(c.since, window)
		return false
	}
	first, ok := c.since[window]
	if !ok {
		c.since[window] = now
		return false
	}
	if now.Sub(first) < c.confirm {
		return false
	}
	delete(c.since, window)
	return true
}

func (c *IdleConfirm) Reset(window string) {
	delete(c.since, window)
}

// Combine joins queued messages into one send, oldest first.
func Combine(texts []string) string {
	return strings.Join(texts, "\n")
}
