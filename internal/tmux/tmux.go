package tmux

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/agent-command/tgbridge/internal/config"
)

// ErrSessionVanished is returned when the target pane or window no longer exists.
var ErrSessionVanished = errors.New("tmux target no longer exists")

type Pane struct {
	PaneID         string
	PanePID        int
	SessionName    string
	WindowIndex    int
	PaneIndex      int
	CurrentPath    string
	CurrentCommand string
	Width          int
}

// Target returns the session:window.pane form used in scan results.
func (p Pane) Target() string {
	return fmt.Sprintf("%s:%d.%d", p.SessionName, p.WindowIndex, p.PaneIndex)
}

// Runner executes one tmux invocation. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

type execRunner struct {
	bin    string
	socket string
}

func (r execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	if r.socket != "" {
		args = append([]string{"-S", r.socket}, args...)
	}
	cmd := exec.CommandContext(ctx, r.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if isVanished(msg) {
			return out, fmt.Errorf("%w: %s", ErrSessionVanished, msg)
		}
		if msg != "" {
			return out, fmt.Errorf("tmux %s: %w: %s", args[0], err, msg)
		}
		return out, fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return out, nil
}

func isVanished(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "can't find pane") ||
		strings.Contains(s, "can't find window") ||
		strings.Contains(s, "can't find session")
}

type Client struct {
	runner  Runner
	timeout time.Duration
	backoff []time.Duration
}

func NewClient(cfg *config.TmuxConfig) *Client {
	return NewClientWithRunner(execRunner{bin: cfg.Bin, socket: cfg.Socket}, config.Millis(cfg.CommandTimeout), config.Backoff(cfg.RetryBackoffMs))
}

func NewClientWithRunner(r Runner, timeout time.Duration, backoff []time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if len(backoff) == 0 {
		backoff = []time.Duration{0}
	}
	return &Client{runner: r, timeout: timeout, backoff: backoff}
}

// query runs a read-only command with per-attempt timeouts and bounded retry.
// A vanished target is not retried.
func (c *Client) query(ctx context.Context, args ...string) ([]byte, error) {
	var lastErr error
	for _, delay := range c.backoff {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		out, err := c.exec(ctx, args...)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrSessionVanished) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) exec(ctx context.Context, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.runner.Run(runCtx, args...)
}

const paneFormat = "#{pane_id}\t#{pane_pid}\t#{session_name}\t#{window_index}\t#{pane_index}\t#{pane_current_path}\t#{pane_current_command}\t#{pane_width}"

// ListPanes returns all panes across all tmux sessions.
func (c *Client) ListPanes(ctx context.Context) ([]Pane, error) {
	output, err := c.query(ctx, "list-panes", "-a", "-F", paneFormat)
	if err != nil {
		// No tmux server running is not an error
		if strings.Contains(strings.ToLower(err.Error()), "no server running") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list panes: %w", err)
	}
	return parsePanes(output)
}

func parsePanes(output []byte) ([]Pane, error) {
	var panes []Pane
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 7 {
			continue
		}

		var pane Pane
		pane.PaneID = fields[0]
		pane.PanePID, _ = strconv.Atoi(fields[1])
		pane.SessionName = fields[2]
		pane.WindowIndex, _ = strconv.Atoi(fields[3])
		pane.PaneIndex, _ = strconv.Atoi(fields[4])
		pane.CurrentPath = fields[5]
		pane.CurrentCommand = fields[6]
		if len(fields) > 7 {
			pane.Width, _ = strconv.Atoi(fields[7])
		}
		panes = append(panes, pane)
	}
	return panes, scanner.Err()
}

// Capture returns the last n lines of a pane's scrollback, without escapes.
func (c *Client) Capture(ctx context.Context, target string, n int) (string, error) {
	output, err := c.query(ctx, "capture-pane", "-p", "-t", target, "-S", fmt.Sprintf("-%d", n))
	if err != nil {
		return "", fmt.Errorf("failed to capture pane: %w", err)
	}
	return trimToLastNLines(string(output), n), nil
}

func trimToLastNLines(text string, n int) string {
	if n <= 0 || text == "" {
		return text
	}
	trimmed := strings.TrimRight(text, "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[len(lines)-n:], "\n") + "\n"
}

// Display evaluates a tmux format string against a pane.
func (c *Client) Display(ctx context.Context, target, format string) (string, error) {
	output, err := c.query(ctx, "display-message", "-p", "-t", target, format)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// CursorX returns the cursor column, or false if it cannot be read.
func (c *Client) CursorX(ctx context.Context, target string) (int, bool) {
	v, err := c.Display(ctx, target, "#{cursor_x}")
	if err != nil {
		return 0, false
	}
	x, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return x, true
}

// Width returns the pane width in columns, 0 if unknown.
func (c *Client) Width(ctx context.Context, target string) int {
	v, err := c.Display(ctx, target, "#{pane_width}")
	if err != nil {
		return 0
	}
	w, _ := strconv.Atoi(v)
	return w
}

// WindowID returns "wN" for the window holding pane.
func (c *Client) WindowID(ctx context.Context, pane string) (string, error) {
	v, err := c.Display(ctx, pane, "#{window_index}")
	if err != nil {
		return "", err
	}
	if _, err := strconv.Atoi(v); err != nil {
		return "", fmt.Errorf("unexpected window index %q", v)
	}
	return "w" + v, nil
}

// Send executes a keystroke sequence as one tmux invocation. It is never
// retried: a partial delivery followed by a retry would double keystrokes.
func (c *Client) Send(ctx context.Context, seq *Sequence) error {
	if seq.Empty() {
		return nil
	}
	runCtx, cancel := context.WithTimeout(ctx, c.timeout+seq.TotalDelay())
	defer cancel()
	_, err := c.runner.Run(runCtx, seq.Args()...)
	return err
}

// NewWindow starts command in a new detached window and returns its index.
func (c *Client) NewWindow(ctx context.Context, dir, command string) (string, error) {
	output, err := c.exec(ctx, "new-window", "-d", "-c", dir, "-P", "-F", "#{window_index}", command)
	if err != nil {
		return "", fmt.Errorf("failed to create window: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}
