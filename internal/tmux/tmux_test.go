package tmux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-command/tgbridge/internal/proc"
)

type fakeRunner struct {
	calls   [][]string
	outputs map[string]string
	errs    []error
}

func (f *fakeRunner) Run(_ context.Context, args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return []byte(f.outputs[args[0]]), nil
}

func TestSequenceSelectThirdOption(t *testing.T) {
	seq := NewSequence("%20").Repeat("Down", 2).Wait(100 * time.Millisecond).Keys("Enter")
	assert.Equal(t, []string{
		"send-keys", "-t", "%20", "Down", "Down",
		";", "run-shell", "sleep 0.1",
		";", "send-keys", "-t", "%20", "Enter",
	}, seq.Args())
	assert.Equal(t, 100*time.Millisecond, seq.TotalDelay())
}

func TestSequenceTextIsLiteral(t *testing.T) {
	seq := NewSequence("0:4.0").Text("echo 'hi' $HOME;").Wait(100 * time.Millisecond).Keys("Enter")
	args := seq.Args()
	assert.Equal(t, []string{"send-keys", "-t", "0:4.0", "-l", "--", `echo 'hi' $HOME\;`}, args[:6])
	assert.Equal(t, "Enter", args[len(args)-1])
}

func TestSequenceSkipsEmptySteps(t *testing.T) {
	seq := NewSequence("%1").Repeat("Down", 0).Wait(0).Keys("Enter")
	assert.Equal(t, []string{"send-keys", "-t", "%1", "Enter"}, seq.Args())
	assert.True(t, NewSequence("%1").Empty())
}

func TestSendIsOneInvocation(t *testing.T) {
	r := &fakeRunner{errs: []error{errors.New("boom")}}
	c := NewClientWithRunner(r, time.Second, []time.Duration{0, 0, 0})

	err := c.Send(context.Background(), NewSequence("%1").Keys("Down").Wait(100*time.Millisecond).Keys("Enter"))
	assert.Error(t, err)
	assert.Len(t, r.calls, 1, "sequences are not retried")
}

func TestQueryRetries(t *testing.T) {
	r := &fakeRunner{
		errs:    []error{errors.New("transient"), nil},
		outputs: map[string]string{"display-message": "7\n"},
	}
	c := NewClientWithRunner(r, time.Second, []time.Duration{0, time.Millisecond})

	id, err := c.WindowID(context.Background(), "%3")
	require.NoError(t, err)
	assert.Equal(t, "w7", id)
	assert.Len(t, r.calls, 2)
}

func TestQueryDoesNotRetryVanished(t *testing.T) {
	r := &fakeRunner{errs: []error{fmt.Errorf("%w: can't find pane: %%9", ErrSessionVanished)}}
	c := NewClientWithRunner(r, time.Second, []time.Duration{0, 0, 0})

	_, err := c.Capture(context.Background(), "%9", 30)
	assert.ErrorIs(t, err, ErrSessionVanished)
	assert.Len(t, r.calls, 1)
}

func TestCaptureTrimsToLastLines(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{"capture-pane": "a\nb\nc\nd\n"}}
	c := NewClientWithRunner(r, time.Second, nil)

	out, err := c.Capture(context.Background(), "%1", 2)
	require.NoError(t, err)
	assert.Equal(t, "c\nd\n", out)
	assert.Equal(t, []string{"capture-pane", "-p", "-t", "%1", "-S", "-2"}, r.calls[0])
}

func TestCursorX(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{"display-message": "12"}}
	c := NewClientWithRunner(r, time.Second, nil)
	x, ok := c.CursorX(context.Background(), "%1")
	assert.True(t, ok)
	assert.Equal(t, 12, x)

	r.outputs["display-message"] = ""
	_, ok = c.CursorX(context.Background(), "%1")
	assert.False(t, ok)
}

func TestListPanesParses(t *testing.T) {
	out := strings.Join([]string{
		"%1\t100\tmain\t0\t0\t/home/me\tzsh\t200",
		"%4\t400\tmain\t4\t0\t/home/me/projects/api\tclaude\t120",
		"short\tline",
	}, "\n")
	r := &fakeRunner{outputs: map[string]string{"list-panes": out}}
	c := NewClientWithRunner(r, time.Second, nil)

	panes, err := c.ListPanes(context.Background())
	require.NoError(t, err)
	require.Len(t, panes, 2)
	assert.Equal(t, "main:4.0", panes[1].Target())
	assert.Equal(t, 120, panes[1].Width)
	assert.Equal(t, 400, panes[1].PanePID)
}

func TestListPanesNoServer(t *testing.T) {
	r := &fakeRunner{errs: []error{errors.New("tmux list-panes: exit status 1: no server running on /tmp/tmux-0/default")}}
	c := NewClientWithRunner(r, time.Second, nil)
	panes, err := c.ListPanes(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, panes)
}

type staticLister struct{ panes []Pane }

func (s *staticLister) ListPanes(context.Context) ([]Pane, error) { return s.panes, nil }

type fakeTree map[int]bool

func (f fakeTree) HasDescendant(pid int, _ []string) bool { return f[pid] }

func TestScannerDetectsAgentsAndGoneAfterTwoScans(t *testing.T) {
	lister := &staticLister{panes: []Pane{
		{PaneID: "%1", PanePID: 10, SessionName: "main", WindowIndex: 1, CurrentCommand: "claude", CurrentPath: "/src/api"},
		{PaneID: "%2", PanePID: 20, SessionName: "main", WindowIndex: 2, CurrentCommand: "zsh", CurrentPath: "/src/web"},
		{PaneID: "%3", PanePID: 30, SessionName: "main", WindowIndex: 3, CurrentCommand: "bash", CurrentPath: "/src/docs/"},
	}}
	tree := fakeTree{30: true}
	s := NewScanner(lister, "claude", func() proc.Tree { return tree }, nil)

	res, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, res.Windows())
	assert.Equal(t, "docs", res.Sessions["3"].Project)
	assert.Equal(t, "w1", res.Sessions["1"].ID())

	lister.panes = lister.panes[:1]
	res, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, res.Windows())
	assert.Empty(t, res.Gone, "one miss is tolerated")

	res, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, res.Gone)

	res, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Gone, "reported once")
}

func TestScannerReappearanceResetsMissCount(t *testing.T) {
	agent := Pane{PaneID: "%1", WindowIndex: 5, CurrentCommand: "claude"}
	lister := &staticLister{panes: []Pane{agent}}
	s := NewScanner(lister, "claude", nil, nil)

	_, _ = s.Scan(context.Background())
	lister.panes = nil
	_, _ = s.Scan(context.Background())
	lister.panes = []Pane{agent}
	_, _ = s.Scan(context.Background())
	lister.panes = nil
	res, _ := s.Scan(context.Background())
	assert.Empty(t, res.Gone)
}

func TestSortWindowsNumeric(t *testing.T) {
	got := SortWindows(map[string]Session{"10": {}, "2": {}, "1": {}})
	assert.Equal(t, []string{"1", "2", "10"}, got)
}
