package queue

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestQueuePersistsInOrder(t *testing.T) {
	dir := t.TempDir()
	at := time.Unix(1700000000, 0)

	q, err := NewQueue(dir, "w4", 0)
	require.NoError(t, err)
	for _, s := range []string{"M1", "M2", "M3"} {
		_, err := q.Push(s, at)
		require.NoError(t, err)
	}
	require.NoError(t, q.Close())

	reopened, err := NewQueue(dir, "w4", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"M1", "M2", "M3"}, texts(reopened.List()))

	msg, err := reopened.Push("M4", at)
	require.NoError(t, err)
	assert.Equal(t, int64(4), msg.Seq)

	drained, err := reopened.Drain()
	require.NoError(t, err)
	assert.Equal(t, []string{"M1", "M2", "M3", "M4"}, texts(drained))
	assert.Equal(t, 0, reopened.Len())
	assert.NoFileExists(t, filepath.Join(dir, FileName("w4")))
}

func TestQueueAckKeepsLaterMessages(t *testing.T) {
	q, err := NewQueue(t.TempDir(), "w1", 0)
	require.NoError(t, err)
	first, _ := q.Push("a", time.Now())
	_, _ = q.Push("b", time.Now())

	require.NoError(t, q.AckUpto(first.Seq))
	assert.Equal(t, []string{"b"}, texts(q.List()))
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	q, err := NewQueue(t.TempDir(), "w1", 2)
	require.NoError(t, err)
	for _, s := range []string{"a", "b", "c"} {
		_, err := q.Push(s, time.Now())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"b", "c"}, texts(q.List()))
}

func TestQueueSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName("w2"))
	content := `{"seq":1,"text":"ok","ts":"2026-01-01T00:00:00Z"}` + "\n" + "{not json\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	q, err := NewQueue(dir, "w2", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Skipped())
	assert.Equal(t, []string{"ok"}, texts(q.List()))

	_, err = q.Push("next", time.Now())
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "{not json")
}
