package signal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenDrain(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	_, err := w.Write(&Signal{Event: EventStop, Window: "w4", CreatedAt: base.Add(time.Second)})
	require.NoError(t, err)
	_, err = w.Write(&Signal{Event: EventPermission, Window: "w2", Message: "Claude needs permission", CreatedAt: base})
	require.NoError(t, err)

	sigs, errs := NewSpool(dir).Drain()
	require.Empty(t, errs)
	require.Len(t, sigs, 2)
	assert.Equal(t, EventPermission, sigs[0].Event)
	assert.Equal(t, EventStop, sigs[1].Event)
	assert.NotEmpty(t, sigs[0].ID)
	assert.NotEqual(t, sigs[0].ID, sigs[1].ID)

	// Consumed destructively.
	sigs, errs = NewSpool(dir).Drain()
	assert.Empty(t, sigs)
	assert.Empty(t, errs)
}

func TestDrainSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_bad.json"), []byte("{not json"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002_noevent.json"), []byte(`{"wid":"w1"}`), 0o600))
	_, err := NewWriter(dir).Write(&Signal{Event: EventStop, Window: "w1"})
	require.NoError(t, err)

	sigs, errs := NewSpool(dir).Drain()
	require.Len(t, sigs, 1)
	assert.Equal(t, EventStop, sigs[0].Event)
	require.Len(t, errs, 2)
	var perr *ProtocolError
	assert.True(t, errors.As(errs[0], &perr))
	assert.Equal(t, "0001_bad.json", perr.File)

	left, _ := os.ReadDir(dir)
	assert.Empty(t, left)
}

func TestDrainIgnoresStateAndTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewStash(dir).Put("w3", "Bash", "ls"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".x.json.tmp"), []byte("{}"), 0o600))

	sigs, errs := NewSpool(dir).Drain()
	assert.Empty(t, sigs)
	assert.Empty(t, errs)
	tool, cmd := NewStash(dir).Take("w3")
	assert.Equal(t, "Bash", tool)
	assert.Equal(t, "ls", cmd)
	tool, cmd = NewStash(dir).Take("w3")
	assert.Empty(t, tool)
	assert.Empty(t, cmd)
}

func TestDrainMissingDir(t *testing.T) {
	sigs, errs := NewSpool(filepath.Join(t.TempDir(), "nope")).Drain()
	assert.Nil(t, sigs)
	assert.Nil(t, errs)
}

func TestDeduper(t *testing.T) {
	d := NewDeduper(10 * time.Second)
	now := time.Now()
	a := Signal{ID: "a", Event: EventPermission, Window: "w4", Message: "needs permission"}
	b := a
	b.ID = "b"

	assert.False(t, d.Seen(a, now))
	assert.True(t, d.Seen(b, now.Add(time.Second)), "same content, different file")
	assert.False(t, d.Seen(Signal{Event: EventStop, Window: "w4"}, now))
	assert.False(t, d.Seen(b, now.Add(time.Minute)), "expired")
}

func TestDeduperLetsStopsThrough(t *testing.T) {
	d := NewDeduper(10 * time.Second)
	now := time.Now()
	stop := Signal{Event: EventStop, Window: "w4", Pane: "%4"}

	assert.False(t, d.Seen(stop, now))
	assert.False(t, d.Seen(stop, now.Add(4*time.Second)))

	assert.False(t, d.SeenKey("stop:w4:1", now))
	assert.True(t, d.SeenKey("stop:w4:1", now.Add(time.Second)))
	assert.False(t, d.SeenKey("stop:w4:2", now.Add(time.Second)))
}

func TestFingerprintIncludesQuestions(t *testing.T) {
	a := Signal{Event: EventQuestion, Window: "w1", Questions: []Question{{Question: "A?"}}}
	b := Signal{Event: EventQuestion, Window: "w1", Questions: []Question{{Question: "B?"}}}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	assert.Equal(t, "1", a.WindowIndex())
}
