package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Writer records signals durably before the hook returns.
type Writer struct {
	dir string
	now func() time.Time
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

// Write stores sig as <unixnano>_<uuid>.json via a temp file and rename,
// so readers never observe a partial file.
func (w *Writer) Write(sig *Signal) (string, error) {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return "", err
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = w.now()
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%019d_%s.json", sig.CreatedAt.UnixNano(), sig.ID)
	path := filepath.Join(w.dir, name)
	tmp := filepath.Join(w.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// Spool is the reading side of the signal directory.
type Spool struct {
	dir string
}

func NewSpool(dir string) *Spool {
	return &Spool{dir: dir}
}

func (s *Spool) Dir() string { return s.dir }

// Drain reads and deletes every pending signal file. Files that fail to
// decode are deleted too and reported as *ProtocolError; they never block
// the rest of the batch. Signals are returned oldest first.
func (s *Spool) Drain() ([]Signal, []error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, []error{err}
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var sigs []Signal
	var errs []error
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		// Consume before decoding: a bad file must not be retried forever.
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}

		var sig Signal
		if err := json.Unmarshal(data, &sig); err != nil {
			errs = append(errs, &ProtocolError{File: name, Err: err})
			continue
		}
		if sig.Event == "" {
			errs = append(errs, &ProtocolError{File: name, Err: errors.New("missing event")})
			continue
		}
		if sig.ID == "" {
			sig.ID = strings.TrimSuffix(name, ".json")
		}
		sigs = append(sigs, sig)
	}

	sort.SliceStable(sigs, func(i, j int) bool {
		return sigs[i].CreatedAt.Before(sigs[j].CreatedAt)
	})
	return sigs, errs
}

// Deduper drops signals whose fingerprint was already seen within ttl.
type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

func NewDeduper(ttl time.Duration) *Deduper {
	return &Deduper{ttl: ttl, seen: make(map[string]time.Time)}
}

// Seen records sig and reports whether an identical event was recorded
// recently. Stop signals carry no content of their own, so two turns ending
// close together would look identical; they are never reported here and the
// caller dedups them on the captured response with SeenKey.
func (d *Deduper) Seen(sig Signal, now time.Time) bool {
	if sig.Event == EventStop {
		return false
	}
	return d.SeenKey(sig.Fingerprint(), now)
}

// SeenKey is Seen for a caller-built key.
func (d *Deduper) SeenKey(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}
