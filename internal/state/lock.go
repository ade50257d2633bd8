package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrLocked means another listener holds the state lock.
var ErrLocked = errors.New("another tgbridge listener is already running")

type Lock struct {
	files []*os.File
}

// AcquireLock takes an exclusive non-blocking flock on listener.lock in
// each of dirs and records the holder's pid in it. Either every lock is
// held on return or none is.
func AcquireLock(dirs ...string) (*Lock, error) {
	l := &Lock{}
	seen := map[string]bool{}
	for _, dir := range dirs {
		if dir == "" || seen[filepath.Clean(dir)] {
			continue
		}
		seen[filepath.Clean(dir)] = true
		f, err := lockFile(dir)
		if err != nil {
			l.Release()
			return nil, err
		}
		l.files = append(l.files, f)
	}
	return l, nil
}

func lockFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(dir, "listener.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			holder, _ := os.ReadFile(path)
			if len(holder) > 0 {
				return nil, fmt.Errorf("%w (pid %s, %s)", ErrLocked, string(holder), path)
			}
			return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	}
	return f, nil
}

// Release unlocks and closes. Safe to call twice.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	var first error
	for _, f := range l.files {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil && first == nil {
			first = err
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}
