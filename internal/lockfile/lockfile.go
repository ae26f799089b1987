// Package lockfile keeps a single Telegram poller per state directory.
//
// Telegram answers a second long-poller on the same token with 409 Conflict, so
// the process takes an exclusive flock before it starts polling. The kernel drops
// the lock when the process exits, cleanly or not.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "nutripipe.lock"

// Info is what a lock holder records about itself.
type Info struct {
	PID     int
	Owner   string
	Started time.Time
}

func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "PID %d", i.PID)
	if i.PID > 0 {
		if isProcessRunning(i.PID) {
			b.WriteString(" (running)")
		} else {
			b.WriteString(" (not running, stale lock)")
		}
	}
	if i.Owner != "" {
		fmt.Fprintf(&b, ", owner %s", i.Owner)
	}
	if !i.Started.IsZero() {
		fmt.Fprintf(&b, ", started %s", i.Started.Format(time.RFC3339))
	}
	return b.String()
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the exclusive lock in stateDir, creating the directory if
// needed. owner names the holder in the lock file, usually the bot username.
// A lock held by another process yields a *LockError.
func AcquireLock(stateDir, owner string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// No O_TRUNC: the current holder's info must survive a failed attempt.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lerr := &LockError{LockPath: lockPath, Cause: err}
		if info, ok := readInfo(lockPath); ok {
			lerr.Holder = &info
		}
		slog.Error("Lock.Acquire: state directory is locked by another instance", "lock_path", lockPath, "holder", lerr.holderString())
		return nil, lerr
	}

	info := Info{PID: os.Getpid(), Owner: owner, Started: time.Now().UTC()}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("Lock.Acquire: acquired state directory lock", "lock_path", lockPath, "pid", info.PID, "owner", owner)
	return &Lock{file: file, path: lockPath}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lock.Release: failed to unlock", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Warn("Lock.Release: failed to close lock file", "error", err, "lock_path", l.path)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: failed to remove lock file", "error", err, "lock_path", l.path)
	}
	l.file = nil
	slog.Info("Lock.Release: released state directory lock", "lock_path", l.path)
	return nil
}

// LockError reports that another process holds the lock.
type LockError struct {
	LockPath string
	Holder   *Info
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another NutriPipe instance is already polling with this state directory (lock file %s", e.LockPath)
	if e.Holder != nil {
		msg += ", held by " + e.Holder.String()
	}
	msg += "). Stop it first, or remove the lock file if that process is gone"
	return msg
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func (e *LockError) holderString() string {
	if e.Holder == nil {
		return "unknown"
	}
	return e.Holder.String()
}

func writeInfo(f *os.File, info Info) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nowner=%s\nstarted=%s\n", info.PID, info.Owner, info.Started.Format(time.RFC3339))
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("Lock.Acquire: failed to sync lock file", "error", err)
	}
	return nil
}

func readInfo(lockPath string) (Info, bool) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Info{}, false
	}
	info := parseInfo(string(data))
	return info, info.PID > 0
}

// parseInfo reads the key=value lines written by writeInfo. Unknown keys are ignored.
func parseInfo(content string) Info {
	var info Info
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				info.PID = pid
			}
		case "owner":
			info.Owner = value
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				info.Started = t
			}
		}
	}
	return info
}

// isProcessRunning checks pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
