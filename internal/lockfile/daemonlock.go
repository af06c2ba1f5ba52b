package lockfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// errProcessLocked is returned by TryDaemonLock's underlying flock probe
// when daemon.lock is held by a live process. It is also errDaemonLocked's
// identity — flockExclusive and TryDaemonLock must agree on one sentinel
// for IsLocked to work across both.
var errProcessLocked = errDaemonLocked

// LockInfo is the JSON content written to daemon.lock: which process holds
// the engine's first-open/migration coordination lock, and against which
// database file.
type LockInfo struct {
	PID       int       `json:"pid"`
	ParentPID int       `json:"parent_pid"`
	Database  string    `json:"database"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// ReadLockInfo reads dir/daemon.lock, accepting both the current JSON
// format and the legacy plain-PID format for cross-version compatibility.
func ReadLockInfo(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, "daemon.lock"))
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err == nil && info.PID != 0 {
		return &info, nil
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, errors.New("daemon.lock: unrecognized format")
	}
	return &LockInfo{PID: pid}, nil
}

// checkPIDFile reports whether dir/daemon.pid names a currently-running
// process, used as TryDaemonLock's fallback when daemon.lock is absent or
// unreadable.
func checkPIDFile(dir string) (running bool, pid int) {
	data, err := os.ReadFile(filepath.Join(dir, "daemon.pid"))
	if err != nil {
		return false, 0
	}
	p, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || !isProcessRunning(p) {
		return false, 0
	}
	return true, p
}

// TryDaemonLock reports whether another live process currently holds
// dir/daemon.lock. It distinguishes a stale lock file (content present but
// no process holds the flock) from a live one by attempting a non-blocking
// exclusive flock itself: if that succeeds, nothing else holds the lock.
func TryDaemonLock(dir string) (running bool, pid int) {
	lockPath := filepath.Join(dir, "daemon.lock")
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0o644)
	if err != nil {
		return checkPIDFile(dir)
	}
	defer f.Close()

	if err := flockExclusive(f); err == nil {
		FlockUnlock(f)
		return false, 0
	}

	info, err := ReadLockInfo(dir)
	if err != nil || info.PID == 0 {
		return checkPIDFile(dir)
	}
	return true, info.PID
}
