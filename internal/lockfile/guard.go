package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LockInfo is the JSON record written into the flock'd lock file,
// identifying which daemon process holds it. Older anysyncd releases wrote
// only a bare PID to the lock file; ReadLockInfo accepts both formats.
type LockInfo struct {
	PID       int       `json:"pid"`
	ParentPID int       `json:"parent_pid"`
	StateDir  string    `json:"state_dir"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

const (
	lockFileName = "daemon.lock"
	pidFileName  = "daemon.pid"
)

// Guard holds an acquired daemon lock. Release unlocks and removes both
// the lock and PID files.
type Guard struct {
	dir string
	f   *os.File
}

// AcquireDaemonLock acquires the single-instance daemon lock in dir
// (typically the configured state directory), writing a LockInfo sidecar
// so other processes (and `anysyncd status`) can identify the holder.
// Returns ErrLocked if another process already holds it.
func AcquireDaemonLock(dir, stateDir, version string) (*Guard, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: creating %s: %w", dir, err)
	}
	lockPath := filepath.Join(dir, lockFileName)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: opening %s: %w", lockPath, err)
	}

	if err := FlockExclusiveNonBlocking(f); err != nil {
		_ = f.Close()
		if IsLocked(err) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lockfile: flock %s: %w", lockPath, err)
	}

	info := LockInfo{
		PID:       os.Getpid(),
		ParentPID: os.Getppid(),
		StateDir:  stateDir,
		Version:   version,
		StartedAt: time.Now(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		_ = FlockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("lockfile: marshaling lock info: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = FlockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("lockfile: truncating %s: %w", lockPath, err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		_ = FlockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("lockfile: writing %s: %w", lockPath, err)
	}

	pidPath := filepath.Join(dir, pidFileName)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		_ = FlockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("lockfile: writing %s: %w", pidPath, err)
	}

	return &Guard{dir: dir, f: f}, nil
}

// Release unlocks the daemon lock and removes its sidecar files. It is
// safe to call once; subsequent calls are no-ops.
func (g *Guard) Release() error {
	if g.f == nil {
		return nil
	}
	err := FlockUnlock(g.f)
	_ = g.f.Close()
	g.f = nil
	_ = os.Remove(filepath.Join(g.dir, lockFileName))
	_ = os.Remove(filepath.Join(g.dir, pidFileName))
	return err
}

// ReadLockInfo reads the lock sidecar in dir, tolerating the legacy
// plain-PID format (a lock file containing nothing but digits).
func ReadLockInfo(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, fmt.Errorf("lockfile: reading lock file: %w", err)
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err == nil {
		return &info, nil
	}

	if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil {
		return &LockInfo{PID: pid}, nil
	}

	return nil, fmt.Errorf("lockfile: unrecognized lock file format")
}

// checkPIDFile reports whether dir's PID file names a currently running
// process, used as a fallback when the lock file itself is missing or
// unreadable.
func checkPIDFile(dir string) (running bool, pid int) {
	data, err := os.ReadFile(filepath.Join(dir, pidFileName))
	if err != nil {
		return false, 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0
	}
	if !isProcessRunning(n) {
		return false, 0
	}
	return true, n
}

// TryDaemonLock reports whether a daemon already holds dir's lock,
// without itself acquiring or blocking on it. It tries, in order: an
// advisory flock probe on the lock file, the LockInfo sidecar's PID, and
// finally the plain PID file. Used by `anysyncd status`.
func TryDaemonLock(dir string) (running bool, pid int) {
	lockPath := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0o644)
	if err != nil {
		return checkPIDFile(dir)
	}
	defer f.Close()

	if err := FlockExclusiveNonBlocking(f); err != nil {
		if IsLocked(err) {
			if info, rerr := ReadLockInfo(dir); rerr == nil && info.PID > 0 {
				return true, info.PID
			}
			return checkPIDFile(dir)
		}
		return checkPIDFile(dir)
	}
	// We acquired the lock ourselves, meaning nobody was holding it.
	_ = FlockUnlock(f)
	return checkPIDFile(dir)
}
