// Package stamp persists the two epoch-second timestamps a syncer needs to
// survive a restart: the last time a local change was observed, and the
// start time of the last fully successful replication pipeline.
package stamp

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Kind identifies which of a syncer's two stamps is being read or written.
type Kind string

const (
	// LastChange records the moment a quiescence window was armed.
	LastChange Kind = "lastchange"
	// Success records the start_ts of the last fully successful pipeline run.
	Success Kind = "success"
)

// Store manages the on-disk stamp files for one syncer. The in-memory
// value is authoritative for the process lifetime; disk is the source of
// truth across restarts and for the remote helper, which has no in-memory
// cache of its own.
type Store struct {
	mu   sync.Mutex
	dir  string
	name string
	vals map[Kind]int64
	set  map[Kind]bool
}

// New returns a Store rooted at stateDir for the named syncer. It does not
// touch the filesystem; call Load to hydrate the in-memory cache.
func New(stateDir, name string) *Store {
	return &Store{
		dir:  stateDir,
		name: name,
		vals: make(map[Kind]int64, 2),
		set:  make(map[Kind]bool, 2),
	}
}

func (s *Store) path(k Kind) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s_stamp", s.name, k))
}

// Load reads both stamp files from disk into the in-memory cache. A
// missing or unparseable file is treated as "unknown", not an error,
// matching spec.md's tolerance for empty/missing stamp files.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range []Kind{LastChange, Success} {
		v, ok, err := readStampFile(s.path(k))
		if err != nil {
			return fmt.Errorf("stamp: reading %s: %w", k, err)
		}
		s.vals[k] = v
		s.set[k] = ok
	}
	return nil
}

// readStampFile tolerates a missing file (ok=false, err=nil) and an
// unparseable/empty file (ok=false, err=nil); only a real I/O error (other
// than not-exist) is reported.
func readStampFile(path string) (int64, bool, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path built from configured state dir + syncer name
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}

// Get returns the current in-memory value for kind and whether it has ever
// been set (written this process lifetime or loaded from a present file).
func (s *Store) Get(k Kind) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vals[k], s.set[k]
}

// Set writes v for kind both in memory and to disk. The disk write is
// best-effort truncate-and-write: a failure is returned to the caller but
// the in-memory cache is updated regardless, since the in-memory value is
// authoritative for the remainder of this process's lifetime.
func (s *Store) Set(k Kind, v int64) error {
	s.mu.Lock()
	s.vals[k] = v
	s.set[k] = true
	s.mu.Unlock()

	return os.WriteFile(s.path(k), []byte(strconv.FormatInt(v, 10)), 0o600)
}

// ReadRemote reads a single stamp file directly from disk without an
// in-memory cache, for use by the remote helper CLI which has no syncer
// runtime state of its own. Returns "" for a missing or empty file per
// spec.md's remote helper contract.
func ReadRemote(stateDir, name string, k Kind) (string, error) {
	v, ok, err := readStampFile(filepath.Join(stateDir, fmt.Sprintf("%s_%s_stamp", name, k)))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return strconv.FormatInt(v, 10), nil
}
