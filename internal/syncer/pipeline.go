package syncer

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/credativ/anysyncd/internal/config"
	"github.com/credativ/anysyncd/internal/remote"
	"github.com/credativ/anysyncd/internal/stamp"
)

// errInterference marks a local-mirror attempt that copied cleanly but
// raced a write landing during mirror/verify; retry-worthy, not a real
// mirror failure.
var errInterference = errors.New("syncer: pending changes arrived during local mirror")

// stageError tags a pipeline failure with the state-machine stage it
// occurred in (and, for peer-facing stages, the host), so the error
// reporter and logs can say exactly where the run died.
type stageError struct {
	stage string
	peer  string
	err   error
}

func (e *stageError) Error() string {
	if e.peer != "" {
		return fmt.Sprintf("%s (peer %s): %v", e.stage, e.peer, e.err)
	}
	return fmt.Sprintf("%s: %v", e.stage, e.err)
}

func (e *stageError) Unwrap() error { return e.err }

// drainPending atomically empties pending and returns the drained paths.
// Draining and checking emptiness are meant to be one atomic step per
// spec.md §3 invariant 2; callers that need the post-mirror emptiness
// check re-examine pending under the same mutex rather than relying on
// this function's return value.
func (s *Syncer) drainPending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.pending))
	for p := range s.pending {
		paths = append(paths, p)
	}
	s.pending = make(map[string]struct{})
	return paths
}

func (s *Syncer) pendingEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) == 0
}

// runPipeline executes the Local-Mirror → Freshness-Check → Distribute →
// Commit state machine for one trigger, exactly as spec.md §4.4 describes.
// The caller (Trigger) owns setting/clearing `locked`.
func (s *Syncer) runPipeline(ctx context.Context, fullSync bool) error {
	src, dst := s.mirrorPaths()

	startTS, err := s.localMirrorLoop(ctx, src, dst)
	if err != nil {
		return &stageError{stage: "local-mirror", err: err}
	}

	if s.cfg.Handler == config.HandlerTwoPhase {
		if err := s.freshnessCheck(ctx); err != nil {
			return err // already a *stageError naming the offending peer
		}
		if err := s.distributor.Distribute(ctx, s.cfg.GroupName); err != nil {
			return &stageError{stage: "distribute", err: fmt.Errorf("%w: %v", ErrDistributeFailed, err)}
		}
		if err := s.commitAll(ctx); err != nil {
			return err
		}
	}

	if err := s.stamps.Set(stamp.Success, startTS); err != nil {
		s.log.Warn("failed to persist success stamp", "error", err)
	}
	return nil
}

func (s *Syncer) mirrorPaths() (src, dst string) {
	if s.cfg.Handler == config.HandlerTwoPhase {
		return s.cfg.ProdDir, s.cfg.CsyncDir
	}
	return s.cfg.From, s.cfg.To
}

// localMirrorLoop is spec.md §4.4's Local-Mirror loop: bounded to 100
// iterations, each draining pending, mirroring, and verifying, retrying
// with retry_interval spacing on any mirror failure or post-mirror
// interference. Retry sequencing is delegated to backoff.Retry with a
// constant backoff, matching the teacher's own withRetry/backoff.Retry
// wrapping pattern around a fallible operation.
func (s *Syncer) localMirrorLoop(ctx context.Context, src, dst string) (int64, error) {
	bo := backoff.WithContext(backoff.NewConstantBackOff(s.cfg.RetryInterval), ctx)
	timer := newClockTimer(s.clk)

	attempt := 0
	var result int64
	op := func() error {
		attempt++
		s.drainPending()
		start := s.clk.Now()
		timer.from = start

		mirrorErr := s.mirror.Sync(ctx, src, dst)
		if mirrorErr == nil {
			equal, verr := s.mirror.Verify(ctx, src, dst)
			if verr != nil {
				mirrorErr = verr
			} else if !equal {
				mirrorErr = fmt.Errorf("%w: post-mirror verify found residual differences", ErrMirrorFailed)
			}
		}

		interfered := !s.pendingEmpty()
		if mirrorErr == nil && !interfered {
			result = start.Unix()
			return nil
		}
		if mirrorErr == nil {
			mirrorErr = errInterference
		}
		if attempt >= maxLocalMirrorIterations {
			return backoff.Permanent(ErrRetryExceeded)
		}
		return mirrorErr
	}

	if retryErr := backoff.RetryNotifyWithTimer(op, bo, nil, timer); retryErr != nil {
		return 0, retryErr
	}
	return result, nil
}

// clockTimer adapts the Syncer's Clock to backoff.Timer so retry spacing
// goes through the same Now/Sleep seam the rest of the package uses for
// deterministic tests, instead of backoff's own real-time timer. Start
// sleeps only until from+d, so attempts begin at least d apart even when
// the mirror call itself took part of that time.
type clockTimer struct {
	clk  Clock
	c    chan time.Time
	from time.Time
}

func newClockTimer(clk Clock) *clockTimer {
	return &clockTimer{clk: clk, c: make(chan time.Time, 1)}
}

func (t *clockTimer) C() <-chan time.Time { return t.c }

func (t *clockTimer) Start(d time.Duration) {
	if wait := t.from.Add(d).Sub(t.clk.Now()); wait > 0 {
		t.clk.Sleep(wait)
	}
	select {
	case t.c <- t.clk.Now():
	default:
	}
}

func (t *clockTimer) Stop() {}

// freshnessCheck iterates remote_hosts in configured order, aborting on
// the first veto or transport error (scenario ordering from spec.md §8).
func (s *Syncer) freshnessCheck(ctx context.Context) error {
	for _, host := range s.cfg.RemoteHosts {
		success, lastChange, err := s.remote.Stamps(ctx, host, s.cfg.Name, s.stateDir)
		if err != nil {
			return &stageError{stage: "freshness-check", peer: host, err: err}
		}
		if vetoed(success, lastChange) {
			return &stageError{stage: "freshness-check", peer: host, err: fmt.Errorf("%w: success=%q lastchange=%q", ErrPeerNotFresh, success, lastChange)}
		}
	}
	return nil
}

// vetoed implements the Open Question resolution from spec.md §9: veto
// only when both fields are populated and lastchange > success.
func vetoed(success, lastChange string) bool {
	if success == "" || lastChange == "" {
		return false
	}
	s, errS := strconv.ParseInt(success, 10, 64)
	l, errL := strconv.ParseInt(lastChange, 10, 64)
	if errS != nil || errL != nil {
		return false
	}
	return l > s
}

// commitAll calls the remote helper's commit operation on every peer,
// accumulating per-host failures. A failing host does not roll back
// hosts that already committed (spec.md §9's documented asymmetry).
func (s *Syncer) commitAll(ctx context.Context) error {
	var failed []string
	for _, host := range s.cfg.RemoteHosts {
		if err := s.remote.Commit(ctx, host, s.cfg.Name); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", host, err))
		}
	}
	if len(failed) > 0 {
		return &stageError{stage: "commit", err: fmt.Errorf("%w: %s", remote.ErrCommitFailed, strings.Join(failed, "; "))}
	}
	return nil
}

// newExecDistributor builds the production Distributor, shelling out to
// the configured distribute_command via a shell so operators can use
// pipelines/arguments in the configuration value.
func newExecDistributor(command, prefixCommand string) Distributor {
	return shellDistributor{command: command, prefixCommand: prefixCommand}
}

type shellDistributor struct {
	command       string
	prefixCommand string
}

func (d shellDistributor) Distribute(ctx context.Context, _ string) error {
	full := d.command
	if d.prefixCommand != "" {
		full = d.prefixCommand + " " + full
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", full)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %v: %s", ErrDistributeFailed, err, string(out))
	}
	return nil
}
