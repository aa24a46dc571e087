// Package syncer implements the per-syncer consistency pipeline: the
// event-coalescing scheduler that accumulates filesystem change paths
// into a pending set, and the state machine that turns a quiescent
// pending set into a committed change on every peer.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/credativ/anysyncd/internal/config"
	"github.com/credativ/anysyncd/internal/notify"
	"github.com/credativ/anysyncd/internal/remote"
	"github.com/credativ/anysyncd/internal/stamp"
	"github.com/credativ/anysyncd/internal/watcher"
)

const maxLocalMirrorIterations = 100

// Clock abstracts time.Now and time.Sleep so pipeline timing tests do not
// need to sleep in wall-clock time.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// systemClock is the production Clock.
type systemClock struct{}

func (systemClock) Now() time.Time      { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Distributor runs the external group-replication primitive for a group
// name, returning an error on non-zero exit. It is a seam over spec.md's
// "cluster-wide file-difference transport" non-goal.
type Distributor interface {
	Distribute(ctx context.Context, groupName string) error
}

// Syncer is one configured replication unit: its coalescing scheduler and
// pipeline driver. The mutex guards pending, locked, and timer exactly as
// spec.md §3's invariants require.
type Syncer struct {
	cfg      config.Syncer
	stateDir string
	log      *slog.Logger
	clk      Clock

	mirror      Mirror
	distributor Distributor
	remote      *remote.Client
	stamps      *stamp.Store
	watcher     *watcher.Watcher
	reporter    *notify.Reporter

	mu      sync.Mutex
	pending map[string]struct{}
	locked  bool
	timer   *time.Timer

	// done receives one value after every pipeline run (success or
	// failure), letting the daemon and tests observe completion without
	// polling locked.
	done chan RunResult
}

// RunResult summarizes one pipeline execution, for the daemon's logging
// and for tests.
type RunResult struct {
	FullSync bool
	Err      error
}

// Option configures a Syncer at construction. Used to inject fakes in
// tests without a production Mirror/Distributor/remote transport.
type Option func(*Syncer)

// WithMirror overrides the local mirror/verify primitive.
func WithMirror(m Mirror) Option { return func(s *Syncer) { s.mirror = m } }

// WithDistributor overrides the group-replication primitive.
func WithDistributor(d Distributor) Option { return func(s *Syncer) { s.distributor = d } }

// WithRemoteClient overrides the remote helper client.
func WithRemoteClient(c *remote.Client) Option { return func(s *Syncer) { s.remote = c } }

// WithClock overrides time.Now/time.Sleep, for deterministic tests of the
// retry-interval spacing and quiescence window.
func WithClock(c Clock) Option { return func(s *Syncer) { s.clk = c } }

// WithReporter overrides the error reporter.
func WithReporter(r *notify.Reporter) Option { return func(s *Syncer) { s.reporter = r } }

// New constructs a Syncer for cfg. stateDir is the root of the persisted
// stamp files (shared across all syncers, disjoint filenames per spec.md §5).
func New(cfg config.Syncer, stateDir string, log *slog.Logger, opts ...Option) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	s := &Syncer{
		cfg:         cfg,
		stateDir:    stateDir,
		log:         log.With("syncer", cfg.Name),
		clk:         systemClock{},
		mirror:      RsyncMirror{},
		distributor: newExecDistributor(cfg.DistributeCommand, cfg.RemotePrefixCommand),
		remote:      remote.New(cfg.RemotePrefixCommand),
		stamps:      stamp.New(stateDir, cfg.Name),
		watcher:     watcher.New(cfg.Watcher, cfg.Filter, log.With("syncer", cfg.Name, "component", "watcher")),
		pending:     make(map[string]struct{}),
		done:        make(chan RunResult, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Done returns the channel on which one RunResult is posted after every
// pipeline execution.
func (s *Syncer) Done() <-chan RunResult { return s.done }

// Name returns the syncer's configured name.
func (s *Syncer) Name() string { return s.cfg.Name }

// Start loads persisted stamps, subscribes the Watcher (unless the noop
// rule currently pauses it), and performs the startup full sync required
// by spec.md §3's lifecycle ("performs one full sync immediately").
func (s *Syncer) Start(ctx context.Context) error {
	if err := s.stamps.Load(); err != nil {
		return fmt.Errorf("syncer[%s]: loading stamps: %w", s.cfg.Name, err)
	}
	if s.noopActive() {
		s.log.Info("noop file absent at startup, watcher paused")
	} else if err := s.watcher.Start(); err != nil {
		return fmt.Errorf("syncer[%s]: starting watcher: %w", s.cfg.Name, err)
	}
	go s.consumeWatcherEvents(ctx)
	s.Trigger(ctx, true)
	return nil
}

// Close tears down the watcher subscription.
func (s *Syncer) Close() error {
	return s.watcher.Close()
}

func (s *Syncer) consumeWatcherEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-s.watcher.Paths():
			if !ok {
				return
			}
			s.AddPath(ctx, p)
		}
	}
}

// noopActive reports whether the configured noop_file is absent, per
// spec.md §4.2's pause rule. A syncer with no noop_file configured is
// never paused.
func (s *Syncer) noopActive() bool {
	if s.cfg.NoopFile == "" {
		return false
	}
	_, err := os.Stat(s.cfg.NoopFile)
	return err != nil
}

// AddPath is the Coalescer's add-path operation (spec.md §4.2). It first
// re-evaluates the noop rule, then accumulates paths into pending and
// arms the quiescence timer on the first event of a new window.
func (s *Syncer) AddPath(ctx context.Context, paths ...string) {
	if s.cfg.NoopFile != "" {
		if s.noopActive() {
			s.watcher.Disable()
			return
		}
		if !s.watcher.Active() {
			if err := s.watcher.Start(); err != nil {
				s.log.Error("failed to resubscribe watcher after noop file reappeared", "error", err)
			}
		}
		s.watcher.Enable()
	}

	s.mu.Lock()
	for _, p := range paths {
		s.pending[p] = struct{}{}
	}
	armNew := s.timer == nil
	if armNew {
		now := s.clk.Now().Unix()
		if err := s.stamps.Set(stamp.LastChange, now); err != nil {
			s.log.Warn("failed to persist lastchange stamp", "error", err)
		}
		s.timer = time.AfterFunc(s.cfg.WaitingTime, func() {
			s.onTimerFire(ctx)
		})
	}
	s.mu.Unlock()
}

func (s *Syncer) onTimerFire(ctx context.Context) {
	s.mu.Lock()
	s.timer = nil
	locked := s.locked
	s.mu.Unlock()

	if locked {
		// The running pipeline will observe the queue on its next
		// iteration or a subsequent event; this fire is simply dropped.
		return
	}
	s.Trigger(ctx, false)
}

// OnCronTick re-evaluates the noop rule and, if no pipeline is running and
// no quiescence timer is armed, triggers a full sync. It is invoked by
// internal/cron.Trigger on the configured schedule.
func (s *Syncer) OnCronTick(ctx context.Context) {
	if s.cfg.NoopFile != "" {
		if s.noopActive() {
			s.watcher.Disable()
		} else {
			if !s.watcher.Active() {
				if err := s.watcher.Start(); err != nil {
					s.log.Error("failed to resubscribe watcher on cron tick", "error", err)
				}
			}
			s.watcher.Enable()
		}
	}

	s.mu.Lock()
	timerArmed := s.timer != nil
	s.mu.Unlock()
	if timerArmed {
		return
	}
	s.Trigger(ctx, true)
}

// Trigger attempts to start a pipeline run. If fullSync is false and
// pending is empty, or a pipeline is already running, Trigger is a no-op.
// Otherwise it spawns the pipeline on its own goroutine and posts a
// RunResult to Done() on completion, per spec.md §5's worker-per-run model.
func (s *Syncer) Trigger(ctx context.Context, fullSync bool) {
	s.mu.Lock()
	if s.locked {
		s.mu.Unlock()
		return
	}
	if !fullSync && len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	s.locked = true
	s.mu.Unlock()

	go func() {
		err := s.runPipeline(ctx, fullSync)

		s.mu.Lock()
		s.locked = false
		s.mu.Unlock()

		if err != nil {
			s.log.Error("pipeline run failed", "error", err, "full_sync", fullSync)
			s.reportFailure(err)
		}

		select {
		case s.done <- RunResult{FullSync: fullSync, Err: err}:
		default:
		}
	}()
}

func (s *Syncer) reportFailure(err error) {
	if s.reporter == nil || s.cfg.AdminFrom == "" || s.cfg.AdminTo == "" {
		return
	}
	stage := "pipeline"
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
	}
	report := notify.Report{
		Syncer:     s.cfg.Name,
		Stage:      stage,
		Err:        err,
		Attempt:    1,
		MaxAttempt: 1,
		When:       s.clk.Now(),
	}
	if se != nil {
		report.Host = se.peer
	}
	if err := s.reporter.Notify(s.cfg.AdminFrom, s.cfg.AdminTo, report); err != nil {
		s.log.Error("failed to send error notification", "error", err)
	}
}
