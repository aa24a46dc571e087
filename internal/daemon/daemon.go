// Package daemon wires N configured Syncers into a single process: it
// starts each Syncer's watcher and cron trigger, owns the daemon-wide
// lock, and shuts everything down cleanly on SIGTERM/SIGINT (and on SIGHUP
// in foreground mode; in daemon mode SIGHUP reopens the log instead).
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/credativ/anysyncd/internal/config"
	"github.com/credativ/anysyncd/internal/cron"
	"github.com/credativ/anysyncd/internal/lockfile"
	"github.com/credativ/anysyncd/internal/notify"
	"github.com/credativ/anysyncd/internal/stamp"
	"github.com/credativ/anysyncd/internal/syncer"
)

// Version is stamped into the lock file's LockInfo sidecar. Overridden at
// build time via -ldflags.
var Version = "dev"

// daemonSignals lists the signals runEventLoop subscribes to: graceful
// shutdown on SIGTERM/SIGINT, log-reopen-and-continue on SIGHUP.
var daemonSignals = []os.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP}

// Daemon owns the configured Syncers and the process-wide daemon lock.
// Syncers do not share mutable state with each other, per spec.md §5 —
// Daemon's only job is to start, stop, and log all of them.
type Daemon struct {
	cfg     *config.Config
	log     *slog.Logger
	guard   *lockfile.Guard
	syncers []*syncer.Syncer
	cronJob []*cron.Trigger

	reopenLog func() error
}

// New constructs a Daemon from cfg. reopenLog is called on SIGHUP and
// should reopen the configured log file in place; it may be nil in
// foreground mode, in which case SIGHUP triggers shutdown instead (per
// spec.md §6's "SIGHUP: log reopen in daemon mode, shutdown in
// foreground").
func New(cfg *config.Config, log *slog.Logger, reopenLog func() error) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	return &Daemon{cfg: cfg, log: log, reopenLog: reopenLog}
}

// Run acquires the daemon lock, starts every configured Syncer, and
// blocks until ctx is cancelled or a termination signal arrives.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.cfg.Global.StateDir, 0o755); err != nil {
		return fmt.Errorf("daemon: creating state dir %s: %w", d.cfg.Global.StateDir, err)
	}

	guard, err := lockfile.AcquireDaemonLock(d.cfg.Global.StateDir, d.cfg.Global.StateDir, Version)
	if err != nil {
		return fmt.Errorf("daemon: acquiring daemon lock: %w", err)
	}
	d.guard = guard
	defer d.guard.Release()

	for name, reason := range d.cfg.Skipped {
		d.log.Error("skipping invalid syncer configuration", "syncer", name, "error", reason)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := range d.cfg.Syncers {
		sc := d.cfg.Syncers[i]
		s := syncer.New(sc, d.cfg.Global.StateDir, d.log.With("component", "syncer"),
			syncer.WithReporter(d.buildReporter()))
		d.syncers = append(d.syncers, s)

		if err := s.Start(ctx); err != nil {
			d.log.Error("failed to start syncer", "syncer", sc.Name, "error", err)
			continue
		}

		if sc.Cron != "" {
			sCopy := s
			trig, err := cron.New(sc.Cron, func() { sCopy.OnCronTick(ctx) }, d.log.With("component", "cron", "syncer", sc.Name))
			if err != nil {
				d.log.Error("invalid cron expression, periodic full sync disabled", "syncer", sc.Name, "cron", sc.Cron, "error", err)
			} else {
				trig.Start()
				d.cronJob = append(d.cronJob, trig)
			}
		}

		go d.logCompletions(s)
	}

	d.log.Info("anysyncd started", "syncers", len(d.syncers))
	return d.runEventLoop(ctx, cancel)
}

// buildReporter selects the production Sender: SMTPSender against the
// configured relay when [global] smtp_addr is set, falling back to the
// local sendmail-compatible binary when it isn't or when the SMTP send
// fails, matching the corpus's "try the real channel, fall back to the
// local MTA" shape.
func (d *Daemon) buildReporter() *notify.Reporter {
	if d.cfg.Global.SMTPAddr != "" {
		return &notify.Reporter{
			Primary:  notify.SMTPSender{Addr: d.cfg.Global.SMTPAddr},
			Fallback: notify.SendmailSender{},
		}
	}
	return &notify.Reporter{
		Primary:  notify.SendmailSender{},
		Fallback: nil,
	}
}

func (d *Daemon) logCompletions(s *syncer.Syncer) {
	for res := range s.Done() {
		if res.Err != nil {
			d.log.Error("pipeline run finished with error", "syncer", s.Name(), "full_sync", res.FullSync, "error", res.Err)
		} else {
			d.log.Info("pipeline run finished", "syncer", s.Name(), "full_sync", res.FullSync)
		}
	}
}

// runEventLoop blocks until a termination signal or context cancellation.
// SIGHUP reopens the log (daemon mode) or shuts down (foreground mode,
// i.e. reopenLog == nil), matching spec.md §6's signal contract.
func (d *Daemon) runEventLoop(ctx context.Context, cancel context.CancelFunc) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, daemonSignals...)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				if d.reopenLog != nil {
					if err := d.reopenLog(); err != nil {
						d.log.Error("failed to reopen log file", "error", err)
					} else {
						d.log.Info("log file reopened on SIGHUP")
					}
					continue
				}
				d.log.Info("SIGHUP received in foreground mode, shutting down")
				cancel()
			default:
				d.log.Info("received termination signal, shutting down", "signal", sig)
				cancel()
			}
		}
	}
}

func (d *Daemon) shutdown() error {
	for _, t := range d.cronJob {
		t.Stop()
	}
	for _, s := range d.syncers {
		if err := s.Close(); err != nil {
			d.log.Warn("error closing syncer watcher", "syncer", s.Name(), "error", err)
		}
	}
	d.log.Info("anysyncd stopped")
	return nil
}

// ReadStamp reads one persisted stamp for the named syncer directly from
// disk, without starting the full daemon.
func ReadStamp(stateDir, name string, k stamp.Kind) (string, error) {
	return stamp.ReadRemote(stateDir, name, k)
}
