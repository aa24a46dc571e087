package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/credativ/anysyncd/internal/daemon"
	"github.com/credativ/anysyncd/internal/lockfile"
)

// foregroundEnvVar marks the re-exec'd child that should actually run the
// daemon loop, mirroring the corpus's BD_DAEMON_FOREGROUND convention for
// distinguishing the launching parent from the backgrounded child.
const foregroundEnvVar = "ANYSYNCD_FOREGROUND"

var startForeground bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the anysyncd daemon",
	Long: `Start the anysyncd daemon.

By default anysyncd forks into the background and returns once the daemon
has acquired its lock. Use --foreground to run in the calling process,
which is the right mode under systemd or another process supervisor.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		backgroundChild := os.Getenv(foregroundEnvVar) == "1"

		if startForeground || backgroundChild {
			log, logFile := newLogger(cfg, nil)

			// Only the re-exec'd background child reopens its log on
			// SIGHUP; a directly-invoked --foreground run shuts down
			// instead, per the daemon/foreground signal contract.
			var reopenLog func() error
			if backgroundChild {
				reopenLog = func() error { return nil }
				if logFile != nil {
					reopenLog = logFile.Reopen
				}
			}

			d := daemon.New(cfg, log, reopenLog)
			ctx, cancel := signalAwareContext()
			defer cancel()
			return d.Run(ctx)
		}

		return startInBackground(cfg.Global.StateDir)
	},
}

func init() {
	startCmd.Flags().BoolVarP(&startForeground, "foreground", "f", false, "run in the foreground instead of forking a background daemon")
	rootCmd.AddCommand(startCmd)
}

// startInBackground re-execs the current binary with the foreground
// marker set and a detached session, then waits for the child to either
// acquire the daemon lock or exit early with an error.
func startInBackground(stateDir string) error {
	if running, pid := lockfile.TryDaemonLock(stateDir); running {
		return fmt.Errorf("anysyncd is already running (pid %d)", pid)
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own executable path: %w", err)
	}

	child := exec.Command(self, "start", "--foreground", "--config", configPath)
	child.Env = append(os.Environ(), foregroundEnvVar+"=1")
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil

	if err := child.Start(); err != nil {
		return fmt.Errorf("forking background daemon: %w", err)
	}
	if err := child.Process.Release(); err != nil {
		return fmt.Errorf("releasing forked daemon process: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if running, pid := lockfile.TryDaemonLock(stateDir); running {
			fmt.Printf("anysyncd started (pid %d)\n", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not acquire its lock in %s within 5s, check the configured log file", stateDir)
}

func signalAwareContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}
