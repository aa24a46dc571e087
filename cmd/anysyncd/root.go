package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/credativ/anysyncd/internal/config"
	"github.com/credativ/anysyncd/internal/daemon"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "anysyncd",
	Short: "anysyncd - filesystem replication daemon",
	Long: `anysyncd watches configured directory trees, coalesces filesystem
change events, and replicates consistent snapshots to peer hosts via a
two-phase commit.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/anysyncd/anysyncd.conf", "path to anysyncd configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "anysyncd:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration at configPath, exiting
// the process with a diagnostic on a fatal parse error (missing file or
// unparseable INI document), per spec.md §7.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "anysyncd: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// reopenableLogFile wraps an *os.File behind a mutex so SIGHUP can swap in
// a freshly opened descriptor at the same path (picking up a rotation done
// by logrotate or similar) without tearing down the slog.Logger built on
// top of it.
type reopenableLogFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func openReopenableLogFile(path string) (*reopenableLogFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &reopenableLogFile{path: path, f: f}, nil
}

func (r *reopenableLogFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Write(p)
}

// Reopen closes the current descriptor and opens a fresh one at the same
// path. Passed to daemon.New as reopenLog so SIGHUP in daemon mode
// reopens the log file instead of shutting down.
func (r *reopenableLogFile) Reopen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	old := r.f
	r.f = f
	return old.Close()
}

// newLogger builds the process-wide structured logger from the configured
// [global] logfile/loglevel, matching the corpus's log/slog convention. It
// returns the reopenableLogFile backing the logger when one was opened
// (nil when logging to stderr or to an explicitly supplied out), so the
// caller can wire SIGHUP-triggered reopening.
func newLogger(cfg *config.Config, out io.Writer) (*slog.Logger, *reopenableLogFile) {
	level := parseLevel(cfg.Global.LogLevel)
	if out != nil {
		return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), nil
	}
	if cfg.Global.LogFile == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
	}
	lf, err := openReopenableLogFile(cfg.Global.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "anysyncd: failed to open log file %s: %v\n", cfg.Global.LogFile, err)
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
	}
	return slog.New(slog.NewTextHandler(lf, &slog.HandlerOptions{Level: level})), lf
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func init() {
	daemon.Version = Version
}
