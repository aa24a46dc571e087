package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/credativ/anysyncd/internal/lockfile"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Signal the running daemon to reopen its log file",
	Long: `Send SIGHUP to the running anysyncd daemon.

In daemon mode this reopens the configured log file in place (for log
rotation); a daemon started directly with --foreground does not reopen
its log and shuts down on SIGHUP instead, per the daemon's signal contract.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		running, pid := lockfile.TryDaemonLock(cfg.Global.StateDir)
		if !running {
			return fmt.Errorf("anysyncd is not running")
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("finding process %d: %w", pid, err)
		}
		if err := proc.Signal(syscall.SIGHUP); err != nil {
			return fmt.Errorf("signaling process %d: %w", pid, err)
		}
		fmt.Printf("sent SIGHUP to anysyncd (pid %d)\n", pid)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}
