package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/credativ/anysyncd/internal/lockfile"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running anysyncd daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		return stopDaemon(cfg.Global.StateDir)
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func stopDaemon(stateDir string) error {
	running, pid := lockfile.TryDaemonLock(stateDir)
	if !running {
		fmt.Println("anysyncd is not running")
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling process %d: %w", pid, err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if running, _ := lockfile.TryDaemonLock(stateDir); !running {
			fmt.Printf("anysyncd stopped (pid %d)\n", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("anysyncd (pid %d) did not stop within 10s", pid)
}
