package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/credativ/anysyncd/internal/lockfile"
)

// statusCmd follows the conventional init-script exit codes: 0 running,
// 3 not running (LSB's "program is not running").
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the anysyncd daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		running, pid := lockfile.TryDaemonLock(cfg.Global.StateDir)
		if !running {
			fmt.Println("anysyncd is not running")
			os.Exit(3)
		}

		info, err := lockfile.ReadLockInfo(cfg.Global.StateDir)
		if err != nil {
			fmt.Printf("anysyncd is running (pid %d)\n", pid)
			return nil
		}
		fmt.Printf("anysyncd is running (pid %d, version %s, started %s)\n",
			info.PID, info.Version, info.StartedAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
