package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Stop then start the anysyncd daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := stopDaemon(cfg.Global.StateDir); err != nil {
			fmt.Println("warning:", err)
		}
		return startInBackground(cfg.Global.StateDir)
	},
}

func init() {
	rootCmd.AddCommand(restartCmd)
}
