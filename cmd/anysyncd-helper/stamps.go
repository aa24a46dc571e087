package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/credativ/anysyncd/internal/stamp"
)

var stampsStateDir, stampsName string

var stampsCmd = &cobra.Command{
	Use:   "stamps",
	Short: "Print \"<success>:<lastchange>\" for a syncer",
	Long: `Read the two stamp files for a syncer from the state directory and
print "<success>:<lastchange>" to stdout. Missing files yield empty
fields. Exits non-zero only on an I/O error reading a present file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		success, err := stamp.ReadRemote(stampsStateDir, stampsName, stamp.Success)
		if err != nil {
			return fmt.Errorf("reading success stamp: %w", err)
		}
		lastChange, err := stamp.ReadRemote(stampsStateDir, stampsName, stamp.LastChange)
		if err != nil {
			return fmt.Errorf("reading lastchange stamp: %w", err)
		}
		fmt.Printf("%s:%s\n", success, lastChange)
		return nil
	},
}

func init() {
	stampsCmd.Flags().StringVar(&stampsStateDir, "state-dir", "/var/lib/anysyncd", "anysyncd state directory")
	stampsCmd.Flags().StringVar(&stampsName, "name", "", "syncer name")
	_ = stampsCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(stampsCmd)
}
