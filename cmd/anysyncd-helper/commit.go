package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/credativ/anysyncd/internal/config"
	"github.com/credativ/anysyncd/internal/swap"
	"github.com/credativ/anysyncd/internal/syncer"
)

var commitConfigPath, commitName string

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Atomically swap a syncer's staging tree into its live tree",
	Long: `Mirror the syncer's csync_dir into a staging tree, then rename-swap
it into prod_dir, recycling the previous live tree as the next staging
area. Not idempotent with respect to partial failure: recovery relies on
the next sync re-running the mirror step.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(commitConfigPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return runCommit(cmd.Context(), cfg, commitName, syncer.RsyncMirror{})
	},
}

// runCommit resolves the named syncer from cfg and performs its commit
// swap. Factored out of RunE so tests can substitute a fake Mirrorer
// instead of shelling out to rsync.
func runCommit(ctx context.Context, cfg *config.Config, name string, mirror swap.Mirrorer) error {
	var sc *config.Syncer
	for i := range cfg.Syncers {
		if cfg.Syncers[i].Name == name {
			sc = &cfg.Syncers[i]
			break
		}
	}
	if sc == nil {
		return fmt.Errorf("no syncer named %q in config", name)
	}
	if sc.Handler != config.HandlerTwoPhase {
		return fmt.Errorf("syncer %q is not configured as handler=twophase", name)
	}
	return swap.Commit(ctx, mirror, sc.ProdDir, sc.CsyncDir)
}

func init() {
	commitCmd.Flags().StringVar(&commitConfigPath, "config", "/etc/anysyncd/anysyncd.conf", "path to anysyncd configuration file")
	commitCmd.Flags().StringVar(&commitName, "name", "", "syncer name")
	_ = commitCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(commitCmd)
}
