// Package swap implements the remote commit helper's atomic directory
// rotation: stage the csync tree, then rename-swap it into the live
// production tree, per spec.md §4.5.
package swap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Mirrorer is the subset of syncer.Mirror the commit swap needs: a way to
// archive-and-delete-sync one directory into another.
type Mirrorer interface {
	Sync(ctx context.Context, src, dst string) error
}

// StagingPath returns the sibling staging directory for prod, per
// spec.md §4.5: sibling(prod, "." + basename(prod) + ".tmp").
func StagingPath(prod string) string {
	dir := filepath.Dir(prod)
	base := filepath.Base(prod)
	return filepath.Join(dir, "."+base+".tmp")
}

// Commit performs the four-step swap described in spec.md §4.5:
//
//  1. Mirror csync into staging with archive+delete semantics.
//  2. If prod exists, rename prod -> prod.bak.
//  3. Rename staging -> prod.
//  4. If prod.bak exists, rename prod.bak -> staging, recycling the
//     previous live tree as the next staging area.
//
// Any failure aborts immediately; the operation is not idempotent with
// respect to partial failure, matching the documented behavior.
func Commit(ctx context.Context, m Mirrorer, prod, csync string) error {
	staging := StagingPath(prod)
	backup := prod + ".bak"

	if err := m.Sync(ctx, csync, staging); err != nil {
		return fmt.Errorf("swap: mirroring %s into staging: %w", csync, err)
	}

	if _, err := os.Stat(prod); err == nil {
		if err := os.Rename(prod, backup); err != nil {
			return fmt.Errorf("swap: renaming %s to backup: %w", prod, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("swap: stat %s: %w", prod, err)
	}

	if err := os.Rename(staging, prod); err != nil {
		return fmt.Errorf("swap: renaming staging into %s: %w", prod, err)
	}

	if _, err := os.Stat(backup); err == nil {
		if err := os.Rename(backup, staging); err != nil {
			return fmt.Errorf("swap: recycling backup into staging: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("swap: stat backup %s: %w", backup, err)
	}

	return nil
}
