// Command anysyncd-helper is the remote commit helper invoked over the
// transport configured by remote_prefix_command (ssh by default). It
// exposes the two operations a peer needs to support anysyncd's two-phase
// commit: reporting its stamps, and performing the atomic directory swap.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "anysyncd-helper",
	Short: "anysyncd-helper - remote commit helper invoked on peer hosts",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "anysyncd-helper:", err)
		os.Exit(1)
	}
}
