package cmd

import (
	"github.com/perpetuallyhorni/trailercast/tools/trailercast/internal/update"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Replace this binary with the latest GitHub release.",
	Long: `Looks up the latest trailercast release, verifies the archive against the
release's checksums.txt when one is published, and swaps the running executable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return update.ApplyUpdate(console, version)
	},
}
