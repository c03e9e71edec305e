package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"pdfmri/pkg/snapshot"
)

func newCleanCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean-snapshots [dir]",
		Short: "Remove viewer volumes so they are rebuilt on the next analysis",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			dir := cfg.Watch.Dir
			if len(args) == 1 {
				dir = args[0]
			}

			removed, err := snapshot.Clean(dir, cfg.Snapshot.Suffix)
			out := cmd.OutOrStdout()
			for _, f := range removed {
				fmt.Fprintf(out, "removed %s\n", filepath.Base(f))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d viewer files removed from %s\n", len(removed), dir)
			return nil
		},
	}
}
