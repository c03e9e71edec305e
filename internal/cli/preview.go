package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"pdfmri/pkg/nifti"
	"pdfmri/pkg/snapshot"
	"pdfmri/pkg/visualization"
)

func newPreviewCmd(g *globalFlags) *cobra.Command {
	var outDir, axis string
	cmd := &cobra.Command{
		Use:   "preview <scan>",
		Short: "Write JPEG slices of the viewer volume of a scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}

			scan, err := nifti.Load(args[0])
			if err != nil {
				return err
			}
			vol, err := snapshot.Select(scan, cfg.Snapshot.FrameIndex)
			if err != nil {
				return err
			}
			viewer, err := visualization.FromImage(vol)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if axis != "" {
				if err := viewer.SaveSliceSequence(axis, outDir); err != nil {
					return err
				}
				fmt.Fprintf(out, "Slices along %s saved to %s\n", axis, outDir)
				return nil
			}

			prefix := filepath.Base(snapshot.ViewerPath(args[0], cfg.Snapshot.Suffix))
			prefix = strings.TrimSuffix(strings.TrimSuffix(prefix, ".gz"), ".nii")
			paths, err := viewer.SaveMidSlices(outDir, prefix)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(out, p)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "output", "o", "previews", "output directory")
	cmd.Flags().StringVar(&axis, "axis", "", "write every slice along x, y or z instead of the mid-slices")
	return cmd
}
