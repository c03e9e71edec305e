package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pdfmri/pkg/classifier"
)

func newProvisionCmd(g *globalFlags) *cobra.Command {
	var features int
	var seed uint64
	cmd := &cobra.Command{
		Use:   "provision-model",
		Short: "Write a synthetic placeholder model if none exists",
		Long: `provision-model trains a classifier on random data so the pipeline can run
end to end in a demo setup. Predictions made with it carry no diagnostic
value and are marked as placeholder results.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("features") {
				features = cfg.Features.ExpectedLength
			}
			if !cmd.Flags().Changed("seed") {
				seed = cfg.Features.FallbackSeed
			}

			written, err := classifier.ProvisionPlaceholder(cfg.Classifier.ModelPath, features, seed)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !written {
				fmt.Fprintf(out, "A model already exists at %s, nothing to do\n", cfg.Classifier.ModelPath)
				return nil
			}
			fmt.Fprintf(out, "Placeholder model with %d features written to %s\n", features, cfg.Classifier.ModelPath)
			return nil
		},
	}
	cmd.Flags().IntVar(&features, "features", 0, "feature vector length (default features.expectedLength)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (default features.fallbackSeed)")
	return cmd
}
