package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pdfmri/pkg/classifier"
	"pdfmri/pkg/training"
)

func newTrainCmd(g *globalFlags) *cobra.Command {
	var pdDir, hcDir string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the classifier on labelled PD and HC scans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			b := training.NewBuilder(a.features, a.cfg.Processing.NumCores, a.logger.Named("training"))
			ds, err := b.BuildDataset(cmd.Context(), pdDir, hcDir)
			if err != nil {
				return err
			}
			hc, pd := ds.Counts()
			a.logger.Info("dataset ready",
				zap.Int("pd", pd), zap.Int("hc", hc), zap.Int("skipped", len(ds.Skipped)))

			m, err := training.Fit(ds, classifier.TrainOptions{
				L2:            a.cfg.Classifier.L2,
				MaxIterations: a.cfg.Classifier.MaxIterations,
			}, a.cfg.Classifier.ModelPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Model trained on %d scans (%d PD, %d HC, %d features) and saved to %s\n",
				m.Samples, pd, hc, m.Features, a.cfg.Classifier.ModelPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&pdDir, "pd-dir", filepath.Join("research_data", "PD"), "directory of Parkinson's Disease scans")
	cmd.Flags().StringVar(&hcDir, "hc-dir", filepath.Join("research_data", "HC"), "directory of Healthy Control scans")
	return cmd
}
