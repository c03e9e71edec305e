package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"pdfmri/internal/models"
)

func newAnalyzeCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze <scan>...",
		Short: "Analyse one or more NIfTI scans",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			results := a.pipeline.AnalyzeAll(cmd.Context(), lo.Uniq(args), a.cfg.Processing.NumCores)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			return writeResults(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func writeJSON(w io.Writer, results []models.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func writeResults(w io.Writer, results []models.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCAN\tLABEL\tCONFIDENCE\tSNAPSHOT\tNOTES")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\n",
			r.ScanPath, r.Label, r.Confidence, lo.CoalesceOrEmpty(r.SnapshotPath, "-"), notes(r))
	}
	return tw.Flush()
}

func notes(r models.Result) string {
	var n []string
	if r.Simulated {
		n = append(n, "SIMULATED FEATURES")
	}
	if r.PlaceholderModel {
		n = append(n, "PLACEHOLDER MODEL")
	}
	n = append(n, r.Errors...)
	if len(n) == 0 {
		return "-"
	}
	return fmt.Sprint(n)
}
