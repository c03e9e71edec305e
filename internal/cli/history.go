package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pdfmri/internal/models"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded analyses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.history == nil {
				return errors.New("the history store is disabled")
			}

			results, err := a.history.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, results)
			}
			if err := writeResults(out, results); err != nil {
				return err
			}

			st, err := a.history.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nTotal: %d, %s: %d, %s: %d, non-diagnostic: %d\n",
				st.Total,
				models.ParkinsonsDisease, st.ByLabel[models.ParkinsonsDisease],
				models.HealthyControl, st.ByLabel[models.HealthyControl],
				st.Simulated)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of analyses to show, 0 for all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}
