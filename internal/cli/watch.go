package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pdfmri/pkg/watch"
)

func newWatchCmd(g *globalFlags) *cobra.Command {
	var dir, schedule string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Analyse new scans in the upload directory on a schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := watch.Options{
				Dir:      a.cfg.Watch.Dir,
				Schedule: a.cfg.Watch.Schedule,
				Suffix:   a.cfg.Snapshot.Suffix,
				Workers:  a.cfg.Processing.NumCores,
			}
			if cmd.Flags().Changed("dir") {
				opts.Dir = dir
			}
			if cmd.Flags().Changed("schedule") {
				opts.Schedule = schedule
			}

			var history watch.History
			if a.history != nil {
				history = a.history
			}
			w, err := watch.New(opts, a.pipeline, history, a.logger.Named("watch"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "upload directory (default watch.dir)")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule (default watch.schedule)")
	return cmd
}
