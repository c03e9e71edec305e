// Package cli implements the pdfmri command line.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "PDFMRI"

// globalFlags are shared by every command. Each one overrides the matching
// config file value when set on the command line or through PDFMRI_*.
type globalFlags struct {
	configFile  string
	logLevel    string
	development bool
	modelPath   string
	atlasPath   string
	storePath   string
	noStore     bool
	workers     int
	sandbox     bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "pdfmri",
		Short: "Parkinson's disease screening from resting-state fMRI scans",
		Long: `pdfmri loads NIfTI fMRI scans, writes a 3D viewer snapshot, computes
atlas-based functional connectivity features and classifies them as
Parkinson's Disease or Healthy Control.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			initConfig(cmd, v)
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.configFile, "config", "pdfmri.yaml", "config file")
	pf.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&g.development, "development", false, "human readable development logging")
	pf.StringVar(&g.modelPath, "model", "", "classifier model file")
	pf.StringVar(&g.atlasPath, "atlas", "", "local atlas volume, skips the download")
	pf.StringVar(&g.storePath, "store", "", "analysis history database")
	pf.BoolVar(&g.noStore, "no-store", false, "do not record results in the history database")
	pf.IntVar(&g.workers, "workers", 0, "scans processed in parallel")
	pf.BoolVar(&g.sandbox, "sandbox", false,
		"provision a synthetic placeholder model when none exists (results are not diagnostic)")

	rootCmd.AddCommand(
		newAnalyzeCmd(g),
		newTrainCmd(g),
		newProvisionCmd(g),
		newHistoryCmd(g),
		newWatchCmd(g),
		newCleanCmd(g),
		newPreviewCmd(g),
		newInitConfigCmd(),
	)
	return rootCmd
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// initConfig reads in ENV variables if set.
func initConfig(cmd *cobra.Command, v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	bindFlags(cmd, v)
}

// Bind each cobra flag to its associated viper configuration
// (environment variable)
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		// Environment variables can't have dashes in them, so bind them to their
		// equivalent keys with underscores, e.g. --log-level to PDFMRI_LOG_LEVEL
		if strings.Contains(f.Name, "-") {
			envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if err := v.BindEnv(f.Name,
				fmt.Sprintf("%s_%s", envPrefix, envVarSuffix)); err != nil {
				fmt.Fprintf(os.Stderr, "Could not bind env var %s: %v\n", f.Name, err)
			}
		}
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
				fmt.Fprintf(os.Stderr, "Could not set flag value for %s: %v\n", f.Name, err)
			}
		}
	})
}
