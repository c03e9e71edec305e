package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pdfmri/pkg/atlas"
	"pdfmri/pkg/classifier"
	"pdfmri/pkg/config"
	"pdfmri/pkg/connectome"
	"pdfmri/pkg/logging"
	"pdfmri/pkg/pipeline"
	"pdfmri/pkg/snapshot"
	"pdfmri/pkg/store"
)

// loadConfig reads the config file and applies the global flags that were
// set explicitly or through the environment.
func loadConfig(cmd *cobra.Command, g *globalFlags) (*config.Config, error) {
	cfg, err := config.LoadConfig(g.configFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if flags.Changed("development") {
		cfg.Log.Development = g.development
	}
	if flags.Changed("model") {
		cfg.Classifier.ModelPath = g.modelPath
	}
	if flags.Changed("atlas") {
		cfg.Atlas.Path = g.atlasPath
	}
	if flags.Changed("store") {
		cfg.Store.Path = g.storePath
	}
	if g.noStore {
		cfg.Store.Enabled = false
	}
	if flags.Changed("workers") {
		cfg.Processing.NumCores = g.workers
	}
	if flags.Changed("sandbox") {
		cfg.Classifier.AutoProvision = g.sandbox
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// app wires the components described by a Config.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	history  *store.Store
	features *connectome.Extractor
	pipeline *pipeline.Pipeline
}

func newApp(cmd *cobra.Command, g *globalFlags) (*app, error) {
	cfg, err := loadConfig(cmd, g)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	provider := atlas.NewProvider(atlas.Options{
		Name:     cfg.Atlas.Name,
		Kind:     atlas.Kind(cfg.Atlas.Kind),
		Path:     cfg.Atlas.Path,
		URL:      cfg.Atlas.URL,
		CacheDir: cfg.Atlas.CacheDir,
		Timeout:  cfg.Atlas.FetchTimeout,
	}, nil, logger.Named("atlas"))

	a.features = connectome.NewExtractor(provider, connectome.Options{
		MinTimepoints: cfg.Features.MinTimepoints,
		Detrend:       cfg.Features.Detrend,
		Standardize:   connectome.Standardize(cfg.Features.Standardize),
	}, logger.Named("features"))

	models := classifier.NewFileSource(classifier.FileSourceOptions{
		Path:          cfg.Classifier.ModelPath,
		AutoProvision: cfg.Classifier.AutoProvision,
		Features:      cfg.Features.ExpectedLength,
		FeatureLength: a.features.FeatureLength,
		Seed:          cfg.Features.FallbackSeed,
	}, logger.Named("classifier"))
	if cfg.Classifier.AutoProvision {
		logger.Warn("sandbox mode: a missing model is replaced by a synthetic placeholder")
	}

	snaps := snapshot.NewExtractor(snapshot.Options{
		Suffix:     cfg.Snapshot.Suffix,
		Frame:      cfg.Snapshot.FrameIndex,
		Previews:   cfg.Snapshot.Previews,
		PreviewDir: cfg.Snapshot.PreviewDir,
	}, logger.Named("snapshot"))

	deps := pipeline.Deps{
		Snapshotter: snaps,
		Features:    a.features,
		Models:      models,
		Logger:      logger.Named("pipeline"),
	}
	if cfg.Store.Enabled {
		a.history, err = store.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("opening history: %w", err)
		}
		deps.Recorder = a.history
	}

	a.pipeline = pipeline.New(deps, pipeline.Options{
		Fallback:     cfg.Features.Fallback,
		FallbackSeed: cfg.Features.FallbackSeed,
	})
	return a, nil
}

func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("closing history", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
