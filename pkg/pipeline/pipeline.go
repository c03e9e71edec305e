// Package pipeline runs the scan analysis: load, viewer snapshot, connectivity
// features, classification. Stage failures never escape Analyze; they are
// turned into a labelled models.Result.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pdfmri/internal/models"
	"pdfmri/pkg/classifier"
	"pdfmri/pkg/connectome"
	"pdfmri/pkg/nifti"
	"pdfmri/pkg/snapshot"
)

// Loader reads a volume from disk.
type Loader interface {
	Load(path string) (*nifti.Image, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(path string) (*nifti.Image, error)

// Load implements Loader.
func (f LoaderFunc) Load(path string) (*nifti.Image, error) { return f(path) }

// Snapshotter produces the viewer volume of a scan.
type Snapshotter interface {
	Extract(scanPath string, scan *nifti.Image) (snapshot.Result, error)
}

// FeatureSource computes the feature vector of a scan.
type FeatureSource interface {
	Extract(ctx context.Context, scan *nifti.Image) (connectome.Features, error)
}

// Recorder persists finished results.
type Recorder interface {
	Record(ctx context.Context, r models.Result) error
}

// Deps are the collaborators of a Pipeline. Snapshotter and Recorder are
// optional.
type Deps struct {
	Loader      Loader
	Snapshotter Snapshotter
	Features    FeatureSource
	Models      classifier.Source
	Recorder    Recorder
	Logger      *zap.Logger
}

// Options controls failure handling.
type Options struct {
	// Fallback replaces features that could not be extracted with a
	// synthetic vector sized for the model. Results are marked Simulated.
	Fallback     bool
	FallbackSeed uint64
}

// Pipeline analyses scans. It is safe for concurrent use when its
// dependencies are.
type Pipeline struct {
	deps Deps
	opts Options
	log  *zap.Logger
	now  func() time.Time
}

// New creates a Pipeline. A nil Loader reads files with nifti.Load.
func New(deps Deps, opts Options) *Pipeline {
	if deps.Loader == nil {
		deps.Loader = LoaderFunc(nifti.Load)
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{deps: deps, opts: opts, log: log, now: time.Now}
}

// Analyze runs every stage on the scan at scanPath.
func (p *Pipeline) Analyze(ctx context.Context, scanPath string) models.Result {
	start := p.now()
	res := models.Result{
		ID:        uuid.NewString(),
		ScanPath:  scanPath,
		CreatedAt: start,
	}
	log := p.log.With(zap.String("id", res.ID), zap.String("scan", scanPath))

	p.run(ctx, log, &res)

	res.Duration = p.now().Sub(start)
	if !res.Label.Diagnostic() {
		res.Confidence = 0
	}
	log.Info("analysis finished",
		zap.String("label", string(res.Label)),
		zap.Float64("confidence", res.Confidence),
		zap.Bool("simulated", res.Simulated),
		zap.Bool("placeholderModel", res.PlaceholderModel),
		zap.Duration("duration", res.Duration))

	if p.deps.Recorder != nil {
		if err := p.deps.Recorder.Record(ctx, res); err != nil {
			log.Warn("could not record result", zap.Error(err))
		}
	}
	return res
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, res *models.Result) {
	fail := func(label models.Label, err error) {
		res.Label = label
		res.Errors = append(res.Errors, err.Error())
		log.Error("stage failed", zap.Error(err))
	}

	// Step 1: load
	scan, err := p.load(ctx, res.ScanPath)
	if err != nil {
		fail(models.AnalysisFailed, err)
		return
	}

	// Step 2: viewer snapshot, never fatal
	if p.deps.Snapshotter != nil {
		snap, err := p.deps.Snapshotter.Extract(res.ScanPath, scan)
		if err != nil {
			serr := stageErr(ErrSnapshot, err)
			res.Errors = append(res.Errors, serr.Error())
			log.Warn("continuing without snapshot", zap.Error(serr))
		} else {
			res.SnapshotPath = snap.Path
		}
	}

	// Step 3: features
	feats, ferr := p.deps.Features.Extract(ctx, scan)
	if ferr != nil {
		serr := stageErr(ErrExtraction, ferr)
		if !p.opts.Fallback || errors.Is(ferr, context.Canceled) {
			fail(models.AnalysisFailed, serr)
			return
		}
		res.Errors = append(res.Errors, serr.Error())
		log.Warn("feature extraction failed, substituting synthetic features", zap.Error(serr))
	}

	// Step 4: model
	m, err := p.deps.Models.Model(ctx)
	if err != nil {
		fail(models.ModelMissing, stageErr(ErrModel, err))
		return
	}
	res.PlaceholderModel = m.Synthetic

	if ferr != nil {
		feats = connectome.Fallback(m.Features, p.opts.FallbackSeed)
	}
	res.Simulated = feats.Synthetic
	res.FeatureCount = len(feats.Vector)

	// Step 5: predict
	pred, err := m.Predict(feats.Vector)
	if err != nil {
		fail(models.AnalysisError, stageErr(ErrPrediction, err))
		return
	}
	res.Label = label(pred.Class)
	res.Confidence = pred.Confidence()
}

func (p *Pipeline) load(ctx context.Context, path string) (*nifti.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, stageErr(ErrLoad, err)
	}
	scan, err := p.deps.Loader.Load(path)
	if err != nil {
		return nil, stageErr(ErrLoad, err)
	}
	if n := scan.NDim(); n != 3 && n != 4 {
		return nil, stageErr(ErrLoad, errors.New("scan must be 3D or 4D"))
	}
	return scan, nil
}

func label(c classifier.Class) models.Label {
	if c == classifier.ParkinsonsDisease {
		return models.ParkinsonsDisease
	}
	return models.HealthyControl
}
