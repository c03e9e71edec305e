// Package connectome turns a functional scan into a connectivity feature
// vector: region signals from an atlas, their pairwise Pearson correlations,
// and the strictly lower triangle of the correlation matrix.
package connectome

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"pdfmri/pkg/atlas"
	"pdfmri/pkg/nifti"
)

var (
	// ErrNotFourD is returned for volumes without a time axis.
	ErrNotFourD = errors.New("connectome: scan is not 4D")

	// ErrTooFewTimepoints is returned when a scan is too short to correlate.
	ErrTooFewTimepoints = errors.New("connectome: not enough timepoints")
)

// DefaultMinTimepoints is the shortest time series accepted for analysis.
const DefaultMinTimepoints = 10

// Options controls signal cleaning.
type Options struct {
	MinTimepoints int
	Detrend       bool
	Standardize   Standardize
}

// DefaultOptions returns the canonical extraction settings.
func DefaultOptions() Options {
	return Options{
		MinTimepoints: DefaultMinTimepoints,
		Detrend:       true,
		Standardize:   StandardizeZScoreSample,
	}
}

// Features is a connectivity vector and how it was obtained.
type Features struct {
	Vector     []float64
	Regions    int
	Timepoints int
	Atlas      string

	// Synthetic marks a placeholder vector that carries no information
	// about the scan.
	Synthetic bool
}

// Extractor computes connectivity features against an atlas.
type Extractor struct {
	atlas  atlas.Source
	opts   Options
	logger *zap.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(src atlas.Source, opts Options, logger *zap.Logger) *Extractor {
	if opts.MinTimepoints < 2 {
		opts.MinTimepoints = DefaultMinTimepoints
	}
	if opts.Standardize == "" {
		opts.Standardize = StandardizeZScoreSample
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{atlas: src, opts: opts, logger: logger}
}

// Extract builds the feature vector of scan. The result always has
// R(R-1)/2 entries for an R-region atlas.
func (e *Extractor) Extract(ctx context.Context, scan *nifti.Image) (Features, error) {
	if scan.NDim() != 4 {
		return Features{}, fmt.Errorf("%w: got %dD", ErrNotFourD, scan.NDim())
	}
	if frames := scan.Frames(); frames < e.opts.MinTimepoints {
		return Features{}, fmt.Errorf("%w: %d frames, need at least %d", ErrTooFewTimepoints, frames, e.opts.MinTimepoints)
	}

	a, err := e.atlas.Fetch(ctx)
	if err != nil {
		return Features{}, err
	}

	rw, err := a.WeightsOn(scan)
	if err != nil {
		return Features{}, err
	}
	if err := ctx.Err(); err != nil {
		return Features{}, err
	}

	ts, err := RegionSignals(scan, rw)
	if err != nil {
		return Features{}, err
	}
	Clean(ts, e.opts.Detrend, e.opts.Standardize)

	vec := LowerTriangle(Correlation(ts))

	e.logger.Debug("connectivity features extracted",
		zap.String("atlas", a.Name),
		zap.Int("regions", a.Regions()),
		zap.Int("timepoints", scan.Frames()),
		zap.Int("features", len(vec)))

	return Features{
		Vector:     vec,
		Regions:    a.Regions(),
		Timepoints: scan.Frames(),
		Atlas:      a.Name,
	}, nil
}

// FeatureLength is the length of the vectors Extract produces with the
// current atlas.
func (e *Extractor) FeatureLength(ctx context.Context) (int, error) {
	a, err := e.atlas.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	return a.FeatureLength(), nil
}

// Fallback returns a deterministic uniform random vector of the given
// length. It is always marked Synthetic.
func Fallback(length int, seed uint64) Features {
	rng := rand.New(rand.NewPCG(seed, seed))
	vec := make([]float64, length)
	for i := range vec {
		vec[i] = rng.Float64()
	}
	return Features{Vector: vec, Synthetic: true}
}
