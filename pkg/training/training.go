// Package training builds a labelled connectivity dataset from directories
// of PD and HC scans and fits the classifier on it.
package training

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pdfmri/pkg/classifier"
	"pdfmri/pkg/connectome"
	"pdfmri/pkg/nifti"
	"pdfmri/pkg/snapshot"
)

// ErrInsufficientData is returned when the scans do not cover both classes.
var ErrInsufficientData = errors.New("training: need at least one PD and one HC scan")

// FeatureSource computes the feature vector of a scan.
type FeatureSource interface {
	Extract(ctx context.Context, scan *nifti.Image) (connectome.Features, error)
}

// Dataset holds one feature row per usable scan.
type Dataset struct {
	X     [][]float64
	Y     []int
	Paths []string

	// Skipped lists scans that could not be loaded or featurised.
	Skipped []string
}

// Counts returns the number of HC and PD samples.
func (d *Dataset) Counts() (hc, pd int) {
	for _, y := range d.Y {
		if y == int(classifier.ParkinsonsDisease) {
			pd++
		} else {
			hc++
		}
	}
	return hc, pd
}

// Builder extracts features from scan directories.
type Builder struct {
	features FeatureSource
	workers  int
	suffix   string
	logger   *zap.Logger
}

// NewBuilder creates a Builder processing up to workers scans in parallel.
func NewBuilder(features FeatureSource, workers int, logger *zap.Logger) *Builder {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{features: features, workers: workers, suffix: snapshot.DefaultSuffix, logger: logger}
}

type sample struct {
	path   string
	class  classifier.Class
	vector []float64
	ok     bool
}

// BuildDataset featurises every scan in pdDir (class PD) and hcDir (class
// HC). Viewer volumes are ignored. Scans that fail to load or are too short
// are skipped. Missing directories contribute no samples.
func (b *Builder) BuildDataset(ctx context.Context, pdDir, hcDir string) (*Dataset, error) {
	var samples []sample
	for _, src := range []struct {
		dir   string
		class classifier.Class
	}{
		{pdDir, classifier.ParkinsonsDisease},
		{hcDir, classifier.HealthyControl},
	} {
		if src.dir == "" {
			continue
		}
		files, err := snapshot.ScanFiles(src.dir, b.suffix)
		if err != nil {
			b.logger.Warn("scan directory unavailable", zap.String("dir", src.dir), zap.Error(err))
			continue
		}
		for _, f := range files {
			samples = append(samples, sample{path: f, class: src.class})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	var mu sync.Mutex
	length := -1
	for i := range samples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := &samples[i]
			vec, err := b.featurise(gctx, s.path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				b.logger.Warn("skipping scan", zap.String("path", s.path), zap.Error(err))
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			if length < 0 {
				length = len(vec)
			}
			if len(vec) != length {
				b.logger.Warn("skipping scan with a different feature length",
					zap.String("path", s.path), zap.Int("features", len(vec)), zap.Int("expected", length))
				return nil
			}
			s.vector, s.ok = vec, true
			b.logger.Info("scan processed", zap.String("path", s.path), zap.Int("class", int(s.class)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ds := &Dataset{}
	for _, s := range samples {
		if !s.ok {
			ds.Skipped = append(ds.Skipped, s.path)
			continue
		}
		ds.X = append(ds.X, s.vector)
		ds.Y = append(ds.Y, int(s.class))
		ds.Paths = append(ds.Paths, s.path)
	}
	if hc, pd := ds.Counts(); hc == 0 || pd == 0 {
		return ds, fmt.Errorf("%w: found %d PD and %d HC", ErrInsufficientData, pd, hc)
	}
	return ds, nil
}

func (b *Builder) featurise(ctx context.Context, path string) ([]float64, error) {
	scan, err := nifti.Load(path)
	if err != nil {
		return nil, err
	}
	feats, err := b.features.Extract(ctx, scan)
	if err != nil {
		return nil, err
	}
	return feats.Vector, nil
}

// Fit trains a model on ds and writes it to modelPath.
func Fit(ds *Dataset, opts classifier.TrainOptions, modelPath string) (*classifier.Model, error) {
	m, err := classifier.Train(ds.X, ds.Y, opts)
	if err != nil {
		return nil, err
	}
	if err := classifier.Save(m, modelPath); err != nil {
		return nil, fmt.Errorf("saving model: %w", err)
	}
	return m, nil
}
