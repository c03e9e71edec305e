package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"pdfmri/internal/models"
)

// AnalyzeAll analyses paths with at most workers scans in flight and returns
// the results in input order.
func (p *Pipeline) AnalyzeAll(ctx context.Context, paths []string, workers int) []models.Result {
	if workers < 1 {
		workers = 1
	}
	results := make([]models.Result, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			results[i] = p.Analyze(ctx, path)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
