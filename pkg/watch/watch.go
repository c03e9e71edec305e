// Package watch periodically analyses new scans dropped into an upload
// directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"pdfmri/internal/models"
	"pdfmri/pkg/snapshot"
)

// Analyzer runs the analysis of a batch of scans.
type Analyzer interface {
	AnalyzeAll(ctx context.Context, paths []string, workers int) []models.Result
}

// History tells whether a scan was analysed before. It is optional.
type History interface {
	HasScan(ctx context.Context, scanPath string) (bool, error)
}

// Options configures a Watcher.
type Options struct {
	Dir string

	// Schedule is a standard cron expression or descriptor such as "@every 1m".
	Schedule string
	Suffix   string
	Workers  int
}

// Watcher scans Dir on a cron schedule.
type Watcher struct {
	opts     Options
	analyzer Analyzer
	history  History
	logger   *zap.Logger
	cron     *cron.Cron

	mu   sync.Mutex
	seen map[string]stamp
}

// stamp identifies the file contents an analysis saw.
type stamp struct {
	size    int64
	modTime time.Time
}

func stampOf(path string) (stamp, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return stamp{}, false
	}
	return stamp{size: info.Size(), modTime: info.ModTime()}, true
}

// New validates the schedule and creates a Watcher.
func New(opts Options, analyzer Analyzer, history History, logger *zap.Logger) (*Watcher, error) {
	if _, err := cron.ParseStandard(opts.Schedule); err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	if opts.Suffix == "" {
		opts.Suffix = snapshot.DefaultSuffix
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		opts:     opts,
		analyzer: analyzer,
		history:  history,
		logger:   logger,
		seen:     make(map[string]stamp),
	}, nil
}

// Scan analyses every scan in the directory that has not been analysed yet.
// A scan that could not be loaded, for example because it was still being
// copied, is retried once its size or modification time changes.
// Concurrent calls are serialised.
func (w *Watcher) Scan(ctx context.Context) ([]models.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := snapshot.ScanFiles(w.opts.Dir, w.opts.Suffix)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", w.opts.Dir, err)
	}

	stamps := make(map[string]stamp, len(files))
	for _, f := range files {
		if st, ok := stampOf(f); ok {
			stamps[f] = st
		}
	}

	var pending []string
	for _, f := range lo.Filter(files, func(f string, _ int) bool { return w.changed(f, stamps) }) {
		if w.history != nil {
			done, err := w.history.HasScan(ctx, f)
			if err != nil {
				return nil, err
			}
			if done {
				w.seen[f] = stamps[f]
				continue
			}
		}
		pending = append(pending, f)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	w.logger.Info("new scans found", zap.String("dir", w.opts.Dir), zap.Int("count", len(pending)))
	results := w.analyzer.AnalyzeAll(ctx, pending, w.opts.Workers)
	for _, r := range results {
		w.seen[r.ScanPath] = stamps[r.ScanPath]
		if r.Label == models.AnalysisFailed {
			w.logger.Info("scan not analysed, retrying when it changes", zap.String("scan", r.ScanPath))
		}
	}
	return results, nil
}

// changed reports whether f is new or was modified since it was last seen.
func (w *Watcher) changed(f string, stamps map[string]stamp) bool {
	prev, ok := w.seen[f]
	if !ok {
		return true
	}
	cur := stamps[f]
	return prev.size != cur.size || !prev.modTime.Equal(cur.modTime)
}

// Start schedules Scan and returns immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := w.cron.AddFunc(w.opts.Schedule, func() {
		results, err := w.Scan(ctx)
		if err != nil {
			w.logger.Error("watch tick failed", zap.Error(err))
			return
		}
		for _, r := range results {
			w.logger.Info("scan analysed", zap.String("scan", r.ScanPath), zap.Stringer("result", r))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling watch: %w", err)
	}
	w.cron.Start()
	w.logger.Info("watcher started", zap.String("dir", w.opts.Dir), zap.String("schedule", w.opts.Schedule))
	return nil
}

// Stop stops the schedule and waits for a running scan to finish.
func (w *Watcher) Stop() {
	if w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
	w.logger.Info("watcher stopped")
}

// Run scans once, then on schedule until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := w.Scan(ctx); err != nil {
		w.logger.Error("initial scan failed", zap.Error(err))
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}
