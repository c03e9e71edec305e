// Package snapshot derives the 3D viewer volume of a scan.
package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"pdfmri/pkg/nifti"
	"pdfmri/pkg/visualization"
)

const (
	// DefaultSuffix is appended to the scan name to form the viewer file name.
	DefaultSuffix = "_viewer"

	// DefaultFrame skips the first frames of an acquisition, which often
	// carry T1 saturation artifacts. Shorter scans use their last frame.
	DefaultFrame = 10
)

var volumeExts = []string{".nii.gz", ".nii"}

// ViewerPath returns the viewer file name for a scan: the volumetric
// extension and one trailing suffix are stripped, then exactly one suffix is
// appended. ViewerPath(ViewerPath(p)) == ViewerPath(p).
//
//	scans/sub-01.nii.gz        -> scans/sub-01_viewer.nii.gz
//	scans/sub-01_viewer.nii.gz -> scans/sub-01_viewer.nii.gz
func ViewerPath(path, suffix string) string {
	if suffix == "" {
		suffix = DefaultSuffix
	}

	dir, name := filepath.Split(path)
	ext := ".nii.gz"
	for _, e := range volumeExts {
		if strings.HasSuffix(strings.ToLower(name), e) {
			ext = name[len(name)-len(e):]
			name = name[:len(name)-len(e)]
			break
		}
	}
	name = strings.TrimSuffix(name, suffix)
	return dir + name + suffix + ext
}

// IsViewerFile reports whether path already names a viewer volume.
func IsViewerFile(path, suffix string) bool {
	return ViewerPath(path, suffix) == path
}

// FrameIndex returns the frame used for a scan with the given number of
// frames: want, clamped to the last available frame.
func FrameIndex(want, frames int) int {
	if want < 0 {
		want = 0
	}
	if want >= frames {
		return frames - 1
	}
	return want
}

// Select returns the 3D volume shown in the viewer: 3D scans pass through
// unchanged, 4D scans yield the frame FrameIndex(frame, frames).
func Select(scan *nifti.Image, frame int) (*nifti.Image, error) {
	switch scan.NDim() {
	case 3:
		return scan, nil
	case 4:
		return scan.Frame(FrameIndex(frame, scan.Frames()))
	default:
		return nil, fmt.Errorf("cannot build a viewer volume from a %dD image", scan.NDim())
	}
}

// Options configures an Extractor.
type Options struct {
	Suffix string
	Frame  int

	// Previews additionally writes JPEG mid-slices of the viewer volume
	// into PreviewDir.
	Previews   bool
	PreviewDir string
}

// DefaultOptions returns the canonical snapshot settings.
func DefaultOptions() Options {
	return Options{Suffix: DefaultSuffix, Frame: DefaultFrame}
}

// Result describes the outcome of Extract.
type Result struct {
	Path    string
	Written bool
}

// Extractor writes viewer volumes next to their scans.
type Extractor struct {
	opts   Options
	logger *zap.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(opts Options, logger *zap.Logger) *Extractor {
	if opts.Suffix == "" {
		opts.Suffix = DefaultSuffix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{opts: opts, logger: logger}
}

// Extract writes the viewer volume of scan, loaded from scanPath, unless
// the viewer file already exists. Existing files are reused as they are.
func (e *Extractor) Extract(scanPath string, scan *nifti.Image) (Result, error) {
	target := ViewerPath(scanPath, e.opts.Suffix)

	_, err := os.Stat(target)
	switch {
	case err == nil:
		return Result{Path: target}, nil
	case !errors.Is(err, fs.ErrNotExist):
		return Result{}, err
	}

	vol, err := Select(scan, e.opts.Frame)
	if err != nil {
		return Result{}, err
	}
	if err := vol.Write(target); err != nil {
		return Result{}, fmt.Errorf("error writing viewer volume: %w", err)
	}
	e.logger.Info("viewer volume written",
		zap.String("path", target),
		zap.Ints("shape", vol.Shape()))

	if e.opts.Previews {
		if err := e.writePreviews(target, vol); err != nil {
			e.logger.Warn("preview generation failed", zap.String("path", target), zap.Error(err))
		}
	}

	return Result{Path: target, Written: true}, nil
}

func (e *Extractor) writePreviews(target string, vol *nifti.Image) error {
	dir := e.opts.PreviewDir
	if dir == "" {
		dir = filepath.Dir(target)
	}
	prefix := strings.TrimSuffix(filepath.Base(target), ".gz")
	prefix = strings.TrimSuffix(prefix, ".nii")

	viewer, err := visualization.FromImage(vol)
	if err != nil {
		return err
	}
	_, err = viewer.SaveMidSlices(dir, prefix)
	return err
}
