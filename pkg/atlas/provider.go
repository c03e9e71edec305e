package atlas

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pdfmri/pkg/nifti"
)

// Source yields the atlas used for feature extraction.
type Source interface {
	Fetch(ctx context.Context) (*Atlas, error)
}

// Static is a Source that always returns the same atlas.
type Static struct {
	Atlas *Atlas
}

// Fetch implements Source.
func (s Static) Fetch(context.Context) (*Atlas, error) {
	if s.Atlas == nil {
		return nil, fmt.Errorf("%w: no atlas configured", ErrFetch)
	}
	return s.Atlas, nil
}

// Options configures a Provider.
type Options struct {
	Name     string
	Kind     Kind
	Path     string        // local atlas volume, used as-is when set
	URL      string        // download location (.nii, .nii.gz or a .zip containing one)
	CacheDir string        // where downloads are kept
	Timeout  time.Duration // upper bound for a download
}

// Provider loads an atlas from disk or downloads it once into a cache
// directory. The loaded atlas is kept in memory for later calls.
type Provider struct {
	opts   Options
	client *http.Client
	logger *zap.Logger

	mu    sync.Mutex
	atlas *Atlas
}

// NewProvider creates a Provider. A nil client means http.DefaultClient.
func NewProvider(opts Options, client *http.Client, logger *zap.Logger) *Provider {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{opts: opts, client: client, logger: logger}
}

// Fetch implements Source.
func (p *Provider) Fetch(ctx context.Context) (*Atlas, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.atlas != nil {
		return p.atlas, nil
	}

	file, err := p.locate(ctx)
	if err != nil {
		return nil, err
	}

	img, err := nifti.Load(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, file, err)
	}
	a, err := New(p.opts.Name, p.opts.Kind, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	p.logger.Info("atlas loaded",
		zap.String("name", a.Name),
		zap.String("file", file),
		zap.Int("regions", a.Regions()))
	p.atlas = a
	return a, nil
}

// locate returns the path of a local atlas volume, downloading it if needed.
func (p *Provider) locate(ctx context.Context) (string, error) {
	if p.opts.Path != "" {
		if _, err := os.Stat(p.opts.Path); err != nil {
			return "", fmt.Errorf("%w: %v", ErrFetch, err)
		}
		return p.opts.Path, nil
	}
	if p.opts.URL == "" {
		return "", fmt.Errorf("%w: neither a path nor a URL is configured for atlas %q", ErrFetch, p.opts.Name)
	}

	dir := filepath.Join(p.opts.CacheDir, p.opts.Name)
	target := filepath.Join(dir, volumeName(p.opts.URL))
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if err := p.download(ctx, target); err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return target, nil
}

// download fetches the atlas into target via a temporary file so that a
// concurrent or interrupted download never leaves a partial cache entry.
func (p *Provider) download(ctx context.Context, target string) error {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	p.logger.Info("downloading atlas", zap.String("url", p.opts.URL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.URL, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", p.opts.URL, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if isZip(p.opts.URL) {
		return extractVolume(tmp.Name(), target)
	}
	return os.Rename(tmp.Name(), target)
}

func isZip(u string) bool {
	return strings.HasSuffix(strings.ToLower(u), ".zip")
}

// volumeName derives the cached file name from the download URL.
func volumeName(u string) string {
	base := path.Base(u)
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	if isZip(base) {
		return strings.TrimSuffix(base, filepath.Ext(base)) + ".nii.gz"
	}
	return base
}

// extractVolume copies the first NIfTI member of archive to target.
func extractVolume(archive, target string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		if !strings.HasSuffix(name, ".nii") && !strings.HasSuffix(name, ".nii.gz") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		img, err := nifti.Read(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		return img.Write(target)
	}
	return fmt.Errorf("no NIfTI volume in %s", filepath.Base(archive))
}
