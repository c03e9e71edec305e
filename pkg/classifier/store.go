package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// PlaceholderSamples is the size of the random training set of a
// placeholder model.
const PlaceholderSamples = 50

// Load reads a model file. A missing file yields ErrModelMissing.
func Load(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrModelMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}

	var m Model
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptModel, path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// Save writes m to path through a temporary file and a rename, so a
// concurrent reader sees either the old model or the complete new one.
func Save(m *Model, path string) error {
	tmp, err := writeTemp(m, path)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	return os.Rename(tmp, path)
}

// writeTemp stores m in a temporary file next to path and returns its name.
func writeTemp(m *Model, path string) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating model directory: %w", err)
	}

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error marshaling model: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// ProvisionPlaceholder trains a synthetic model and stores it at path
// unless a model already exists there. It reports whether a file was
// written. The file is published with a hard link, which fails when path
// exists, so a model saved while the placeholder trains is never replaced.
func ProvisionPlaceholder(path string, features int, seed uint64) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	m, err := TrainPlaceholder(features, PlaceholderSamples, seed)
	if err != nil {
		return false, fmt.Errorf("training placeholder model: %w", err)
	}
	return createExclusive(m, path)
}

// createExclusive writes m to path only if path does not exist yet.
func createExclusive(m *Model, path string) (bool, error) {
	tmp, err := writeTemp(m, path)
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Source yields the classifier used by the pipeline.
type Source interface {
	Model(ctx context.Context) (*Model, error)
}

// Static is a Source that always returns the same model.
type Static struct {
	M *Model
}

// Model implements Source.
func (s Static) Model(context.Context) (*Model, error) {
	if s.M == nil {
		return nil, ErrModelMissing
	}
	return s.M, nil
}

// FileSourceOptions configures a FileSource.
type FileSourceOptions struct {
	Path string

	// AutoProvision trains and stores a synthetic placeholder model when the
	// file is missing. The call that provisions still reports
	// ErrModelMissing; later calls load the placeholder, which is marked
	// Synthetic. Meant for sandbox and demo setups only.
	AutoProvision bool

	// Features is the vector length of a provisioned placeholder. When
	// FeatureLength is set its answer wins and Features is used only if it
	// fails.
	Features      int
	FeatureLength func(ctx context.Context) (int, error)
	Seed          uint64
}

// FileSource loads a model file lazily and caches it.
type FileSource struct {
	opts   FileSourceOptions
	logger *zap.Logger

	mu    sync.Mutex
	model *Model
}

// NewFileSource creates a FileSource.
func NewFileSource(opts FileSourceOptions, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{opts: opts, logger: logger}
}

// Model implements Source.
func (s *FileSource) Model(ctx context.Context) (*Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.model != nil {
		return s.model, nil
	}

	m, err := Load(s.opts.Path)
	if err == nil {
		if m.Synthetic {
			s.logger.Warn("using a synthetic placeholder model", zap.String("path", s.opts.Path))
		}
		s.model = m
		return m, nil
	}
	if !errors.Is(err, ErrModelMissing) || !s.opts.AutoProvision {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	features := s.placeholderLength(ctx)
	written, perr := ProvisionPlaceholder(s.opts.Path, features, s.opts.Seed)
	if perr != nil {
		return nil, fmt.Errorf("%w (provisioning failed: %v)", err, perr)
	}
	if written {
		s.logger.Warn("model missing, provisioned a synthetic placeholder",
			zap.String("path", s.opts.Path),
			zap.Int("features", features))
	}
	return nil, err
}

func (s *FileSource) placeholderLength(ctx context.Context) int {
	if s.opts.FeatureLength == nil {
		return s.opts.Features
	}
	n, err := s.opts.FeatureLength(ctx)
	if err != nil {
		s.logger.Warn("feature length unknown, using the configured one",
			zap.Int("features", s.opts.Features), zap.Error(err))
		return s.opts.Features
	}
	return n
}

// Reset drops the cached model so the next call reloads the file.
func (s *FileSource) Reset() {
	s.mu.Lock()
	s.model = nil
	s.mu.Unlock()
}
