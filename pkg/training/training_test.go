package training_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfmri/internal/testutil"
	"pdfmri/pkg/atlas"
	"pdfmri/pkg/classifier"
	"pdfmri/pkg/connectome"
	"pdfmri/pkg/training"
)

func builder(t *testing.T, regions int) *training.Builder {
	t.Helper()
	a := testutil.MapsAtlas(t, testutil.DefaultGrid, regions)
	ext := connectome.NewExtractor(atlas.Static{Atlas: a}, connectome.DefaultOptions(), nil)
	return training.NewBuilder(ext, 3, nil)
}

func populate(t *testing.T, dir string, n, frames int, seed uint64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	for i := 0; i < n; i++ {
		scan := testutil.Scan(t, testutil.DefaultGrid, frames, 5, seed+uint64(i))
		testutil.WriteImage(t, dir, filepath.Base(dir)+string(rune('a'+i))+".nii.gz", scan)
	}
}

func TestBuildDatasetAndFit(t *testing.T) {
	root := t.TempDir()
	pdDir := filepath.Join(root, "PD")
	hcDir := filepath.Join(root, "HC")
	populate(t, pdDir, 3, 12, 100)
	populate(t, hcDir, 2, 12, 200)

	// Viewer volumes and short scans are left out.
	vol := testutil.Volume3D(t, testutil.DefaultGrid)
	testutil.WriteImage(t, pdDir, "PDa_viewer.nii.gz", vol)
	short := testutil.Scan(t, testutil.DefaultGrid, 4, 5, 1)
	testutil.WriteImage(t, hcDir, "short.nii.gz", short)

	ds, err := builder(t, 5).BuildDataset(context.Background(), pdDir, hcDir)
	require.NoError(t, err)

	hc, pd := ds.Counts()
	assert.Equal(t, 2, hc)
	assert.Equal(t, 3, pd)
	assert.Equal(t, []string{filepath.Join(hcDir, "short.nii.gz")}, ds.Skipped)
	for i, row := range ds.X {
		assert.Len(t, row, 10, ds.Paths[i])
	}
	assert.Equal(t, []int{1, 1, 1, 0, 0}, ds.Y)

	modelPath := filepath.Join(root, "models", "pd_classifier.json")
	m, err := training.Fit(ds, classifier.DefaultTrainOptions(), modelPath)
	require.NoError(t, err)
	assert.False(t, m.Synthetic)
	assert.Equal(t, 10, m.Features)
	assert.Equal(t, 5, m.Samples)

	loaded, err := classifier.Load(modelPath)
	require.NoError(t, err)
	assert.Equal(t, m.Weights, loaded.Weights)
}

func TestBuildDatasetNeedsBothClasses(t *testing.T) {
	root := t.TempDir()
	pdDir := filepath.Join(root, "PD")
	populate(t, pdDir, 2, 12, 1)

	ds, err := builder(t, 5).BuildDataset(context.Background(), pdDir, filepath.Join(root, "HC"))
	require.ErrorIs(t, err, training.ErrInsufficientData)
	_, pd := ds.Counts()
	assert.Equal(t, 2, pd)
}

func TestBuildDatasetCancelled(t *testing.T) {
	root := t.TempDir()
	populate(t, filepath.Join(root, "PD"), 2, 12, 1)
	populate(t, filepath.Join(root, "HC"), 2, 12, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := builder(t, 5).BuildDataset(ctx, filepath.Join(root, "PD"), filepath.Join(root, "HC"))
	assert.ErrorIs(t, err, context.Canceled)
}
