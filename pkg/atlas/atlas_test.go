package atlas_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"pdfmri/internal/testutil"
	"pdfmri/pkg/atlas"
	"pdfmri/pkg/nifti"
)

func TestMapsAtlasSameGrid(t *testing.T) {
	g := testutil.DefaultGrid
	a := testutil.MapsAtlas(t, g, 39)

	assert.Equal(t, 39, a.Regions())
	assert.Equal(t, 741, a.FeatureLength())

	scan := testutil.Scan(t, g, 10, 39, 1)
	rw, err := a.WeightsOn(scan)
	require.NoError(t, err)
	require.Len(t, rw.Regions, 39)

	total := 0
	for r, ws := range rw.Regions {
		for _, w := range ws {
			assert.Equal(t, r, w.Voxel%39)
			assert.Equal(t, 1.0, w.W)
		}
		total += len(ws)
	}
	assert.Equal(t, g.Voxels(), total)
}

func TestLabelsAtlas(t *testing.T) {
	g := testutil.Grid{NX: 4, NY: 2, NZ: 1}
	data := []float32{0, 5, 5, 2, 2, 0, 9, 9}
	img, err := nifti.New([]int{4, 2, 1}, testutil.Affine(), data)
	require.NoError(t, err)

	a, err := atlas.New("labels", atlas.KindLabels, img)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Regions())

	scan := testutil.Scan(t, g, 5, 3, 2)
	rw, err := a.WeightsOn(scan)
	require.NoError(t, err)

	voxels := func(ws []atlas.Weight) []int {
		out := make([]int, len(ws))
		for i, w := range ws {
			out[i] = w.Voxel
		}
		return out
	}
	// labels sort as 2, 5, 9
	assert.Equal(t, []int{3, 4}, voxels(rw.Regions[0]))
	assert.Equal(t, []int{1, 2}, voxels(rw.Regions[1]))
	assert.Equal(t, []int{6, 7}, voxels(rw.Regions[2]))
}

func TestWeightsResampleCoarserAtlas(t *testing.T) {
	// Atlas with 6 mm voxels covering the same field of view as a 3 mm scan.
	coarse := mat.NewDense(4, 4, []float64{
		6, 0, 0, -12,
		0, 6, 0, -12,
		0, 0, 6, -6,
		0, 0, 0, 1,
	})
	data := make([]float32, 4*4*2*2)
	for i := 0; i < 32; i++ {
		data[i] = 1 // region 0 everywhere
	}
	data[32] = 1 // region 1 only at atlas voxel (0,0,0)
	img, err := nifti.New([]int{4, 4, 2, 2}, coarse, data)
	require.NoError(t, err)

	a, err := atlas.New("coarse", atlas.KindMaps, img)
	require.NoError(t, err)

	scan := testutil.Scan(t, testutil.DefaultGrid, 5, 2, 3)
	rw, err := a.WeightsOn(scan)
	require.NoError(t, err)

	// Scan index i maps to atlas index round(i/2); the last row in x and y
	// and the last two slices in z fall outside the atlas: 7*7*3 voxels remain.
	assert.Len(t, rw.Regions[0], 147)
	// Only scan voxel (0,0,0) lands on atlas voxel (0,0,0).
	require.Len(t, rw.Regions[1], 1)
	assert.Equal(t, 0, rw.Regions[1][0].Voxel)
}

func TestNewRejectsWrongDimensionality(t *testing.T) {
	vol := testutil.Volume3D(t, testutil.DefaultGrid)
	_, err := atlas.New("bad", atlas.KindMaps, vol)
	assert.Error(t, err)

	scan := testutil.Scan(t, testutil.DefaultGrid, 3, 2, 1)
	_, err = atlas.New("bad", atlas.KindLabels, scan)
	assert.Error(t, err)

	_, err = atlas.New("bad", atlas.Kind("mesh"), vol)
	assert.Error(t, err)
}

func TestProviderLocalPath(t *testing.T) {
	dir := t.TempDir()
	a := testutil.MapsAtlas(t, testutil.DefaultGrid, 5)
	path := testutil.WriteImage(t, dir, "atlas.nii.gz", a.Image)

	p := atlas.NewProvider(atlas.Options{Name: "local", Kind: atlas.KindMaps, Path: path}, nil, nil)
	got, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, got.Regions())

	again, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Same(t, got, again)
}

func TestProviderDownloadsOnce(t *testing.T) {
	a := testutil.MapsAtlas(t, testutil.DefaultGrid, 4)
	src := testutil.WriteImage(t, t.TempDir(), "maps.nii.gz", a.Image)
	payload, err := os.ReadFile(src)
	require.NoError(t, err)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(payload)
	}))
	defer srv.Close()

	cache := t.TempDir()
	opts := atlas.Options{Name: "remote", Kind: atlas.KindMaps, URL: srv.URL + "/maps.nii.gz", CacheDir: cache, Timeout: 5 * time.Second}

	p := atlas.NewProvider(opts, srv.Client(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.Fetch(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 4, got.Regions())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	assert.FileExists(t, filepath.Join(cache, "remote", "maps.nii.gz"))

	// A fresh provider reuses the cached download.
	p2 := atlas.NewProvider(opts, srv.Client(), nil)
	_, err = p2.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestProviderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cache := t.TempDir()
	p := atlas.NewProvider(atlas.Options{
		Name: "slow", Kind: atlas.KindMaps, URL: srv.URL + "/slow.nii.gz",
		CacheDir: cache, Timeout: 50 * time.Millisecond,
	}, srv.Client(), nil)

	_, err := p.Fetch(context.Background())
	assert.ErrorIs(t, err, atlas.ErrFetch)

	entries, err := os.ReadDir(filepath.Join(cache, "slow"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProviderNoSource(t *testing.T) {
	p := atlas.NewProvider(atlas.Options{Name: "none", Kind: atlas.KindMaps}, nil, nil)
	_, err := p.Fetch(context.Background())
	assert.ErrorIs(t, err, atlas.ErrFetch)

	_, err = atlas.Static{}.Fetch(context.Background())
	assert.ErrorIs(t, err, atlas.ErrFetch)
}
