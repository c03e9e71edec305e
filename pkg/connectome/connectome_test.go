package connectome_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"pdfmri/internal/testutil"
	"pdfmri/pkg/atlas"
	"pdfmri/pkg/connectome"
)

func newExtractor(t *testing.T, regions int) *connectome.Extractor {
	t.Helper()
	a := testutil.MapsAtlas(t, testutil.DefaultGrid, regions)
	return connectome.NewExtractor(atlas.Static{Atlas: a}, connectome.DefaultOptions(), nil)
}

func TestExtractLength(t *testing.T) {
	for _, regions := range []int{2, 7, 39} {
		e := newExtractor(t, regions)
		scan := testutil.Scan(t, testutil.DefaultGrid, 12, regions, uint64(regions))

		f, err := e.Extract(context.Background(), scan)
		require.NoError(t, err)

		assert.Len(t, f.Vector, regions*(regions-1)/2)
		assert.Equal(t, regions, f.Regions)
		assert.Equal(t, 12, f.Timepoints)
		assert.False(t, f.Synthetic)
		for _, v := range f.Vector {
			assert.False(t, math.IsNaN(v))
			assert.LessOrEqual(t, math.Abs(v), 1+1e-9)
		}
	}
}

func TestExtractTenFramesThirtyNineRegions(t *testing.T) {
	e := newExtractor(t, 39)
	scan := testutil.Scan(t, testutil.DefaultGrid, 10, 39, 7)

	f, err := e.Extract(context.Background(), scan)
	require.NoError(t, err)
	assert.Len(t, f.Vector, 741)
}

func TestExtractRejectsShortAndSpatialScans(t *testing.T) {
	e := newExtractor(t, 5)

	_, err := e.Extract(context.Background(), testutil.Scan(t, testutil.DefaultGrid, 9, 5, 1))
	assert.ErrorIs(t, err, connectome.ErrTooFewTimepoints)

	_, err = e.Extract(context.Background(), testutil.Volume3D(t, testutil.DefaultGrid))
	assert.ErrorIs(t, err, connectome.ErrNotFourD)
}

func TestExtractAtlasFailure(t *testing.T) {
	e := connectome.NewExtractor(atlas.Static{}, connectome.DefaultOptions(), nil)
	_, err := e.Extract(context.Background(), testutil.Scan(t, testutil.DefaultGrid, 10, 3, 1))
	assert.ErrorIs(t, err, atlas.ErrFetch)

	_, err = e.FeatureLength(context.Background())
	assert.ErrorIs(t, err, atlas.ErrFetch)
}

func TestFeatureLengthFollowsAtlas(t *testing.T) {
	n, err := newExtractor(t, 7).FeatureLength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 21, n)
}

func TestCorrelationMatchesGonum(t *testing.T) {
	ts := mat.NewDense(5, 3, []float64{
		1, 2, 5,
		2, 4, 3,
		3, 6, 4,
		4, 8, 1,
		5, 10, 2,
	})
	corr := connectome.Correlation(ts)

	a := mat.Col(nil, 0, ts)
	c := mat.Col(nil, 2, ts)
	assert.InDelta(t, 1.0, corr.At(1, 0), 1e-12)
	assert.InDelta(t, stat.Correlation(a, c, nil), corr.At(2, 0), 1e-12)
}

func TestCorrelationConstantColumnIsZero(t *testing.T) {
	ts := mat.NewDense(4, 2, []float64{1, 7, 2, 7, 3, 7, 4, 7})
	corr := connectome.Correlation(ts)
	assert.Equal(t, 0.0, corr.At(1, 0))
}

func TestLowerTriangleOrder(t *testing.T) {
	m := mat.NewSymDense(4, []float64{
		1, 10, 20, 40,
		10, 1, 30, 50,
		20, 30, 1, 60,
		40, 50, 60, 1,
	})
	assert.Equal(t, []float64{10, 20, 30, 40, 50, 60}, connectome.LowerTriangle(m))
}

func TestCleanStandardizes(t *testing.T) {
	ts := mat.NewDense(6, 2, []float64{
		1, 3,
		4, 3,
		2, 3,
		8, 3,
		5, 3,
		7, 3,
	})
	connectome.Clean(ts, true, connectome.StandardizeZScoreSample)

	col := mat.Col(nil, 0, ts)
	mean, std := stat.MeanStdDev(col, nil)
	assert.InDelta(t, 0, mean, 1e-12)
	assert.InDelta(t, 1, std, 1e-12)

	// A constant column ends up all zero instead of NaN.
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, mat.Col(nil, 1, ts))
}

func TestCleanDetrendRemovesLinearTrend(t *testing.T) {
	ts := mat.NewDense(5, 1, []float64{3, 5, 7, 9, 11})
	connectome.Clean(ts, true, connectome.StandardizeNone)
	for _, v := range mat.Col(nil, 0, ts) {
		assert.InDelta(t, 0, v, 1e-9)
	}
}

func TestFallbackIsDeterministicAndFlagged(t *testing.T) {
	a := connectome.Fallback(741, 42)
	b := connectome.Fallback(741, 42)

	assert.True(t, a.Synthetic)
	assert.Len(t, a.Vector, 741)
	assert.Equal(t, a.Vector, b.Vector)
	for _, v := range a.Vector {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}
