package connectome

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"pdfmri/pkg/atlas"
	"pdfmri/pkg/nifti"
)

// Standardize selects how region time series are scaled before correlation.
type Standardize string

const (
	// StandardizeZScoreSample divides by the sample (n-1) standard deviation.
	StandardizeZScoreSample Standardize = "zscore_sample"

	// StandardizeZScore divides by the population standard deviation.
	StandardizeZScore Standardize = "zscore"

	// StandardizeNone leaves amplitudes untouched.
	StandardizeNone Standardize = "none"
)

const stdEpsilon = 1e-12

// RegionSignals returns the T×R matrix of weighted region averages, one row
// per frame and one column per region. Regions without voxels on the scan
// grid yield an all-zero column.
func RegionSignals(scan *nifti.Image, rw *atlas.RegionWeights) (*mat.Dense, error) {
	frames := scan.Frames()
	regions := len(rw.Regions)

	norms := make([]float64, regions)
	for r, ws := range rw.Regions {
		for _, w := range ws {
			norms[r] += w.W
		}
	}

	ts := mat.NewDense(frames, regions, nil)
	for t := 0; t < frames; t++ {
		values, err := scan.FrameValues(t)
		if err != nil {
			return nil, err
		}
		for r, ws := range rw.Regions {
			if norms[r] == 0 {
				continue
			}
			var sum float64
			for _, w := range ws {
				sum += w.W * values[w.Voxel]
			}
			ts.Set(t, r, sum/norms[r])
		}
	}
	return ts, nil
}

// Clean detrends and standardizes every column of ts in place.
func Clean(ts *mat.Dense, detrend bool, mode Standardize) {
	rows, cols := ts.Dims()
	x := make([]float64, rows)
	for i := range x {
		x[i] = float64(i)
	}

	col := make([]float64, rows)
	for c := 0; c < cols; c++ {
		mat.Col(col, c, ts)

		if detrend && rows > 1 {
			alpha, beta := stat.LinearRegression(x, col, nil, false)
			for i := range col {
				col[i] -= alpha + beta*x[i]
			}
		}

		switch mode {
		case StandardizeZScoreSample:
			mean, std := stat.MeanStdDev(col, nil)
			scale(col, mean, std)
		case StandardizeZScore:
			mean, variance := stat.PopMeanVariance(col, nil)
			scale(col, mean, math.Sqrt(variance))
		}

		ts.SetCol(c, col)
	}
}

func scale(col []float64, mean, std float64) {
	if std < stdEpsilon || math.IsNaN(std) {
		std = 1
	}
	for i := range col {
		col[i] = (col[i] - mean) / std
	}
}

// Correlation returns the R×R Pearson correlation matrix of the columns of
// ts. Pairs involving a constant column are reported as 0.
func Correlation(ts *mat.Dense) *mat.SymDense {
	var corr mat.SymDense
	stat.CorrelationMatrix(&corr, ts, nil)

	n := corr.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			if math.IsNaN(corr.At(i, j)) {
				corr.SetSym(i, j, 0)
			}
		}
	}
	return &corr
}

// LowerTriangle flattens the strictly lower triangle of m row by row:
// (1,0), (2,0), (2,1), (3,0), ... The result has n(n-1)/2 entries.
func LowerTriangle(m mat.Symmetric) []float64 {
	n := m.SymmetricDim()
	out := make([]float64, 0, n*(n-1)/2)
	for i := 1; i < n; i++ {
		for j := 0; j < i; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}
