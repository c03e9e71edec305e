// Package testutil builds synthetic volumes and atlases for tests.
package testutil

import (
	"math/rand/v2"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"pdfmri/pkg/atlas"
	"pdfmri/pkg/nifti"
)

// Grid is the spatial grid shared by fixture scans and atlases.
type Grid struct {
	NX, NY, NZ int
}

// Voxels returns the number of voxels of one frame.
func (g Grid) Voxels() int {
	return g.NX * g.NY * g.NZ
}

// DefaultGrid holds enough voxels for a 39-region atlas.
var DefaultGrid = Grid{NX: 8, NY: 8, NZ: 4}

// Affine is a 3 mm isotropic transform used by all fixtures.
func Affine() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		3, 0, 0, -12,
		0, 3, 0, -12,
		0, 0, 3, -6,
		0, 0, 0, 1,
	})
}

// MapsAtlas returns a probabilistic atlas on g where voxel v belongs to
// region v % regions with weight 1.
func MapsAtlas(t testing.TB, g Grid, regions int) *atlas.Atlas {
	t.Helper()
	n := g.Voxels()
	data := make([]float32, n*regions)
	for v := 0; v < n; v++ {
		data[(v%regions)*n+v] = 1
	}
	img, err := nifti.New([]int{g.NX, g.NY, g.NZ, regions}, Affine(), data)
	if err != nil {
		t.Fatalf("Failed to build atlas volume: %v", err)
	}
	a, err := atlas.New("synthetic", atlas.KindMaps, img)
	if err != nil {
		t.Fatalf("Failed to build atlas: %v", err)
	}
	return a
}

// Scan returns a 4D volume on g where every voxel of region v % regions
// follows that region's random signal plus a little noise.
func Scan(t testing.TB, g Grid, frames, regions int, seed uint64) *nifti.Image {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	signals := make([][]float64, regions)
	for r := range signals {
		signals[r] = make([]float64, frames)
		for i := range signals[r] {
			signals[r][i] = rng.NormFloat64() * 10
		}
	}

	n := g.Voxels()
	data := make([]float32, n*frames)
	for f := 0; f < frames; f++ {
		for v := 0; v < n; v++ {
			data[f*n+v] = float32(100 + signals[v%regions][f] + rng.NormFloat64()*0.1)
		}
	}

	img, err := nifti.New([]int{g.NX, g.NY, g.NZ, frames}, Affine(), data)
	if err != nil {
		t.Fatalf("Failed to build scan: %v", err)
	}
	return img
}

// Volume3D returns a 3D volume on g holding a simple ramp.
func Volume3D(t testing.TB, g Grid) *nifti.Image {
	t.Helper()
	data := make([]float32, g.Voxels())
	for i := range data {
		data[i] = float32(i)
	}
	img, err := nifti.New([]int{g.NX, g.NY, g.NZ}, Affine(), data)
	if err != nil {
		t.Fatalf("Failed to build volume: %v", err)
	}
	return img
}

// WriteImage saves img as dir/name and returns the path.
func WriteImage(t testing.TB, dir, name string, img *nifti.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := img.Write(path); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}
