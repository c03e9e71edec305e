// Package atlas provides brain parcellations used to reduce voxel time series
// to region time series.
package atlas

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"pdfmri/pkg/nifti"
)

// Kind distinguishes probabilistic map atlases from integer label atlases.
type Kind string

const (
	// KindMaps is a 4D volume holding one soft 3D map per region (e.g. MSDL).
	KindMaps Kind = "maps"

	// KindLabels is a 3D volume where voxel value k > 0 assigns the voxel to region k.
	KindLabels Kind = "labels"
)

var (
	// ErrFetch is returned when an atlas cannot be obtained.
	ErrFetch = errors.New("atlas: fetch failed")

	// ErrResample is returned when an atlas cannot be mapped onto a scan grid.
	ErrResample = errors.New("atlas: resampling failed")
)

// Atlas is a loaded parcellation.
type Atlas struct {
	Name  string
	Kind  Kind
	Image *nifti.Image

	// labels holds the distinct non-zero label values of a label atlas in
	// ascending order; region r corresponds to labels[r].
	labels []int
}

// Weight is the contribution of one scan voxel to a region signal.
type Weight struct {
	Voxel int
	W     float64
}

// RegionWeights lists, for each region, the voxels of a scan grid that belong
// to it and with what weight.
type RegionWeights struct {
	Regions [][]Weight
}

// New validates img against kind and builds an Atlas.
func New(name string, kind Kind, img *nifti.Image) (*Atlas, error) {
	a := &Atlas{Name: name, Kind: kind, Image: img}

	switch kind {
	case KindMaps:
		if img.NDim() != 4 {
			return nil, fmt.Errorf("maps atlas %q must be 4D, got %dD", name, img.NDim())
		}
	case KindLabels:
		if img.NDim() != 3 {
			return nil, fmt.Errorf("labels atlas %q must be 3D, got %dD", name, img.NDim())
		}
		seen := make(map[int]struct{})
		for i := 0; i < img.VoxelsPerFrame(); i++ {
			if v := int(math.Round(img.Value(i))); v > 0 {
				seen[v] = struct{}{}
			}
		}
		for v := range seen {
			a.labels = append(a.labels, v)
		}
		sort.Ints(a.labels)
		if len(a.labels) == 0 {
			return nil, fmt.Errorf("labels atlas %q has no regions", name)
		}
	default:
		return nil, fmt.Errorf("unknown atlas kind %q", kind)
	}

	return a, nil
}

// Regions returns the number of regions R.
func (a *Atlas) Regions() int {
	if a.Kind == KindLabels {
		return len(a.labels)
	}
	return a.Image.Frames()
}

// FeatureLength returns R(R-1)/2, the length of a connectivity vector built
// from this atlas.
func (a *Atlas) FeatureLength() int {
	r := a.Regions()
	return r * (r - 1) / 2
}

// WeightsOn maps the atlas onto the spatial grid of scan. When the grids
// differ, each scan voxel takes the atlas value of the nearest atlas voxel
// through the two affines.
func (a *Atlas) WeightsOn(scan *nifti.Image) (*RegionWeights, error) {
	toAtlas, err := voxelMapping(scan.Affine(), a.Image.Affine())
	if err != nil {
		return nil, err
	}

	sdim := scan.Shape()
	adim := a.Image.Shape()
	ax, ay, az := adim[0], adim[1], adim[2]
	aframe := a.Image.VoxelsPerFrame()

	index := make(map[int]int, len(a.labels))
	for r, l := range a.labels {
		index[l] = r
	}

	rw := &RegionWeights{Regions: make([][]Weight, a.Regions())}
	src := mat.NewVecDense(4, nil)
	dst := mat.NewVecDense(4, nil)

	for k := 0; k < sdim[2]; k++ {
		for j := 0; j < sdim[1]; j++ {
			for i := 0; i < sdim[0]; i++ {
				src.SetVec(0, float64(i))
				src.SetVec(1, float64(j))
				src.SetVec(2, float64(k))
				src.SetVec(3, 1)
				dst.MulVec(toAtlas, src)

				ai := int(math.Round(dst.AtVec(0)))
				aj := int(math.Round(dst.AtVec(1)))
				ak := int(math.Round(dst.AtVec(2)))
				if ai < 0 || aj < 0 || ak < 0 || ai >= ax || aj >= ay || ak >= az {
					continue
				}

				voxel := k*sdim[0]*sdim[1] + j*sdim[0] + i
				at := ak*ax*ay + aj*ax + ai

				if a.Kind == KindLabels {
					if r, ok := index[int(math.Round(a.Image.Value(at)))]; ok {
						rw.Regions[r] = append(rw.Regions[r], Weight{Voxel: voxel, W: 1})
					}
					continue
				}
				for r := range rw.Regions {
					if w := a.Image.Value(r*aframe + at); w > 0 {
						rw.Regions[r] = append(rw.Regions[r], Weight{Voxel: voxel, W: w})
					}
				}
			}
		}
	}

	return rw, nil
}

// voxelMapping returns inv(atlasAffine) * scanAffine.
func voxelMapping(scanAffine, atlasAffine *mat.Dense) (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(atlasAffine); err != nil {
		return nil, fmt.Errorf("%w: atlas affine is not invertible: %v", ErrResample, err)
	}
	var m mat.Dense
	m.Mul(&inv, scanAffine)
	return &m, nil
}
