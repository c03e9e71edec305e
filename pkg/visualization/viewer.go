// Package visualization renders 2D preview images of viewer volumes.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"pdfmri/pkg/nifti"
)

// Viewer extracts orthogonal slices from a 3D volume
type Viewer struct {
	// volumeData holds the voxel intensities in x-fastest order
	volumeData []float64

	// dimensions of the volume
	width  int
	height int
	depth  int

	// intensity range used to map voxels to 16-bit gray
	min, max float64
}

// NewViewer creates a viewer over volumeData of the given dimensions
func NewViewer(volumeData []float64, width, height, depth int) *Viewer {
	v := &Viewer{
		volumeData: volumeData,
		width:      width,
		height:     height,
		depth:      depth,
	}
	v.min, v.max = findMinMax(volumeData)
	return v
}

// FromImage creates a viewer over a 3D NIfTI volume
func FromImage(img *nifti.Image) (*Viewer, error) {
	if img.NDim() != 3 {
		return nil, fmt.Errorf("viewer needs a 3D volume, got %dD", img.NDim())
	}
	data, err := img.FrameValues(0)
	if err != nil {
		return nil, err
	}
	shape := img.Shape()
	return NewViewer(data, shape[0], shape[1], shape[2]), nil
}

func findMinMax(data []float64) (min, max float64) {
	if len(data) == 0 {
		return 0, 0
	}
	min, max = data[0], data[0]
	for _, v := range data[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// gray maps an intensity onto the full 16-bit range of the volume
func (v *Viewer) gray(value float64) color.Gray16 {
	if v.max <= v.min {
		return color.Gray16{}
	}
	n := (value - v.min) / (v.max - v.min)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, n*65535)))}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// Sagittal: YZ plane
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		img = image.NewGray16(image.Rect(0, 0, v.height, v.depth))
		for z := 0; z < v.depth; z++ {
			for y := 0; y < v.height; y++ {
				idx := z*v.width*v.height + y*v.width + position
				img.SetGray16(y, v.depth-1-z, v.gray(v.volumeData[idx]))
			}
		}

	case "y", "Y":
		// Coronal: XZ plane
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				idx := z*v.width*v.height + position*v.width + x
				img.SetGray16(x, v.depth-1-z, v.gray(v.volumeData[idx]))
			}
		}

	case "z", "Z":
		// Axial: XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				idx := position*v.width*v.height + y*v.width + x
				img.SetGray16(x, v.height-1-y, v.gray(v.volumeData[idx]))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.width
	case "y", "Y":
		maxPos = v.height
	case "z", "Z":
		maxPos = v.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SaveMidSlices writes the sagittal, coronal and axial slices through the
// centre of the volume as <prefix>_<axis>.jpg and returns their paths
func (v *Viewer) SaveMidSlices(outputDir, prefix string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	mids := map[string]int{"x": v.width / 2, "y": v.height / 2, "z": v.depth / 2}
	paths := make([]string, 0, len(mids))
	for _, axis := range []string{"x", "y", "z"} {
		img, err := v.ExtractSlice(axis, mids[axis])
		if err != nil {
			return nil, err
		}
		path := filepath.Join(outputDir, fmt.Sprintf("%s_%s.jpg", prefix, axis))
		if err := v.SaveSlice(img, path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
