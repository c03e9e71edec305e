package nifti

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Image is a loaded NIfTI-1 volume: the raw header plus the raw voxel bytes.
type Image struct {
	Header Header
	Data   []byte
	Order  binary.ByteOrder
}

// NDim returns the number of dimensions recorded in the header.
func (img *Image) NDim() int {
	return int(img.Header.Dim[0])
}

// Shape returns the extent of each dimension, e.g. [x y z] or [x y z t].
func (img *Image) Shape() []int {
	shape := make([]int, img.NDim())
	for i := range shape {
		shape[i] = int(img.Header.Dim[i+1])
	}
	return shape
}

// Frames returns the length of the time axis, 1 for spatial volumes.
func (img *Image) Frames() int {
	if img.NDim() < 4 {
		return 1
	}
	return int(img.Header.Dim[4])
}

// VoxelsPerFrame returns nx*ny*nz.
func (img *Image) VoxelsPerFrame() int {
	n := 1
	for i := 1; i <= 3 && i <= img.NDim(); i++ {
		n *= int(img.Header.Dim[i])
	}
	return n
}

// Len returns the total number of voxels across all dimensions.
func (img *Image) Len() int {
	n := 1
	for _, d := range img.Shape() {
		n *= d
	}
	return n
}

func (img *Image) bytesPer() int {
	return bytesPerVoxel(img.Header.Datatype)
}

func (img *Image) scaled() bool {
	s, i := img.Header.SclSlope, img.Header.SclInter
	if s == 0 || math.IsNaN(float64(s)) {
		return false
	}
	return s != 1 || i != 0
}

// Value returns the intensity of the i-th stored voxel with scaling applied.
func (img *Image) Value(i int) float64 {
	n := img.bytesPer()
	b := img.Data[i*n : (i+1)*n]

	var v float64
	switch img.Header.Datatype {
	case DTUint8:
		v = float64(b[0])
	case DTInt8:
		v = float64(int8(b[0]))
	case DTInt16:
		v = float64(int16(img.Order.Uint16(b)))
	case DTUint16:
		v = float64(img.Order.Uint16(b))
	case DTInt32:
		v = float64(int32(img.Order.Uint32(b)))
	case DTUint32:
		v = float64(img.Order.Uint32(b))
	case DTFloat32:
		v = float64(math.Float32frombits(img.Order.Uint32(b)))
	case DTInt64:
		v = float64(int64(img.Order.Uint64(b)))
	case DTUint64:
		v = float64(img.Order.Uint64(b))
	case DTFloat64:
		v = math.Float64frombits(img.Order.Uint64(b))
	}

	if img.scaled() {
		v = v*float64(img.Header.SclSlope) + float64(img.Header.SclInter)
	}
	return v
}

// At returns the intensity at voxel (x, y, z) of frame t.
func (img *Image) At(x, y, z, t int) float64 {
	nx, ny := int(img.Header.Dim[1]), int(img.Header.Dim[2])
	return img.Value(t*img.VoxelsPerFrame() + z*nx*ny + y*nx + x)
}

// FrameValues returns the scaled intensities of frame t in storage order.
func (img *Image) FrameValues(t int) ([]float64, error) {
	if t < 0 || t >= img.Frames() {
		return nil, fmt.Errorf("frame %d out of range [0, %d)", t, img.Frames())
	}
	n := img.VoxelsPerFrame()
	out := make([]float64, n)
	for i := range out {
		out[i] = img.Value(t*n + i)
	}
	return out, nil
}

// Frame returns frame t of a 4D volume as a 3D image. The voxel bytes are
// copied verbatim and the spatial header fields, affine included, are kept.
func (img *Image) Frame(t int) (*Image, error) {
	if img.NDim() != 4 {
		return nil, fmt.Errorf("frame requested from a %dD volume", img.NDim())
	}
	if t < 0 || t >= img.Frames() {
		return nil, fmt.Errorf("frame %d out of range [0, %d)", t, img.Frames())
	}

	size := img.VoxelsPerFrame() * img.bytesPer()
	data := make([]byte, size)
	copy(data, img.Data[t*size:(t+1)*size])

	h := img.Header
	h.Dim[0] = 3
	for i := 4; i < len(h.Dim); i++ {
		h.Dim[i] = 1
	}
	h.VoxOffset = dataOffset

	return &Image{Header: h, Data: data, Order: img.Order}, nil
}

// Affine returns the 4x4 voxel-to-world transform. The sform is preferred,
// then the qform, then a plain scaling by the voxel sizes.
func (img *Image) Affine() *mat.Dense {
	h := img.Header
	switch {
	case h.SFormCode > 0:
		return mat.NewDense(4, 4, []float64{
			float64(h.SRowX[0]), float64(h.SRowX[1]), float64(h.SRowX[2]), float64(h.SRowX[3]),
			float64(h.SRowY[0]), float64(h.SRowY[1]), float64(h.SRowY[2]), float64(h.SRowY[3]),
			float64(h.SRowZ[0]), float64(h.SRowZ[1]), float64(h.SRowZ[2]), float64(h.SRowZ[3]),
			0, 0, 0, 1,
		})
	case h.QFormCode > 0:
		return quaternToAffine(h)
	default:
		return mat.NewDense(4, 4, []float64{
			voxelSize(h.PixDim[1]), 0, 0, 0,
			0, voxelSize(h.PixDim[2]), 0, 0,
			0, 0, voxelSize(h.PixDim[3]), 0,
			0, 0, 0, 1,
		})
	}
}

func voxelSize(v float32) float64 {
	if v <= 0 {
		return 1
	}
	return float64(v)
}

// quaternToAffine follows nifti_quatern_to_mat44 from nifti1_io.c.
func quaternToAffine(h Header) *mat.Dense {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		s := 1 / math.Sqrt(b*b+c*c+d*d)
		a, b, c, d = 0, b*s, c*s, d*s
	} else {
		a = math.Sqrt(a)
	}

	dx, dy, dz := voxelSize(h.PixDim[1]), voxelSize(h.PixDim[2]), voxelSize(h.PixDim[3])
	if h.PixDim[0] < 0 {
		dz = -dz
	}

	return mat.NewDense(4, 4, []float64{
		(a*a + b*b - c*c - d*d) * dx, 2 * (b*c - a*d) * dy, 2 * (b*d + a*c) * dz, float64(h.QOffsetX),
		2 * (b*c + a*d) * dx, (a*a + c*c - b*b - d*d) * dy, 2 * (c*d - a*b) * dz, float64(h.QOffsetY),
		2 * (b*d - a*c) * dx, 2 * (c*d + a*b) * dy, (a*a + d*d - c*c - b*b) * dz, float64(h.QOffsetZ),
		0, 0, 0, 1,
	})
}

// New builds a float32 volume of the given shape (3 or 4 dimensions) whose
// sform is set to affine. A nil affine means identity.
func New(shape []int, affine mat.Matrix, data []float32) (*Image, error) {
	if len(shape) < 3 || len(shape) > 4 {
		return nil, fmt.Errorf("%w: volumes must be 3D or 4D, got %dD", ErrFormat, len(shape))
	}
	n := 1
	for _, d := range shape {
		if d < 1 {
			return nil, fmt.Errorf("%w: non-positive dimension in %v", ErrFormat, shape)
		}
		n *= d
	}
	if len(data) != n {
		return nil, fmt.Errorf("data has %d voxels, shape %v needs %d", len(data), shape, n)
	}

	h := Header{
		SizeOfHdr: HeaderSize,
		Regular:   'r',
		Datatype:  DTFloat32,
		BitPix:    32,
		VoxOffset: dataOffset,
		SclSlope:  1,
		SFormCode: 2,
		QFormCode: 0,
		Magic:     magicSingle,
	}
	h.Dim[0] = int16(len(shape))
	for i := range h.Dim[1:] {
		h.Dim[i+1] = 1
	}
	for i, d := range shape {
		h.Dim[i+1] = int16(d)
	}
	h.PixDim[0] = 1
	for i := range h.PixDim[1:] {
		h.PixDim[i+1] = 1
	}

	img := &Image{Header: h, Order: binary.LittleEndian}
	if affine == nil {
		affine = identity()
	}
	img.SetAffine(affine)

	img.Data = make([]byte, 4*n)
	for i, v := range data {
		binary.LittleEndian.PutUint32(img.Data[4*i:], math.Float32bits(v))
	}
	return img, nil
}

// SetAffine stores affine as the sform and updates the voxel sizes.
func (img *Image) SetAffine(affine mat.Matrix) {
	h := &img.Header
	for j := 0; j < 4; j++ {
		h.SRowX[j] = float32(affine.At(0, j))
		h.SRowY[j] = float32(affine.At(1, j))
		h.SRowZ[j] = float32(affine.At(2, j))
	}
	for j := 0; j < 3; j++ {
		col := mat.NewVecDense(3, []float64{affine.At(0, j), affine.At(1, j), affine.At(2, j)})
		h.PixDim[j+1] = float32(mat.Norm(col, 2))
	}
	if h.SFormCode == 0 {
		h.SFormCode = 2
	}
}

func identity() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}
