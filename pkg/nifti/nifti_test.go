package nifti

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testAffine() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		-3, 0, 0, 90,
		0, 3, 0, -126,
		0, 0, 3, -72,
		0, 0, 0, 1,
	})
}

// ramp4D returns a 4D float32 volume where voxel i holds float32(i).
func ramp4D(t *testing.T, nx, ny, nz, nt int) *Image {
	t.Helper()
	data := make([]float32, nx*ny*nz*nt)
	for i := range data {
		data[i] = float32(i)
	}
	img, err := New([]int{nx, ny, nz, nt}, testAffine(), data)
	require.NoError(t, err)
	return img
}

func TestHeaderSize(t *testing.T) {
	assert.Equal(t, HeaderSize, binary.Size(Header{}))
}

func TestWriteLoadRoundTrip(t *testing.T) {
	img := ramp4D(t, 4, 3, 2, 5)

	for _, name := range []string{"scan.nii", "scan.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, img.Write(path))

			got, err := Load(path)
			require.NoError(t, err)

			assert.Equal(t, []int{4, 3, 2, 5}, got.Shape())
			assert.Equal(t, 4, got.NDim())
			assert.Equal(t, 5, got.Frames())
			assert.Equal(t, img.Data, got.Data)
			assert.True(t, mat.EqualApprox(testAffine(), got.Affine(), 1e-6))
			assert.Equal(t, 7.0, got.At(3, 1, 0, 0))
			assert.Equal(t, float64(24+7), got.At(3, 1, 0, 1))
		})
	}
}

func TestWriteIsGzipOnlyForGzNames(t *testing.T) {
	img := ramp4D(t, 2, 2, 2, 1)
	dir := t.TempDir()

	plain := filepath.Join(dir, "a.nii")
	packed := filepath.Join(dir, "a.nii.gz")
	require.NoError(t, img.Write(plain))
	require.NoError(t, img.Write(packed))

	b, err := os.ReadFile(packed)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b}, b[:2])

	b, err = os.ReadFile(plain)
	require.NoError(t, err)
	assert.Equal(t, []byte("n+1\x00"), b[344:348])
}

func TestFrameIsByteExact(t *testing.T) {
	img := ramp4D(t, 3, 3, 2, 4)

	frame, err := img.Frame(2)
	require.NoError(t, err)

	size := 3 * 3 * 2 * 4
	assert.Equal(t, img.Data[2*size:3*size], frame.Data)
	assert.Equal(t, []int{3, 3, 2}, frame.Shape())
	assert.Equal(t, 1, frame.Frames())
	assert.True(t, mat.Equal(img.Affine(), frame.Affine()))

	_, err = img.Frame(4)
	assert.Error(t, err)

	_, err = frame.Frame(0)
	assert.Error(t, err)
}

func TestFrameValues(t *testing.T) {
	img := ramp4D(t, 2, 2, 1, 3)

	vals, err := img.FrameValues(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 6, 7}, vals)

	_, err = img.FrameValues(3)
	assert.Error(t, err)
}

func TestScaling(t *testing.T) {
	img := ramp4D(t, 2, 1, 1, 1)
	img.Header.SclSlope = 2
	img.Header.SclInter = 10

	assert.Equal(t, 10.0, img.Value(0))
	assert.Equal(t, 12.0, img.Value(1))
}

func TestBigEndianInt16(t *testing.T) {
	h := Header{
		SizeOfHdr: HeaderSize,
		Datatype:  DTInt16,
		BitPix:    16,
		VoxOffset: dataOffset,
		Magic:     magicSingle,
	}
	h.Dim = [8]int16{3, 2, 1, 1, 1, 1, 1, 1}
	h.PixDim = [8]float32{1, 2, 2, 2, 0, 0, 0, 0}

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, h))
	buf.Write([]byte{0, 0, 0, 0})
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []int16{-5, 300}))

	img, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, binary.BigEndian, img.Order)
	assert.Equal(t, -5.0, img.Value(0))
	assert.Equal(t, 300.0, img.Value(1))

	want := mat.NewDense(4, 4, []float64{2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 1})
	assert.True(t, mat.Equal(want, img.Affine()))
}

func TestQFormIdentityRotation(t *testing.T) {
	img := ramp4D(t, 2, 2, 2, 1)
	img.Header.SFormCode = 0
	img.Header.QFormCode = 1
	img.Header.PixDim = [8]float32{1, 2, 3, 4, 1, 0, 0, 0}
	img.Header.QOffsetX, img.Header.QOffsetY, img.Header.QOffsetZ = 5, 6, 7

	want := mat.NewDense(4, 4, []float64{
		2, 0, 0, 5,
		0, 3, 0, 6,
		0, 0, 4, 7,
		0, 0, 0, 1,
	})
	assert.True(t, mat.EqualApprox(want, img.Affine(), 1e-9))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.nii.gz"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	junk := filepath.Join(dir, "junk.nii")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not a volume"), 0644))
	_, err = Load(junk)
	assert.ErrorIs(t, err, ErrFormat)

	img := ramp4D(t, 2, 2, 2, 2)
	var buf bytes.Buffer
	require.NoError(t, img.Encode(&buf))
	_, err = Parse(buf.Bytes()[:buf.Len()-4])
	assert.ErrorIs(t, err, ErrFormat)
}

func TestNewRejectsBadShapes(t *testing.T) {
	_, err := New([]int{2, 2}, nil, make([]float32, 4))
	assert.ErrorIs(t, err, ErrFormat)

	_, err = New([]int{2, 2, 2}, nil, make([]float32, 7))
	assert.Error(t, err)
}
