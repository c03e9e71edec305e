// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and .nii.gz).
//
// Voxel data is kept exactly as it was stored on disk so that pass-through and
// frame extraction reproduce the original bytes. Numeric access goes through
// Value and FrameValues, which apply the header's intensity scaling.
package nifti

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFormat is returned when a file is not a readable single-file NIfTI-1 volume.
var ErrFormat = errors.New("nifti: unrecognized format")

const (
	// HeaderSize is the fixed size of the NIfTI-1 header in bytes.
	HeaderSize = 348

	// dataOffset is where voxel data starts in files we write: the header
	// followed by the 4-byte extension flag.
	dataOffset = 352
)

// Datatype codes from nifti1.h.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
	DTInt64   int16 = 1024
	DTUint64  int16 = 1280
)

// Header mirrors the on-disk NIfTI-1 header field for field.
//
// Type translation from nifti1.h:
//
//	C     Go
//	-------------
//	int   int32
//	float float32
//	short int16
//	char  byte
type Header struct {
	SizeOfHdr      int32    // Must be 348
	DataTypeUnused [10]byte // Unused
	DBName         [18]byte // Unused
	Extents        int32    // Unused
	SessionError   int16    // Unused
	Regular        byte     // Unused
	DimInfo        byte     // MRI slice ordering

	Dim           [8]int16   // Data array dimensions
	IntentP1      float32    // 1st intent parameter
	IntentP2      float32    // 2nd intent parameter
	IntentP3      float32    // 3rd intent parameter
	IntentCode    int16      // NIFTI_INTENT_* code
	Datatype      int16      // Defines data type
	BitPix        int16      // Number bits/voxel
	SliceStart    int16      // First slice index
	PixDim        [8]float32 // Grid spacing, PixDim[0] is qfac
	VoxOffset     float32    // Offset into .nii file
	SclSlope      float32    // Data scaling: slope
	SclInter      float32    // Data scaling: offset
	SliceEnd      int16      // Last slice index
	SliceCode     byte       // Slice timing order
	XYZTUnits     byte       // Units of pixdim[1..4]
	CalMax        float32    // Max display intensity
	CalMin        float32    // Min display intensity
	SliceDuration float32    // Time for 1 slice
	TOffset       float32    // Time axis shift
	GLMax         int32      // Unused
	GLMin         int32      // Unused

	Descrip [80]byte // Any text you like
	AuxFile [24]byte // Auxiliary filename

	QFormCode int16 // NIFTI_XFORM_* code
	SFormCode int16 // NIFTI_XFORM_* code

	QuaternB float32 // Quaternion b param
	QuaternC float32 // Quaternion c param
	QuaternD float32 // Quaternion d param
	QOffsetX float32 // Quaternion x shift
	QOffsetY float32 // Quaternion y shift
	QOffsetZ float32 // Quaternion z shift

	SRowX [4]float32 // 1st row affine transform
	SRowY [4]float32 // 2nd row affine transform
	SRowZ [4]float32 // 3rd row affine transform

	IntentName [16]byte // Name or meaning of data

	Magic [4]byte // "n+1\0" for single-file volumes
}

var magicSingle = [4]byte{'n', '+', '1', 0}

// bytesPerVoxel returns the storage size of a datatype, or 0 when unsupported.
func bytesPerVoxel(dt int16) int {
	switch dt {
	case DTUint8, DTInt8:
		return 1
	case DTInt16, DTUint16:
		return 2
	case DTInt32, DTUint32, DTFloat32:
		return 4
	case DTInt64, DTUint64, DTFloat64:
		return 8
	default:
		return 0
	}
}

// decodeHeader reads the header and infers the byte order from dim[0].
func decodeHeader(b []byte) (Header, binary.ByteOrder, error) {
	if len(b) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes is shorter than a header", ErrFormat, len(b))
	}

	var h Header
	var order binary.ByteOrder = binary.LittleEndian
	if _, err := binary.Decode(b[:HeaderSize], order, &h); err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		order = binary.BigEndian
		h = Header{}
		if _, err := binary.Decode(b[:HeaderSize], order, &h); err != nil {
			return Header{}, nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
	}
	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		return Header{}, nil, fmt.Errorf("%w: cannot infer byte order from dim[0]", ErrFormat)
	}

	if err := validateHeader(h); err != nil {
		return Header{}, nil, err
	}
	return h, order, nil
}

func validateHeader(h Header) error {
	switch {
	case h.SizeOfHdr != HeaderSize:
		return fmt.Errorf("%w: invalid header size %d", ErrFormat, h.SizeOfHdr)
	case h.Magic != magicSingle:
		// ni1 pairs (.hdr/.img) are not supported.
		return fmt.Errorf("%w: data must be stored in the same file as the header", ErrFormat)
	case bytesPerVoxel(h.Datatype) == 0:
		return fmt.Errorf("%w: unsupported datatype %d", ErrFormat, h.Datatype)
	case int(h.BitPix) != 8*bytesPerVoxel(h.Datatype):
		return fmt.Errorf("%w: bitpix %d does not match datatype %d", ErrFormat, h.BitPix, h.Datatype)
	}

	for i := 1; i <= int(h.Dim[0]); i++ {
		if h.Dim[i] < 1 {
			return fmt.Errorf("%w: dim[%d] = %d", ErrFormat, i, h.Dim[i])
		}
	}
	return nil
}
