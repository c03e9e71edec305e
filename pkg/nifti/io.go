package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Load reads a .nii or .nii.gz file. Compression is detected from the
// content, not the file name.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Read(f)
}

// Read decodes a NIfTI-1 volume from r, gunzipping it when needed.
func Read(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)

	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		defer zr.Close()
		src = zr
	}

	b, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return Parse(b)
}

// Parse decodes an uncompressed NIfTI-1 byte stream.
func Parse(b []byte) (*Image, error) {
	h, order, err := decodeHeader(b)
	if err != nil {
		return nil, err
	}

	img := &Image{Header: h, Order: order}
	if nd := img.NDim(); nd < 3 || nd > 4 {
		return nil, fmt.Errorf("%w: volumes must be 3D or 4D, got %dD", ErrFormat, nd)
	}

	offset := int(h.VoxOffset)
	if offset < dataOffset {
		offset = dataOffset
	}
	size := img.Len() * img.bytesPer()
	if len(b) < offset+size {
		return nil, fmt.Errorf("%w: truncated voxel data, have %d bytes, need %d", ErrFormat, len(b)-offset, size)
	}

	img.Data = b[offset : offset+size]
	return img, nil
}

// Encode writes img as a single-file NIfTI-1 stream. Voxel bytes are written
// unchanged in the image's byte order.
func (img *Image) Encode(w io.Writer) error {
	h := img.Header
	h.SizeOfHdr = HeaderSize
	h.VoxOffset = dataOffset
	h.Magic = magicSingle

	order := img.Order
	if order == nil {
		order = binary.LittleEndian
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, order, h); err != nil {
		return err
	}
	// Extension flag: no extensions.
	buf.Write([]byte{0, 0, 0, 0})

	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(img.Data)
	return err
}

// Write saves img to path, gzipped when the name ends in .gz. The file is
// written under a temporary name and renamed into place, so readers never
// observe a partial volume.
func (img *Image) Write(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := img.encodeTo(tmp, strings.HasSuffix(strings.ToLower(path), ".gz")); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (img *Image) encodeTo(f *os.File, compress bool) error {
	bw := bufio.NewWriter(f)
	if !compress {
		if err := img.Encode(bw); err != nil {
			return err
		}
		return bw.Flush()
	}

	zw := gzip.NewWriter(bw)
	if err := img.Encode(zw); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return bw.Flush()
}
