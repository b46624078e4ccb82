package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"mriclusterqc/internal/models"
)

var magicSingleFile = [4]byte{'n', '+', '1', 0}

// Image is a decoded single-volume NIfTI image
type Image struct {
	Header Header
	Volume *models.Volume
}

// Read loads a .nii or .nii.gz file. Compression is detected from the
// content, not the file name.
func Read(path string) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// Decode reads a single-file NIfTI-1 image from r
func Decode(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		br = bufio.NewReader(gz)
	}

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(raw) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(raw) == headerSize:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: unrecognized sizeof_hdr", ErrBadHeader)
	}

	var h Header
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if h.Magic != magicSingleFile {
		return nil, fmt.Errorf("%w: magic %q is not a single-file image", ErrBadHeader, h.Magic[:3])
	}
	if err := h.validate(); err != nil {
		return nil, err
	}

	offset := int64(h.VoxOffset)
	if offset < voxOffset {
		return nil, fmt.Errorf("%w: vox_offset %d", ErrBadHeader, offset)
	}
	if _, err := io.CopyN(io.Discard, br, offset-headerSize); err != nil {
		return nil, fmt.Errorf("failed to skip extensions: %w", err)
	}

	x, y, z := h.SpatialDims()
	dims := models.Dims{X: x, Y: y, Z: z}
	bpv, _ := bytesPerVoxel(h.Datatype)
	size := int64(dims.Len()) * int64(bpv)

	// extents are untrusted until the payload is actually present
	var payload bytes.Buffer
	n, err := payload.ReadFrom(io.LimitReader(br, size))
	if err != nil {
		return nil, fmt.Errorf("failed to read voxel data: %w", err)
	}
	if n < size {
		return nil, fmt.Errorf("failed to read voxel data: %w (%d of %d bytes)", io.ErrUnexpectedEOF, n, size)
	}

	vol := models.NewVolume(dims)
	if err := decodeValues(payload.Bytes(), h.Datatype, order, vol.Data); err != nil {
		return nil, err
	}
	if slope, inter, ok := h.scaling(); ok {
		for i, v := range vol.Data {
			vol.Data[i] = v*slope + inter
		}
	}
	vol.VoxelSize.X = float64(h.Pixdim[1])
	vol.VoxelSize.Y = float64(h.Pixdim[2])
	vol.VoxelSize.Z = float64(h.Pixdim[3])

	return &Image{Header: h, Volume: vol}, nil
}

func decodeValues(payload []byte, datatype int16, order binary.ByteOrder, out []float64) error {
	for i := range out {
		switch datatype {
		case DTUint8:
			out[i] = float64(payload[i])
		case DTInt8:
			out[i] = float64(int8(payload[i]))
		case DTInt16:
			out[i] = float64(int16(order.Uint16(payload[i*2:])))
		case DTUint16:
			out[i] = float64(order.Uint16(payload[i*2:]))
		case DTInt32:
			out[i] = float64(int32(order.Uint32(payload[i*4:])))
		case DTUint32:
			out[i] = float64(order.Uint32(payload[i*4:]))
		case DTFloat32:
			out[i] = float64(math.Float32frombits(order.Uint32(payload[i*4:])))
		case DTFloat64:
			out[i] = math.Float64frombits(order.Uint64(payload[i*8:]))
		default:
			return fmt.Errorf("%w: %d", ErrUnsupportedDatatype, datatype)
		}
	}
	return nil
}

// NewHeader derives a header for an image of the given shape and datatype,
// keeping the spatial metadata of geometry.
func NewHeader(geometry Header, shape []int, datatype int16) (Header, error) {
	if len(shape) < 3 || len(shape) > 7 {
		return Header{}, fmt.Errorf("%w: %d dimensions", ErrNotVolume, len(shape))
	}
	bpv, err := bytesPerVoxel(datatype)
	if err != nil {
		return Header{}, err
	}

	h := geometry.Geometry()
	h.SizeofHdr = headerSize
	h.Dim = [8]int16{}
	h.Dim[0] = int16(len(shape))
	for i, n := range shape {
		if n < 1 || n > math.MaxInt16 {
			return Header{}, fmt.Errorf("%w: extent %d", ErrBadHeader, n)
		}
		h.Dim[i+1] = int16(n)
	}
	for i := len(shape) + 1; i < 8; i++ {
		h.Dim[i] = 1
	}
	for i := 1; i <= len(shape); i++ {
		if h.Pixdim[i] == 0 {
			h.Pixdim[i] = 1
		}
	}
	h.Datatype = datatype
	h.Bitpix = int16(bpv * 8)
	h.VoxOffset = voxOffset
	h.Magic = magicSingleFile
	return h, nil
}

// Encode writes h and the little-endian payload as a single-file image
func Encode(w io.Writer, h Header, payload []byte) error {
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	// empty extension flag
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("failed to write extension flag: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write voxel data: %w", err)
	}
	return nil
}

// WriteFile writes an image to path, gzip-compressed when path ends in .gz
func WriteFile(path string, h Header, payload []byte) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	bw := bufio.NewWriter(file)
	var w io.Writer = bw
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(bw)
		w = gz
	}
	if err := Encode(w, h, payload); err != nil {
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return file.Close()
}

// EncodeValues converts values to the little-endian storage of datatype
func EncodeValues(values []float64, datatype int16) ([]byte, error) {
	bpv, err := bytesPerVoxel(datatype)
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	out := make([]byte, len(values)*bpv)
	for i, v := range values {
		switch datatype {
		case DTUint8:
			out[i] = uint8(v)
		case DTInt8:
			out[i] = byte(int8(v))
		case DTInt16:
			le.PutUint16(out[i*2:], uint16(int16(v)))
		case DTUint16:
			le.PutUint16(out[i*2:], uint16(v))
		case DTInt32:
			le.PutUint32(out[i*4:], uint32(int32(v)))
		case DTUint32:
			le.PutUint32(out[i*4:], uint32(v))
		case DTFloat32:
			le.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		case DTFloat64:
			le.PutUint64(out[i*8:], math.Float64bits(v))
		}
	}
	return out, nil
}

// WriteVolume saves vol as a 3D image with the geometry of ref
func WriteVolume(path string, ref Header, vol *models.Volume, datatype int16) error {
	h, err := NewHeader(ref, []int{vol.Dims.X, vol.Dims.Y, vol.Dims.Z}, datatype)
	if err != nil {
		return err
	}
	payload, err := EncodeValues(vol.Data, datatype)
	if err != nil {
		return err
	}
	return WriteFile(path, h, payload)
}
