// Package nifti reads and writes single-file NIfTI-1 images (.nii and
// .nii.gz).
package nifti

import (
	"errors"
	"fmt"
	"math"
)

const (
	headerSize = 348

	// voxOffset is the data offset for single-file images: header plus the
	// four-byte extension flag.
	voxOffset = 352

	// MaxVoxels is the largest volume accepted, matching the 32-bit linear
	// index used by cluster detection
	MaxVoxels = math.MaxUint32
)

// Datatype codes
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
)

var (
	// ErrBadHeader is returned when the header is not a NIfTI-1 header
	ErrBadHeader = errors.New("invalid NIfTI-1 header")

	// ErrUnsupportedDatatype is returned for datatypes without a decoder
	ErrUnsupportedDatatype = errors.New("unsupported NIfTI datatype")

	// ErrNotVolume is returned for images that are not a single 3D volume
	ErrNotVolume = errors.New("image is not a single 3D volume")
)

// Header is the 348-byte NIfTI-1 header. Field order and sizes follow the
// on-disk layout so the struct can be decoded with encoding/binary.
type Header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// bytesPerVoxel returns the storage size for a datatype
func bytesPerVoxel(datatype int16) (int, error) {
	switch datatype {
	case DTUint8, DTInt8:
		return 1, nil
	case DTInt16, DTUint16:
		return 2, nil
	case DTInt32, DTUint32, DTFloat32:
		return 4, nil
	case DTFloat64:
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedDatatype, datatype)
	}
}

// SpatialDims returns the x, y, z extents
func (h *Header) SpatialDims() (int, int, int) {
	return int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3])
}

// validate checks the header describes a single 3D volume we can decode
func (h *Header) validate() error {
	if h.SizeofHdr != headerSize {
		return fmt.Errorf("%w: sizeof_hdr %d", ErrBadHeader, h.SizeofHdr)
	}
	if h.Dim[0] < 3 || h.Dim[0] > 7 {
		return fmt.Errorf("%w: %d dimensions", ErrNotVolume, h.Dim[0])
	}
	for i := 1; i <= 3; i++ {
		if h.Dim[i] < 1 {
			return fmt.Errorf("%w: dim[%d] = %d", ErrBadHeader, i, h.Dim[i])
		}
	}
	if n := uint64(h.Dim[1]) * uint64(h.Dim[2]) * uint64(h.Dim[3]); n > MaxVoxels {
		return fmt.Errorf("%w: %dx%dx%d exceeds %d voxels", ErrBadHeader, h.Dim[1], h.Dim[2], h.Dim[3], uint64(MaxVoxels))
	}
	for i := 4; i <= int(h.Dim[0]); i++ {
		if h.Dim[i] > 1 {
			return fmt.Errorf("%w: dim[%d] = %d", ErrNotVolume, i, h.Dim[i])
		}
	}
	if _, err := bytesPerVoxel(h.Datatype); err != nil {
		return err
	}
	return nil
}

// scaling returns the slope and intercept to apply to stored values
func (h *Header) scaling() (float64, float64, bool) {
	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	if slope == 0 || (slope == 1 && inter == 0) {
		return 1, 0, false
	}
	return slope, inter, true
}

// Geometry returns a copy of h keeping only spatial metadata, ready to
// describe a derived image with a different shape and datatype.
func (h Header) Geometry() Header {
	g := h
	g.SclSlope = 0
	g.SclInter = 0
	g.CalMax = 0
	g.CalMin = 0
	g.Glmax = 0
	g.Glmin = 0
	g.IntentCode = 0
	g.IntentP1, g.IntentP2, g.IntentP3 = 0, 0, 0
	g.IntentName = [16]byte{}
	return g
}
