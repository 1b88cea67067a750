// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz) and provides the default VolumeStore of the pipeline.
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"fmripipeline/internal/models"
)

const (
	headerSize = 348
	voxOffset  = 352
)

// Datatype codes from nifti1.h.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
)

// Units codes for xyzt_units.
const (
	unitsMM   = 2
	unitsSec  = 8
	unitsMsec = 16
	unitsUsec = 24
)

// Header is the on-disk NIfTI-1 header.
type Header struct {
	SizeOfHdr    int32
	DataTypeStr  [10]byte
	DBName       [18]byte
	Extents      int32
	SessionError int16
	Regular      byte
	DimInfo      byte

	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	DataType      int16
	BitPix        int16
	SliceStart    int16
	PixDim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	GLMax         int32
	GLMin         int32

	Descrip [80]byte
	AuxFile [24]byte

	QFormCode int16
	SFormCode int16

	QuaternB float32
	QuaternC float32
	QuaternD float32
	QOffsetX float32
	QOffsetY float32
	QOffsetZ float32

	SRowX [4]float32
	SRowY [4]float32
	SRowZ [4]float32

	IntentName [16]byte
	Magic      [4]byte
}

// decodeHeader parses the header and detects the byte order from
// sizeof_hdr.
func decodeHeader(b []byte) (Header, binary.ByteOrder, error) {
	var h Header
	if len(b) < headerSize {
		return h, nil, fmt.Errorf("file too short for a NIfTI-1 header: %d bytes", len(b))
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		if err := binary.Read(bytes.NewReader(b[:headerSize]), order, &h); err != nil {
			return h, nil, fmt.Errorf("decoding header: %w", err)
		}
		if h.SizeOfHdr == headerSize {
			if h.Magic != [4]byte{'n', '+', '1', 0} {
				return h, nil, fmt.Errorf("unsupported magic %q: only single-file NIfTI-1 is supported", h.Magic[:3])
			}
			if h.Dim[0] < 1 || h.Dim[0] > 7 {
				return h, nil, fmt.Errorf("invalid dimension count %d", h.Dim[0])
			}
			return h, order, nil
		}
	}
	return h, nil, fmt.Errorf("invalid header size, not a NIfTI-1 file")
}

// affine returns the voxel-to-world mapping, preferring sform over qform
// and falling back to the voxel sizes.
func (h Header) affine() models.Affine {
	switch {
	case h.SFormCode > 0:
		var a models.Affine
		for j := 0; j < 4; j++ {
			a[0][j] = float64(h.SRowX[j])
			a[1][j] = float64(h.SRowY[j])
			a[2][j] = float64(h.SRowZ[j])
		}
		a[3][3] = 1
		return a
	case h.QFormCode > 0:
		return h.quaternAffine()
	default:
		a := models.IdentityAffine()
		for i := 0; i < 3; i++ {
			if d := float64(h.PixDim[i+1]); d > 0 {
				a[i][i] = d
			}
		}
		return a
	}
}

func (h Header) quaternAffine() models.Affine {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		n := math.Sqrt(b*b + c*c + d*d)
		a, b, c, d = 0, b/n, c/n, d/n
	} else {
		a = math.Sqrt(a)
	}

	dx, dy, dz := float64(h.PixDim[1]), float64(h.PixDim[2]), float64(h.PixDim[3])
	if dx <= 0 {
		dx = 1
	}
	if dy <= 0 {
		dy = 1
	}
	if dz <= 0 {
		dz = 1
	}
	if h.PixDim[0] < 0 {
		dz = -dz
	}

	return models.Affine{
		{(a*a + b*b - c*c - d*d) * dx, 2 * (b*c - a*d) * dy, 2 * (b*d + a*c) * dz, float64(h.QOffsetX)},
		{2 * (b*c + a*d) * dx, (a*a + c*c - b*b - d*d) * dy, 2 * (c*d - a*b) * dz, float64(h.QOffsetY)},
		{2 * (b*d - a*c) * dx, 2 * (c*d + a*b) * dy, (a*a + d*d - c*c - b*b) * dz, float64(h.QOffsetZ)},
		{0, 0, 0, 1},
	}
}

// tr returns the repetition time in seconds.
func (h Header) tr() float64 {
	tr := float64(h.PixDim[4])
	switch h.XYZTUnits & 0x38 {
	case unitsMsec:
		tr /= 1000
	case unitsUsec:
		tr /= 1e6
	}
	return tr
}

// newHeader builds a float32 header for v.
func newHeader(v *models.Volume) Header {
	h := Header{
		SizeOfHdr: headerSize,
		Regular:   'r',
		DataType:  dtFloat32,
		BitPix:    32,
		VoxOffset: voxOffset,
		SclSlope:  1,
		XYZTUnits: unitsMM | unitsSec,
		SFormCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	h.Dim = [8]int16{3, int16(v.Nx), int16(v.Ny), int16(v.Nz), 1, 1, 1, 1}
	if v.Nt > 1 {
		h.Dim[0] = 4
		h.Dim[4] = int16(v.Nt)
	}
	h.PixDim[0] = 1
	for i := 0; i < 3; i++ {
		h.PixDim[i+1] = float32(v.VoxelSize[i])
	}
	h.PixDim[4] = float32(v.TR)
	for j := 0; j < 4; j++ {
		h.SRowX[j] = float32(v.Affine[0][j])
		h.SRowY[j] = float32(v.Affine[1][j])
		h.SRowZ[j] = float32(v.Affine[2][j])
	}
	return h
}
