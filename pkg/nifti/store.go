package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"fmripipeline/internal/models"
)

// DefaultExt is appended to basenames that carry no NIfTI extension.
const DefaultExt = ".nii.gz"

// Store is a VolumeStore backed by NIfTI-1 files.
type Store struct{}

// NewStore creates a NIfTI-backed volume store.
func NewStore() *Store {
	return &Store{}
}

// Load reads a .nii or .nii.gz file.
func (s *Store) Load(ref string) (*models.Volume, error) {
	f, err := os.Open(ref)
	if err != nil {
		return nil, fmt.Errorf("opening volume: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream of %s: %w", ref, err)
		}
		defer gz.Close()
		r = gz
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading volume %s: %w", ref, err)
	}
	v, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("decoding volume %s: %w", ref, err)
	}
	return v, nil
}

// LoadSet reads every file of a run and concatenates them along time.
func (s *Store) LoadSet(set models.VolumeSet) (*models.Volume, error) {
	if len(set) == 0 {
		return nil, fmt.Errorf("empty volume set")
	}
	vols := make([]*models.Volume, 0, len(set))
	for _, ref := range set {
		v, err := s.Load(ref)
		if err != nil {
			return nil, err
		}
		vols = append(vols, v)
	}
	return models.Concat(vols)
}

// SaveVolume writes the first frame of v to dir/basename.
func (s *Store) SaveVolume(v *models.Volume, dir, basename string) (string, error) {
	frame := v
	if v.Nt > 1 {
		var err error
		if frame, err = v.Frame(0); err != nil {
			return "", err
		}
	}
	return s.write(frame, dir, basename)
}

// SaveVolumes writes all frames of v as one 4-D file.
func (s *Store) SaveVolumes(v *models.Volume, dir, basename string) (models.VolumeSet, error) {
	ref, err := s.write(v, dir, basename)
	if err != nil {
		return nil, err
	}
	return models.VolumeSet{ref}, nil
}

func (s *Store) write(v *models.Volume, dir, basename string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating volume directory: %w", err)
	}
	if !HasExt(basename) {
		basename += DefaultExt
	}
	path := filepath.Join(dir, basename)

	data, err := Encode(v)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+basename+"-*")
	if err != nil {
		return "", fmt.Errorf("creating temporary volume file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if strings.HasSuffix(basename, ".gz") {
		gz := gzip.NewWriter(tmp)
		if _, err := gz.Write(data); err != nil {
			tmp.Close()
			return "", fmt.Errorf("compressing volume: %w", err)
		}
		if err := gz.Close(); err != nil {
			tmp.Close()
			return "", fmt.Errorf("compressing volume: %w", err)
		}
	} else if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing volume: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("writing volume: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("moving volume into place: %w", err)
	}
	return path, nil
}

// HasExt reports whether name ends in .nii or .nii.gz.
func HasExt(name string) bool {
	return strings.HasSuffix(name, ".nii") || strings.HasSuffix(name, ".nii.gz")
}

// Basename strips directories and the NIfTI extension from a reference.
func Basename(ref string) string {
	base := filepath.Base(ref)
	base = strings.TrimSuffix(base, ".gz")
	return strings.TrimSuffix(base, ".nii")
}

// Encode serializes v as an uncompressed single-file NIfTI-1 image with
// float32 voxels.
func Encode(v *models.Volume) ([]byte, error) {
	if len(v.Data) != v.NumVoxels()*v.Nt {
		return nil, fmt.Errorf("volume data has %d values, expected %d", len(v.Data), v.NumVoxels()*v.Nt)
	}
	var buf bytes.Buffer
	buf.Grow(voxOffset + 4*len(v.Data))
	if err := binary.Write(&buf, binary.LittleEndian, newHeader(v)); err != nil {
		return nil, fmt.Errorf("encoding header: %w", err)
	}
	// empty extension block
	buf.Write([]byte{0, 0, 0, 0})

	raw := make([]byte, 4*len(v.Data))
	for i, x := range v.Data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(x)))
	}
	buf.Write(raw)
	return buf.Bytes(), nil
}

// Decode parses an uncompressed single-file NIfTI-1 image.
func Decode(b []byte) (*models.Volume, error) {
	h, order, err := decodeHeader(b)
	if err != nil {
		return nil, err
	}

	nx, ny, nz := dimOrOne(h.Dim[1]), dimOrOne(h.Dim[2]), dimOrOne(h.Dim[3])
	nt := 1
	for i := 4; i <= int(h.Dim[0]); i++ {
		nt *= dimOrOne(h.Dim[i])
	}

	v := models.NewVolume(nx, ny, nz, nt, h.affine())
	v.TR = h.tr()

	offset := int(h.VoxOffset)
	if offset < voxOffset {
		offset = voxOffset
	}
	size := int(h.BitPix) / 8
	need := offset + size*len(v.Data)
	if size == 0 || len(b) < need {
		return nil, fmt.Errorf("truncated image data: have %d bytes, need %d", len(b), need)
	}

	read, err := sampleReader(h.DataType, order)
	if err != nil {
		return nil, err
	}
	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	if slope == 0 {
		slope, inter = 1, 0
	}
	for i := range v.Data {
		v.Data[i] = read(b[offset+i*size:])*slope + inter
	}
	return v, nil
}

func sampleReader(dt int16, order binary.ByteOrder) (func([]byte) float64, error) {
	switch dt {
	case dtUint8:
		return func(b []byte) float64 { return float64(b[0]) }, nil
	case dtInt8:
		return func(b []byte) float64 { return float64(int8(b[0])) }, nil
	case dtInt16:
		return func(b []byte) float64 { return float64(int16(order.Uint16(b))) }, nil
	case dtUint16:
		return func(b []byte) float64 { return float64(order.Uint16(b)) }, nil
	case dtInt32:
		return func(b []byte) float64 { return float64(int32(order.Uint32(b))) }, nil
	case dtUint32:
		return func(b []byte) float64 { return float64(order.Uint32(b)) }, nil
	case dtFloat32:
		return func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }, nil
	case dtFloat64:
		return func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }, nil
	default:
		return nil, fmt.Errorf("unsupported datatype %d", dt)
	}
}

func dimOrOne(d int16) int {
	if d < 1 {
		return 1
	}
	return int(d)
}
