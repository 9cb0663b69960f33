package tensor

import "math/rand"

// DType identifies the element encoding of a matrix.
type DType uint8

const (
	F32 DType = iota
	F16
	BF16
)

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F16:
		return "f16"
	case BF16:
		return "bf16"
	default:
		return "unknown"
	}
}

// ElemSize returns the byte width of one element, or 0 for unknown dtypes.
func (d DType) ElemSize() int {
	switch d {
	case F32:
		return 4
	case F16, BF16:
		return 2
	default:
		return 0
	}
}

// Mat represents a dense row-major matrix of floating point values.
//
// R and C represent the number of rows and columns respectively. Stride is the
// number of elements between the starts of two consecutive rows (for row-major
// matrices this is equal to C).
//
// For f32 matrices Data holds the flattened values. For f16/bf16 matrices Raw
// holds the undecoded bytes and elements are decoded inline in MatVec/RowTo to
// reduce memory bandwidth pressure.
//
// Mat does not perform any memory safety beyond the checks performed by Go's
// slice types; out-of-range indices will panic.
type Mat struct {
	R, C   int
	Stride int

	DType DType
	Data  []float32
	Raw   []byte
}

// NewMat allocates a zero-initialised f32 matrix with the given shape.
// The stride is set to the number of columns.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  F32,
		Data:   make([]float32, r*c),
	}
}

// NewMatFromData creates a matrix from existing data.
// It checks that the data length matches r*c.
func NewMatFromData(r, c int, data []float32) Mat {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  F32,
		Data:   data,
	}
}

// NewMatFromRaw creates a matrix backed by raw bytes in the provided dtype.
// The raw slice must contain exactly r*c elements in row-major layout.
func NewMatFromRaw(r, c int, dtype DType, raw []byte) (Mat, error) {
	if r < 0 || c < 0 {
		return Mat{}, errNegativeDim
	}
	elemSize := dtype.ElemSize()
	if elemSize == 0 {
		return Mat{}, errUnsupportedDType
	}
	want := r * c
	if r != 0 && want/r != c {
		return Mat{}, errMatTooLarge
	}
	wantBytes := want * elemSize
	if want != 0 && wantBytes/want != elemSize {
		return Mat{}, errMatTooLarge
	}
	if len(raw) != wantBytes {
		return Mat{}, errRawSizeMismatch
	}
	if dtype == F32 {
		return Mat{
			R:      r,
			C:      c,
			Stride: c,
			DType:  F32,
			Data:   f32FromRaw(raw),
		}, nil
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  dtype,
		Raw:    raw,
	}, nil
}

// Row returns a view of the i-th row of the matrix as a slice. The slice has
// length equal to the number of columns. For f32 matrices modifications to the
// returned slice update the underlying values; for raw-backed matrices the row
// is decoded into a fresh slice.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	if m.Raw == nil || m.DType == F32 {
		start := i * m.Stride
		return m.Data[start : start+m.C]
	}
	row := make([]float32, m.C)
	m.RowTo(row, i)
	return row
}

// RowTo decodes the i-th row into dst. dst must have length >= C.
func (m *Mat) RowTo(dst []float32, i int) {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	if len(dst) < m.C {
		panic("row buffer too small")
	}
	start := i * m.Stride
	if m.Raw == nil || m.DType == F32 {
		copy(dst[:m.C], m.Data[start:start+m.C])
		return
	}

	rowBytes := m.Stride * 2
	off := i * rowBytes
	switch m.DType {
	case BF16:
		for j := 0; j < m.C; j++ {
			dst[j] = bf16ToF32(u16le(m.Raw, off+j*2))
		}
	case F16:
		for j := 0; j < m.C; j++ {
			dst[j] = fp16ToF32(u16le(m.Raw, off+j*2))
		}
	default:
		panic("unsupported dtype for row decode")
	}
}

// fillRand fills the matrix with reproducible pseudo-random values. A small
// range around zero is used to avoid overflow in accumulations. The seed
// controls the random sequence; multiple calls with the same seed produce
// identical matrices.
func fillRand(m *Mat, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	if m.Raw != nil && m.DType != F32 {
		panic("fillRand only supports f32 mats")
	}
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * 0.02 // roughly in (-0.01,0.01)
	}
}

var (
	errNegativeDim      = fmtError("negative dimension for matrix")
	errUnsupportedDType = fmtError("unsupported dtype for raw matrix")
	errMatTooLarge      = fmtError("matrix too large")
	errRawSizeMismatch  = fmtError("raw data length mismatch")
)

type fmtError string

func (e fmtError) Error() string { return string(e) }
