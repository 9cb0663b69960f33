package gguf

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/weftml/weft/internal/tensor"
)

const (
	QK_K  = 256
	qk8_0 = 32

	q8_0BlockSize = 2 + 32
	q4kBlockSize  = 2 + 2 + 12 + 128
	q6kBlockSize  = 2 + 128 + 64 + 16
)

// DequantizeQ8_0 expands Q8_0 blocks (f16 scale + 32 int8 quants) to float32.
func DequantizeQ8_0(data []byte, n int) ([]float32, error) {
	if n%qk8_0 != 0 {
		return nil, fmt.Errorf("q8_0: n must be multiple of %d", qk8_0)
	}
	blocks := n / qk8_0
	if len(data) != blocks*q8_0BlockSize {
		return nil, fmt.Errorf("q8_0: invalid data length %d for n=%d", len(data), n)
	}
	out := make([]float32, n)
	off := 0
	for b := range blocks {
		d := fp16le(data, off)
		qs := data[off+2 : off+q8_0BlockSize]

		y := out[b*qk8_0:]
		for l := range qk8_0 {
			y[l] = d * float32(int8(qs[l]))
		}
		off += q8_0BlockSize
	}
	return out, nil
}

func DequantizeQ4K(data []byte, n int) ([]float32, error) {
	if n%QK_K != 0 {
		return nil, fmt.Errorf("q4_k: n must be multiple of %d", QK_K)
	}
	blocks := n / QK_K
	if len(data) != blocks*q4kBlockSize {
		return nil, fmt.Errorf("q4_k: invalid data length %d for n=%d", len(data), n)
	}
	out := make([]float32, n)
	off := 0
	for b := range blocks {
		d := fp16le(data, off)
		dmin := fp16le(data, off+2)
		scales := data[off+4 : off+4+12]
		qs := data[off+4+12 : off+q4kBlockSize]

		y := out[b*QK_K:]
		is := 0
		q := qs
		yi := 0
		for j := 0; j < QK_K; j += 64 {
			sc1, m1 := getScaleMinK4(is+0, scales)
			sc2, m2 := getScaleMinK4(is+1, scales)
			d1 := d * float32(sc1)
			d2 := d * float32(sc2)
			mm1 := dmin * float32(m1)
			mm2 := dmin * float32(m2)
			for l := range 32 {
				v := q[l]
				y[yi] = d1*float32(v&0x0F) - mm1
				yi++
			}
			for l := range 32 {
				v := q[l]
				y[yi] = d2*float32(v>>4) - mm2
				yi++
			}
			q = q[32:]
			is += 2
		}

		off += q4kBlockSize
	}
	return out, nil
}

func DequantizeQ6K(data []byte, n int) ([]float32, error) {
	if n%QK_K != 0 {
		return nil, fmt.Errorf("q6_k: n must be multiple of %d", QK_K)
	}
	blocks := n / QK_K
	if len(data) != blocks*q6kBlockSize {
		return nil, fmt.Errorf("q6_k: invalid data length %d for n=%d", len(data), n)
	}
	out := make([]float32, n)
	off := 0
	for b := range blocks {
		d := fp16le(data, off)
		ql := data[off+2 : off+2+128]
		qh := data[off+2+128 : off+2+128+64]
		scales := data[off+2+128+64 : off+q6kBlockSize]

		y := out[b*QK_K:]
		yi := 0
		qlp := ql
		qhp := qh
		scp := scales
		for j := 0; j < QK_K; j += 128 {
			for l := range 32 {
				is := l / 16
				q1 := int8((qlp[l+0]&0x0F)|(((qhp[l]>>0)&3)<<4)) - 32
				q2 := int8((qlp[l+32]&0x0F)|(((qhp[l]>>2)&3)<<4)) - 32
				q3 := int8((qlp[l+0]>>4)|(((qhp[l]>>4)&3)<<4)) - 32
				q4 := int8((qlp[l+32]>>4)|(((qhp[l]>>6)&3)<<4)) - 32
				y[yi+0] = d * float32(int8(scp[is+0])) * float32(q1)
				y[yi+32] = d * float32(int8(scp[is+2])) * float32(q2)
				y[yi+64] = d * float32(int8(scp[is+4])) * float32(q3)
				y[yi+96] = d * float32(int8(scp[is+6])) * float32(q4)
				yi++
			}
			yi += 96
			qlp = qlp[64:]
			qhp = qhp[32:]
			scp = scp[8:]
		}

		off += q6kBlockSize
	}
	return out, nil
}

func getScaleMinK4(j int, scales []byte) (uint8, uint8) {
	if j < 4 {
		return scales[j] & 63, scales[j+4] & 63
	}
	d := (scales[j+4] & 0x0F) | ((scales[j-4] >> 6) << 4)
	m := (scales[j+4] >> 4) | ((scales[j] >> 6) << 4)
	return d, m
}

// fp16le decodes the little-endian f16 at data[off:].
func fp16le(data []byte, off int) float32 {
	return tensor.FP16ToF32(binary.LittleEndian.Uint16(data[off:]))
}

var ErrUnsupportedType = errors.New("unsupported tensor type")
