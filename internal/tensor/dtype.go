package tensor

import (
	"math"
	"unsafe"
)

var nativeLittleEndian = func() bool {
	var x uint16 = 1
	b := (*[2]byte)(unsafe.Pointer(&x))
	return b[0] == 1
}()

// bf16Table maps every possible BF16 bit-pattern to float32.
var bf16Table = func() [1 << 16]float32 {
	var tbl [1 << 16]float32
	for i := range tbl {
		tbl[i] = math.Float32frombits(uint32(i) << 16)
	}
	return tbl
}()

// fp16Table maps every possible FP16 bit-pattern to float32.
var fp16Table = func() [1 << 16]float32 {
	var tbl [1 << 16]float32
	for i := range tbl {
		tbl[i] = fp16Decode(uint16(i))
	}
	return tbl
}()

func u16le(b []byte, off int) uint16 {
	_ = b[off+1]
	return uint16(b[off]) | uint16(b[off+1])<<8
}

// rawUint16LE provides a fast unsafe view when the host is little-endian and
// the backing storage is suitably aligned. Callers must still bounds-check.
func rawUint16LE(raw []byte) ([]uint16, bool) {
	if !nativeLittleEndian || len(raw) == 0 || len(raw)%2 != 0 {
		return nil, false
	}
	if uintptr(unsafe.Pointer(&raw[0]))%2 != 0 {
		return nil, false
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&raw[0])), len(raw)/2), true
}

// f32FromRaw reinterprets little-endian f32 bytes as a []float32. When the
// host layout does not permit an aliased view the bytes are decoded into a
// fresh slice.
func f32FromRaw(raw []byte) []float32 {
	if len(raw)%4 != 0 {
		panic("f32 raw length not a multiple of 4")
	}
	n := len(raw) / 4
	if n == 0 {
		return nil
	}
	if nativeLittleEndian && uintptr(unsafe.Pointer(&raw[0]))%4 == 0 {
		return unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), n)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		u := uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24
		out[i] = math.Float32frombits(u)
	}
	return out
}

func bf16ToF32(u uint16) float32 {
	return bf16Table[u]
}

func fp16ToF32(u uint16) float32 {
	return fp16Table[u]
}

// BF16ToF32 decodes a bfloat16 bit pattern.
func BF16ToF32(u uint16) float32 { return bf16Table[u] }

// FP16ToF32 decodes an IEEE 754 binary16 bit pattern.
func FP16ToF32(u uint16) float32 { return fp16Table[u] }

// F32ToBF16Bits truncates a float32 to bfloat16 with round-to-nearest-even.
func F32ToBF16Bits(f float32) uint16 {
	u := math.Float32bits(f)
	rnd := uint32(0x7FFF + ((u >> 16) & 1))
	return uint16((u + rnd) >> 16)
}

// F32ToFP16Bits implements IEEE 754 binary16 rounding (nearest-even).
func F32ToFP16Bits(f float32) uint16 {
	u := math.Float32bits(f)
	sign := (u >> 31) & 0x1
	exp := int((u >> 23) & 0xFF)
	frac := u & 0x7FFFFF

	if exp == 0xFF {
		// Inf/NaN
		if frac != 0 {
			return uint16((sign << 15) | 0x7C00 | (frac >> 13) | 1)
		}
		return uint16((sign << 15) | 0x7C00)
	}

	// unbiased exponent
	e := exp - 127
	if e > 15 {
		// overflow -> inf
		return uint16((sign << 15) | 0x7C00)
	}
	if e < -14 {
		// subnormal or zero
		if e < -24 {
			return uint16(sign << 15)
		}
		// add implicit leading 1 then shift into subnormal range
		frac |= 0x800000
		shift := uint32(-14 - e)
		// round-to-nearest-even
		rnd := uint32(1<<(shift-1)) - 1 + ((frac >> shift) & 1)
		frac = (frac + rnd) >> shift
		return uint16((sign << 15) | (frac >> 13))
	}

	// normal
	exp16 := uint32(e + 15)
	// round-to-nearest-even on frac>>13
	rnd := uint32(0xFFF + ((frac >> 13) & 1))
	frac = frac + rnd
	if (frac & 0x800000) != 0 {
		// carry into exponent
		exp16++
		frac = 0
		if exp16 >= 0x1F {
			return uint16((sign << 15) | 0x7C00)
		}
	}
	return uint16((sign << 15) | (exp16 << 10) | (frac >> 13))
}

// fp16Decode is the branchy reference decoder used to build fp16Table.
func fp16Decode(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)
	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
		} else {
			e := uint32(127 - 15 + 1)
			for (frac & 0x400) == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f = (sign << 31) | (e << 23) | (frac << 13)
		}
	case 0x1F:
		f = (sign << 31) | 0x7F800000 | (frac << 13)
	default:
		e := exp + (127 - 15)
		f = (sign << 31) | (e << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}
