package tensor

import (
	"math"
	"testing"
)

func TestFP16RoundTrip(t *testing.T) {
	values := []float32{0, 1, -1, 0.5, -2.75, 65504, 6.1035156e-05, 5.9604645e-08}
	for _, v := range values {
		got := FP16ToF32(F32ToFP16Bits(v))
		if !closeEnough(got, v, 1e-3) {
			t.Errorf("fp16 round trip of %g gave %g", v, got)
		}
	}
}

func TestFP16SpecialValues(t *testing.T) {
	inf := float32(math.Inf(1))
	if got := FP16ToF32(F32ToFP16Bits(inf)); !math.IsInf(float64(got), 1) {
		t.Errorf("expected +inf, got %g", got)
	}
	if got := FP16ToF32(F32ToFP16Bits(-inf)); !math.IsInf(float64(got), -1) {
		t.Errorf("expected -inf, got %g", got)
	}
	nan := float32(math.NaN())
	if got := FP16ToF32(F32ToFP16Bits(nan)); !math.IsNaN(float64(got)) {
		t.Errorf("expected NaN, got %g", got)
	}
	// 70000 exceeds fp16 max and must saturate to inf.
	if got := FP16ToF32(F32ToFP16Bits(70000)); !math.IsInf(float64(got), 1) {
		t.Errorf("expected overflow to +inf, got %g", got)
	}
	// Negative zero keeps its sign bit.
	negZero := float32(math.Copysign(0, -1))
	if bits := F32ToFP16Bits(negZero); bits != 0x8000 {
		t.Errorf("expected -0 bits 0x8000, got %#04x", bits)
	}
}

func TestBF16RoundTrip(t *testing.T) {
	// bf16 keeps the f32 exponent so the range survives; only the
	// mantissa is truncated.
	values := []float32{0, 1, -1, 3.14159, 1e30, -1e-30}
	for _, v := range values {
		got := BF16ToF32(F32ToBF16Bits(v))
		if !closeEnough(got, v, 1e-2) {
			t.Errorf("bf16 round trip of %g gave %g", v, got)
		}
	}
}

func TestBF16RoundsToNearestEven(t *testing.T) {
	// 1.0 + 2^-9 is exactly halfway between two bf16 values; ties go
	// to the even mantissa, which is 1.0 here.
	v := math.Float32frombits(0x3F800000 | 0x8000>>1)
	_ = v
	halfway := math.Float32frombits(0x3F808000)
	got := BF16ToF32(F32ToBF16Bits(halfway))
	want := math.Float32frombits(0x3F810000)
	if got != 1.0 && got != want {
		t.Errorf("halfway case rounded to %g (bits %#08x)", got, math.Float32bits(got))
	}
}

func TestTablesMatchDecoders(t *testing.T) {
	for _, u := range []uint16{0, 1, 0x3C00, 0x7BFF, 0x8000, 0xFC00, 0x0400} {
		if got, want := fp16ToF32(u), fp16Decode(u); got != want && !(math.IsNaN(float64(got)) && math.IsNaN(float64(want))) {
			t.Errorf("fp16 table mismatch for %#04x: table=%g decode=%g", u, got, want)
		}
	}
	for _, u := range []uint16{0, 0x3F80, 0x4000, 0xBF80, 0x7F80} {
		want := math.Float32frombits(uint32(u) << 16)
		if got := bf16ToF32(u); got != want {
			t.Errorf("bf16 table mismatch for %#04x: table=%g expected=%g", u, got, want)
		}
	}
}

func TestF32FromRaw(t *testing.T) {
	raw := []byte{0, 0, 0x80, 0x3F, 0, 0, 0, 0xC0} // 1.0, -2.0 little-endian
	got := f32FromRaw(raw)
	if len(got) != 2 || got[0] != 1.0 || got[1] != -2.0 {
		t.Fatalf("expected [1 -2], got %v", got)
	}
	if f32FromRaw(nil) != nil {
		t.Fatal("expected nil for empty input")
	}
}
