package tensor

import (
	"math"
	"testing"
)

func matVecNaive(dst []float32, w *Mat, x []float32) {
	for i := 0; i < w.R; i++ {
		row := w.Data[i*w.Stride : i*w.Stride+w.C]
		var sum float32
		for j := 0; j < w.C; j++ {
			sum += row[j] * x[j]
		}
		dst[i] = sum
	}
}

func encodeBF16Raw(data []float32) []byte {
	raw := make([]byte, len(data)*2)
	for i, v := range data {
		u := F32ToBF16Bits(v)
		raw[i*2] = byte(u)
		raw[i*2+1] = byte(u >> 8)
	}
	return raw
}

func encodeFP16Raw(data []float32) []byte {
	raw := make([]byte, len(data)*2)
	for i, v := range data {
		u := F32ToFP16Bits(v)
		raw[i*2] = byte(u)
		raw[i*2+1] = byte(u >> 8)
	}
	return raw
}

func fillSeq(x []float32) {
	for i := range x {
		x[i] = float32(i%13) / 13
	}
}

func TestMatVecMatchesNaive(t *testing.T) {
	for _, shape := range []struct{ r, c int }{
		{1, 1}, {3, 5}, {64, 64}, {127, 129}, {256, 64},
	} {
		w := NewMat(shape.r, shape.c)
		fillRand(&w, 42)
		x := make([]float32, shape.c)
		fillSeq(x)

		want := make([]float32, shape.r)
		got := make([]float32, shape.r)
		matVecNaive(want, &w, x)
		MatVec(got, &w, x)

		for i := range want {
			if !closeEnough(want[i], got[i], 1e-5) {
				t.Fatalf("shape %dx%d: mismatch at row %d: naive=%g pool=%g",
					shape.r, shape.c, i, want[i], got[i])
			}
		}
	}
}

func TestMatVecRawBF16(t *testing.T) {
	r, c := 128, 192
	w := NewMat(r, c)
	x := make([]float32, c)
	dstF32 := make([]float32, r)
	dstRaw := make([]float32, r)
	fillRand(&w, 42)
	fillSeq(x)

	raw := encodeBF16Raw(w.Data)
	wRaw, err := NewMatFromRaw(r, c, BF16, raw)
	if err != nil {
		t.Fatalf("NewMatFromRaw bf16: %v", err)
	}

	MatVec(dstF32, &w, x)
	MatVec(dstRaw, &wRaw, x)

	// bf16 is coarse; allow small relative error.
	for i := range dstF32 {
		a := dstF32[i]
		b := dstRaw[i]
		if !closeEnough(a, b, 5e-2) {
			t.Fatalf("bf16 mismatch at %d: f32=%g raw=%g", i, a, b)
		}
	}
}

func TestMatVecRawF16(t *testing.T) {
	r, c := 128, 192
	w := NewMat(r, c)
	x := make([]float32, c)
	dstF32 := make([]float32, r)
	dstRaw := make([]float32, r)
	fillRand(&w, 7)
	fillSeq(x)

	raw := encodeFP16Raw(w.Data)
	wRaw, err := NewMatFromRaw(r, c, F16, raw)
	if err != nil {
		t.Fatalf("NewMatFromRaw f16: %v", err)
	}

	MatVec(dstF32, &w, x)
	MatVec(dstRaw, &wRaw, x)

	for i := range dstF32 {
		a := dstF32[i]
		b := dstRaw[i]
		if !closeEnough(a, b, 2e-2) {
			t.Fatalf("f16 mismatch at %d: f32=%g raw=%g", i, a, b)
		}
	}
}

func TestMatVecRawF32AliasesData(t *testing.T) {
	r, c := 4, 3
	data := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	raw := make([]byte, len(data)*4)
	for i, v := range data {
		u := math.Float32bits(v)
		raw[i*4] = byte(u)
		raw[i*4+1] = byte(u >> 8)
		raw[i*4+2] = byte(u >> 16)
		raw[i*4+3] = byte(u >> 24)
	}

	m, err := NewMatFromRaw(r, c, F32, raw)
	if err != nil {
		t.Fatalf("NewMatFromRaw f32: %v", err)
	}
	if m.Data == nil {
		t.Fatal("expected f32 raw mat to populate Data")
	}
	for i, want := range data {
		if m.Data[i] != want {
			t.Fatalf("data[%d]: expected %g, got %g", i, want, m.Data[i])
		}
	}
}

func BenchmarkMatVecNaive(b *testing.B) {
	r, c := 2048, 2048
	w := NewMat(r, c)
	x := make([]float32, c)
	dst := make([]float32, r)
	fillRand(&w, 1)

	for b.Loop() {
		matVecNaive(dst, &w, x)
	}
}

func BenchmarkMatVecPool(b *testing.B) {
	r, c := 2048, 2048
	w := NewMat(r, c)
	x := make([]float32, c)
	dst := make([]float32, r)
	fillRand(&w, 1)

	for b.Loop() {
		MatVec(dst, &w, x)
	}
}

func BenchmarkMatVecPoolBF16(b *testing.B) {
	benchMatVecPoolBF16(b, 2048, 2048)
}

func BenchmarkMatVecPoolBF16_9728x2560(b *testing.B) {
	benchMatVecPoolBF16(b, 9728, 2560)
}

func benchMatVecPoolBF16(b *testing.B, r, c int) {
	w := NewMat(r, c)
	fillRand(&w, 1)

	raw := encodeBF16Raw(w.Data)
	wRaw, err := NewMatFromRaw(r, c, BF16, raw)
	if err != nil {
		b.Fatalf("NewMatFromRaw bf16: %v", err)
	}

	x := make([]float32, c)
	dst := make([]float32, r)
	b.ResetTimer()
	for b.Loop() {
		MatVec(dst, &wRaw, x)
	}
}

func BenchmarkMatVecPoolF16(b *testing.B) {
	r, c := 2048, 2048
	w := NewMat(r, c)
	x := make([]float32, c)
	dst := make([]float32, r)
	fillRand(&w, 1)

	raw := encodeFP16Raw(w.Data)
	wRaw, err := NewMatFromRaw(r, c, F16, raw)
	if err != nil {
		b.Fatalf("NewMatFromRaw f16: %v", err)
	}

	b.ResetTimer()
	for b.Loop() {
		MatVec(dst, &wRaw, x)
	}
}

func closeEnough(a, b float32, rel float64) bool {
	da := float64(a)
	db := float64(b)
	diff := math.Abs(da - db)
	scale := math.Max(1.0, math.Max(math.Abs(da), math.Abs(db)))
	return diff <= rel*scale
}
