package tensor

import (
	"math"
)

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// RMSNorm performs Root Mean Square Normalization.
func RMSNorm(dst, src, weight []float32, eps float32) {
	var sum float32
	for _, v := range src {
		sum += v * v
	}
	mean := sum / float32(len(src))
	scale := float32(1.0) / float32(math.Sqrt(float64(mean+eps)))
	for i := range src {
		dst[i] = src[i] * scale * weight[i]
	}
}

// LayerNorm normalises src to zero mean and unit variance, then applies the
// elementwise affine transform weight*x + bias. bias may be nil.
func LayerNorm(dst, src, weight, bias []float32, eps float32) {
	n := len(src)
	if n == 0 {
		return
	}
	var sum float64
	for _, v := range src {
		sum += float64(v)
	}
	mean := sum / float64(n)
	var variance float64
	for _, v := range src {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(n)
	inv := 1.0 / math.Sqrt(variance+float64(eps))
	for i := range src {
		normed := float32((float64(src[i]) - mean) * inv)
		if bias != nil {
			dst[i] = normed*weight[i] + bias[i]
		} else {
			dst[i] = normed * weight[i]
		}
	}
}

// Softmax applies the softmax function to x.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Silu computes the Sigmoid Linear Unit (SiLU) activation.
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// Gelu computes the exact Gaussian Error Linear Unit via erf.
func Gelu(x float32) float32 {
	return float32(0.5 * float64(x) * (1.0 + math.Erf(float64(x)/math.Sqrt2)))
}

// GeluTanh computes the tanh approximation of GELU.
func GeluTanh(x float32) float32 {
	v := float64(x)
	return float32(0.5 * v * (1.0 + math.Tanh(0.7978845608028654*(v+0.044715*v*v*v))))
}

// SiluAndMul computes dst[i] = Silu(x[i]) * x[d+i] where d = len(x)/2.
// dst must have length d and x must have even length.
func SiluAndMul(dst, x []float32) {
	if len(x)%2 != 0 {
		panic("SiluAndMul requires even-length input")
	}
	d := len(x) / 2
	if len(dst) < d {
		panic("SiluAndMul dst too small")
	}
	for i := range d {
		dst[i] = Silu(x[i]) * x[d+i]
	}
}

// GeluAndMul computes dst[i] = GeluTanh(x[i]) * x[d+i] where d = len(x)/2.
// dst must have length d and x must have even length.
func GeluAndMul(dst, x []float32) {
	if len(x)%2 != 0 {
		panic("GeluAndMul requires even-length input")
	}
	d := len(x) / 2
	if len(dst) < d {
		panic("GeluAndMul dst too small")
	}
	for i := range d {
		dst[i] = GeluTanh(x[i]) * x[d+i]
	}
}

// ApplyRoPE applies interleaved rotary positional embeddings, rotating the
// element pairs (2i, 2i+1) within each head. headDim must be even. scale
// multiplies the rotated output (1 for unscaled ropes).
func ApplyRoPE(x []float32, nHead, headDim, pos int, invFreq []float64, scale float32) {
	if headDim%2 != 0 {
		panic("headDim must be even for RoPE")
	}
	for h := 0; h < nHead; h++ {
		base := h * headDim
		for i := 0; i < headDim/2; i++ {
			angle := float64(pos) * invFreq[i]
			c := float32(math.Cos(angle)) * scale
			s := float32(math.Sin(angle)) * scale
			i0 := base + 2*i
			i1 := i0 + 1
			x0 := x[i0]
			x1 := x[i1]
			x[i0] = x0*c - x1*s
			x[i1] = x0*s + x1*c
		}
	}
}

// ApplyRoPENeox applies half-rotation rotary embeddings, rotating the element
// pairs (i, i+headDim/2) within each head. This is the layout used by
// unpermuted checkpoint weights. headDim must be even.
func ApplyRoPENeox(x []float32, nHead, headDim, pos int, invFreq []float64, scale float32) {
	if headDim%2 != 0 {
		panic("headDim must be even for RoPE")
	}
	half := headDim / 2
	for h := 0; h < nHead; h++ {
		base := h * headDim
		for i := 0; i < half; i++ {
			angle := float64(pos) * invFreq[i]
			c := float32(math.Cos(angle)) * scale
			s := float32(math.Sin(angle)) * scale
			i0 := base + i
			i1 := i0 + half
			x0 := x[i0]
			x1 := x[i1]
			x[i0] = x0*c - x1*s
			x[i1] = x0*s + x1*c
		}
	}
}
