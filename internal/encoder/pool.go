package encoder

import (
	"fmt"
	"math"
)

// Pooling names a strategy for reducing per-token hidden states to one
// fixed-size vector.
type Pooling string

const (
	PoolMean Pooling = "mean"
	PoolCLS  Pooling = "cls"
	PoolLast Pooling = "last"
)

// ParsePooling validates a pooling name. The empty string means mean.
func ParsePooling(s string) (Pooling, error) {
	switch Pooling(s) {
	case "", PoolMean:
		return PoolMean, nil
	case PoolCLS:
		return PoolCLS, nil
	case PoolLast:
		return PoolLast, nil
	default:
		return "", fmt.Errorf("unsupported pooling %q (want mean, cls or last)", s)
	}
}

// Pool reduces an encoding to a single vector. The result is freshly
// allocated and safe to retain.
func Pool(enc *Encoding, strategy Pooling) ([]float32, error) {
	if enc == nil || len(enc.Hidden) == 0 {
		return nil, fmt.Errorf("cannot pool an empty encoding")
	}
	switch strategy {
	case "", PoolMean:
		out := make([]float32, enc.Dim)
		for _, row := range enc.Hidden {
			for i, v := range row {
				out[i] += v
			}
		}
		inv := float32(1) / float32(len(enc.Hidden))
		for i := range out {
			out[i] *= inv
		}
		return out, nil
	case PoolCLS:
		out := make([]float32, enc.Dim)
		copy(out, enc.Hidden[0])
		return out, nil
	case PoolLast:
		out := make([]float32, enc.Dim)
		copy(out, enc.Hidden[len(enc.Hidden)-1])
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported pooling %q", strategy)
	}
}

// Normalize scales v to unit L2 norm in place. Zero vectors are left
// untouched.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
