package gguf

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"unsafe"
)

// TensorByName returns the tensor info for the given name.
func (f *File) TensorByName(name string) (TensorInfo, bool) {
	if f.byName != nil {
		if i, ok := f.byName[name]; ok {
			return f.Tensors[i], true
		}
		return TensorInfo{}, false
	}
	for _, t := range f.Tensors {
		if t.Name == name {
			return t, true
		}
	}
	return TensorInfo{}, false
}

// HasTensor reports whether a tensor with the given name exists.
func (f *File) HasTensor(name string) bool {
	_, ok := f.TensorByName(name)
	return ok
}

// ReadTensorF32 loads a tensor by name and returns its data as float32 along
// with its dims. Supported types: F32, F16, Q8_0, Q4_K, Q6_K.
func ReadTensorF32(f *File, name string) ([]float32, []uint64, error) {
	info, ok := f.TensorByName(name)
	if !ok {
		return nil, nil, fmt.Errorf("tensor not found: %s", name)
	}
	n, err := tensorElements(info.Dims)
	if err != nil {
		return nil, nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	byteSize, err := tensorByteSize(info.Type, n)
	if err != nil {
		return nil, nil, fmt.Errorf("tensor %s: %w", name, err)
	}

	buf, err := f.tensorBytes(info, byteSize)
	if err != nil {
		return nil, nil, err
	}

	switch info.Type {
	case GGMLTypeF32:
		out := make([]float32, n)
		if len(buf) >= n*4 {
			src := unsafe.Slice((*float32)(unsafe.Pointer(&buf[0])), n)
			copy(out, src)
		} else {
			for i := range n {
				out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
			}
		}
		return out, info.Dims, nil
	case GGMLTypeF16:
		out := make([]float32, n)
		for i := range n {
			out[i] = fp16le(buf, i*2)
		}
		return out, info.Dims, nil
	case GGMLTypeQ8_0:
		out, err := DequantizeQ8_0(buf, n)
		if err != nil {
			return nil, nil, err
		}
		return out, info.Dims, nil
	case GGMLTypeQ4_K:
		out, err := DequantizeQ4K(buf, n)
		if err != nil {
			return nil, nil, err
		}
		return out, info.Dims, nil
	case GGMLTypeQ6_K:
		out, err := DequantizeQ6K(buf, n)
		if err != nil {
			return nil, nil, err
		}
		return out, info.Dims, nil
	default:
		return nil, nil, fmt.Errorf("tensor %s (%s): %w", name, info.Type, ErrUnsupportedType)
	}
}

// ReadTensorRaw loads a tensor by name and returns its bytes, dims, and type.
// When the file is mmapped the returned slice aliases the mapping and stays
// valid until Close.
func ReadTensorRaw(f *File, name string) ([]byte, []uint64, TensorType, error) {
	info, ok := f.TensorByName(name)
	if !ok {
		return nil, nil, 0, fmt.Errorf("tensor not found: %s", name)
	}
	n, err := tensorElements(info.Dims)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("tensor %s: %w", name, err)
	}
	byteSize, err := tensorByteSize(info.Type, n)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("tensor %s: %w", name, err)
	}
	buf, err := f.tensorBytes(info, byteSize)
	if err != nil {
		return nil, nil, 0, err
	}
	return buf, info.Dims, info.Type, nil
}

func (f *File) tensorBytes(info TensorInfo, byteSize int) ([]byte, error) {
	off := int64(f.DataOffset + info.Offset)
	if f.Data != nil {
		if int64(len(f.Data)) < off+int64(byteSize) {
			return nil, fmt.Errorf("tensor %s: unexpected EOF (mmap)", info.Name)
		}
		return f.Data[off : off+int64(byteSize)], nil
	}

	buf := make([]byte, byteSize)
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	if _, err := file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read tensor %s: %w", info.Name, err)
	}
	return buf, nil
}

func tensorElements(dims []uint64) (int, error) {
	if len(dims) == 0 {
		return 0, fmt.Errorf("empty dims")
	}
	var n uint64 = 1
	for _, d := range dims {
		if d == 0 {
			return 0, fmt.Errorf("zero dimension")
		}
		n *= d
	}
	if n > uint64(^uint(0)>>1) {
		return 0, fmt.Errorf("tensor too large")
	}
	return int(n), nil
}

func tensorByteSize(t TensorType, n int) (int, error) {
	switch t {
	case GGMLTypeF32:
		return n * 4, nil
	case GGMLTypeF16:
		return n * 2, nil
	case GGMLTypeQ8_0:
		if n%qk8_0 != 0 {
			return 0, fmt.Errorf("q8_0: n must be multiple of %d", qk8_0)
		}
		return (n / qk8_0) * q8_0BlockSize, nil
	case GGMLTypeQ4_K:
		if n%QK_K != 0 {
			return 0, fmt.Errorf("q4_k: n must be multiple of %d", QK_K)
		}
		return (n / QK_K) * q4kBlockSize, nil
	case GGMLTypeQ6_K:
		if n%QK_K != 0 {
			return 0, fmt.Errorf("q6_k: n must be multiple of %d", QK_K)
		}
		return (n / QK_K) * q6kBlockSize, nil
	default:
		return 0, ErrUnsupportedType
	}
}
