package vecf

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"

	json "github.com/goccy/go-json"
)

// File is a fully validated, in-memory vecf file. Embedding files are
// small relative to checkpoints so the reader keeps everything resident.
type File struct {
	meta    Metadata
	vectors []byte
}

// Open reads and validates path: magic, version, section directory
// bounds and per-section checksums.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse validates a vecf image already in memory.
func Parse(data []byte) (*File, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is smaller than the header", ErrCorruptFile, len(data))
	}
	if string(data[0:4]) != Magic {
		return nil, ErrInvalidMagic
	}
	major := binary.LittleEndian.Uint16(data[4:])
	if major != CurrentMajor {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMajor, major)
	}
	sectionCount := binary.LittleEndian.Uint32(data[12:])
	dirOffset := binary.LittleEndian.Uint64(data[16:])
	fileSize := binary.LittleEndian.Uint64(data[24:])

	if fileSize != uint64(len(data)) {
		return nil, fmt.Errorf("%w: header says %d bytes, file has %d", ErrCorruptFile, fileSize, len(data))
	}
	// Subtraction form: the additive dirOffset+dirSize can wrap around
	// on a crafted header and slip past the bound check.
	dirSize := uint64(sectionCount) * sectionEntrySize
	if dirOffset < headerSize || dirOffset > uint64(len(data)) || dirSize > uint64(len(data))-dirOffset {
		return nil, fmt.Errorf("%w: section directory out of bounds", ErrCorruptFile)
	}

	f := &File{}
	sawVectors := false
	for i := uint32(0); i < sectionCount; i++ {
		e := data[dirOffset+uint64(i)*sectionEntrySize:]
		typ := binary.LittleEndian.Uint32(e[0:])
		offset := binary.LittleEndian.Uint64(e[8:])
		size := binary.LittleEndian.Uint64(e[16:])
		crc := binary.LittleEndian.Uint32(e[24:])

		if offset < headerSize || offset > uint64(len(data)) || size > uint64(len(data))-offset {
			return nil, fmt.Errorf("%w: section %d out of bounds", ErrCorruptFile, typ)
		}
		payload := data[offset : offset+size]
		if crc32.ChecksumIEEE(payload) != crc {
			return nil, fmt.Errorf("%w: section %d", ErrChecksum, typ)
		}

		switch typ {
		case sectionMeta:
			if err := json.Unmarshal(payload, &f.meta); err != nil {
				return nil, fmt.Errorf("%w: metadata: %v", ErrCorruptFile, err)
			}
		case sectionVectors:
			f.vectors = payload
			sawVectors = true
		}
	}
	if !sawVectors || f.meta.Dim <= 0 {
		return nil, fmt.Errorf("%w: missing sections", ErrCorruptFile)
	}
	if want := uint64(f.meta.Count) * uint64(f.meta.Dim) * 4; want != uint64(len(f.vectors)) {
		return nil, fmt.Errorf("%w: %d vector bytes for count=%d dim=%d", ErrCorruptFile, len(f.vectors), f.meta.Count, f.meta.Dim)
	}
	if f.meta.Texts != nil && len(f.meta.Texts) != f.meta.Count {
		return nil, fmt.Errorf("%w: %d texts for %d rows", ErrCorruptFile, len(f.meta.Texts), f.meta.Count)
	}
	return f, nil
}

// Meta returns the file metadata.
func (f *File) Meta() Metadata { return f.meta }

// Count returns the number of embedding rows.
func (f *File) Count() int { return f.meta.Count }

// Dim returns the embedding dimension.
func (f *File) Dim() int { return f.meta.Dim }

// Vector decodes row i into a fresh slice.
func (f *File) Vector(i int) ([]float32, error) {
	if i < 0 || i >= f.meta.Count {
		return nil, fmt.Errorf("vecf: row %d out of range [0,%d)", i, f.meta.Count)
	}
	row := f.vectors[i*f.meta.Dim*4:]
	out := make([]float32, f.meta.Dim)
	for j := range out {
		out[j] = math.Float32frombits(binary.LittleEndian.Uint32(row[j*4:]))
	}
	return out, nil
}
