// Package vecf reads and writes the weft embedding container: a small
// binary format holding a float32 matrix of embeddings plus a JSON
// metadata section, with a CRC-protected section directory so truncated
// or corrupted files are detected on open.
package vecf

import "errors"

const (
	// Magic opens every vecf file.
	Magic = "VECF"

	// CurrentMajor changes only on breaking layout changes.
	CurrentMajor uint16 = 1
	// CurrentMinor tracks additive changes.
	CurrentMinor uint16 = 0
)

var (
	ErrInvalidMagic     = errors.New("invalid VECF magic")
	ErrUnsupportedMajor = errors.New("unsupported VECF major version")
	ErrCorruptFile      = errors.New("corrupt VECF file")
	ErrChecksum         = errors.New("VECF section checksum mismatch")
)

// Section types.
const (
	sectionMeta    uint32 = 0x0001
	sectionVectors uint32 = 0x0002
)

// header is the fixed-size file prologue.
//
//	magic      [4]byte
//	major      uint16
//	minor      uint16
//	headerSize uint32
//	count      uint32   section count
//	dirOffset  uint64
//	fileSize   uint64
const headerSize = 32

// section directory entry:
//
//	type    uint32
//	version uint32
//	offset  uint64
//	size    uint64
//	crc32   uint32  (IEEE, over the section bytes)
//	pad     uint32
const sectionEntrySize = 32

// Metadata describes the embedding matrix. Texts is optional; when the
// writer is given row texts they round-trip alongside the vectors.
type Metadata struct {
	Model      string   `json:"model"`
	Dim        int      `json:"dim"`
	Pooling    string   `json:"pooling,omitempty"`
	Normalized bool     `json:"normalized,omitempty"`
	Count      int      `json:"count"`
	Texts      []string `json:"texts,omitempty"`
}
