package vecf

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"math"
	"os"

	json "github.com/goccy/go-json"
)

type sectionEntry struct {
	typ     uint32
	version uint32
	offset  uint64
	size    uint64
	crc     uint32
}

// Writer streams embedding rows into a vecf file. Rows are written as
// they arrive; metadata and the section directory land on Close.
type Writer struct {
	f    *os.File
	meta Metadata

	crc      hash.Hash32
	vecStart uint64
	vecBytes uint64
	count    int

	sections []sectionEntry
	closed   bool
}

// Create opens path for writing. meta.Dim must be set; meta.Count is
// filled from the appended rows.
func Create(path string, meta Metadata) (*Writer, error) {
	if meta.Dim <= 0 {
		return nil, fmt.Errorf("vecf: dimension must be positive, got %d", meta.Dim)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	// Header placeholder; rewritten with real values on Close.
	if _, err := f.Write(make([]byte, headerSize)); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{
		f:        f,
		meta:     meta,
		crc:      crc32.NewIEEE(),
		vecStart: headerSize,
	}, nil
}

// Append writes one embedding row. The length must match the metadata
// dimension.
func (w *Writer) Append(vec []float32) error {
	if w.closed {
		return fmt.Errorf("vecf: writer is closed")
	}
	if len(vec) != w.meta.Dim {
		return fmt.Errorf("vecf: row has %d values, want %d", len(vec), w.meta.Dim)
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	if _, err := w.f.Write(buf); err != nil {
		return err
	}
	_, _ = w.crc.Write(buf)
	w.vecBytes += uint64(len(buf))
	w.count++
	return nil
}

// AppendText records the row text for the metadata section. Callers
// either track texts for every row or none.
func (w *Writer) AppendText(text string) {
	w.meta.Texts = append(w.meta.Texts, text)
}

// Close finalises the file: metadata section, section directory and the
// real header.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.sections = append(w.sections, sectionEntry{
		typ:     sectionVectors,
		version: 1,
		offset:  w.vecStart,
		size:    w.vecBytes,
		crc:     w.crc.Sum32(),
	})

	w.meta.Count = w.count
	metaJSON, err := json.Marshal(w.meta)
	if err != nil {
		_ = w.f.Close()
		return err
	}
	metaOffset := w.vecStart + w.vecBytes
	if _, err := w.f.Write(metaJSON); err != nil {
		_ = w.f.Close()
		return err
	}
	w.sections = append(w.sections, sectionEntry{
		typ:     sectionMeta,
		version: 1,
		offset:  metaOffset,
		size:    uint64(len(metaJSON)),
		crc:     crc32.ChecksumIEEE(metaJSON),
	})

	dirOffset := metaOffset + uint64(len(metaJSON))
	dir := make([]byte, sectionEntrySize*len(w.sections))
	for i, s := range w.sections {
		e := dir[i*sectionEntrySize:]
		binary.LittleEndian.PutUint32(e[0:], s.typ)
		binary.LittleEndian.PutUint32(e[4:], s.version)
		binary.LittleEndian.PutUint64(e[8:], s.offset)
		binary.LittleEndian.PutUint64(e[16:], s.size)
		binary.LittleEndian.PutUint32(e[24:], s.crc)
	}
	if _, err := w.f.Write(dir); err != nil {
		_ = w.f.Close()
		return err
	}
	fileSize := dirOffset + uint64(len(dir))

	hdr := make([]byte, headerSize)
	copy(hdr[0:4], Magic)
	binary.LittleEndian.PutUint16(hdr[4:], CurrentMajor)
	binary.LittleEndian.PutUint16(hdr[6:], CurrentMinor)
	binary.LittleEndian.PutUint32(hdr[8:], headerSize)
	binary.LittleEndian.PutUint32(hdr[12:], uint32(len(w.sections)))
	binary.LittleEndian.PutUint64(hdr[16:], dirOffset)
	binary.LittleEndian.PutUint64(hdr[24:], fileSize)
	if _, err := w.f.WriteAt(hdr, 0); err != nil {
		_ = w.f.Close()
		return err
	}

	return w.f.Close()
}
