// Package export writes embedding rows to the supported output formats:
// a human-readable table, JSON lines and Arrow IPC files.
package export

import (
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
)

// Row is one embedded input.
type Row struct {
	Index     int       `json:"index"`
	Text      string    `json:"text"`
	Tokens    int       `json:"tokens,omitempty"`
	Embedding []float32 `json:"embedding"`
}

// JSONLWriter emits one JSON object per row.
type JSONLWriter struct {
	enc *json.Encoder
}

func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{enc: json.NewEncoder(w)}
}

func (w *JSONLWriter) Append(row Row) error {
	return w.enc.Encode(row)
}

func (w *JSONLWriter) Close() error { return nil }

// TableWriter prints an aligned summary with a short value preview
// instead of the full vector.
type TableWriter struct {
	w       io.Writer
	wrote   bool
	entries int
}

func NewTableWriter(w io.Writer) *TableWriter {
	return &TableWriter{w: w}
}

func (t *TableWriter) Append(row Row) error {
	if !t.wrote {
		if _, err := fmt.Fprintf(t.w, "%5s  %7s  %5s  %s\n", "index", "tokens", "dim", "embedding"); err != nil {
			return err
		}
		t.wrote = true
	}
	t.entries++
	_, err := fmt.Fprintf(t.w, "%5d  %7d  %5d  %s\n", row.Index, row.Tokens, len(row.Embedding), preview(row.Embedding))
	return err
}

func (t *TableWriter) Close() error {
	if !t.wrote {
		return nil
	}
	_, err := fmt.Fprintf(t.w, "\n%d embedding(s)\n", t.entries)
	return err
}

func preview(vec []float32) string {
	const n = 6
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i == n {
			b.WriteString(", ...")
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%.4f", v)
	}
	b.WriteByte(']')
	return b.String()
}
