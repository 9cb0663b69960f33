package export

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	json "github.com/goccy/go-json"
)

func TestJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf)
	rows := []Row{
		{Index: 0, Text: "hello", Tokens: 2, Embedding: []float32{1, 2}},
		{Index: 1, Text: "world", Tokens: 1, Embedding: []float32{3, 4}},
	}
	for _, r := range rows {
		if err := w.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var got Row
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Index != 1 || got.Text != "world" || got.Embedding[1] != 4 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

func TestTableWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewTableWriter(&buf)
	if err := w.Append(Row{Index: 0, Text: "x", Tokens: 3, Embedding: make([]float32, 16)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"index", "tokens", "16", "1 embedding(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTableWriterPreviewTruncates(t *testing.T) {
	vec := make([]float32, 10)
	if got := preview(vec); !strings.Contains(got, "...") {
		t.Errorf("long preview should truncate: %s", got)
	}
	if got := preview([]float32{1, 2}); strings.Contains(got, "...") {
		t.Errorf("short preview should not truncate: %s", got)
	}
}

func TestArrowWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewArrowWriter(&buf, 3)
	if err != nil {
		t.Fatalf("NewArrowWriter: %v", err)
	}
	rows := []Row{
		{Text: "a", Embedding: []float32{1, 2, 3}},
		{Text: "b", Embedding: []float32{4, 5, 6}},
	}
	for _, r := range rows {
		if err := w.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := ipc.NewFileReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewFileReader: %v", err)
	}
	defer r.Close()

	total := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		texts := rec.Column(0).(*array.String)
		lists := rec.Column(1).(*array.FixedSizeList)
		values := lists.ListValues().(*array.Float32)
		for i := 0; i < int(rec.NumRows()); i++ {
			want := rows[total+i]
			if texts.Value(i) != want.Text {
				t.Errorf("row %d text = %q, want %q", total+i, texts.Value(i), want.Text)
			}
			for j := 0; j < 3; j++ {
				if got := values.Value(i*3 + j); got != want.Embedding[j] {
					t.Errorf("row %d[%d] = %v, want %v", total+i, j, got, want.Embedding[j])
				}
			}
		}
		total += int(rec.NumRows())
	}
	if total != len(rows) {
		t.Fatalf("read %d rows, want %d", total, len(rows))
	}
}

func TestArrowWriterDimMismatch(t *testing.T) {
	w, err := NewArrowWriter(io.Discard, 4)
	if err != nil {
		t.Fatalf("NewArrowWriter: %v", err)
	}
	defer w.Close()
	if err := w.Append(Row{Embedding: []float32{1}}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}
