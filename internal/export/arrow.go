package export

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// arrowBatchRows is how many rows accumulate before a record batch is
// flushed to the IPC stream.
const arrowBatchRows = 1024

// ArrowWriter emits an Arrow IPC file with schema
// (text: utf8, embedding: fixed_size_list<float32>[dim]).
type ArrowWriter struct {
	dim     int
	writer  *ipc.FileWriter
	builder *array.RecordBuilder
	pending int
}

func NewArrowWriter(w io.Writer, dim int) (*ArrowWriter, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("arrow export: dimension must be positive, got %d", dim)
	}
	alloc := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "text", Type: arrow.BinaryTypes.String},
		{Name: "embedding", Type: arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)},
	}, nil)

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(alloc))
	if err != nil {
		return nil, fmt.Errorf("arrow export: %w", err)
	}
	return &ArrowWriter{
		dim:     dim,
		writer:  fw,
		builder: array.NewRecordBuilder(alloc, schema),
	}, nil
}

func (w *ArrowWriter) Append(row Row) error {
	if len(row.Embedding) != w.dim {
		return fmt.Errorf("arrow export: row has %d values, want %d", len(row.Embedding), w.dim)
	}
	w.builder.Field(0).(*array.StringBuilder).Append(row.Text)
	lb := w.builder.Field(1).(*array.FixedSizeListBuilder)
	lb.Append(true)
	lb.ValueBuilder().(*array.Float32Builder).AppendValues(row.Embedding, nil)

	w.pending++
	if w.pending >= arrowBatchRows {
		return w.flush()
	}
	return nil
}

func (w *ArrowWriter) flush() error {
	if w.pending == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	w.pending = 0
	return w.writer.Write(rec)
}

// Close flushes the final batch and finalises the IPC footer.
func (w *ArrowWriter) Close() error {
	flushErr := w.flush()
	w.builder.Release()
	if err := w.writer.Close(); err != nil {
		return err
	}
	return flushErr
}
