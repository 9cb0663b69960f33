package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/weftml/weft/internal/encoder"
)

type fakeTextEncoder struct {
	rows int
	dim  int
	err  error
}

func (f fakeTextEncoder) EncodeText(ctx context.Context, text string) (*encoder.Encoding, error) {
	if f.err != nil {
		return nil, f.err
	}
	enc := &encoder.Encoding{
		Tokens: make([]int, f.rows),
		Hidden: make([][]float32, f.rows),
		Dim:    f.dim,
	}
	for i := range enc.Hidden {
		enc.Hidden[i] = make([]float32, f.dim)
	}
	return enc, nil
}

func TestRunPipelineOutput(t *testing.T) {
	var out bytes.Buffer
	err := runPipeline(context.Background(), &out, fakeTextEncoder{rows: 7, dim: 384}, "Example input for AI task")
	if err != nil {
		t.Fatalf("runPipeline: %v", err)
	}

	want := "Input: Example input for AI task\n" +
		"Model output shape: (1, 7, 384)\n" +
		"Processing complete!\n"
	if out.String() != want {
		t.Fatalf("output mismatch:\ngot:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestRunPipelineFailurePrintsNothing(t *testing.T) {
	var out bytes.Buffer
	err := runPipeline(context.Background(), &out, fakeTextEncoder{err: errors.New("boom")}, "text")
	if err == nil {
		t.Fatalf("expected error")
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output on failure, got %q", out.String())
	}
}

func TestCollectInputs(t *testing.T) {
	setTTY(t, true)

	// Positional args win.
	texts, err := collectInputs([]string{"a", "b"}, "", strings.NewReader("ignored"))
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) != 2 || texts[0] != "a" {
		t.Fatalf("args inputs: %v", texts)
	}

	// File input, blank lines skipped.
	path := filepath.Join(t.TempDir(), "inputs.txt")
	if err := os.WriteFile(path, []byte("one\n\ntwo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	texts, err = collectInputs(nil, path, strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) != 2 || texts[1] != "two" {
		t.Fatalf("file inputs: %v", texts)
	}

	// Piped stdin is used when nothing else is given.
	setTTY(t, false)
	texts, err = collectInputs(nil, "", strings.NewReader("x\ny\nz\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) != 3 {
		t.Fatalf("stdin inputs: %v", texts)
	}

	// Interactive terminal with no args yields nothing.
	setTTY(t, true)
	texts, err = collectInputs(nil, "", strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if texts != nil {
		t.Fatalf("expected no inputs, got %v", texts)
	}
}
