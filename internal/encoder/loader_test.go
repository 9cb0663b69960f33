package encoder

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
)

// writeTinyLlama synthesizes a one-layer llama checkpoint small enough to
// run a real forward pass in tests: config.json, tokenizer.json and a
// single model.safetensors.
func writeTinyLlama(t *testing.T, dir string) {
	t.Helper()

	const (
		vocab  = 20
		hidden = 8
		ffn    = 16
		heads  = 2
	)

	config := map[string]any{
		"model_type":              "llama",
		"hidden_size":             hidden,
		"intermediate_size":       ffn,
		"num_hidden_layers":       1,
		"num_attention_heads":     heads,
		"num_key_value_heads":     heads,
		"max_position_embeddings": 32,
		"vocab_size":              vocab,
		"rms_norm_eps":            1e-5,
		"rope_theta":              10000.0,
	}
	writeJSON(t, filepath.Join(dir, "config.json"), config)

	tokVocab := map[string]int{}
	for i, tok := range []string{
		"h", "e", "l", "o", "w", "r", "d", "Ġ",
		"he", "ll", "llo", "hello",
		"Ġw", "or", "ld", "orld", "Ġworld",
	} {
		tokVocab[tok] = i
	}
	tokenizerJSON := map[string]any{
		"model": map[string]any{
			"type":  "BPE",
			"vocab": tokVocab,
			"merges": []string{
				"h e", "l l", "ll o", "he llo",
				"Ġ w", "o r", "l d", "or ld", "Ġw orld",
			},
		},
	}
	writeJSON(t, filepath.Join(dir, "tokenizer.json"), tokenizerJSON)

	tensors := map[string][]int{
		"model.embed_tokens.weight":                     {vocab, hidden},
		"model.norm.weight":                             {hidden},
		"model.layers.0.input_layernorm.weight":         {hidden},
		"model.layers.0.post_attention_layernorm.weight": {hidden},
		"model.layers.0.self_attn.q_proj.weight":        {hidden, hidden},
		"model.layers.0.self_attn.k_proj.weight":        {hidden, hidden},
		"model.layers.0.self_attn.v_proj.weight":        {hidden, hidden},
		"model.layers.0.self_attn.o_proj.weight":        {hidden, hidden},
		"model.layers.0.mlp.gate_proj.weight":           {ffn, hidden},
		"model.layers.0.mlp.up_proj.weight":             {ffn, hidden},
		"model.layers.0.mlp.down_proj.weight":           {hidden, ffn},
	}
	writeSafetensorsF32(t, filepath.Join(dir, "model.safetensors"), tensors)
}

func writeJSON(t *testing.T, path string, doc any) {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeSafetensorsF32(t *testing.T, path string, tensors map[string][]int) {
	t.Helper()

	header := map[string]any{}
	var data bytes.Buffer
	offset := 0
	// Map order is unstable but offsets are absolute, so iteration order
	// only changes the layout, not correctness.
	for name, shape := range tensors {
		n := 1
		for _, d := range shape {
			n *= d
		}
		start := offset
		for i := 0; i < n; i++ {
			v := float32(0.1 * math.Sin(float64(i+len(name))))
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			data.Write(buf[:])
		}
		offset += n * 4
		header[name] = map[string]any{
			"dtype":        "F32",
			"shape":        shape,
			"data_offsets": []int{start, offset},
		}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	var file bytes.Buffer
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerJSON)))
	file.Write(lenBuf[:])
	file.Write(headerJSON)
	file.Write(data.Bytes())

	if err := os.WriteFile(path, file.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDirRunsForward(t *testing.T) {
	dir := t.TempDir()
	writeTinyLlama(t, dir)

	enc, err := LoadDir(dir, Options{})
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if enc.Arch() != "llama" {
		t.Errorf("arch = %q, want llama", enc.Arch())
	}
	if enc.Dim() != 8 {
		t.Errorf("dim = %d, want 8", enc.Dim())
	}

	got, err := enc.EncodeText(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("EncodeText: %v", err)
	}
	if len(got.Tokens) != 2 {
		t.Fatalf("tokens = %v, want 2 ids", got.Tokens)
	}
	if len(got.Hidden) != 2 || got.Dim != 8 {
		t.Fatalf("hidden shape (%d, %d), want (2, 8)", len(got.Hidden), got.Dim)
	}
	for i, row := range got.Hidden {
		for j, v := range row {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				t.Fatalf("hidden[%d][%d] = %v", i, j, v)
			}
		}
	}
}

func TestLoadDirDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeTinyLlama(t, dir)

	enc, err := LoadDir(dir, Options{})
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	a, err := enc.EncodeText(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("EncodeText: %v", err)
	}
	aCopy := make([][]float32, len(a.Hidden))
	for i, row := range a.Hidden {
		aCopy[i] = append([]float32(nil), row...)
	}

	b, err := enc.EncodeText(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("EncodeText: %v", err)
	}
	for i := range aCopy {
		for j := range aCopy[i] {
			if aCopy[i][j] != b.Hidden[i][j] {
				t.Fatalf("hidden[%d][%d] differs between runs", i, j)
			}
		}
	}
}

func TestLoadDirMissingConfig(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadDir(dir, Options{}); err == nil {
		t.Fatal("expected error for empty checkpoint dir")
	}
}

func TestLoadRejectsMissingPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent"), Options{}); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestLoadDirTokenizerError(t *testing.T) {
	dir := t.TempDir()
	writeTinyLlama(t, dir)
	if err := os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDir(dir, Options{}); err == nil {
		t.Fatal("expected tokenizer parse error")
	}
}
