package safetensors

import (
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
)

func writeIndex(t *testing.T, dir string, weightMap map[string]string) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"metadata":   map[string]any{"total_size": 0},
		"weight_map": weightMap,
	})
	if err != nil {
		t.Fatalf("marshal index: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, indexFileName), raw, 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
}

func TestOpenDirSingleFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeSafetensors(t, filepath.Join(dir, singleFileName), map[string]tensorHeader{
		"w": {DType: "F32", Shape: []int{2}, DataOffsets: []int64{0, 8}},
	}, f32Bytes(1, 2))

	s, err := OpenDir(dir)
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	if !s.HasTensor("w") {
		t.Fatal("expected tensor w")
	}
	got, _, err := s.ReadTensorF32("w")
	if err != nil {
		t.Fatalf("ReadTensorF32: %v", err)
	}
	if got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected [1 2], got %v", got)
	}
}

func TestOpenDirSharded(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	writeSafetensors(t, filepath.Join(dir, "model-00001-of-00002.safetensors"), map[string]tensorHeader{
		"a": {DType: "F32", Shape: []int{1}, DataOffsets: []int64{0, 4}},
	}, f32Bytes(10))
	writeSafetensors(t, filepath.Join(dir, "model-00002-of-00002.safetensors"), map[string]tensorHeader{
		"b": {DType: "F32", Shape: []int{1}, DataOffsets: []int64{0, 4}},
	}, f32Bytes(20))
	writeIndex(t, dir, map[string]string{
		"a": "model-00001-of-00002.safetensors",
		"b": "model-00002-of-00002.safetensors",
	})

	s, err := OpenDir(dir)
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	names := s.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected names: %v", names)
	}

	gotA, _, err := s.ReadTensorF32("a")
	if err != nil {
		t.Fatalf("read a: %v", err)
	}
	gotB, _, err := s.ReadTensorF32("b")
	if err != nil {
		t.Fatalf("read b: %v", err)
	}
	if gotA[0] != 10 || gotB[0] != 20 {
		t.Fatalf("expected a=10 b=20, got a=%v b=%v", gotA, gotB)
	}
}

func TestOpenDirShardedMissingTensor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	writeSafetensors(t, filepath.Join(dir, "shard.safetensors"), map[string]tensorHeader{
		"present": {DType: "F32", Shape: []int{1}, DataOffsets: []int64{0, 4}},
	}, nil)
	writeIndex(t, dir, map[string]string{
		"present": "shard.safetensors",
		"missing": "shard.safetensors",
	})

	if _, err := OpenDir(dir); err == nil {
		t.Fatal("expected error for tensor missing from shard")
	}
}

func TestOpenDirDuplicateTensor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	writeSafetensors(t, filepath.Join(dir, "s1.safetensors"), map[string]tensorHeader{
		"dup": {DType: "F32", Shape: []int{1}, DataOffsets: []int64{0, 4}},
	}, nil)
	writeSafetensors(t, filepath.Join(dir, "s2.safetensors"), map[string]tensorHeader{
		"dup": {DType: "F32", Shape: []int{1}, DataOffsets: []int64{0, 4}},
	}, nil)

	if _, err := OpenDir(dir); err == nil {
		t.Fatal("expected error for duplicate tensor across shards")
	}
}

func TestOpenDirEmpty(t *testing.T) {
	t.Parallel()
	if _, err := OpenDir(t.TempDir()); err == nil {
		t.Fatal("expected error for directory without checkpoint")
	}
}
