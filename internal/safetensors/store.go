package safetensors

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	json "github.com/goccy/go-json"
)

const (
	singleFileName = "model.safetensors"
	indexFileName  = "model.safetensors.index.json"
)

// Store aggregates the tensors of a checkpoint directory, which holds either
// a single model.safetensors or a sharded set described by
// model.safetensors.index.json.
type Store struct {
	Dir    string
	files  []*File
	byName map[string]*File
}

type indexFile struct {
	Metadata  map[string]json.RawMessage `json:"metadata"`
	WeightMap map[string]string          `json:"weight_map"`
}

// OpenDir opens the checkpoint under dir. A shard index takes precedence over
// a single-file checkpoint; failing both, any *.safetensors files present are
// combined.
func OpenDir(dir string) (*Store, error) {
	if _, err := os.Stat(filepath.Join(dir, indexFileName)); err == nil {
		return openSharded(dir)
	}
	if _, err := os.Stat(filepath.Join(dir, singleFileName)); err == nil {
		return openFiles(dir, []string{filepath.Join(dir, singleFileName)})
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.safetensors"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no safetensors checkpoint in %s", dir)
	}
	sort.Strings(matches)
	return openFiles(dir, matches)
}

func openSharded(dir string) (*Store, error) {
	raw, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		return nil, err
	}
	var idx indexFile
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", indexFileName, err)
	}
	if len(idx.WeightMap) == 0 {
		return nil, fmt.Errorf("%s: empty weight_map", indexFileName)
	}

	shards := make([]string, 0)
	seen := make(map[string]bool)
	for _, shard := range idx.WeightMap {
		if !seen[shard] {
			seen[shard] = true
			shards = append(shards, filepath.Join(dir, shard))
		}
	}
	sort.Strings(shards)

	s, err := openFiles(dir, shards)
	if err != nil {
		return nil, err
	}
	for name := range idx.WeightMap {
		if _, ok := s.byName[name]; !ok {
			return nil, fmt.Errorf("tensor %s listed in index but missing from shards", name)
		}
	}
	return s, nil
}

func openFiles(dir string, paths []string) (*Store, error) {
	s := &Store{
		Dir:    dir,
		byName: make(map[string]*File),
	}
	for _, path := range paths {
		f, err := Open(path)
		if err != nil {
			return nil, fmt.Errorf("open shard %s: %w", filepath.Base(path), err)
		}
		for name := range f.Tensors {
			if prev, ok := s.byName[name]; ok {
				return nil, fmt.Errorf("tensor %s appears in both %s and %s",
					name, filepath.Base(prev.Path), filepath.Base(path))
			}
			s.byName[name] = f
		}
		s.files = append(s.files, f)
	}
	return s, nil
}

// Tensor reports the metadata for name across all shards.
func (s *Store) Tensor(name string) (TensorInfo, bool) {
	f, ok := s.byName[name]
	if !ok {
		return TensorInfo{}, false
	}
	return f.Tensor(name)
}

func (s *Store) HasTensor(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Names returns all tensor names across shards in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) ReadTensor(name string) ([]byte, TensorInfo, error) {
	f, ok := s.byName[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("tensor not found: %s", name)
	}
	return f.ReadTensor(name)
}

func (s *Store) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	f, ok := s.byName[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("tensor not found: %s", name)
	}
	return f.ReadTensorF32(name)
}
