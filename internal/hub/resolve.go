// Package hub locates checkpoints by string identifier and downloads
// them from the HuggingFace hub. Resolution walks local sources in a
// fixed order: explicit paths, the configured models directory, the
// HuggingFace cache and the ollama blob store.
package hub

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

const envOllamaModels = "OLLAMA_MODELS"

// Kind says how the resolved artifact should be loaded.
type Kind int

const (
	KindDir Kind = iota
	KindGGUF
)

// Resolved is a checkpoint location on disk.
type Resolved struct {
	Path string
	Kind Kind
}

// Resolve maps a model identifier to a local checkpoint. Misses report
// every location that was tried.
func Resolve(id, modelsDir string) (Resolved, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Resolved{}, fmt.Errorf("model id is required")
	}

	var tried []string

	if r, ok := classify(id); ok {
		return r, nil
	}
	tried = append(tried, id)

	if modelsDir != "" {
		for _, cand := range []string{
			filepath.Join(modelsDir, id),
			filepath.Join(modelsDir, strings.ReplaceAll(id, "/", "--")),
			filepath.Join(modelsDir, id+".gguf"),
		} {
			if r, ok := classify(cand); ok {
				return r, nil
			}
			tried = append(tried, cand)
		}
	}

	if snap, err := hfCacheSnapshot(id); err == nil {
		return Resolved{Path: snap, Kind: KindDir}, nil
	} else {
		tried = append(tried, err.Error())
	}

	if blob, err := ollamaBlob(id); err == nil {
		return Resolved{Path: blob, Kind: KindGGUF}, nil
	} else {
		tried = append(tried, err.Error())
	}

	return Resolved{}, fmt.Errorf("model %q not found; tried:\n  %s", id, strings.Join(tried, "\n  "))
}

// classify accepts an existing path: directories must hold a config.json
// to count as a checkpoint, files must be GGUF by extension.
func classify(path string) (Resolved, bool) {
	st, err := os.Stat(path)
	if err != nil {
		return Resolved{}, false
	}
	if st.IsDir() {
		if fileExists(filepath.Join(path, "config.json")) {
			return Resolved{Path: filepath.Clean(path), Kind: KindDir}, true
		}
		return Resolved{}, false
	}
	if strings.EqualFold(filepath.Ext(path), ".gguf") {
		return Resolved{Path: filepath.Clean(path), Kind: KindGGUF}, true
	}
	return Resolved{}, false
}

// hfCacheSnapshot finds the newest snapshot of ORG/NAME in the local
// HuggingFace cache that actually contains a config.json.
func hfCacheSnapshot(id string) (string, error) {
	org, name, ok := strings.Cut(id, "/")
	if !ok {
		return "", fmt.Errorf("hf cache: %q is not ORG/NAME", id)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("hf cache: %w", err)
	}
	cacheDir := os.Getenv("HF_HOME")
	if cacheDir == "" {
		cacheDir = filepath.Join(home, ".cache", "huggingface")
	}
	snapRoot := filepath.Join(cacheDir, "hub", "models--"+org+"--"+name, "snapshots")
	ents, err := os.ReadDir(snapRoot)
	if err != nil {
		return "", fmt.Errorf("hf cache: %s", snapRoot)
	}

	type snap struct {
		path string
		mod  int64
	}
	var snaps []snap
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(snapRoot, e.Name())
		if !fileExists(filepath.Join(p, "config.json")) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, snap{path: p, mod: info.ModTime().UnixNano()})
	}
	if len(snaps) == 0 {
		return "", fmt.Errorf("hf cache: no usable snapshot under %s", snapRoot)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].mod > snaps[j].mod })
	return snaps[0].path, nil
}

type ollamaManifest struct {
	SchemaVersion int `json:"schemaVersion"`
	Layers        []struct {
		MediaType string `json:"mediaType"`
		Digest    string `json:"digest"`
	} `json:"layers"`
}

const ollamaModelMediaType = "application/vnd.ollama.image.model"

// ollamaBlob resolves NAME[:TAG] through the local ollama store manifest
// to the GGUF blob it points at.
func ollamaBlob(id string) (string, error) {
	name, tag, ok := strings.Cut(id, ":")
	if !ok {
		tag = "latest"
	}
	if strings.Contains(name, "/") {
		return "", fmt.Errorf("ollama: %q is not a library model name", id)
	}

	base := os.Getenv(envOllamaModels)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("ollama: %w", err)
		}
		base = filepath.Join(home, ".ollama", "models")
	}

	manifestPath := filepath.Join(base, "manifests", "registry.ollama.ai", "library", name, tag)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", fmt.Errorf("ollama: %s", manifestPath)
	}
	var m ollamaManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("ollama: parse %s: %w", manifestPath, err)
	}

	for _, l := range m.Layers {
		if l.MediaType != ollamaModelMediaType {
			continue
		}
		blob := filepath.Join(base, "blobs", strings.Replace(l.Digest, ":", "-", 1))
		if fileExists(blob) {
			return blob, nil
		}
		return "", fmt.Errorf("ollama: blob missing at %s", blob)
	}
	return "", fmt.Errorf("ollama: no model layer in %s", manifestPath)
}

// List names the checkpoints under a models directory: subdirectories
// with a config.json and loose .gguf files, sorted.
func List(modelsDir string) ([]string, error) {
	st, err := os.Stat(modelsDir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", modelsDir)
	}
	ents, err := os.ReadDir(modelsDir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range ents {
		if e.IsDir() {
			if fileExists(filepath.Join(modelsDir, e.Name(), "config.json")) {
				names = append(names, e.Name())
			}
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".gguf") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
