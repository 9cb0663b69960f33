package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/weftml/weft/internal/hub"
)

func writeModelDir(t *testing.T, root, name string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"model_type":"llama"}`), 0o644); err != nil {
		t.Fatal(err)
	}
}

func setModelFlags(t *testing.T, model, models string) {
	t.Helper()
	oldModel, oldModels := modelID, modelsPath
	modelID, modelsPath = model, models
	t.Cleanup(func() {
		modelID, modelsPath = oldModel, oldModels
	})
}

func setTTY(t *testing.T, tty bool) {
	t.Helper()
	old := stdinIsTTY
	stdinIsTTY = func() bool { return tty }
	t.Cleanup(func() { stdinIsTTY = old })
}

func TestResolveModelsDirPrecedence(t *testing.T) {
	flagDir := t.TempDir()
	envDir := t.TempDir()
	t.Setenv(envWeftModelsDir, envDir)

	setModelFlags(t, "", flagDir)
	if got := resolveModelsDir(); got != flagDir {
		t.Fatalf("flag should win: got %q want %q", got, flagDir)
	}

	setModelFlags(t, "", "")
	if got := resolveModelsDir(); got != envDir {
		t.Fatalf("env should win: got %q want %q", got, envDir)
	}
}

func TestResolveModelExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(path, []byte("GGUF"), 0o644); err != nil {
		t.Fatal(err)
	}
	setModelFlags(t, path, t.TempDir())

	resolved, err := resolveModel(strings.NewReader(""), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("resolveModel: %v", err)
	}
	if resolved.Kind != hub.KindGGUF || resolved.Path != path {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}
}

func TestResolveModelSingleDiscovered(t *testing.T) {
	root := t.TempDir()
	writeModelDir(t, root, "only")
	setModelFlags(t, "", root)
	setTTY(t, false)

	var stderr bytes.Buffer
	resolved, err := resolveModel(strings.NewReader(""), &stderr)
	if err != nil {
		t.Fatalf("resolveModel: %v", err)
	}
	if resolved.Path != filepath.Join(root, "only") {
		t.Fatalf("unexpected path: %q", resolved.Path)
	}
	if !strings.Contains(stderr.String(), "using model only") {
		t.Fatalf("expected selection notice, got %q", stderr.String())
	}
}

func TestResolveModelMultipleNonInteractive(t *testing.T) {
	root := t.TempDir()
	writeModelDir(t, root, "a")
	writeModelDir(t, root, "b")
	setModelFlags(t, "", root)
	setTTY(t, false)

	_, err := resolveModel(strings.NewReader(""), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "stdin is not interactive") {
		t.Fatalf("expected non-interactive error, got %v", err)
	}
}

func TestResolveModelEmptyDir(t *testing.T) {
	setModelFlags(t, "", t.TempDir())
	setTTY(t, false)

	_, err := resolveModel(strings.NewReader(""), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "no model specified") {
		t.Fatalf("expected discovery error, got %v", err)
	}
}

func TestSelectModelInteractively(t *testing.T) {
	names := []string{"alpha", "beta", "gamma"}

	var stderr bytes.Buffer
	got, err := selectModelInteractively("/models", names, strings.NewReader("2\n"), &stderr)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != "beta" {
		t.Fatalf("selection: got %q", got)
	}

	// Invalid input first, then a valid pick.
	got, err = selectModelInteractively("/models", names, strings.NewReader("nope\n3\n"), &stderr)
	if err != nil {
		t.Fatalf("select after retry: %v", err)
	}
	if got != "gamma" {
		t.Fatalf("selection: got %q", got)
	}

	if _, err := selectModelInteractively("/models", names, strings.NewReader(""), &stderr); err == nil {
		t.Fatalf("expected error on empty stdin")
	}
}

func TestTrimTrailingNewline(t *testing.T) {
	cases := map[string]string{
		"hello\n":   "hello",
		"hello\r\n": "hello",
		"hello":     "hello",
		"":          "",
	}
	for in, want := range cases {
		if got := trimTrailingNewline(in); got != want {
			t.Fatalf("trimTrailingNewline(%q) = %q, want %q", in, got, want)
		}
	}
}
