package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/weftml/weft/internal/gguf"
	"github.com/weftml/weft/internal/hub"
	"github.com/weftml/weft/internal/safetensors"
	"github.com/weftml/weft/internal/tokenizer"
)

func inspectCmd() *cli.Command {
	var showTensors bool

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Dump checkpoint metadata (config, tokenizer, tensors)",
		ArgsUsage: "MODEL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "models-path",
				Aliases:     []string{"path"},
				Usage:       "directory containing managed models",
				Destination: &modelsPath,
			},
			&cli.BoolFlag{
				Name:        "tensors",
				Usage:       "print the full tensor table",
				Value:       true,
				Destination: &showTensors,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			applyModelConfig(c, LoadConfig())

			id := c.Args().First()
			if id == "" {
				id = modelID
			}
			if id == "" {
				return cli.Exit("error: model id is required (weft inspect MODEL)", 1)
			}

			resolved, err := hub.Resolve(id, resolveModelsDir())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			switch resolved.Kind {
			case hub.KindGGUF:
				err = inspectGGUF(resolved.Path, showTensors)
			default:
				err = inspectDir(resolved.Path, showTensors)
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: inspect %s: %v", resolved.Path, err), 1)
			}
			return nil
		},
	}
}

func inspectDir(dir string, showTensors bool) error {
	raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return err
	}

	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse config.json: %w", err)
	}
	fmt.Printf("Checkpoint: %s\n\n", dir)
	fmt.Println("config.json:")
	for _, key := range []string{
		"model_type", "hidden_size", "num_hidden_layers", "num_attention_heads",
		"num_key_value_heads", "intermediate_size", "vocab_size",
		"max_position_embeddings", "torch_dtype",
	} {
		if v, ok := cfg[key]; ok {
			fmt.Printf("  %-26s %v\n", key, v)
		}
	}

	tokPath := filepath.Join(dir, "tokenizer.json")
	if fileExists(tokPath) {
		tokCfgPath := filepath.Join(dir, "tokenizer_config.json")
		if !fileExists(tokCfgPath) {
			tokCfgPath = ""
		}
		tok, err := tokenizer.LoadHFTokenizer(tokPath, tokCfgPath)
		if err != nil {
			fmt.Printf("\ntokenizer: unreadable (%v)\n", err)
		} else {
			fmt.Println("\ntokenizer:")
			printTokenizerSummary(tok)
		}
	}

	if !showTensors {
		return nil
	}
	store, err := safetensors.OpenDir(dir)
	if err != nil {
		return fmt.Errorf("open safetensors: %w", err)
	}
	names := store.Names()
	sort.Strings(names)
	fmt.Printf("\ntensors (%d):\n", len(names))
	for _, name := range names {
		info, _ := store.Tensor(name)
		fmt.Printf("  %-48s %-5s %v\n", name, info.DType, info.Shape)
	}
	return nil
}

func printTokenizerSummary(tok tokenizer.Tokenizer) {
	switch t := tok.(type) {
	case *tokenizer.BPE:
		fmt.Printf("  %-26s %s\n", "kind", "bpe")
		fmt.Printf("  %-26s %d\n", "vocab_size", t.VocabSize())
		fmt.Printf("  %-26s %d (%q)\n", "bos_id", t.BOSID(), t.TokenString(t.BOSID()))
		fmt.Printf("  %-26s %d (%q)\n", "eos_id", t.EOSID(), t.TokenString(t.EOSID()))
		fmt.Printf("  %-26s %v\n", "add_bos", t.AddBOS())
		fmt.Printf("  %-26s %v\n", "add_eos", t.AddEOS())
	case *tokenizer.WordPiece:
		fmt.Printf("  %-26s %s\n", "kind", "wordpiece")
		fmt.Printf("  %-26s %d\n", "vocab_size", t.VocabSize())
	default:
		fmt.Printf("  %-26s %T\n", "kind", tok)
	}
}

func inspectGGUF(path string, showTensors bool) error {
	f, err := gguf.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	fmt.Printf("GGUF: %s\n", path)
	fmt.Printf("  version=%d tensors=%d kv=%d alignment=%d\n\n",
		f.Header.Version, f.Header.TensorCount, f.Header.KVCount, f.Alignment)

	keys := make([]string, 0, len(f.KV))
	for k := range f.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println("metadata:")
	for _, k := range keys {
		fmt.Printf("  %-44s %s\n", k, formatKV(f.KV[k]))
	}

	if !showTensors {
		return nil
	}
	fmt.Printf("\ntensors (%d):\n", len(f.Tensors))
	for _, t := range f.Tensors {
		fmt.Printf("  %-48s %-5s %v\n", t.Name, t.Type, t.Dims)
	}
	return nil
}

// formatKV renders a GGUF metadata value, abbreviating long arrays and
// strings so vocab dumps stay readable.
func formatKV(v gguf.Value) string {
	switch val := v.Value.(type) {
	case gguf.ArrayValue:
		n := len(val.Values)
		const show = 4
		parts := make([]string, 0, show+1)
		for i, item := range val.Values {
			if i == show {
				parts = append(parts, "...")
				break
			}
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		return fmt.Sprintf("[%s] (%d items)", strings.Join(parts, ", "), n)
	case string:
		if len(val) > 64 {
			return fmt.Sprintf("%q...", val[:64])
		}
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
