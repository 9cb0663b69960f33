package encoder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/weftml/weft/internal/gguf"
	"github.com/weftml/weft/internal/logger"
	"github.com/weftml/weft/internal/model"
	"github.com/weftml/weft/internal/safetensors"
	"github.com/weftml/weft/internal/tokenizer"
)

// Options tune how a checkpoint is loaded.
type Options struct {
	// MaxContext clamps the context window below the model's own limit
	// when positive.
	MaxContext int
	// CacheType selects the KV cache width. Empty means f32.
	CacheType model.CacheType
	// Truncate clips over-long inputs instead of rejecting them.
	Truncate bool
	// Logger receives load diagnostics. Nil means the default logger.
	Logger logger.Logger
}

func (o Options) logger() logger.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logger.Default()
}

// Load instantiates an encoder from a checkpoint path: a directory holds
// config.json + tokenizer.json + safetensors, a file must be GGUF.
func Load(path string, opts Options) (*Encoder, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	if st.IsDir() {
		return LoadDir(path, opts)
	}
	return LoadGGUF(path, opts)
}

// LoadDir loads a HuggingFace-layout checkpoint directory.
func LoadDir(dir string, opts Options) (*Encoder, error) {
	log := opts.logger()
	start := time.Now()

	cfgPath := filepath.Join(dir, "config.json")
	rawConfig, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config.json: %w", err)
	}

	store, err := safetensors.OpenDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", dir, err)
	}

	m, err := model.LoadHF(rawConfig, store, model.Options{
		CacheType:  opts.CacheType,
		MaxContext: opts.MaxContext,
	})
	if err != nil {
		return nil, err
	}

	tokPath := filepath.Join(dir, "tokenizer.json")
	tokCfgPath := filepath.Join(dir, "tokenizer_config.json")
	if _, err := os.Stat(tokCfgPath); err != nil {
		tokCfgPath = ""
	}
	tok, err := tokenizer.LoadHFTokenizer(tokPath, tokCfgPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	cfg := m.Config()
	log.Info("model loaded",
		"path", dir,
		"arch", cfg.Arch,
		"hidden", cfg.EmbeddingLength,
		"layers", cfg.BlockCount,
		"vocab", cfg.VocabSize,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return &Encoder{
		m:        m,
		tok:      tok,
		path:     dir,
		truncate: opts.Truncate,
	}, nil
}

// LoadGGUF loads a single-file GGUF checkpoint, taking config, vocab and
// tensors from its metadata. The encoder owns the file handle; Close
// releases it.
func LoadGGUF(path string, opts Options) (*Encoder, error) {
	log := opts.logger()
	start := time.Now()

	f, err := gguf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gguf %s: %w", path, err)
	}

	m, err := model.LoadGGUF(f, model.Options{
		CacheType:  opts.CacheType,
		MaxContext: opts.MaxContext,
	})
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	vocab, err := ggufVocab(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("gguf vocabulary: %w", err)
	}
	tok, err := vocab.New()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("build tokenizer: %w", err)
	}

	cfg := m.Config()
	log.Info("model loaded",
		"path", path,
		"arch", cfg.Arch,
		"hidden", cfg.EmbeddingLength,
		"layers", cfg.BlockCount,
		"vocab", len(vocab.Tokens),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return &Encoder{
		m:        m,
		tok:      tok,
		path:     path,
		truncate: opts.Truncate,
		gguf:     f,
	}, nil
}

// ggufVocab extracts the tokenizer metadata the ggml conversion embeds
// alongside the tensors.
func ggufVocab(f *gguf.File) (tokenizer.Config, error) {
	var cfg tokenizer.Config

	mdl, err := gguf.MustGetString(f.KV, "tokenizer.ggml.model")
	if err != nil {
		return cfg, err
	}
	cfg.Model = mdl
	cfg.Pre, _ = gguf.GetString(f.KV, "tokenizer.ggml.pre")

	tokens, err := gguf.MustGetArray[string](f.KV, "tokenizer.ggml.tokens")
	if err != nil {
		return cfg, err
	}
	cfg.Tokens = tokens
	cfg.Merges, _ = gguf.GetArray[string](f.KV, "tokenizer.ggml.merges")
	cfg.TokenTypes, _ = gguf.GetArray[int32](f.KV, "tokenizer.ggml.token_type")

	cfg.BOSTokenID = -1
	cfg.EOSTokenID = -1
	cfg.UNKTokenID = -1
	cfg.PADTokenID = -1
	if v, ok := gguf.GetInt64(f.KV, "tokenizer.ggml.bos_token_id"); ok {
		cfg.BOSTokenID = int(v)
	}
	if v, ok := gguf.GetInt64(f.KV, "tokenizer.ggml.eos_token_id"); ok {
		cfg.EOSTokenID = int(v)
	}
	if v, ok := gguf.GetInt64(f.KV, "tokenizer.ggml.unknown_token_id"); ok {
		cfg.UNKTokenID = int(v)
	}
	if v, ok := gguf.GetInt64(f.KV, "tokenizer.ggml.padding_token_id"); ok {
		cfg.PADTokenID = int(v)
	}
	if v, ok := gguf.GetBool(f.KV, "tokenizer.ggml.add_bos_token"); ok {
		cfg.AddBOS = v
	} else {
		cfg.AddBOS = cfg.BOSTokenID >= 0 && !strings.EqualFold(mdl, "bert")
	}
	if v, ok := gguf.GetBool(f.KV, "tokenizer.ggml.add_eos_token"); ok {
		cfg.AddEOS = v
	}

	return cfg, nil
}

// Close releases the backing GGUF mapping, when there is one. Directory
// checkpoints hold no resources past load.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gguf == nil {
		return nil
	}
	err := e.gguf.Close()
	e.gguf = nil
	return err
}
