// Package encoder couples a tokenizer with a loaded model and turns text
// into per-token hidden states and pooled embeddings.
package encoder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weftml/weft/internal/gguf"
	"github.com/weftml/weft/internal/model"
	"github.com/weftml/weft/internal/tokenizer"
)

// Stats records the wall-clock cost of one EncodeText call.
type Stats struct {
	TokenizeDuration time.Duration
	ForwardDuration  time.Duration
	TokensPerSecond  float64
}

// Encoding is the result of one forward pass: every token id that was fed
// to the model and the final hidden state for each position. Hidden rows
// are views into one matrix; callers must not retain them across a
// subsequent EncodeText on the same Encoder if they mutate the values.
type Encoding struct {
	Tokens []int
	Hidden [][]float32
	Dim    int
	Stats  Stats
}

// Encoder runs a single sequence at a time. The mutex serialises callers;
// the underlying model keeps per-instance decode state and scratch buffers.
type Encoder struct {
	mu  sync.Mutex
	m   model.Model
	tok tokenizer.Tokenizer

	path     string
	truncate bool
	gguf     *gguf.File
}

// Dim returns the width of the hidden state vectors.
func (e *Encoder) Dim() int { return e.m.Config().EmbeddingLength }

// Arch returns the detected architecture name.
func (e *Encoder) Arch() string { return e.m.Config().Arch }

// MaxContext returns the longest token sequence one call will accept.
func (e *Encoder) MaxContext() int {
	if inst, ok := e.m.(*model.Instance); ok {
		return inst.MaxContext
	}
	if b, ok := e.m.(*model.Bert); ok {
		return b.MaxContext
	}
	ctx := e.m.Config().ContextLength
	if ctx <= 0 {
		ctx = 2048
	}
	return ctx
}

// Path returns the checkpoint path the encoder was loaded from.
func (e *Encoder) Path() string { return e.path }

// Tokenizer exposes the underlying tokenizer for inspection commands.
func (e *Encoder) Tokenizer() tokenizer.Tokenizer { return e.tok }

// EncodeText tokenizes text and runs the forward pass, returning the last
// hidden state for every position. Inputs longer than the context window
// are an error unless the encoder was loaded with truncation enabled.
func (e *Encoder) EncodeText(ctx context.Context, text string) (*Encoding, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokStart := time.Now()
	ids, err := e.tok.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	tokDur := time.Since(tokStart)

	if len(ids) == 0 {
		return nil, fmt.Errorf("input produced no tokens")
	}
	maxCtx := e.MaxContext()
	if len(ids) > maxCtx {
		if !e.truncate {
			return nil, fmt.Errorf("input is %d tokens but the context window is %d (enable truncation to clip)", len(ids), maxCtx)
		}
		ids = truncateIDs(ids, maxCtx, e.tok)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fwdStart := time.Now()
	hidden, err := e.m.Hidden(ids)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	fwdDur := time.Since(fwdStart)

	rows := make([][]float32, hidden.R)
	for i := range rows {
		rows[i] = hidden.Row(i)
	}

	stats := Stats{
		TokenizeDuration: tokDur,
		ForwardDuration:  fwdDur,
	}
	if fwdDur > 0 {
		stats.TokensPerSecond = float64(len(ids)) / fwdDur.Seconds()
	}

	return &Encoding{
		Tokens: ids,
		Hidden: rows,
		Dim:    hidden.C,
		Stats:  stats,
	}, nil
}

// truncateIDs clips ids to fit the window. When the tokenizer appends a
// trailing special (EOS or SEP) it is preserved at the new end so the
// sequence stays well-formed.
func truncateIDs(ids []int, maxCtx int, tok tokenizer.Tokenizer) []int {
	if len(ids) <= maxCtx {
		return ids
	}
	type eosser interface{ EOSID() int }
	last := ids[len(ids)-1]
	if t, ok := tok.(eosser); ok && t.EOSID() >= 0 && last == t.EOSID() {
		out := make([]int, maxCtx)
		copy(out, ids[:maxCtx-1])
		out[maxCtx-1] = last
		return out
	}
	return ids[:maxCtx]
}
