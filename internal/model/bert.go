package model

import (
	"fmt"
	"math"
	"sync"

	"github.com/weftml/weft/internal/tensor"
)

// Bert is a loaded bidirectional encoder. Unlike Instance it keeps no
// decode state; every Hidden call processes a full sequence.
type Bert struct {
	Cfg Config

	WordEmb     *tensor.Mat
	PosEmb      *tensor.Mat
	TypeEmb     *tensor.Mat
	EmbNorm     []float32
	EmbNormBias []float32

	Layers []BertLayer

	MaxContext int

	headDim int

	pool     *attnPool
	poolOnce sync.Once
}

// BertLayer is one post-norm encoder block: self-attention with output
// LayerNorm, then an intermediate/output feed-forward with its own
// LayerNorm. Every projection carries a bias.
type BertLayer struct {
	Wq, Wk, Wv, Wo             *tensor.Mat
	QBias, KBias, VBias, OBias []float32

	AttnNorm     []float32
	AttnNormBias []float32

	FfnUp, FfnDown   *tensor.Mat
	UpBias, DownBias []float32

	OutNorm     []float32
	OutNormBias []float32
}

func loadBert(src tensorSource, spec *archSpec, cfg Config, opts Options) (*Bert, error) {
	names := spec.bert
	if names == nil {
		return nil, fmt.Errorf("architecture %s has no encoder layout", spec.name)
	}
	if cfg.BlockCount <= 0 {
		return nil, fmt.Errorf("invalid block count %d", cfg.BlockCount)
	}
	if cfg.EmbeddingLength <= 0 {
		return nil, fmt.Errorf("invalid embedding length %d", cfg.EmbeddingLength)
	}
	if cfg.HeadCount <= 0 || cfg.EmbeddingLength%cfg.HeadCount != 0 {
		return nil, fmt.Errorf("hidden size %d not divisible by %d heads", cfg.EmbeddingLength, cfg.HeadCount)
	}

	hidden := cfg.EmbeddingLength

	word, err := loadMatCandidates(src, names.wordEmb)
	if err != nil {
		return nil, fmt.Errorf("word embeddings: %w", err)
	}
	if word.C != hidden {
		return nil, fmt.Errorf("word embedding shape %dx%d, want cols=%d", word.R, word.C, hidden)
	}
	pos, err := loadMatCandidates(src, names.posEmb)
	if err != nil {
		return nil, fmt.Errorf("position embeddings: %w", err)
	}
	if pos.C != hidden {
		return nil, fmt.Errorf("position embedding shape %dx%d, want cols=%d", pos.R, pos.C, hidden)
	}
	typeEmb, err := loadMatCandidates(src, names.typeEmb)
	if err != nil {
		return nil, fmt.Errorf("token type embeddings: %w", err)
	}
	if typeEmb.C != hidden {
		return nil, fmt.Errorf("token type embedding shape %dx%d, want cols=%d", typeEmb.R, typeEmb.C, hidden)
	}

	embNorm, err := loadVecCandidates(src, names.embNorm, hidden)
	if err != nil {
		return nil, fmt.Errorf("embedding norm: %w", err)
	}
	embNormBias, err := loadVecCandidates(src, names.embNormBias, hidden)
	if err != nil {
		return nil, fmt.Errorf("embedding norm bias: %w", err)
	}

	if cfg.VocabSize == 0 {
		cfg.VocabSize = word.R
	}
	if cfg.TypeVocabSize == 0 {
		cfg.TypeVocabSize = typeEmb.R
	}

	if cfg.FFNLength == 0 {
		for _, name := range names.ffnUp(0) {
			if shape, ok := src.TensorShape(name); ok && len(shape) == 2 {
				cfg.FFNLength = shape[0]
				break
			}
		}
		if cfg.FFNLength == 0 {
			return nil, fmt.Errorf("cannot determine feed-forward length")
		}
	}

	maxCtx := pos.R
	if cfg.ContextLength > 0 && cfg.ContextLength < maxCtx {
		maxCtx = cfg.ContextLength
	}
	if opts.MaxContext > 0 && opts.MaxContext < maxCtx {
		maxCtx = opts.MaxContext
	}
	if maxCtx <= 0 {
		return nil, fmt.Errorf("invalid context length %d", maxCtx)
	}
	cfg.ContextLength = maxCtx

	layers := make([]BertLayer, cfg.BlockCount)
	for i := range layers {
		layer := &layers[i]

		load := func(dst **tensor.Mat, slot func(int) []string, wantR, wantC int, what string) error {
			m, err := loadMatShaped(src, slot(i), wantR, wantC)
			if err != nil {
				return fmt.Errorf("layer %d %s: %w", i, what, err)
			}
			*dst = m
			return nil
		}
		loadV := func(dst *[]float32, slot func(int) []string, wantLen int, what string) error {
			v, err := loadVecCandidates(src, slot(i), wantLen)
			if err != nil {
				return fmt.Errorf("layer %d %s: %w", i, what, err)
			}
			*dst = v
			return nil
		}

		if err := load(&layer.Wq, names.wq, hidden, hidden, "wq"); err != nil {
			return nil, err
		}
		if err := load(&layer.Wk, names.wk, hidden, hidden, "wk"); err != nil {
			return nil, err
		}
		if err := load(&layer.Wv, names.wv, hidden, hidden, "wv"); err != nil {
			return nil, err
		}
		if err := load(&layer.Wo, names.wo, hidden, hidden, "wo"); err != nil {
			return nil, err
		}
		if err := loadV(&layer.QBias, names.wqBias, hidden, "wq bias"); err != nil {
			return nil, err
		}
		if err := loadV(&layer.KBias, names.wkBias, hidden, "wk bias"); err != nil {
			return nil, err
		}
		if err := loadV(&layer.VBias, names.wvBias, hidden, "wv bias"); err != nil {
			return nil, err
		}
		if err := loadV(&layer.OBias, names.woBias, hidden, "wo bias"); err != nil {
			return nil, err
		}
		if err := loadV(&layer.AttnNorm, names.attnNorm, hidden, "attn norm"); err != nil {
			return nil, err
		}
		if err := loadV(&layer.AttnNormBias, names.attnNormBias, hidden, "attn norm bias"); err != nil {
			return nil, err
		}
		if err := load(&layer.FfnUp, names.ffnUp, cfg.FFNLength, hidden, "ffn up"); err != nil {
			return nil, err
		}
		if err := loadV(&layer.UpBias, names.ffnUpBias, cfg.FFNLength, "ffn up bias"); err != nil {
			return nil, err
		}
		if err := load(&layer.FfnDown, names.ffnDown, hidden, cfg.FFNLength, "ffn down"); err != nil {
			return nil, err
		}
		if err := loadV(&layer.DownBias, names.ffnDownBias, hidden, "ffn down bias"); err != nil {
			return nil, err
		}
		if err := loadV(&layer.OutNorm, names.outNorm, hidden, "output norm"); err != nil {
			return nil, err
		}
		if err := loadV(&layer.OutNormBias, names.outNormBias, hidden, "output norm bias"); err != nil {
			return nil, err
		}
	}

	return &Bert{
		Cfg:         cfg,
		WordEmb:     word,
		PosEmb:      pos,
		TypeEmb:     typeEmb,
		EmbNorm:     embNorm,
		EmbNormBias: embNormBias,
		Layers:      layers,
		MaxContext:  maxCtx,
		headDim:     hidden / cfg.HeadCount,
	}, nil
}

func (b *Bert) getAttnPool() *attnPool {
	b.poolOnce.Do(func() {
		b.pool = newAttnPool(attnWorkersFor(b.Cfg.HeadCount), b.MaxContext)
	})
	return b.pool
}

// Hidden encodes ids in two phases: summed embeddings with LayerNorm,
// then the full-sequence encoder stack. Each query token attends over
// every position.
func (b *Bert) Hidden(ids []int) (*tensor.Mat, error) {
	seqLen := len(ids)
	if seqLen == 0 {
		return nil, fmt.Errorf("empty token sequence")
	}
	if seqLen > b.MaxContext {
		return nil, fmt.Errorf("sequence of %d tokens exceeds context window %d", seqLen, b.MaxContext)
	}

	hidden := b.Cfg.EmbeddingLength
	eps := float32(b.Cfg.NormEpsilon)

	out := tensor.NewMat(seqLen, hidden)
	posBuf := make([]float32, hidden)
	typeBuf := make([]float32, hidden)
	b.TypeEmb.RowTo(typeBuf, 0)

	for i, id := range ids {
		if id < 0 || id >= b.WordEmb.R {
			return nil, fmt.Errorf("token id %d out of range (vocab %d)", id, b.WordEmb.R)
		}
		row := out.Row(i)
		b.WordEmb.RowTo(row, id)
		b.PosEmb.RowTo(posBuf, i)
		tensor.Add(row, posBuf)
		tensor.Add(row, typeBuf)
		tensor.LayerNorm(row, row, b.EmbNorm, b.EmbNormBias, eps)
	}

	q := make([]float32, seqLen*hidden)
	k := make([]float32, seqLen*hidden)
	v := make([]float32, seqLen*hidden)
	attnOut := make([]float32, hidden)
	tmp := make([]float32, hidden)
	ffnBuf := make([]float32, b.Cfg.FFNLength)

	scale := float32(1 / math.Sqrt(float64(b.headDim)))
	pool := b.getAttnPool()

	for li := range b.Layers {
		layer := &b.Layers[li]

		for i := 0; i < seqLen; i++ {
			row := out.Row(i)
			qi := q[i*hidden : (i+1)*hidden]
			ki := k[i*hidden : (i+1)*hidden]
			vi := v[i*hidden : (i+1)*hidden]
			tensor.MatVec(qi, layer.Wq, row)
			tensor.MatVec(ki, layer.Wk, row)
			tensor.MatVec(vi, layer.Wv, row)
			tensor.Add(qi, layer.QBias)
			tensor.Add(ki, layer.KBias)
			tensor.Add(vi, layer.VBias)
		}

		for i := 0; i < seqLen; i++ {
			ctx := &attnContext{
				q:        q[i*hidden : (i+1)*hidden],
				cacheK:   k,
				cacheV:   v,
				attnOut:  attnOut,
				pos:      seqLen - 1,
				start:    0,
				kvStride: hidden,
				headDim:  b.headDim,
				nHead:    b.Cfg.HeadCount,
				kvHeads:  b.Cfg.HeadCount,
				scale:    scale,
			}
			dispatchAttention(pool, ctx)

			row := out.Row(i)
			tensor.MatVec(tmp, layer.Wo, attnOut)
			tensor.Add(tmp, layer.OBias)
			tensor.Add(tmp, row)
			tensor.LayerNorm(row, tmp, layer.AttnNorm, layer.AttnNormBias, eps)
		}

		for i := 0; i < seqLen; i++ {
			row := out.Row(i)
			tensor.MatVec(ffnBuf, layer.FfnUp, row)
			tensor.Add(ffnBuf, layer.UpBias)
			for j, g := range ffnBuf {
				if b.Cfg.Activation == "gelu_tanh" {
					ffnBuf[j] = tensor.GeluTanh(g)
				} else {
					ffnBuf[j] = tensor.Gelu(g)
				}
			}
			tensor.MatVec(tmp, layer.FfnDown, ffnBuf)
			tensor.Add(tmp, layer.DownBias)
			tensor.Add(tmp, row)
			tensor.LayerNorm(row, tmp, layer.OutNorm, layer.OutNormBias, eps)
		}
	}

	return &out, nil
}

func (b *Bert) Config() *Config { return &b.Cfg }

// Reset is a no-op; the encoder keeps no state between calls.
func (b *Bert) Reset() {}
