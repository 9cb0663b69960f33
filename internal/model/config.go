package model

import (
	"sync"

	"github.com/weftml/weft/internal/tensor"
)

// CacheType selects the element width of the attention KV cache.
type CacheType string

const (
	CacheF32 CacheType = "f32"
	CacheF16 CacheType = "f16"
)

// Config is the resolved runtime configuration of a loaded model. It is
// flat on purpose: every field is filled by the loader regardless of
// whether the checkpoint came from config.json or GGUF metadata.
type Config struct {
	Arch            string
	BlockCount      int
	EmbeddingLength int
	FFNLength       int
	HeadCount       int
	HeadDim         int
	HeadCountKV     int
	ContextLength   int
	VocabSize       int

	NormEpsilon float64

	RopeFreqBase    float64
	RopeLocalBase   float64
	RopeScaling     *RopeScaling
	RopeInterleaved bool

	SlidingWindow int
	LayerTypes    []string

	AttentionBias  bool
	AttnLogitScale float64 // overrides 1/sqrt(head_dim) when > 0
	EmbeddingScale float64 // applied to embedding rows when > 0
	Activation     string  // "silu", "gelu" or "gelu_tanh"

	CacheTypeK CacheType
	CacheTypeV CacheType

	// Bidirectional encoder fields.
	Bidirectional bool
	TypeVocabSize int
	PadTokenID    int
}

func (c *Config) headDim() int {
	if c.HeadDim > 0 {
		return c.HeadDim
	}
	if c.HeadCount > 0 {
		return c.EmbeddingLength / c.HeadCount
	}
	return 0
}

func (c *Config) kvHeads() int {
	if c.HeadCountKV > 0 {
		return c.HeadCountKV
	}
	return c.HeadCount
}

// Layer holds the weights and per-layer KV cache of one causal
// transformer block.
type Layer struct {
	AttnNorm     []float32
	PostAttnNorm []float32

	Wq, Wk, Wv, Wo         *tensor.Mat
	WqBias, WkBias, WvBias []float32
	AttnQNorm, AttnKNorm   []float32

	FfnNorm     []float32
	PostFfnNorm []float32

	FfnGate, FfnUp, FfnDown *tensor.Mat

	AttnType   string // "full_attention" or "sliding_attention"
	AttnWindow int    // 0 means unbounded

	Cache attnCache
}

// attnCache stores keys and values for positions seen so far. Exactly
// one of the f32 or f16 slices is populated per side, according to the
// configured cache type.
type attnCache struct {
	kvStride int

	k, v     []float32
	k16, v16 []uint16
}

// scratchBuffers are the per-instance working arrays of the token
// forward pass. They are sized once at load so the hot path never
// allocates.
type scratchBuffers struct {
	x    []float32
	tmp  []float32
	tmp2 []float32
	q    []float32
	k    []float32
	v    []float32
	attn []float32
	proj []float32
	// gateUp holds the gate projection in its first half and the up
	// projection in its second half, the layout the fused activation
	// kernels consume.
	gateUp []float32
	act    []float32
	out    []float32
}

// Instance is a loaded causal model with its mutable decode state. It
// is not safe for concurrent use.
type Instance struct {
	Cfg Config

	Embeddings *tensor.Mat
	OutputNorm []float32
	Layers     []Layer

	MaxContext int
	Pos        int

	headDim  int
	qDim     int
	kvDim    int
	embScale float32

	ropeInvFreq      []float64
	ropeInvFreqLocal []float64
	ropeAttnScale    float32

	scratch scratchBuffers

	pool     *attnPool
	poolOnce sync.Once
}
