package model

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/weftml/weft/internal/gguf"
	"github.com/weftml/weft/internal/safetensors"
	"github.com/weftml/weft/internal/tensor"
)

// tensorPayload is one tensor as handed over by a source. Raw carries
// the stored bytes for f32/f16/bf16 tensors; Data carries values the
// source already dequantized.
type tensorPayload struct {
	DType tensor.DType
	Shape []int
	Raw   []byte
	Data  []float32
}

// tensorSource abstracts the checkpoint container. Shapes are always
// row-major with the slowest dimension first, regardless of how the
// container stores them.
type tensorSource interface {
	ReadTensor(name string) (tensorPayload, error)
	TensorShape(name string) ([]int, bool)
}

type stSource struct {
	store *safetensors.Store
}

func (s stSource) ReadTensor(name string) (tensorPayload, error) {
	raw, info, err := s.store.ReadTensor(name)
	if err != nil {
		return tensorPayload{}, err
	}
	dt, ok := safetensors.DataType(info.DType)
	if !ok {
		return tensorPayload{}, fmt.Errorf("tensor %s: unsupported dtype %s", name, info.DType)
	}
	return tensorPayload{DType: dt, Shape: info.Shape, Raw: raw}, nil
}

func (s stSource) TensorShape(name string) ([]int, bool) {
	info, ok := s.store.Tensor(name)
	if !ok {
		return nil, false
	}
	return info.Shape, true
}

type ggufSource struct {
	f *gguf.File
}

// reverseDims converts GGUF dimension order (fastest-varying first) to
// the row-major convention the loader works in.
func reverseDims(dims []uint64) []int {
	out := make([]int, len(dims))
	for i, d := range dims {
		out[len(dims)-1-i] = int(d)
	}
	return out
}

func (s ggufSource) ReadTensor(name string) (tensorPayload, error) {
	info, ok := s.f.TensorByName(name)
	if !ok {
		return tensorPayload{}, fmt.Errorf("tensor not found: %s", name)
	}
	switch info.Type {
	case gguf.GGMLTypeF32, gguf.GGMLTypeF16:
		raw, dims, typ, err := gguf.ReadTensorRaw(s.f, name)
		if err != nil {
			return tensorPayload{}, err
		}
		dt := tensor.F32
		if typ == gguf.GGMLTypeF16 {
			dt = tensor.F16
		}
		return tensorPayload{DType: dt, Shape: reverseDims(dims), Raw: raw}, nil
	default:
		data, dims, err := gguf.ReadTensorF32(s.f, name)
		if err != nil {
			return tensorPayload{}, fmt.Errorf("tensor %s: %w", name, err)
		}
		return tensorPayload{DType: tensor.F32, Shape: reverseDims(dims), Data: data}, nil
	}
}

func (s ggufSource) TensorShape(name string) ([]int, bool) {
	info, ok := s.f.TensorByName(name)
	if !ok {
		return nil, false
	}
	return reverseDims(info.Dims), true
}

// Options tune how a checkpoint is instantiated.
type Options struct {
	// CacheType selects the KV cache element width. Empty means f32.
	CacheType CacheType
	// MaxContext clamps the context window below the model's own limit
	// when positive. KV cache memory scales linearly with it.
	MaxContext int
}

func (o Options) cacheType() (CacheType, error) {
	switch o.CacheType {
	case "", CacheF32:
		return CacheF32, nil
	case CacheF16:
		return CacheF16, nil
	default:
		return "", fmt.Errorf("unsupported kv cache type %q", o.CacheType)
	}
}

// Model is a loaded checkpoint ready to produce hidden states. Causal
// and bidirectional models both satisfy it. Implementations are not
// safe for concurrent use.
type Model interface {
	// Hidden runs the model over ids and returns a matrix with one row
	// of EmbeddingLength values per input token.
	Hidden(ids []int) (*tensor.Mat, error)
	Config() *Config
	Reset()
}

// ArchName reports the detected architecture of a config.json payload
// without loading any tensors.
func ArchName(rawConfig []byte) (string, error) {
	hc, err := loadHFConfigBytes(rawConfig)
	if err != nil {
		return "", err
	}
	spec, err := detectArch(hc)
	if err != nil {
		return "", err
	}
	return spec.name, nil
}

// LoadHF instantiates a model from a config.json payload and a
// safetensors checkpoint directory.
func LoadHF(rawConfig []byte, store *safetensors.Store, opts Options) (Model, error) {
	hc, err := loadHFConfigBytes(rawConfig)
	if err != nil {
		return nil, err
	}
	spec, err := detectArch(hc)
	if err != nil {
		return nil, err
	}
	cfg, err := buildConfigHF(hc, spec, opts)
	if err != nil {
		return nil, err
	}
	src := stSource{store: store}
	if spec.bidirectional {
		return loadBert(src, spec, cfg, opts)
	}
	return loadModelFromSource(src, spec, cfg, opts, spec.hfNormOffset)
}

// LoadGGUF instantiates a model from a parsed GGUF file. The caller
// keeps ownership of f and must not close it while the model is in use.
func LoadGGUF(f *gguf.File, opts Options) (Model, error) {
	spec, cfg, err := ggufConfig(f)
	if err != nil {
		return nil, err
	}
	src := ggufSource{f: f}
	if spec.bidirectional {
		return loadBert(src, spec, cfg, opts)
	}
	return loadModelFromSource(src, spec, cfg, opts, 0)
}

func resolveActivation(hc *hfConfig, spec *archSpec) (string, error) {
	act := strings.ToLower(strings.TrimSpace(hc.HiddenActivation))
	if act == "" {
		act = strings.ToLower(strings.TrimSpace(hc.HiddenAct))
	}
	switch act {
	case "":
		return spec.defaultActivation, nil
	case "silu", "swish":
		return "silu", nil
	case "gelu":
		return "gelu", nil
	case "gelu_tanh", "gelu_new", "gelu_fast", "gelu_pytorch_tanh":
		return "gelu_tanh", nil
	default:
		return "", fmt.Errorf("unsupported activation %q", act)
	}
}

func buildConfigHF(hc *hfConfig, spec *archSpec, opts Options) (Config, error) {
	act, err := resolveActivation(hc, spec)
	if err != nil {
		return Config{}, err
	}

	eps := hc.RMSNormEps
	if eps == 0 {
		eps = hc.LayerNormEps
	}
	if eps == 0 {
		eps = hc.NormEps
	}
	if eps == 0 {
		eps = 1e-5
	}

	ropeBase := hc.RopeTheta
	if ropeBase == 0 && hc.RopeParameters != nil {
		ropeBase = hc.RopeParameters.RopeTheta
	}
	if ropeBase == 0 {
		ropeBase = spec.defaultRopeBase
	}

	localBase := hc.RopeLocalBaseFreq
	if localBase == 0 {
		localBase = spec.defaultLocalBase
	}

	cfg := Config{
		Arch:            spec.name,
		BlockCount:      hc.NumHiddenLayers,
		EmbeddingLength: hc.HiddenSize,
		FFNLength:       hc.IntermediateSize,
		HeadCount:       hc.NumAttentionHeads,
		HeadDim:         hc.HeadDim,
		HeadCountKV:     hc.NumKeyValueHeads,
		ContextLength:   hc.MaxPosition,
		VocabSize:       hc.VocabSize,
		NormEpsilon:     eps,
		RopeFreqBase:    ropeBase,
		RopeLocalBase:   localBase,
		RopeScaling:     ropeScalingForConfig(hc),
		RopeInterleaved: false,
		SlidingWindow:   hc.SlidingWindow,
		LayerTypes:      hc.LayerTypes,
		AttentionBias:   hc.AttentionBias,
		Activation:      act,
		Bidirectional:   spec.bidirectional,
		TypeVocabSize:   hc.TypeVocabSize,
	}
	if hc.PadTokenID != nil {
		cfg.PadTokenID = *hc.PadTokenID
	}
	if cfg.HeadCountKV == 0 {
		cfg.HeadCountKV = cfg.HeadCount
	}
	if spec.queryScaleFromCfg && hc.QueryPreAttnScalar > 0 {
		cfg.AttnLogitScale = 1 / math.Sqrt(hc.QueryPreAttnScalar)
	}
	if spec.scaleEmbeddings && cfg.EmbeddingLength > 0 {
		cfg.EmbeddingScale = math.Sqrt(float64(cfg.EmbeddingLength))
	}

	ct, err := opts.cacheType()
	if err != nil {
		return Config{}, err
	}
	cfg.CacheTypeK, cfg.CacheTypeV = ct, ct
	return cfg, nil
}

// ggufConfig rebuilds a Config from GGUF metadata. Key names follow
// the <arch>.<field> convention of the format.
func ggufConfig(f *gguf.File) (*archSpec, Config, error) {
	arch, err := gguf.MustGetString(f.KV, "general.architecture")
	if err != nil {
		return nil, Config{}, err
	}

	var spec *archSpec
	switch arch {
	case "llama":
		spec = llamaSpec()
	case "qwen3":
		spec = qwen3Spec()
	case "gemma3":
		spec = gemma3Spec()
	case "bert":
		spec = bertSpec()
	default:
		return nil, Config{}, fmt.Errorf("unsupported gguf architecture %q", arch)
	}

	p := arch + "."
	blockCount, err := gguf.MustGetUint64(f.KV, p+"block_count")
	if err != nil {
		return nil, Config{}, err
	}
	embLen, err := gguf.MustGetUint64(f.KV, p+"embedding_length")
	if err != nil {
		return nil, Config{}, err
	}
	headCount, err := gguf.MustGetUint64(f.KV, p+"attention.head_count")
	if err != nil {
		return nil, Config{}, err
	}

	cfg := Config{
		Arch:            spec.name,
		BlockCount:      int(blockCount),
		EmbeddingLength: int(embLen),
		HeadCount:       int(headCount),
		HeadCountKV:     int(headCount),
		Activation:      spec.defaultActivation,
		RopeFreqBase:    spec.defaultRopeBase,
		RopeLocalBase:   spec.defaultLocalBase,
		RopeInterleaved: spec.interleavedGGUF,
		Bidirectional:   spec.bidirectional,
	}

	if v, ok := gguf.GetUint64(f.KV, p+"feed_forward_length"); ok {
		cfg.FFNLength = int(v)
	}
	if v, ok := gguf.GetUint64(f.KV, p+"attention.head_count_kv"); ok && v > 0 {
		cfg.HeadCountKV = int(v)
	}
	if v, ok := gguf.GetUint64(f.KV, p+"attention.key_length"); ok && v > 0 {
		cfg.HeadDim = int(v)
	}
	if v, ok := gguf.GetUint64(f.KV, p+"context_length"); ok {
		cfg.ContextLength = int(v)
	}
	if v, ok := gguf.GetUint64(f.KV, p+"vocab_size"); ok {
		cfg.VocabSize = int(v)
	}
	if v, ok := gguf.GetUint64(f.KV, p+"attention.sliding_window"); ok {
		cfg.SlidingWindow = int(v)
	}

	cfg.NormEpsilon = 1e-5
	if v, ok := gguf.GetFloat64(f.KV, p+"attention.layer_norm_rms_epsilon"); ok && v > 0 {
		cfg.NormEpsilon = v
	} else if v, ok := gguf.GetFloat64(f.KV, p+"attention.layer_norm_epsilon"); ok && v > 0 {
		cfg.NormEpsilon = v
	}

	if v, ok := gguf.GetFloat64(f.KV, p+"rope.freq_base"); ok && v > 0 {
		cfg.RopeFreqBase = v
	}
	if v, ok := gguf.GetFloat64(f.KV, p+"rope.local_freq_base"); ok && v > 0 {
		cfg.RopeLocalBase = v
	}
	cfg.RopeScaling = ggufRopeScaling(f.KV, p, cfg.ContextLength)

	if spec.scaleEmbeddings && cfg.EmbeddingLength > 0 {
		cfg.EmbeddingScale = math.Sqrt(float64(cfg.EmbeddingLength))
	}
	if spec.queryScaleFromCfg && cfg.HeadDim > 0 {
		cfg.AttnLogitScale = 1 / math.Sqrt(float64(cfg.HeadDim))
	}
	if v, ok := gguf.GetInt64(f.KV, "tokenizer.ggml.padding_token_id"); ok {
		cfg.PadTokenID = int(v)
	}

	return spec, cfg, nil
}

func ggufRopeScaling(kv map[string]gguf.Value, prefix string, ctxLen int) *RopeScaling {
	raw := &ropeScaling{}
	found := false
	if v, ok := gguf.GetString(kv, prefix+"rope.scaling.type"); ok {
		raw.Type = v
		found = true
	}
	if v, ok := gguf.GetFloat64(kv, prefix+"rope.scaling.factor"); ok {
		raw.Factor = v
		found = true
	}
	if v, ok := gguf.GetUint64(kv, prefix+"rope.scaling.original_context_length"); ok {
		raw.OriginalMaxPositionEmbeddings = int(v)
	}
	if v, ok := gguf.GetFloat64(kv, prefix+"rope.scaling.attn_factor"); ok {
		raw.AttentionFactor = v
	}
	if v, ok := gguf.GetFloat64(kv, prefix+"rope.scaling.beta_fast"); ok {
		raw.BetaFast = v
	}
	if v, ok := gguf.GetFloat64(kv, prefix+"rope.scaling.beta_slow"); ok {
		raw.BetaSlow = v
	}
	if !found {
		return nil
	}
	return resolveRopeScaling(ctxLen, raw)
}

func loadModelFromSource(src tensorSource, spec *archSpec, cfg Config, opts Options, normOffset float32) (*Instance, error) {
	if cfg.BlockCount <= 0 {
		return nil, fmt.Errorf("invalid block count %d", cfg.BlockCount)
	}
	if cfg.EmbeddingLength <= 0 {
		return nil, fmt.Errorf("invalid embedding length %d", cfg.EmbeddingLength)
	}
	if cfg.HeadCount <= 0 {
		return nil, fmt.Errorf("invalid head count %d", cfg.HeadCount)
	}

	hidden := cfg.EmbeddingLength
	headDim := cfg.headDim()
	if headDim <= 0 {
		return nil, fmt.Errorf("cannot derive head dim from hidden=%d heads=%d", hidden, cfg.HeadCount)
	}
	kvHeads := cfg.kvHeads()
	qDim := headDim * cfg.HeadCount
	kvDim := headDim * kvHeads

	if len(cfg.LayerTypes) > 0 {
		if len(cfg.LayerTypes) != cfg.BlockCount {
			return nil, fmt.Errorf("layer_types has %d entries, want %d", len(cfg.LayerTypes), cfg.BlockCount)
		}
		for i, lt := range cfg.LayerTypes {
			switch lt {
			case "full_attention":
			case "sliding_attention":
				if cfg.SlidingWindow <= 0 {
					return nil, fmt.Errorf("layer %d is sliding_attention but no sliding_window configured", i)
				}
			default:
				return nil, fmt.Errorf("layer %d: unsupported layer type %q", i, lt)
			}
		}
	}

	emb, err := loadMatCandidates(src, spec.embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if emb.C != hidden {
		return nil, fmt.Errorf("embedding shape %dx%d, want cols=%d", emb.R, emb.C, hidden)
	}
	if cfg.VocabSize == 0 {
		cfg.VocabSize = emb.R
	}

	outputNorm, err := loadVecCandidates(src, spec.outputNorm, hidden)
	if err != nil {
		return nil, fmt.Errorf("output norm: %w", err)
	}
	addOffset(outputNorm, normOffset)

	if cfg.FFNLength == 0 {
		cfg.FFNLength = inferFFNLength(src, spec)
		if cfg.FFNLength == 0 {
			return nil, fmt.Errorf("cannot determine feed-forward length")
		}
	}

	maxCtx := cfg.ContextLength
	if maxCtx <= 0 {
		maxCtx = 2048
	}
	if opts.MaxContext > 0 && opts.MaxContext < maxCtx {
		maxCtx = opts.MaxContext
	}

	layers := make([]Layer, cfg.BlockCount)
	for i := range layers {
		layer := &layers[i]

		layer.AttnNorm, err = loadVecCandidates(src, spec.attnNorm(i), hidden)
		if err != nil {
			return nil, fmt.Errorf("layer %d attn norm: %w", i, err)
		}
		layer.FfnNorm, err = loadVecCandidates(src, spec.ffnNorm(i), hidden)
		if err != nil {
			return nil, fmt.Errorf("layer %d ffn norm: %w", i, err)
		}
		layer.PostAttnNorm, err = loadOptionalVec(src, spec.postAttnNorm, i, hidden)
		if err != nil {
			return nil, fmt.Errorf("layer %d post attn norm: %w", i, err)
		}
		layer.PostFfnNorm, err = loadOptionalVec(src, spec.postFfnNorm, i, hidden)
		if err != nil {
			return nil, fmt.Errorf("layer %d post ffn norm: %w", i, err)
		}
		addOffset(layer.AttnNorm, normOffset)
		addOffset(layer.FfnNorm, normOffset)
		addOffset(layer.PostAttnNorm, normOffset)
		addOffset(layer.PostFfnNorm, normOffset)

		layer.Wq, err = loadMatShaped(src, spec.wq(i), qDim, hidden)
		if err != nil {
			return nil, fmt.Errorf("layer %d wq: %w", i, err)
		}
		layer.Wk, err = loadMatShaped(src, spec.wk(i), kvDim, hidden)
		if err != nil {
			return nil, fmt.Errorf("layer %d wk: %w", i, err)
		}
		layer.Wv, err = loadMatShaped(src, spec.wv(i), kvDim, hidden)
		if err != nil {
			return nil, fmt.Errorf("layer %d wv: %w", i, err)
		}
		layer.Wo, err = loadMatShaped(src, spec.wo(i), hidden, qDim)
		if err != nil {
			return nil, fmt.Errorf("layer %d wo: %w", i, err)
		}

		layer.WqBias, err = loadOptionalVec(src, spec.wqBias, i, qDim)
		if err != nil {
			return nil, fmt.Errorf("layer %d wq bias: %w", i, err)
		}
		layer.WkBias, err = loadOptionalVec(src, spec.wkBias, i, kvDim)
		if err != nil {
			return nil, fmt.Errorf("layer %d wk bias: %w", i, err)
		}
		layer.WvBias, err = loadOptionalVec(src, spec.wvBias, i, kvDim)
		if err != nil {
			return nil, fmt.Errorf("layer %d wv bias: %w", i, err)
		}

		layer.AttnQNorm, err = loadOptionalVec(src, spec.attnQNorm, i, headDim)
		if err != nil {
			return nil, fmt.Errorf("layer %d q norm: %w", i, err)
		}
		layer.AttnKNorm, err = loadOptionalVec(src, spec.attnKNorm, i, headDim)
		if err != nil {
			return nil, fmt.Errorf("layer %d k norm: %w", i, err)
		}
		addOffset(layer.AttnQNorm, normOffset)
		addOffset(layer.AttnKNorm, normOffset)

		layer.FfnGate, err = loadMatShaped(src, spec.ffnGate(i), cfg.FFNLength, hidden)
		if err != nil {
			return nil, fmt.Errorf("layer %d ffn gate: %w", i, err)
		}
		layer.FfnUp, err = loadMatShaped(src, spec.ffnUp(i), cfg.FFNLength, hidden)
		if err != nil {
			return nil, fmt.Errorf("layer %d ffn up: %w", i, err)
		}
		layer.FfnDown, err = loadMatShaped(src, spec.ffnDown(i), hidden, cfg.FFNLength)
		if err != nil {
			return nil, fmt.Errorf("layer %d ffn down: %w", i, err)
		}

		layer.AttnType = "full_attention"
		if len(cfg.LayerTypes) > 0 {
			layer.AttnType = cfg.LayerTypes[i]
		}
		if layer.AttnType == "sliding_attention" {
			layer.AttnWindow = cfg.SlidingWindow
		}

		layer.Cache.kvStride = kvDim
		switch cfg.CacheTypeK {
		case CacheF16:
			layer.Cache.k16 = make([]uint16, maxCtx*kvDim)
		default:
			layer.Cache.k = make([]float32, maxCtx*kvDim)
		}
		switch cfg.CacheTypeV {
		case CacheF16:
			layer.Cache.v16 = make([]uint16, maxCtx*kvDim)
		default:
			layer.Cache.v = make([]float32, maxCtx*kvDim)
		}
	}

	inst := &Instance{
		Cfg:        cfg,
		Embeddings: emb,
		OutputNorm: outputNorm,
		Layers:     layers,
		MaxContext: maxCtx,
		headDim:    headDim,
		qDim:       qDim,
		kvDim:      kvDim,
		embScale:   1,
	}
	if cfg.EmbeddingScale > 0 {
		inst.embScale = float32(cfg.EmbeddingScale)
	}
	inst.initScratch()
	inst.UpdateRoPE()
	return inst, nil
}

func isTensorMissing(err error) bool {
	return err != nil && strings.Contains(err.Error(), "tensor not found")
}

func addOffset(v []float32, offset float32) {
	if offset == 0 {
		return
	}
	for i := range v {
		v[i] += offset
	}
}

// vecFromPayload decodes a payload into float32 values regardless of
// the stored dtype.
func vecFromPayload(p tensorPayload) ([]float32, error) {
	if p.Data != nil {
		return p.Data, nil
	}
	switch p.DType {
	case tensor.F32:
		if len(p.Raw)%4 != 0 {
			return nil, fmt.Errorf("f32 payload of %d bytes", len(p.Raw))
		}
		out := make([]float32, len(p.Raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(p.Raw[i*4:]))
		}
		return out, nil
	case tensor.F16:
		out := make([]float32, len(p.Raw)/2)
		for i := range out {
			out[i] = tensor.FP16ToF32(binary.LittleEndian.Uint16(p.Raw[i*2:]))
		}
		return out, nil
	case tensor.BF16:
		out := make([]float32, len(p.Raw)/2)
		for i := range out {
			out[i] = tensor.BF16ToF32(binary.LittleEndian.Uint16(p.Raw[i*2:]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported payload dtype %v", p.DType)
	}
}

func matFromPayload(p tensorPayload, name string) (*tensor.Mat, error) {
	if len(p.Shape) != 2 {
		return nil, fmt.Errorf("tensor %s has %d dims, want 2", name, len(p.Shape))
	}
	r, c := p.Shape[0], p.Shape[1]
	if p.Data != nil {
		if r*c != len(p.Data) {
			return nil, fmt.Errorf("tensor %s: %d values for shape %dx%d", name, len(p.Data), r, c)
		}
		m := tensor.NewMatFromData(r, c, p.Data)
		return &m, nil
	}
	m, err := tensor.NewMatFromRaw(r, c, p.DType, p.Raw)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return &m, nil
}

func loadMat(src tensorSource, name string) (*tensor.Mat, error) {
	p, err := src.ReadTensor(name)
	if err != nil {
		return nil, err
	}
	return matFromPayload(p, name)
}

func loadMatCandidates(src tensorSource, names []string) (*tensor.Mat, error) {
	var lastErr error
	for _, name := range names {
		m, err := loadMat(src, name)
		if err == nil {
			return m, nil
		}
		if !isTensorMissing(err) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate names")
	}
	return nil, lastErr
}

func loadMatShaped(src tensorSource, names []string, wantR, wantC int) (*tensor.Mat, error) {
	m, err := loadMatCandidates(src, names)
	if err != nil {
		return nil, err
	}
	if m.R != wantR || m.C != wantC {
		return nil, fmt.Errorf("shape %dx%d, want %dx%d", m.R, m.C, wantR, wantC)
	}
	return m, nil
}

func loadVec(src tensorSource, name string, wantLen int) ([]float32, error) {
	p, err := src.ReadTensor(name)
	if err != nil {
		return nil, err
	}
	n := 1
	for _, d := range p.Shape {
		n *= d
	}
	if len(p.Shape) > 1 && n != maxDim(p.Shape) {
		return nil, fmt.Errorf("tensor %s has shape %v, want vector", name, p.Shape)
	}
	v, err := vecFromPayload(p)
	if err != nil {
		return nil, err
	}
	if len(v) != n {
		return nil, fmt.Errorf("tensor %s: %d values for shape %v", name, len(v), p.Shape)
	}
	if wantLen > 0 && len(v) != wantLen {
		return nil, fmt.Errorf("tensor %s has %d values, want %d", name, len(v), wantLen)
	}
	return v, nil
}

func maxDim(shape []int) int {
	out := 0
	for _, d := range shape {
		if d > out {
			out = d
		}
	}
	return out
}

func loadVecCandidates(src tensorSource, names []string, wantLen int) ([]float32, error) {
	var lastErr error
	for _, name := range names {
		v, err := loadVec(src, name, wantLen)
		if err == nil {
			return v, nil
		}
		if !isTensorMissing(err) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate names")
	}
	return nil, lastErr
}

// loadOptionalVec returns nil without error when the slot is undeclared
// for the architecture or absent from the checkpoint.
func loadOptionalVec(src tensorSource, slot func(int) []string, i, wantLen int) ([]float32, error) {
	if slot == nil {
		return nil, nil
	}
	names := slot(i)
	if len(names) == 0 {
		return nil, nil
	}
	v, err := loadVecCandidates(src, names, wantLen)
	if err != nil {
		if isTensorMissing(err) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func inferFFNLength(src tensorSource, spec *archSpec) int {
	slots := []func(int) []string{spec.ffnUp, spec.ffnGate}
	for _, slot := range slots {
		if slot == nil {
			continue
		}
		for _, name := range slot(0) {
			if shape, ok := src.TensorShape(name); ok && len(shape) == 2 {
				return shape[0]
			}
		}
	}
	return 0
}

func (m *Instance) initScratch() {
	h := m.Cfg.EmbeddingLength
	ffn := m.Cfg.FFNLength
	m.scratch = scratchBuffers{
		x:      make([]float32, h),
		tmp:    make([]float32, h),
		tmp2:   make([]float32, h),
		q:      make([]float32, m.qDim),
		k:      make([]float32, m.kvDim),
		v:      make([]float32, m.kvDim),
		attn:   make([]float32, m.qDim),
		proj:   make([]float32, h),
		gateUp: make([]float32, 2*ffn),
		act:    make([]float32, ffn),
		out:    make([]float32, h),
	}
}

// UpdateRoPE recomputes the rotary frequency tables from the current
// config. The local table serves sliding-window layers on models that
// run those at a separate base frequency.
func (m *Instance) UpdateRoPE() {
	halfDim := m.headDim / 2
	m.ropeInvFreq = ropeInvFreqTable(halfDim, m.Cfg.RopeFreqBase)
	m.ropeAttnScale = float32(m.Cfg.RopeScaling.apply(m.ropeInvFreq, m.Cfg.RopeFreqBase, m.MaxContext))

	m.ropeInvFreqLocal = nil
	if m.Cfg.RopeLocalBase > 0 && m.Cfg.RopeLocalBase != m.Cfg.RopeFreqBase {
		m.ropeInvFreqLocal = ropeInvFreqTable(halfDim, m.Cfg.RopeLocalBase)
	}
}

func ropeInvFreqTable(halfDim int, base float64) []float64 {
	if base <= 0 {
		base = 10_000
	}
	if halfDim <= 0 {
		return nil
	}
	out := make([]float64, halfDim)
	dim := float64(2 * halfDim)
	for i := range out {
		out[i] = math.Pow(base, -float64(2*i)/dim)
	}
	return out
}
