package model

import (
	"fmt"
	"math"

	"github.com/weftml/weft/internal/tensor"
)

// ForwardToken advances the model by one token and returns the hidden
// state for it after the final norm. The returned slice aliases an
// internal scratch buffer and is only valid until the next call.
func (m *Instance) ForwardToken(id int) ([]float32, error) {
	if id < 0 || id >= m.Embeddings.R {
		return nil, fmt.Errorf("token id %d out of range (vocab %d)", id, m.Embeddings.R)
	}
	if m.Pos >= m.MaxContext {
		return nil, fmt.Errorf("context window exhausted at %d tokens", m.MaxContext)
	}

	eps := float32(m.Cfg.NormEpsilon)
	x := m.scratch.x
	m.Embeddings.RowTo(x, id)
	if m.embScale != 1 {
		for i := range x {
			x[i] *= m.embScale
		}
	}

	for li := range m.Layers {
		layer := &m.Layers[li]

		tensor.RMSNorm(m.scratch.tmp, x, layer.AttnNorm, eps)
		m.attention(layer, m.scratch.tmp)
		if layer.PostAttnNorm != nil {
			tensor.RMSNorm(m.scratch.proj, m.scratch.proj, layer.PostAttnNorm, eps)
		}
		tensor.Add(x, m.scratch.proj)

		tensor.RMSNorm(m.scratch.tmp, x, layer.FfnNorm, eps)
		m.ffn(layer, m.scratch.tmp)
		if layer.PostFfnNorm != nil {
			tensor.RMSNorm(m.scratch.out, m.scratch.out, layer.PostFfnNorm, eps)
		}
		tensor.Add(x, m.scratch.out)
	}

	m.Pos++

	tensor.RMSNorm(m.scratch.out, x, m.OutputNorm, eps)
	return m.scratch.out, nil
}

// attention runs one causal attention block over the normed input x,
// leaving the projected result in scratch.proj.
func (m *Instance) attention(layer *Layer, x []float32) {
	cfg := &m.Cfg
	q, k, v := m.scratch.q, m.scratch.k, m.scratch.v

	tensor.MatVec(q, layer.Wq, x)
	tensor.MatVec(k, layer.Wk, x)
	tensor.MatVec(v, layer.Wv, x)
	if layer.WqBias != nil {
		tensor.Add(q, layer.WqBias)
	}
	if layer.WkBias != nil {
		tensor.Add(k, layer.WkBias)
	}
	if layer.WvBias != nil {
		tensor.Add(v, layer.WvBias)
	}

	eps := float32(cfg.NormEpsilon)
	kvHeads := cfg.kvHeads()
	if layer.AttnQNorm != nil {
		for h := 0; h < cfg.HeadCount; h++ {
			head := q[h*m.headDim : (h+1)*m.headDim]
			tensor.RMSNorm(head, head, layer.AttnQNorm, eps)
		}
	}
	if layer.AttnKNorm != nil {
		for h := 0; h < kvHeads; h++ {
			head := k[h*m.headDim : (h+1)*m.headDim]
			tensor.RMSNorm(head, head, layer.AttnKNorm, eps)
		}
	}

	invFreq := m.ropeInvFreq
	ropeScale := m.ropeAttnScale
	if layer.AttnType == "sliding_attention" && m.ropeInvFreqLocal != nil {
		invFreq = m.ropeInvFreqLocal
		ropeScale = 1
	}
	if cfg.RopeInterleaved {
		tensor.ApplyRoPE(q, cfg.HeadCount, m.headDim, m.Pos, invFreq, ropeScale)
		tensor.ApplyRoPE(k, kvHeads, m.headDim, m.Pos, invFreq, ropeScale)
	} else {
		tensor.ApplyRoPENeox(q, cfg.HeadCount, m.headDim, m.Pos, invFreq, ropeScale)
		tensor.ApplyRoPENeox(k, kvHeads, m.headDim, m.Pos, invFreq, ropeScale)
	}

	off := m.Pos * layer.Cache.kvStride
	if layer.Cache.k16 != nil {
		for i, val := range k {
			layer.Cache.k16[off+i] = tensor.F32ToFP16Bits(val)
		}
	} else {
		copy(layer.Cache.k[off:off+len(k)], k)
	}
	if layer.Cache.v16 != nil {
		for i, val := range v {
			layer.Cache.v16[off+i] = tensor.F32ToFP16Bits(val)
		}
	} else {
		copy(layer.Cache.v[off:off+len(v)], v)
	}

	start := 0
	if layer.AttnWindow > 0 && m.Pos >= layer.AttnWindow {
		start = m.Pos - layer.AttnWindow + 1
	}

	scale := float32(1 / math.Sqrt(float64(m.headDim)))
	if cfg.AttnLogitScale > 0 {
		scale = float32(cfg.AttnLogitScale)
	}

	ctx := &attnContext{
		q:        q,
		cacheK:   layer.Cache.k,
		cacheV:   layer.Cache.v,
		cacheK16: layer.Cache.k16,
		cacheV16: layer.Cache.v16,
		attnOut:  m.scratch.attn,
		pos:      m.Pos,
		start:    start,
		kvStride: layer.Cache.kvStride,
		headDim:  m.headDim,
		nHead:    cfg.HeadCount,
		kvHeads:  kvHeads,
		scale:    scale,
	}
	dispatchAttention(m.getAttnPool(), ctx)

	tensor.MatVec(m.scratch.proj, layer.Wo, m.scratch.attn)
}

// ffn runs the gated feed-forward block over the normed input x,
// leaving the result in scratch.out.
func (m *Instance) ffn(layer *Layer, x []float32) {
	gateUp := m.scratch.gateUp
	d := len(gateUp) / 2
	tensor.MatVec(gateUp[:d], layer.FfnGate, x)
	tensor.MatVec(gateUp[d:], layer.FfnUp, x)

	act := m.scratch.act
	switch m.Cfg.Activation {
	case "gelu_tanh":
		tensor.GeluAndMul(act, gateUp)
	case "gelu":
		for i := range d {
			act[i] = tensor.Gelu(gateUp[i]) * gateUp[d+i]
		}
	default:
		tensor.SiluAndMul(act, gateUp)
	}

	tensor.MatVec(m.scratch.out, layer.FfnDown, act)
}

// Hidden resets the model and decodes ids in order, returning one row
// of hidden state per token.
func (m *Instance) Hidden(ids []int) (*tensor.Mat, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty token sequence")
	}
	if len(ids) > m.MaxContext {
		return nil, fmt.Errorf("sequence of %d tokens exceeds context window %d", len(ids), m.MaxContext)
	}
	m.Reset()
	out := tensor.NewMat(len(ids), m.Cfg.EmbeddingLength)
	for i, id := range ids {
		h, err := m.ForwardToken(id)
		if err != nil {
			return nil, err
		}
		copy(out.Row(i), h)
	}
	return &out, nil
}

func (m *Instance) Config() *Config { return &m.Cfg }

// Reset rewinds the decode position and clears the KV caches.
func (m *Instance) Reset() {
	m.Pos = 0
	for i := range m.Layers {
		cache := &m.Layers[i].Cache
		clear(cache.k)
		clear(cache.v)
		clear(cache.k16)
		clear(cache.v16)
	}
}
