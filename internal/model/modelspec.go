package model

import "fmt"

// archSpec describes where an architecture keeps its tensors and which
// defaults apply when the config leaves a value unset. Every slot is a
// candidate list so the same spec resolves config.json/safetensors
// checkpoints and their GGUF conversions.
type archSpec struct {
	name string

	defaultActivation string
	defaultRopeBase   float64
	defaultLocalBase  float64
	hfNormOffset      float32 // added to norm weights on the safetensors path
	scaleEmbeddings   bool    // multiply embedding rows by sqrt(hidden)
	queryScaleFromCfg bool    // derive attention scale from query_pre_attn_scalar
	interleavedGGUF   bool    // GGUF checkpoints rotate interleaved rope pairs
	bidirectional     bool

	embedding  []string
	outputNorm []string

	attnNorm     func(i int) []string
	postAttnNorm func(i int) []string
	ffnNorm      func(i int) []string
	postFfnNorm  func(i int) []string

	wq func(i int) []string
	wk func(i int) []string
	wv func(i int) []string
	wo func(i int) []string

	wqBias func(i int) []string
	wkBias func(i int) []string
	wvBias func(i int) []string

	attnQNorm func(i int) []string
	attnKNorm func(i int) []string

	ffnGate func(i int) []string
	ffnUp   func(i int) []string
	ffnDown func(i int) []string

	bert *bertNames
}

func fmtCandidates(templates ...string) func(i int) []string {
	return func(i int) []string {
		out := make([]string, len(templates))
		for j, t := range templates {
			out[j] = fmt.Sprintf(t, i)
		}
		return out
	}
}

// causalSpec builds the llama-shaped baseline shared by every causal
// architecture here. prefixes are the config.json tensor prefixes to
// try, outermost first; GGUF names are appended to each slot.
func causalSpec(name string, prefixes ...string) *archSpec {
	layer := func(hfSuffix, ggufSuffix string) func(i int) []string {
		templates := make([]string, 0, len(prefixes)+1)
		for _, p := range prefixes {
			templates = append(templates, p+"layers.%d."+hfSuffix)
		}
		templates = append(templates, "blk.%d."+ggufSuffix)
		return fmtCandidates(templates...)
	}

	embedding := make([]string, 0, len(prefixes)+1)
	outputNorm := make([]string, 0, len(prefixes)+1)
	for _, p := range prefixes {
		embedding = append(embedding, p+"embed_tokens.weight")
		outputNorm = append(outputNorm, p+"norm.weight")
	}
	embedding = append(embedding, "token_embd.weight")
	outputNorm = append(outputNorm, "output_norm.weight")

	return &archSpec{
		name:              name,
		defaultActivation: "silu",
		defaultRopeBase:   10000,
		interleavedGGUF:   true,

		embedding:  embedding,
		outputNorm: outputNorm,

		attnNorm: layer("input_layernorm.weight", "attn_norm.weight"),
		ffnNorm:  layer("post_attention_layernorm.weight", "ffn_norm.weight"),

		wq: layer("self_attn.q_proj.weight", "attn_q.weight"),
		wk: layer("self_attn.k_proj.weight", "attn_k.weight"),
		wv: layer("self_attn.v_proj.weight", "attn_v.weight"),
		wo: layer("self_attn.o_proj.weight", "attn_output.weight"),

		wqBias: layer("self_attn.q_proj.bias", "attn_q.bias"),
		wkBias: layer("self_attn.k_proj.bias", "attn_k.bias"),
		wvBias: layer("self_attn.v_proj.bias", "attn_v.bias"),

		ffnGate: layer("mlp.gate_proj.weight", "ffn_gate.weight"),
		ffnUp:   layer("mlp.up_proj.weight", "ffn_up.weight"),
		ffnDown: layer("mlp.down_proj.weight", "ffn_down.weight"),
	}
}

func llamaSpec() *archSpec {
	return causalSpec("llama", "model.")
}

func mistralSpec() *archSpec {
	return causalSpec("mistral", "model.")
}

// mistral3Spec handles the multimodal layout where the text tower lives
// under language_model; text-only exports keep the plain prefix.
func mistral3Spec() *archSpec {
	return causalSpec("mistral3", "language_model.model.", "model.")
}

func qwen3Spec() *archSpec {
	spec := causalSpec("qwen3", "model.")
	spec.defaultRopeBase = 1000000
	spec.interleavedGGUF = false
	spec.attnQNorm = fmtCandidates(
		"model.layers.%d.self_attn.q_norm.weight",
		"blk.%d.attn_q_norm.weight",
	)
	spec.attnKNorm = fmtCandidates(
		"model.layers.%d.self_attn.k_norm.weight",
		"blk.%d.attn_k_norm.weight",
	)
	return spec
}

func gemma3Spec() *archSpec {
	spec := causalSpec("gemma3", "model.", "language_model.model.")
	spec.defaultActivation = "gelu_tanh"
	spec.defaultRopeBase = 1000000
	spec.defaultLocalBase = 10000
	spec.hfNormOffset = 1
	spec.scaleEmbeddings = true
	spec.queryScaleFromCfg = true
	spec.interleavedGGUF = false

	spec.attnQNorm = fmtCandidates(
		"model.layers.%d.self_attn.q_norm.weight",
		"language_model.model.layers.%d.self_attn.q_norm.weight",
		"blk.%d.attn_q_norm.weight",
	)
	spec.attnKNorm = fmtCandidates(
		"model.layers.%d.self_attn.k_norm.weight",
		"language_model.model.layers.%d.self_attn.k_norm.weight",
		"blk.%d.attn_k_norm.weight",
	)

	// Gemma blocks carry four norms; post_attention_layernorm moves to
	// the residual side and pre_feedforward_layernorm takes the ffn slot.
	spec.postAttnNorm = fmtCandidates(
		"model.layers.%d.post_attention_layernorm.weight",
		"language_model.model.layers.%d.post_attention_layernorm.weight",
		"blk.%d.post_attention_norm.weight",
	)
	spec.ffnNorm = fmtCandidates(
		"model.layers.%d.pre_feedforward_layernorm.weight",
		"language_model.model.layers.%d.pre_feedforward_layernorm.weight",
		"blk.%d.ffn_norm.weight",
	)
	spec.postFfnNorm = fmtCandidates(
		"model.layers.%d.post_feedforward_layernorm.weight",
		"language_model.model.layers.%d.post_feedforward_layernorm.weight",
		"blk.%d.post_ffw_norm.weight",
	)
	return spec
}

// bertNames mirrors archSpec for the bidirectional encoder layout,
// where every projection carries a bias and norms come in weight/bias
// pairs.
type bertNames struct {
	wordEmb     []string
	posEmb      []string
	typeEmb     []string
	embNorm     []string
	embNormBias []string

	wq, wqBias func(i int) []string
	wk, wkBias func(i int) []string
	wv, wvBias func(i int) []string
	wo, woBias func(i int) []string

	attnNorm, attnNormBias func(i int) []string
	ffnUp, ffnUpBias       func(i int) []string
	ffnDown, ffnDownBias   func(i int) []string
	outNorm, outNormBias   func(i int) []string
}

func bertSpec() *archSpec {
	layer := func(hfSuffix, ggufSuffix string) func(i int) []string {
		return fmtCandidates(
			"encoder.layer.%d."+hfSuffix,
			"bert.encoder.layer.%d."+hfSuffix,
			"blk.%d."+ggufSuffix,
		)
	}
	emb := func(hfSuffix, ggufName string) []string {
		return []string{
			"embeddings." + hfSuffix,
			"bert.embeddings." + hfSuffix,
			ggufName,
		}
	}

	return &archSpec{
		name:              "bert",
		defaultActivation: "gelu",
		bidirectional:     true,

		bert: &bertNames{
			wordEmb:     emb("word_embeddings.weight", "token_embd.weight"),
			posEmb:      emb("position_embeddings.weight", "position_embd.weight"),
			typeEmb:     emb("token_type_embeddings.weight", "token_types.weight"),
			embNorm:     emb("LayerNorm.weight", "token_embd_norm.weight"),
			embNormBias: emb("LayerNorm.bias", "token_embd_norm.bias"),

			wq:     layer("attention.self.query.weight", "attn_q.weight"),
			wqBias: layer("attention.self.query.bias", "attn_q.bias"),
			wk:     layer("attention.self.key.weight", "attn_k.weight"),
			wkBias: layer("attention.self.key.bias", "attn_k.bias"),
			wv:     layer("attention.self.value.weight", "attn_v.weight"),
			wvBias: layer("attention.self.value.bias", "attn_v.bias"),
			wo:     layer("attention.output.dense.weight", "attn_output.weight"),
			woBias: layer("attention.output.dense.bias", "attn_output.bias"),

			attnNorm:     layer("attention.output.LayerNorm.weight", "attn_output_norm.weight"),
			attnNormBias: layer("attention.output.LayerNorm.bias", "attn_output_norm.bias"),

			ffnUp:     layer("intermediate.dense.weight", "ffn_up.weight"),
			ffnUpBias: layer("intermediate.dense.bias", "ffn_up.bias"),

			ffnDown:     layer("output.dense.weight", "ffn_down.weight"),
			ffnDownBias: layer("output.dense.bias", "ffn_down.bias"),

			outNorm:     layer("output.LayerNorm.weight", "layer_output_norm.weight"),
			outNormBias: layer("output.LayerNorm.bias", "layer_output_norm.bias"),
		},
	}
}
