package model

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

type hfConfig struct {
	ModelType     string   `json:"model_type"`
	Architectures []string `json:"architectures"`

	HiddenSize        int      `json:"hidden_size"`
	IntermediateSize  int      `json:"intermediate_size"`
	NumHiddenLayers   int      `json:"num_hidden_layers"`
	NumAttentionHeads int      `json:"num_attention_heads"`
	NumKeyValueHeads  int      `json:"num_key_value_heads"`
	HeadDim           int      `json:"head_dim"`
	VocabSize         int      `json:"vocab_size"`
	MaxPosition       int      `json:"max_position_embeddings"`
	RMSNormEps        float64  `json:"rms_norm_eps"`
	LayerNormEps      float64  `json:"layer_norm_eps"`
	NormEps           float64  `json:"norm_eps"`
	AttentionBias     bool     `json:"attention_bias"`
	SlidingWindow     int      `json:"sliding_window"`
	LayerTypes        []string `json:"layer_types"`
	HiddenAct         string   `json:"hidden_act"`
	HiddenActivation  string   `json:"hidden_activation"`

	RopeTheta          float64      `json:"rope_theta"`
	RopeLocalBaseFreq  float64      `json:"rope_local_base_freq"`
	RopeScaling        *ropeScaling `json:"rope_scaling"`
	RopeParameters     *ropeParams  `json:"rope_parameters"`
	QueryPreAttnScalar float64      `json:"query_pre_attn_scalar"`

	// BERT-family fields.
	TypeVocabSize int  `json:"type_vocab_size"`
	PadTokenID    *int `json:"pad_token_id"`

	// Expert counts are parsed only to reject mixture models clearly.
	NumLocalExperts  int `json:"num_local_experts"`
	NumExperts       int `json:"num_experts"`
	NumExpertsPerTok int `json:"num_experts_per_tok"`
}

type ropeScaling struct {
	Type                          string  `json:"type"`
	RopeType                      string  `json:"rope_type"`
	Factor                        float64 `json:"factor"`
	OriginalMaxPositionEmbeddings int     `json:"original_max_position_embeddings"`
	LowFreqFactor                 float64 `json:"low_freq_factor"`
	HighFreqFactor                float64 `json:"high_freq_factor"`
	AttentionFactor               float64 `json:"attention_factor"`
	BetaFast                      float64 `json:"beta_fast"`
	BetaSlow                      float64 `json:"beta_slow"`
	MScale                        float64 `json:"mscale"`
	MScaleAllDim                  float64 `json:"mscale_all_dim"`
	Truncate                      *bool   `json:"truncate"`
}

// ropeParams captures the rope_parameters schema used by newer Mistral
// configs. Only the fields this runtime consumes are declared.
type ropeParams struct {
	Type                          string  `json:"type"`
	RopeType                      string  `json:"rope_type"`
	Factor                        float64 `json:"factor"`
	OriginalMaxPositionEmbeddings int     `json:"original_max_position_embeddings"`
	RopeTheta                     float64 `json:"rope_theta"`
	LowFreqFactor                 float64 `json:"low_freq_factor"`
	HighFreqFactor                float64 `json:"high_freq_factor"`
	AttentionFactor               float64 `json:"attention_factor"`
	BetaFast                      float64 `json:"beta_fast"`
	BetaSlow                      float64 `json:"beta_slow"`
	MScale                        float64 `json:"mscale"`
	MScaleAllDim                  float64 `json:"mscale_all_dim"`
	Truncate                      *bool   `json:"truncate"`
}

func loadHFConfigBytes(raw []byte) (*hfConfig, error) {
	var cfg hfConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config.json: %w", err)
	}
	if err := mergeTextConfigMissing(&cfg, raw); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeTextConfigMissing fills missing hfConfig fields from a nested
// text_config object when present. Multimodal configs (mistral3, gemma3
// vision bundles) place the text model parameters there.
func mergeTextConfigMissing(dst *hfConfig, raw []byte) error {
	if dst == nil || len(raw) == 0 {
		return nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return err
	}
	textRaw, ok := top["text_config"]
	if !ok || len(textRaw) == 0 {
		return nil
	}

	var tc hfConfig
	if err := json.Unmarshal(textRaw, &tc); err != nil {
		return err
	}

	// Identity fields stay with the outer config; only fill gaps.
	if dst.HiddenSize == 0 {
		dst.HiddenSize = tc.HiddenSize
	}
	if dst.IntermediateSize == 0 {
		dst.IntermediateSize = tc.IntermediateSize
	}
	if dst.NumHiddenLayers == 0 {
		dst.NumHiddenLayers = tc.NumHiddenLayers
	}
	if dst.NumAttentionHeads == 0 {
		dst.NumAttentionHeads = tc.NumAttentionHeads
	}
	if dst.NumKeyValueHeads == 0 {
		dst.NumKeyValueHeads = tc.NumKeyValueHeads
	}
	if dst.HeadDim == 0 {
		dst.HeadDim = tc.HeadDim
	}
	if dst.VocabSize == 0 {
		dst.VocabSize = tc.VocabSize
	}
	if dst.MaxPosition == 0 {
		dst.MaxPosition = tc.MaxPosition
	}
	if dst.RMSNormEps == 0 {
		dst.RMSNormEps = tc.RMSNormEps
	}
	if dst.LayerNormEps == 0 {
		dst.LayerNormEps = tc.LayerNormEps
	}
	if dst.NormEps == 0 {
		dst.NormEps = tc.NormEps
	}
	if !dst.AttentionBias {
		dst.AttentionBias = tc.AttentionBias
	}
	if dst.SlidingWindow == 0 {
		dst.SlidingWindow = tc.SlidingWindow
	}
	if len(dst.LayerTypes) == 0 {
		dst.LayerTypes = tc.LayerTypes
	}
	if dst.HiddenAct == "" {
		dst.HiddenAct = tc.HiddenAct
	}
	if dst.HiddenActivation == "" {
		dst.HiddenActivation = tc.HiddenActivation
	}
	if dst.RopeTheta == 0 {
		dst.RopeTheta = tc.RopeTheta
	}
	if dst.RopeTheta == 0 && tc.RopeParameters != nil {
		dst.RopeTheta = tc.RopeParameters.RopeTheta
	}
	if dst.RopeLocalBaseFreq == 0 {
		dst.RopeLocalBaseFreq = tc.RopeLocalBaseFreq
	}
	if dst.RopeScaling == nil {
		dst.RopeScaling = tc.RopeScaling
	}
	if dst.RopeParameters == nil {
		dst.RopeParameters = tc.RopeParameters
	}
	if dst.QueryPreAttnScalar == 0 {
		dst.QueryPreAttnScalar = tc.QueryPreAttnScalar
	}
	if dst.NumLocalExperts == 0 {
		dst.NumLocalExperts = tc.NumLocalExperts
	}
	if dst.NumExperts == 0 {
		dst.NumExperts = tc.NumExperts
	}
	if dst.NumExpertsPerTok == 0 {
		dst.NumExpertsPerTok = tc.NumExpertsPerTok
	}
	return nil
}

func detectArch(cfg *hfConfig) (*archSpec, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	modelType := strings.ToLower(strings.TrimSpace(cfg.ModelType))
	archs := make([]string, 0, len(cfg.Architectures))
	for _, arch := range cfg.Architectures {
		archs = append(archs, strings.ToLower(arch))
	}

	hasArch := func(substr string) bool {
		if strings.Contains(modelType, substr) {
			return true
		}
		for _, arch := range archs {
			if strings.Contains(arch, substr) {
				return true
			}
		}
		return false
	}

	if hasMoE(cfg) {
		return nil, fmt.Errorf("mixture-of-experts models are not supported by this runtime")
	}

	switch {
	case hasArch("bert"):
		return bertSpec(), nil
	case hasArch("qwen3"):
		return qwen3Spec(), nil
	case hasArch("gemma3"):
		return gemma3Spec(), nil
	case hasArch("mistral3"):
		return mistral3Spec(), nil
	case hasArch("mistral"):
		return mistralSpec(), nil
	case hasArch("llama"):
		return llamaSpec(), nil
	default:
		return nil, fmt.Errorf("unsupported model_type %q (architectures=%v)", cfg.ModelType, cfg.Architectures)
	}
}

func hasMoE(cfg *hfConfig) bool {
	if cfg == nil {
		return false
	}
	return cfg.NumLocalExperts > 0 || cfg.NumExperts > 0 || cfg.NumExpertsPerTok > 0
}
