package tokenizer

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
)

type hfTokenizerJSON struct {
	Normalizer struct {
		Type         string `json:"type"`
		Lowercase    bool   `json:"lowercase"`
		StripAccents *bool  `json:"strip_accents"`
	} `json:"normalizer"`
	Model struct {
		Type                    string         `json:"type"`
		Vocab                   map[string]int `json:"vocab"`
		Merges                  []any          `json:"merges"`
		IgnoreMerges            bool           `json:"ignore_merges"`
		UnkToken                string         `json:"unk_token"`
		ContinuingSubwordPrefix string         `json:"continuing_subword_prefix"`
		MaxInputCharsPerWord    int            `json:"max_input_chars_per_word"`
	} `json:"model"`
	PreTokenizer  hfPreTokenizer  `json:"pre_tokenizer"`
	PostProcessor hfPostProcessor `json:"post_processor"`
	AddedTokens   []hfAddedToken  `json:"added_tokens"`
}

type hfAddedToken struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

type hfPreTokenizer struct {
	Type          string    `json:"type"`
	Pattern       hfPattern `json:"pattern"`
	Pretokenizers []struct {
		Type    string    `json:"type"`
		Pattern hfPattern `json:"pattern"`
	} `json:"pretokenizers"`
}

type hfPattern struct {
	Regex string `json:"Regex"`
}

// hfPostProcessor covers both a bare TemplateProcessing block and the
// Sequence wrapper that nests one.
type hfPostProcessor struct {
	Type          string           `json:"type"`
	Single        []hfTemplateItem `json:"single"`
	SpecialTokens map[string]struct {
		IDs []int `json:"ids"`
	} `json:"special_tokens"`
	Processors []hfPostProcessor `json:"processors"`
}

type hfTemplateItem struct {
	SpecialToken *struct {
		ID string `json:"id"`
	} `json:"SpecialToken"`
	Sequence *struct {
		ID string `json:"id"`
	} `json:"Sequence"`
}

// hfTokenName accepts both the plain-string and the AddedToken object forms
// used in tokenizer_config.json.
type hfTokenName struct {
	Content string `json:"content"`
}

func (n *hfTokenName) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &n.Content)
	}
	type plain hfTokenName
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	n.Content = p.Content
	return nil
}

type hfTokenizerConfig struct {
	AddBOS bool        `json:"add_bos_token"`
	AddEOS bool        `json:"add_eos_token"`
	BOS    hfTokenName `json:"bos_token"`
	EOS    hfTokenName `json:"eos_token"`
}

// LoadHFTokenizer reads a tokenizer.json file and, when present, the matching
// tokenizer_config.json.
func LoadHFTokenizer(tokJSON, tokConfig string) (Tokenizer, error) {
	data, err := os.ReadFile(tokJSON)
	if err != nil {
		return nil, err
	}
	var cfg []byte
	if tokConfig != "" {
		if raw, err := os.ReadFile(tokConfig); err == nil {
			cfg = raw
		}
	}
	return ParseHFTokenizer(data, cfg)
}

// ParseHFTokenizer builds a tokenizer from tokenizer.json contents. The model
// type selects the algorithm; tokenizer_config.json contributes BOS/EOS
// defaults for BPE models.
func ParseHFTokenizer(tokJSON, tokConfig []byte) (Tokenizer, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	switch tj.Model.Type {
	case "BPE":
		return bpeFromHF(&tj, tokConfig)
	case "WordPiece":
		return wordPieceFromHF(&tj)
	default:
		return nil, fmt.Errorf("unsupported tokenizer model: %q", tj.Model.Type)
	}
}

func bpeFromHF(tj *hfTokenizerJSON, tokConfig []byte) (*BPE, error) {
	encoder := make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens))
	maxID := -1
	for tok, id := range tj.Model.Vocab {
		encoder[tok] = id
		if id > maxID {
			maxID = id
		}
	}
	for _, at := range tj.AddedTokens {
		encoder[at.Content] = at.ID
		if at.ID > maxID {
			maxID = at.ID
		}
	}
	decoder := make([]string, maxID+1)
	for tok, id := range tj.Model.Vocab {
		decoder[id] = tok
	}
	for _, at := range tj.AddedTokens {
		decoder[at.ID] = at.Content
	}

	var specials []string
	for _, at := range tj.AddedTokens {
		if at.Special {
			specials = append(specials, at.Content)
		}
	}
	if len(specials) == 0 {
		specials = collectSpecials(decoder)
	} else {
		specials = sortSpecials(specials)
	}

	var cfg hfTokenizerConfig
	if len(tokConfig) > 0 {
		_ = json.Unmarshal(tokConfig, &cfg)
	}
	addBOS, addEOS := cfg.AddBOS, cfg.AddEOS
	bosID := lookupToken(encoder, cfg.BOS.Content)
	eosID := lookupToken(encoder, cfg.EOS.Content)

	// The single-sequence template is authoritative for fast tokenizers:
	// a special token before $A means prepend BOS, one after means append
	// EOS (Qwen embedding models do the latter).
	leading, trailing := tj.PostProcessor.templateEdges(encoder)
	if len(leading) > 0 && leading[0].id >= 0 {
		addBOS, bosID = true, leading[0].id
	}
	if len(trailing) > 0 && trailing[0].id >= 0 {
		addEOS, eosID = true, trailing[0].id
	}

	unkID := lookupToken(encoder, tj.Model.UnkToken)

	return newBPE(encoder, decoder, parseMerges(tj.Model.Merges),
		hfPatternFor(tj.PreTokenizer), specials,
		addBOS, addEOS, bosID, eosID, unkID, tj.Model.IgnoreMerges)
}

// parseMerges accepts both merge encodings found in tokenizer.json: "A B"
// strings and ["A", "B"] pairs.
func parseMerges(raw []any) map[Pair]int {
	ranks := make(map[Pair]int, len(raw))
	rank := 0
	for _, m := range raw {
		var a, b string
		switch v := m.(type) {
		case string:
			line := strings.TrimSpace(v)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.Split(line, " ")
			if len(parts) != 2 {
				continue
			}
			a, b = parts[0], parts[1]
		case []any:
			if len(v) != 2 {
				continue
			}
			var aok, bok bool
			a, aok = v[0].(string)
			b, bok = v[1].(string)
			if !aok || !bok {
				continue
			}
		default:
			continue
		}
		p := Pair{A: a, B: b}
		if _, ok := ranks[p]; !ok {
			ranks[p] = rank
			rank++
		}
	}
	return ranks
}

func hfPatternFor(pre hfPreTokenizer) string {
	pat := ""
	switch pre.Type {
	case "Split":
		pat = pre.Pattern.Regex
	case "Sequence":
		for _, p := range pre.Pretokenizers {
			if p.Type == "Split" && p.Pattern.Regex != "" {
				pat = p.Pattern.Regex
				break
			}
		}
	}
	if pat == "" {
		return gpt2Pattern
	}
	// RE2 has no lookahead. The llama.cpp rewrite of the Llama 3 pattern
	// covers the models that use one.
	if strings.Contains(pat, "(?!") || strings.Contains(pat, "(?=") {
		return llama3Pattern
	}
	if _, err := regexp.Compile(pat); err != nil {
		return llama3Pattern
	}
	return pat
}

func lookupToken(encoder map[string]int, tok string) int {
	if tok == "" {
		return -1
	}
	if id, ok := encoder[tok]; ok {
		return id
	}
	return -1
}

type templateTok struct {
	name string
	id   int
}

func (p *hfPostProcessor) find(typ string) *hfPostProcessor {
	if p.Type == typ {
		return p
	}
	for i := range p.Processors {
		if found := p.Processors[i].find(typ); found != nil {
			return found
		}
	}
	return nil
}

// templateEdges reports the special tokens placed before and after the $A
// sequence in the single-input template.
func (p *hfPostProcessor) templateEdges(vocab map[string]int) (leading, trailing []templateTok) {
	tp := p.find("TemplateProcessing")
	if tp == nil {
		return nil, nil
	}
	seenSeq := false
	for _, item := range tp.Single {
		if item.Sequence != nil {
			seenSeq = true
			continue
		}
		if item.SpecialToken == nil {
			continue
		}
		id := -1
		if st, ok := tp.SpecialTokens[item.SpecialToken.ID]; ok && len(st.IDs) > 0 {
			id = st.IDs[0]
		} else if v, ok := vocab[item.SpecialToken.ID]; ok {
			id = v
		}
		tok := templateTok{name: item.SpecialToken.ID, id: id}
		if seenSeq {
			trailing = append(trailing, tok)
		} else {
			leading = append(leading, tok)
		}
	}
	return leading, trailing
}
