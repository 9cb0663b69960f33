package tokenizer

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

// bpeTokenizerJSON builds a tokenizer.json document around testVocab with the
// marker tokens carried as added_tokens, the way Llama 3 style models ship.
func bpeTokenizerJSON(t *testing.T, withTemplate bool) []byte {
	t.Helper()
	vocab := make(map[string]int, len(testVocab))
	for i, tok := range testVocab {
		if strings.HasPrefix(tok, "<|") {
			continue
		}
		vocab[tok] = i
	}
	doc := map[string]any{
		"model": map[string]any{
			"type":   "BPE",
			"vocab":  vocab,
			"merges": testMerges,
		},
		"pre_tokenizer": map[string]any{
			"type": "Sequence",
			"pretokenizers": []any{
				map[string]any{
					"type":    "Split",
					"pattern": map[string]any{"Regex": `(?i:'s|'t|'re)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`},
				},
			},
		},
		"added_tokens": []any{
			map[string]any{"id": 17, "content": "<|bos|>", "special": true},
			map[string]any{"id": 18, "content": "<|eot|>", "special": true},
		},
	}
	if withTemplate {
		doc["post_processor"] = map[string]any{
			"type": "Sequence",
			"processors": []any{
				map[string]any{"type": "ByteLevel", "trim_offsets": true},
				map[string]any{
					"type": "TemplateProcessing",
					"single": []any{
						map[string]any{"SpecialToken": map[string]any{"id": "<|bos|>", "type_id": 0}},
						map[string]any{"Sequence": map[string]any{"id": "A", "type_id": 0}},
					},
					"special_tokens": map[string]any{
						"<|bos|>": map[string]any{"id": "<|bos|>", "ids": []int{17}, "tokens": []string{"<|bos|>"}},
					},
				},
			},
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return data
}

func TestParseHFTokenizerBPE(t *testing.T) {
	tok, err := ParseHFTokenizer(bpeTokenizerJSON(t, true), nil)
	if err != nil {
		t.Fatalf("ParseHFTokenizer: %v", err)
	}
	bpe, ok := tok.(*BPE)
	if !ok {
		t.Fatalf("got %T, want *BPE", tok)
	}
	if !bpe.AddBOS() || bpe.BOSID() != 17 {
		t.Errorf("addBOS=%v bosID=%d, want true 17", bpe.AddBOS(), bpe.BOSID())
	}

	got, err := tok.Encode("hello world")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := []int{17, 11, 16}; !slices.Equal(got, want) {
		t.Errorf("Encode = %v, want %v", got, want)
	}

	got, err = tok.Encode("hello<|eot|>")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := []int{17, 11, 18}; !slices.Equal(got, want) {
		t.Errorf("Encode = %v, want %v", got, want)
	}
}

func TestParseHFTokenizerConfigBOS(t *testing.T) {
	cases := []struct {
		name string
		cfg  string
	}{
		{"string token", `{"add_bos_token": true, "bos_token": "<|bos|>"}`},
		{"object token", `{"add_bos_token": true, "bos_token": {"content": "<|bos|>"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok, err := ParseHFTokenizer(bpeTokenizerJSON(t, false), []byte(tc.cfg))
			if err != nil {
				t.Fatalf("ParseHFTokenizer: %v", err)
			}
			got, err := tok.Encode("hello world")
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if want := []int{17, 11, 16}; !slices.Equal(got, want) {
				t.Errorf("Encode = %v, want %v", got, want)
			}
		})
	}
}

// A special token after $A in the template means EOS is appended, the layout
// Qwen embedding models use.
func TestParseHFTokenizerTrailingEOS(t *testing.T) {
	const doc = `{
		"model": {"type": "BPE", "vocab": {"a": 0, "<|endoftext|>": 1}, "merges": []},
		"added_tokens": [{"id": 1, "content": "<|endoftext|>", "special": true}],
		"post_processor": {
			"type": "TemplateProcessing",
			"single": [
				{"Sequence": {"id": "A", "type_id": 0}},
				{"SpecialToken": {"id": "<|endoftext|>", "type_id": 0}}
			],
			"special_tokens": {"<|endoftext|>": {"id": "<|endoftext|>", "ids": [1], "tokens": ["<|endoftext|>"]}}
		}
	}`
	tok, err := ParseHFTokenizer([]byte(doc), nil)
	if err != nil {
		t.Fatalf("ParseHFTokenizer: %v", err)
	}
	got, err := tok.Encode("a")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := []int{0, 1}; !slices.Equal(got, want) {
		t.Errorf("Encode = %v, want %v", got, want)
	}
}

const bertTokenizerJSON = `{
	"normalizer": {"type": "BertNormalizer", "lowercase": true, "strip_accents": null},
	"pre_tokenizer": {"type": "BertPreTokenizer"},
	"model": {
		"type": "WordPiece",
		"unk_token": "[UNK]",
		"continuing_subword_prefix": "##",
		"max_input_chars_per_word": 100,
		"vocab": {"[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3, "hello": 4, "world": 5, "##s": 6}
	},
	"post_processor": {
		"type": "TemplateProcessing",
		"single": [
			{"SpecialToken": {"id": "[CLS]", "type_id": 0}},
			{"Sequence": {"id": "A", "type_id": 0}},
			{"SpecialToken": {"id": "[SEP]", "type_id": 0}}
		],
		"special_tokens": {
			"[CLS]": {"id": "[CLS]", "ids": [2], "tokens": ["[CLS]"]},
			"[SEP]": {"id": "[SEP]", "ids": [3], "tokens": ["[SEP]"]}
		}
	}
}`

func TestParseHFTokenizerWordPiece(t *testing.T) {
	tok, err := ParseHFTokenizer([]byte(bertTokenizerJSON), nil)
	if err != nil {
		t.Fatalf("ParseHFTokenizer: %v", err)
	}
	if _, ok := tok.(*WordPiece); !ok {
		t.Fatalf("got %T, want *WordPiece", tok)
	}

	cases := []struct {
		name string
		in   string
		want []int
	}{
		{"lowercased subwords", "Hello worlds", []int{2, 4, 5, 6, 3}},
		{"accents stripped", "Héllo", []int{2, 4, 3}},
		{"unknown", "zebra", []int{2, 1, 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tok.Encode(tc.in)
			if err != nil {
				t.Fatalf("Encode(%q): %v", tc.in, err)
			}
			if !slices.Equal(got, tc.want) {
				t.Errorf("Encode(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseHFTokenizerUnsupported(t *testing.T) {
	_, err := ParseHFTokenizer([]byte(`{"model": {"type": "Unigram"}}`), nil)
	if err == nil || !strings.Contains(err.Error(), "unsupported tokenizer model") {
		t.Errorf("got err %v, want unsupported tokenizer model", err)
	}
}

func TestLoadHFTokenizer(t *testing.T) {
	dir := t.TempDir()
	tokPath := filepath.Join(dir, "tokenizer.json")
	if err := os.WriteFile(tokPath, bpeTokenizerJSON(t, true), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "tokenizer_config.json")
	if err := os.WriteFile(cfgPath, []byte(`{"add_eos_token": true, "eos_token": "<|eot|>"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tok, err := LoadHFTokenizer(tokPath, cfgPath)
	if err != nil {
		t.Fatalf("LoadHFTokenizer: %v", err)
	}
	got, err := tok.Encode("hello world")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := []int{17, 11, 16, 18}; !slices.Equal(got, want) {
		t.Errorf("Encode = %v, want %v", got, want)
	}

	if _, err := LoadHFTokenizer(filepath.Join(dir, "missing.json"), ""); err == nil {
		t.Error("LoadHFTokenizer on missing file: want error")
	}
}
