package tokenizer

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	defaultWordPiecePrefix   = "##"
	defaultWordPieceMaxChars = 100
)

// WordPiece implements BERT-style tokenization: whitespace and punctuation
// splitting followed by greedy longest-match subword lookup with a
// continuation prefix. Encodings are wrapped in [CLS] ... [SEP].
type WordPiece struct {
	encoder       map[string]int
	decoder       []string
	unkID         int
	clsID         int
	sepID         int
	prefix        string
	maxInputChars int
	lowercase     bool
	stripAccents  bool
}

// NewWordPieceFromVocab builds a WordPiece tokenizer from a token list
// indexed by id, as extracted from GGUF metadata. Negative ids fall back to
// the conventional [UNK]/[CLS]/[SEP] entries of the vocabulary.
func NewWordPieceFromVocab(tokens []string, unkID, clsID, sepID int, lowercase bool) (*WordPiece, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty token list")
	}
	encoder := make(map[string]int, len(tokens))
	for i, t := range tokens {
		encoder[t] = i
	}
	if unkID < 0 {
		unkID = lookupToken(encoder, "[UNK]")
	}
	if unkID < 0 {
		return nil, fmt.Errorf("vocabulary has no unknown token")
	}
	if clsID < 0 {
		clsID = lookupToken(encoder, "[CLS]")
	}
	if sepID < 0 {
		sepID = lookupToken(encoder, "[SEP]")
	}
	return &WordPiece{
		encoder:       encoder,
		decoder:       append([]string(nil), tokens...),
		unkID:         unkID,
		clsID:         clsID,
		sepID:         sepID,
		prefix:        defaultWordPiecePrefix,
		maxInputChars: defaultWordPieceMaxChars,
		lowercase:     lowercase,
		stripAccents:  lowercase,
	}, nil
}

func wordPieceFromHF(tj *hfTokenizerJSON) (*WordPiece, error) {
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

	unkID := lookupToken(encoder, tj.Model.UnkToken)
	if unkID < 0 {
		unkID = lookupToken(encoder, "[UNK]")
	}
	if unkID < 0 {
		return nil, fmt.Errorf("vocabulary has no unknown token")
	}

	clsID := lookupToken(encoder, "[CLS]")
	sepID := lookupToken(encoder, "[SEP]")
	if leading, trailing := tj.PostProcessor.templateEdges(encoder); len(leading) > 0 || len(trailing) > 0 {
		clsID, sepID = -1, -1
		if len(leading) > 0 {
			clsID = leading[0].id
		}
		if len(trailing) > 0 {
			sepID = trailing[0].id
		}
	}

	prefix := tj.Model.ContinuingSubwordPrefix
	if prefix == "" {
		prefix = defaultWordPiecePrefix
	}
	maxChars := tj.Model.MaxInputCharsPerWord
	if maxChars <= 0 {
		maxChars = defaultWordPieceMaxChars
	}

	lowercase := tj.Normalizer.Lowercase
	strip := lowercase
	if tj.Normalizer.StripAccents != nil {
		strip = *tj.Normalizer.StripAccents
	}

	return &WordPiece{
		encoder:       encoder,
		decoder:       decoder,
		unkID:         unkID,
		clsID:         clsID,
		sepID:         sepID,
		prefix:        prefix,
		maxInputChars: maxChars,
		lowercase:     lowercase,
		stripAccents:  strip,
	}, nil
}

func (t *WordPiece) Encode(text string) ([]int, error) {
	var ids []int
	if t.clsID >= 0 {
		ids = append(ids, t.clsID)
	}
	for _, word := range t.basicTokenize(text) {
		ids = append(ids, t.wordIDs(word)...)
	}
	if t.sepID >= 0 {
		ids = append(ids, t.sepID)
	}
	return ids, nil
}

func (t *WordPiece) Decode(ids []int) (string, error) {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		parts = append(parts, t.decoder[id])
	}
	return strings.ReplaceAll(strings.Join(parts, " "), " "+t.prefix, ""), nil
}

func (t *WordPiece) VocabSize() int { return len(t.decoder) }

// BOSID and EOSID expose the [CLS] and [SEP] ids under the same accessor
// names as the BPE tokenizer, so callers handle sequence edges uniformly.
func (t *WordPiece) BOSID() int { return t.clsID }
func (t *WordPiece) EOSID() int { return t.sepID }

func (t *WordPiece) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}

// basicTokenize cleans the text, isolates CJK characters, splits on
// whitespace and then breaks punctuation into standalone tokens.
func (t *WordPiece) basicTokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0 || r == 0xFFFD || (unicode.IsControl(r) && !unicode.IsSpace(r)):
		case isCJK(r):
			b.WriteRune(' ')
			b.WriteRune(r)
			b.WriteRune(' ')
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}

	var words []string
	for _, word := range strings.Fields(b.String()) {
		if t.lowercase {
			word = strings.ToLower(word)
		}
		if t.stripAccents {
			word = dropAccents(word)
		}
		words = append(words, splitPunct(word)...)
	}
	return words
}

// wordIDs maps one word to subword ids by greedy longest match. A word with
// any unmatchable remainder becomes a single unknown token.
func (t *WordPiece) wordIDs(word string) []int {
	runes := []rune(word)
	if len(runes) > t.maxInputChars {
		return []int{t.unkID}
	}
	var out []int
	start := 0
	for start < len(runes) {
		end := len(runes)
		id := -1
		for start < end {
			sub := string(runes[start:end])
			if start > 0 {
				sub = t.prefix + sub
			}
			if v, ok := t.encoder[sub]; ok {
				id = v
				break
			}
			end--
		}
		if id < 0 {
			return []int{t.unkID}
		}
		out = append(out, id)
		start = end
	}
	return out
}

// dropAccents removes combining marks after NFD decomposition.
func dropAccents(s string) string {
	d := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(d))
	for _, r := range d {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitPunct(word string) []string {
	var out []string
	var cur []rune
	for _, r := range word {
		if isPunct(r) {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = cur[:0]
			}
			out = append(out, string(r))
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

// isPunct matches the BERT notion of punctuation: the ASCII symbol ranges
// plus anything in the unicode Punctuation categories.
func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF,
		r >= 0x3400 && r <= 0x4DBF,
		r >= 0x20000 && r <= 0x2A6DF,
		r >= 0x2A700 && r <= 0x2B73F,
		r >= 0x2B740 && r <= 0x2B81F,
		r >= 0x2B820 && r <= 0x2CEAF,
		r >= 0xF900 && r <= 0xFAFF,
		r >= 0x2F800 && r <= 0x2FA1F:
		return true
	}
	return false
}
