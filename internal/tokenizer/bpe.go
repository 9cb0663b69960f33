package tokenizer

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Go regexp has no lookahead, so the trailing-whitespace branch of the GPT-2
// pattern collapses into a plain \s+ match.
const gpt2Pattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`

// Llama 3 style pre-tokenizer with the case-insensitive groups expanded and
// the lookahead removed.
const llama3Pattern = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`

// BPE is a byte-level byte pair encoder. Raw bytes are mapped to printable
// unicode (so every byte sequence tokenizes), pre-tokenized with a regex,
// then merged greedily by rank.
type BPE struct {
	encoder      map[string]int
	decoder      []string
	bpeRanks     map[Pair]int
	byteEncoder  map[byte]string
	byteDecoder  map[string]byte
	pattern      *regexp.Regexp
	addBOS       bool
	addEOS       bool
	bosID        int
	eosID        int
	unkID        int
	ignoreMerges bool
	special      []string
	specialSet   map[string]bool

	mu    sync.Mutex
	cache map[string][]string
}

// NewGPT2 builds a byte-level BPE tokenizer from a GGUF vocabulary: a token
// list indexed by id plus "A B" merge lines. pre selects the pre-tokenizer
// variant.
func NewGPT2(tokens []string, merges []string, pre string, addBOS, addEOS bool, bosID, eosID, unkID int) (*BPE, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty token list")
	}
	encoder := make(map[string]int, len(tokens))
	for i, t := range tokens {
		encoder[t] = i
	}
	decoder := append([]string(nil), tokens...)

	raw := make([]any, len(merges))
	for i, m := range merges {
		raw[i] = m
	}
	bpeRanks := parseMerges(raw)

	pattern := gpt2Pattern
	ignoreMerges := false
	switch pre {
	case "lfm2", "llama3", "llama-v3", "llama-bpe", "falcon3", "falcon-h1", "pixtral", "midm-2.0":
		pattern = llama3Pattern
		ignoreMerges = true
	}

	return newBPE(encoder, decoder, bpeRanks, pattern, collectSpecials(tokens),
		addBOS, addEOS, bosID, eosID, unkID, ignoreMerges)
}

func newBPE(encoder map[string]int, decoder []string, bpeRanks map[Pair]int,
	pattern string, specials []string,
	addBOS, addEOS bool, bosID, eosID, unkID int, ignoreMerges bool) (*BPE, error) {

	pat, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pre-tokenizer pattern: %w", err)
	}
	byteEncoder, byteDecoder := bytesToUnicode()

	specialSet := make(map[string]bool, len(specials))
	for _, sp := range specials {
		specialSet[sp] = true
	}

	return &BPE{
		encoder:      encoder,
		decoder:      decoder,
		bpeRanks:     bpeRanks,
		cache:        make(map[string][]string),
		byteEncoder:  byteEncoder,
		byteDecoder:  byteDecoder,
		pattern:      pat,
		addBOS:       addBOS,
		addEOS:       addEOS,
		bosID:        bosID,
		eosID:        eosID,
		unkID:        unkID,
		ignoreMerges: ignoreMerges,
		special:      specials,
		specialSet:   specialSet,
	}, nil
}

func (t *BPE) Encode(text string) ([]int, error) {
	var ids []int
	if t.addBOS && t.bosID >= 0 {
		ids = append(ids, t.bosID)
	}
	for _, part := range splitSpecials(text, t.special) {
		if part.isSpecial {
			id, ok := t.encoder[part.text]
			if !ok {
				return nil, fmt.Errorf("unknown special token: %q", part.text)
			}
			ids = append(ids, id)
			continue
		}
		for _, token := range t.pattern.FindAllString(part.text, -1) {
			for _, bpeTok := range t.bpe(t.byteEncode(token)) {
				id, ok := t.encoder[bpeTok]
				if !ok {
					if t.unkID >= 0 {
						ids = append(ids, t.unkID)
						continue
					}
					return nil, fmt.Errorf("unknown token: %q", bpeTok)
				}
				ids = append(ids, id)
			}
		}
	}
	if t.addEOS && t.eosID >= 0 {
		ids = append(ids, t.eosID)
	}
	return ids, nil
}

func (t *BPE) Decode(ids []int) (string, error) {
	var b []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		token := t.decoder[id]
		if t.specialSet[token] {
			b = append(b, token...)
			continue
		}
		for _, r := range token {
			if by, ok := t.byteDecoder[string(r)]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	return string(b), nil
}

func (t *BPE) BOSID() int   { return t.bosID }
func (t *BPE) EOSID() int   { return t.eosID }
func (t *BPE) AddBOS() bool { return t.addBOS }
func (t *BPE) AddEOS() bool { return t.addEOS }

func (t *BPE) VocabSize() int { return len(t.decoder) }

func (t *BPE) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}

func (t *BPE) byteEncode(s string) string {
	var b strings.Builder
	for _, by := range []byte(s) {
		b.WriteString(t.byteEncoder[by])
	}
	return b.String()
}

func (t *BPE) bpe(token string) []string {
	t.mu.Lock()
	if v, ok := t.cache[token]; ok {
		t.mu.Unlock()
		return v
	}
	t.mu.Unlock()

	word := t.merge(token)

	t.mu.Lock()
	t.cache[token] = word
	t.mu.Unlock()
	return word
}

func (t *BPE) merge(token string) []string {
	if t.ignoreMerges {
		if _, ok := t.encoder[token]; ok {
			return []string{token}
		}
	}
	word := splitRunes(token)
	pairs := getPairs(word)
	for len(pairs) > 0 {
		bestRank := int(^uint(0) >> 1)
		bestPair := Pair{}
		found := false
		for p := range pairs {
			if rank, ok := t.bpeRanks[p]; ok && rank < bestRank {
				bestRank = rank
				bestPair = p
				found = true
			}
		}
		if !found {
			break
		}
		word = mergePair(word, bestPair)
		if len(word) == 1 {
			break
		}
		pairs = getPairs(word)
	}
	return word
}
