package tokenizer

// Config carries a vocabulary extracted from GGUF metadata.
type Config struct {
	Model      string
	Pre        string
	AddBOS     bool
	AddEOS     bool
	BOSTokenID int
	EOSTokenID int
	PADTokenID int
	UNKTokenID int
	Tokens     []string
	Merges     []string
	TokenTypes []int32
}

// TokenString returns the string for a token id when available.
func (c Config) TokenString(id int) string {
	if id < 0 || id >= len(c.Tokens) {
		return ""
	}
	return c.Tokens[id]
}

// New builds a tokenizer from a GGUF vocabulary. The model field selects the
// algorithm: "gpt2" and "llama" vocabularies use byte-level BPE, "bert" uses
// WordPiece.
func (c Config) New() (Tokenizer, error) {
	switch c.Model {
	case "bert":
		return NewWordPieceFromVocab(c.Tokens, c.UNKTokenID, c.BOSTokenID, c.EOSTokenID, true)
	default:
		return NewGPT2(c.Tokens, c.Merges, c.Pre, c.AddBOS, c.AddEOS, c.BOSTokenID, c.EOSTokenID, c.UNKTokenID)
	}
}
