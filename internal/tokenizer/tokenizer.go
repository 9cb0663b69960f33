// Package tokenizer turns text into model token ids and back. It implements
// byte-level BPE (GPT-2 style, with the Llama 3 pre-tokenizer variant) and
// WordPiece, loading vocabularies from HF tokenizer.json files or GGUF
// metadata.
package tokenizer

// Tokenizer defines the minimal interface used by the encoder and CLI.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}
