package tokenizer

import (
	"slices"
	"strings"
	"testing"
)

var wpVocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]",
	"the", "quick", "brown", "fox", "##s", "run", "##ning",
	"hello", "world", ",", "!", "a", "##a", "桜",
}

func testWordPiece(t *testing.T, lowercase bool) *WordPiece {
	t.Helper()
	tok, err := NewWordPieceFromVocab(wpVocab, -1, -1, -1, lowercase)
	if err != nil {
		t.Fatalf("NewWordPieceFromVocab: %v", err)
	}
	return tok
}

func TestWordPieceEncode(t *testing.T) {
	tok := testWordPiece(t, true)
	cases := []struct {
		name string
		in   string
		want []int
	}{
		{"words", "The quick brown fox", []int{2, 4, 5, 6, 7, 3}},
		{"subword suffix", "foxs", []int{2, 7, 8, 3}},
		{"subword split", "running", []int{2, 9, 10, 3}},
		{"unknown word", "zebra", []int{2, 1, 3}},
		{"punctuation", "hello, world!", []int{2, 11, 13, 12, 14, 3}},
		{"cjk isolated", "hello桜world", []int{2, 11, 17, 12, 3}},
		{"empty", "", []int{2, 3}},
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

func TestWordPieceSpecialIDs(t *testing.T) {
	tok := testWordPiece(t, true)
	if got := tok.BOSID(); got != 2 {
		t.Errorf("BOSID() = %d, want 2 ([CLS])", got)
	}
	if got := tok.EOSID(); got != 3 {
		t.Errorf("EOSID() = %d, want 3 ([SEP])", got)
	}
}

func TestWordPieceAccents(t *testing.T) {
	tok := testWordPiece(t, true)
	got, err := tok.Encode("Héllo")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := []int{2, 11, 3}; !slices.Equal(got, want) {
		t.Errorf("Encode = %v, want %v", got, want)
	}
}

func TestWordPieceCaseSensitive(t *testing.T) {
	tok := testWordPiece(t, false)
	got, err := tok.Encode("The quick")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// "The" is not in the vocabulary without lowercasing.
	if want := []int{2, 1, 5, 3}; !slices.Equal(got, want) {
		t.Errorf("Encode = %v, want %v", got, want)
	}
}

func TestWordPieceMaxInputChars(t *testing.T) {
	tok := testWordPiece(t, true)

	got, err := tok.Encode("aaa")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := []int{2, 15, 16, 16, 3}; !slices.Equal(got, want) {
		t.Errorf("Encode(aaa) = %v, want %v", got, want)
	}

	long := strings.Repeat("a", 101)
	got, err = tok.Encode(long)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := []int{2, 1, 3}; !slices.Equal(got, want) {
		t.Errorf("Encode(long word) = %v, want %v", got, want)
	}
}

func TestWordPieceDecode(t *testing.T) {
	tok := testWordPiece(t, true)
	got, err := tok.Decode([]int{2, 7, 8, 3})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if want := "[CLS] foxs [SEP]"; got != want {
		t.Errorf("Decode = %q, want %q", got, want)
	}
	if _, err := tok.Decode([]int{len(wpVocab)}); err == nil {
		t.Error("Decode out-of-range id: want error")
	}
}

func TestWordPieceMissingUnknown(t *testing.T) {
	if _, err := NewWordPieceFromVocab([]string{"the"}, -1, -1, -1, true); err == nil {
		t.Error("NewWordPieceFromVocab without [UNK]: want error")
	}
}

func TestDropAccents(t *testing.T) {
	cases := []struct{ in, want string }{
		{"héllo", "hello"},
		{"naïve", "naive"},
		{"déjà", "deja"},
		{"plain", "plain"},
	}
	for _, tc := range cases {
		if got := dropAccents(tc.in); got != tc.want {
			t.Errorf("dropAccents(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
