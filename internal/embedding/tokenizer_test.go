package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("Hello, world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths = %d/%d/%d", len(ids), len(attn), len(types))
	}
	if ids[0] != tokenCLS {
		t.Errorf("expected CLS, got %d", ids[0])
	}
	// [CLS] hello , world [SEP]
	if ids[4] != tokenSEP {
		t.Errorf("expected SEP at 4, got %v", ids)
	}
	for i := 1; i < 4; i++ {
		if ids[i] < firstWord || ids[i] >= vocabSize {
			t.Errorf("token %d out of range: %d", i, ids[i])
		}
	}
	if attn[5] != 0 {
		t.Error("padding should have zero attention")
	}
}

func TestSimpleTokenizer_Truncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, _, _ := tok.Tokenize("a b c d e f g h", 4)
	if ids[3] != tokenSEP {
		t.Errorf("expected SEP in last slot, got %v", ids)
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  A  b.  c  ")
	want := []string{"a", "b", ".", "c"}
	if len(words) != len(want) {
		t.Fatalf("got %v", words)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("word %d = %q, want %q", i, words[i], want[i])
		}
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
}

func TestHashString(t *testing.T) {
	h := HashString("abc")
	if h == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("a much longer string that will overflow the accumulator many times") < 0 {
		t.Error("hash should be non-negative")
	}
}
