package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	if len(ids) != 10 || len(types) != 10 {
		t.Errorf("len(ids)=%d len(types)=%d", len(ids), len(types))
	}
	if ids[0] != 101 || ids[3] != 102 {
		t.Errorf("expected CLS ... SEP, got %v", ids)
	}
	if attn[0] != 1 || attn[3] != 1 || attn[4] != 0 {
		t.Errorf("attention mask = %v", attn)
	}
	upper, _, _ := tok.Tokenize("Hello World", 10)
	if upper[1] != ids[1] {
		t.Error("tokenizer should be case-insensitive")
	}
}

func TestSimpleTokenizer_truncates(t *testing.T) {
	ids, attn, _ := (&SimpleTokenizer{}).Tokenize("a b c d e f g h", 4)
	if len(ids) != 4 || ids[3] != 102 || attn[3] != 1 {
		t.Errorf("ids=%v attn=%v", ids, attn)
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	long := "a very long string that would overflow a naive signed hash many times over"
	if HashString(long) < 0 {
		t.Error("hash must be non-negative")
	}
}
