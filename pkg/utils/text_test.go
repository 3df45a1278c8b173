package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if got := Truncate("héllo wörld", 5); got != "héllo..." {
		t.Errorf("multibyte: got %s", got)
	}
}

func TestSnippet(t *testing.T) {
	if got := Snippet("  line one\n\n\tline two  ", 100); got != "line one line two" {
		t.Errorf("got %q", got)
	}
	if got := Snippet("a  b  c  d", 3); got != "a b..." {
		t.Errorf("got %q", got)
	}
}
