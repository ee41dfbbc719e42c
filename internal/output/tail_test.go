package output

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateKeepsSuffix(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("ab", 6000) // 12000 chars
	got := Truncate(s, DefaultMaxChars)
	if utf8.RuneCountInString(got) != DefaultMaxChars {
		t.Fatalf("Truncate() length = %d, want %d", utf8.RuneCountInString(got), DefaultMaxChars)
	}
	if !strings.HasSuffix(s, got) {
		t.Fatal("Truncate() result is not a suffix of the input")
	}
}

func TestTruncateShortInputUnchanged(t *testing.T) {
	t.Parallel()

	if got := Truncate("hello", 8000); got != "hello" {
		t.Fatalf("Truncate() = %q, want %q", got, "hello")
	}
	if got := Truncate("", 8000); got != "" {
		t.Fatalf("Truncate() = %q, want empty", got)
	}
}

func TestTruncateCountsCharactersNotBytes(t *testing.T) {
	t.Parallel()

	// 3-byte runes: byte-based truncation would split one of these.
	s := strings.Repeat("日", 10)
	got := Truncate(s, 4)
	if got != strings.Repeat("日", 4) {
		t.Fatalf("Truncate() = %q, want last 4 runes", got)
	}
	if !utf8.ValidString(got) {
		t.Fatal("Truncate() produced invalid UTF-8")
	}
}

func TestTailBoundAndOrder(t *testing.T) {
	t.Parallel()

	tail := NewTail(10)
	var want strings.Builder
	for i := 0; i < 50; i++ {
		chunk := strings.Repeat(string(rune('a'+i%26)), 3)
		tail.Append(chunk)
		want.WriteString(chunk)
	}
	if tail.Len() != 10 {
		t.Fatalf("Tail.Len() = %d, want 10", tail.Len())
	}
	if !strings.HasSuffix(want.String(), tail.String()) {
		t.Fatalf("Tail.String() = %q is not a suffix of all appended text", tail.String())
	}
}

func TestTailReset(t *testing.T) {
	t.Parallel()

	tail := NewTail(0)
	tail.AppendLine("first")
	if tail.String() != "first\n" {
		t.Fatalf("Tail.String() = %q, want %q", tail.String(), "first\n")
	}
	tail.Reset()
	if tail.String() != "" || tail.Len() != 0 {
		t.Fatalf("Tail not empty after Reset: %q", tail.String())
	}
}

func TestTailNilReceiver(t *testing.T) {
	t.Parallel()

	var tail *Tail
	tail.Append("x")
	tail.Reset()
	if tail.String() != "" || tail.Len() != 0 {
		t.Fatal("nil Tail should behave as empty")
	}
}
