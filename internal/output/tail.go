// Package output holds bounded buffers for sidecar process output.
//
// Sidecar servers can be chatty; the desktop app only ever needs the most
// recent output for diagnostics, so every captured stream is kept as a
// character-bounded tail.
package output

import "unicode/utf8"

// DefaultMaxChars is the retained tail size for process stdout/stderr.
const DefaultMaxChars = 8000

// Truncate returns the last maxChars characters of s. The limit is measured
// in characters, not bytes, so multi-byte runes are never split.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	n := utf8.RuneCountInString(s)
	if n <= maxChars {
		return s
	}
	drop := n - maxChars
	for i := range s {
		if drop == 0 {
			return s[i:]
		}
		drop--
	}
	return ""
}

// Tail accumulates appended text and keeps only the trailing window.
// It is not internally synchronized; callers serialize access (the process
// registries append and read under their own lock).
type Tail struct {
	max int
	s   string
}

// NewTail returns a tail bounded to max characters. max <= 0 selects
// DefaultMaxChars.
func NewTail(max int) *Tail {
	if max <= 0 {
		max = DefaultMaxChars
	}
	return &Tail{max: max}
}

// Append adds chunk to the tail, discarding the oldest characters once the
// bound is exceeded.
func (t *Tail) Append(chunk string) {
	if t == nil || chunk == "" {
		return
	}
	t.s = Truncate(t.s+chunk, t.max)
}

// AppendLine appends chunk followed by a newline.
func (t *Tail) AppendLine(chunk string) {
	if t == nil {
		return
	}
	t.Append(chunk + "\n")
}

// String returns the current tail contents.
func (t *Tail) String() string {
	if t == nil {
		return ""
	}
	return t.s
}

// Len reports the tail length in characters.
func (t *Tail) Len() int {
	if t == nil {
		return 0
	}
	return utf8.RuneCountInString(t.s)
}

// Reset discards all buffered output.
func (t *Tail) Reset() {
	if t == nil {
		return
	}
	t.s = ""
}
