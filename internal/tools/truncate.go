package tools

import (
	"fmt"
	"unicode/utf8"
)

// DefaultOutputLimit bounds the tool output handed back to the model.
const DefaultOutputLimit = 4000

// Truncate bounds s to at most limit bytes. Longer text keeps its head and
// its tail around a marker that states how many bytes were dropped. Cuts
// fall on rune boundaries. Truncate(Truncate(s, n), n) == Truncate(s, n).
// A limit <= 0 disables truncation.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}

	// The marker for len(s) is never shorter than the final one.
	budget := limit - len(elisionMarker(len(s)))
	if budget <= 0 {
		return s[:runeFloor(s, limit)]
	}

	headLen := budget - budget/2
	tailLen := budget / 2

	head := s[:runeFloor(s, headLen)]
	tail := s[runeCeil(s, len(s)-tailLen):]
	elided := len(s) - len(head) - len(tail)
	return head + elisionMarker(elided) + tail
}

func elisionMarker(n int) string {
	return fmt.Sprintf("\n\n[... %d bytes truncated ...]\n\n", n)
}

// runeFloor returns the largest rune start <= i.
func runeFloor(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// runeCeil returns the smallest rune start >= i.
func runeCeil(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}
