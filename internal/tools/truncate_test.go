package tools

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateShortUnchanged(t *testing.T) {
	s := "PORT   STATE SERVICE\n22/tcp open  ssh\n"
	if got := Truncate(s, 4000); got != s {
		t.Errorf("expected unchanged output, got %q", got)
	}
	if got := Truncate(s, len(s)); got != s {
		t.Errorf("expected unchanged output at exact limit, got %q", got)
	}
}

func TestTruncateBounds(t *testing.T) {
	s := "HEAD" + strings.Repeat("x", 10000) + "TAIL"

	for _, limit := range []int{100, 500, 4000} {
		got := Truncate(s, limit)
		if len(got) > limit {
			t.Errorf("limit %d: got %d bytes", limit, len(got))
		}
		if !strings.HasPrefix(got, "HEAD") || !strings.HasSuffix(got, "TAIL") {
			t.Errorf("limit %d: expected head and tail kept", limit)
		}
		if !strings.Contains(got, "bytes truncated") {
			t.Errorf("limit %d: expected truncation marker", limit)
		}
	}
}

func TestTruncateIdempotent(t *testing.T) {
	inputs := []string{
		strings.Repeat("a", 4001),
		strings.Repeat("line of scanner output\n", 1000),
		strings.Repeat("é", 3000),
	}
	for _, s := range inputs {
		for _, limit := range []int{10, 64, 999, 4000} {
			once := Truncate(s, limit)
			twice := Truncate(once, limit)
			if once != twice {
				t.Errorf("limit %d: truncation not idempotent", limit)
			}
		}
	}
}

func TestTruncateRuneBoundaries(t *testing.T) {
	s := strings.Repeat("日本語", 2000)
	for _, limit := range []int{5, 101, 1000, 4000} {
		got := Truncate(s, limit)
		if !utf8.ValidString(got) {
			t.Errorf("limit %d: result is not valid UTF-8", limit)
		}
		if len(got) > limit {
			t.Errorf("limit %d: got %d bytes", limit, len(got))
		}
	}
}

func TestTruncateDisabled(t *testing.T) {
	s := strings.Repeat("z", 100)
	if got := Truncate(s, 0); got != s {
		t.Error("expected limit 0 to disable truncation")
	}
}
