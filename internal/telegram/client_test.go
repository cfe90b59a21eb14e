package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitByBytesKeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("商品", 10) // 60 bytes
	parts := splitByBytes(text, 16)

	if strings.Join(parts, "") != text {
		t.Fatal("split lost text")
	}
	for _, p := range parts {
		if len(p) > 16 || !utf8.ValidString(p) {
			t.Fatalf("bad part %q (%d bytes)", p, len(p))
		}
	}
	if got := splitByBytes("short", 16); len(got) != 1 {
		t.Fatalf("parts = %v", got)
	}
}

func TestTruncateByBytes(t *testing.T) {
	if got := truncateByBytes("标题abc", 7); got != "标题a" {
		t.Fatalf("got %q", got)
	}
	if got := truncateByBytes("abc", 0); got != "abc" {
		t.Fatalf("got %q", got)
	}
}

func TestContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	cases := []struct {
		header string
		data   []byte
		want   string
	}{
		{"image/jpeg; charset=binary", nil, "image/jpeg"},
		{"application/octet-stream", png, "image/png"},
		{"", png, "image/png"},
	}
	for _, c := range cases {
		if got := contentType(c.header, c.data); got != c.want {
			t.Fatalf("contentType(%q) = %q, want %q", c.header, got, c.want)
		}
	}
}
