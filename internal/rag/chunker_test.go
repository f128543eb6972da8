package rag

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func Test_Chunk_Scenario1000Chars(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("abcdefghij", 100)

	chunks := Split(text, 512)
	if len(chunks) != 2 {
		t.Fatalf("want 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0].Text) != 512 || len(chunks[1].Text) != 488 {
		t.Errorf("want sizes 512+488, got %d+%d", len(chunks[0].Text), len(chunks[1].Text))
	}
	if chunks[1].Offset != 512 {
		t.Errorf("second chunk offset = %d, want 512", chunks[1].Offset)
	}
}

func Test_Chunk_Reassembles(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		text string
		size int
	}{
		{"exact multiple", strings.Repeat("x", 30), 10},
		{"remainder", "The quick brown fox jumps over the lazy dog", 7},
		{"size larger than text", "short", 512},
		{"size one", "abc", 1},
		{"multibyte", "héllo wörld ✓ 日本語テキスト", 4},
		{"newlines", "line one\nline two\r\nline three\n", 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			chunks := Split(tc.text, tc.size)

			var sb strings.Builder
			for i, c := range chunks {
				n := utf8.RuneCountInString(c.Text)
				if n > tc.size {
					t.Errorf("chunk %d has %d chars, limit %d", i, n, tc.size)
				}
				if i < len(chunks)-1 && n != tc.size {
					t.Errorf("non-final chunk %d has %d chars, want %d", i, n, tc.size)
				}
				if !utf8.ValidString(c.Text) {
					t.Errorf("chunk %d is not valid UTF-8: %q", i, c.Text)
				}
				if c.Offset != sb.Len() {
					t.Errorf("chunk %d offset = %d, want %d", i, c.Offset, sb.Len())
				}
				if c.ID != "" {
					t.Errorf("chunk %d has id %q, chunker must leave ids empty", i, c.ID)
				}
				sb.WriteString(c.Text)
			}
			if sb.String() != tc.text {
				t.Errorf("reassembled text differs:\n got %q\nwant %q", sb.String(), tc.text)
			}
		})
	}
}

func Test_Chunk_EmptyInput(t *testing.T) {
	t.Parallel()
	if got := Split("", 512); len(got) != 0 {
		t.Errorf("Split(\"\") returned %d chunks, want 0", len(got))
	}
	if got := Split("abc", 0); len(got) != 0 {
		t.Errorf("Chunk with size 0 returned %d chunks, want 0", len(got))
	}
}
