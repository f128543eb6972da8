package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars → 1
		{"abcd", 1},     // exactly 4 chars → 1
		{"abcde", 1},    // 5 chars → 1
		{"abcdefgh", 2}, // 8 chars → 2
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		got := Estimate(tc.input)
		if got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("hello world"),
		schema.UserMessage("hello world"),
	}
	// Each message: 4 overhead + Estimate("user")=1 + Estimate("hello world")=2 = 7
	if got := EstimateMessages(msgs); got != 14 {
		t.Errorf("EstimateMessages = %d, want 14", got)
	}
}

func Test_Over(t *testing.T) {
	t.Parallel()
	prompt := []*schema.Message{schema.UserMessage(strings.Repeat("x", 400))} // 4 + 1 + 100 = 105

	if got := Over(prompt, DefaultMaxContextTokens); got != 0 {
		t.Errorf("Over(within budget) = %d, want 0", got)
	}
	if got := Over(prompt, 100); got != 5 {
		t.Errorf("Over(100) = %d, want 5", got)
	}
	if got := Over(nil, 0); got != 0 {
		t.Errorf("Over(empty) = %d, want 0", got)
	}
}
