package llm

import (
	"testing"

	"github.com/lokutor-ai/turnscribe/pkg/translator"
)

func TestNormalizeMergesConsecutiveSameRoleMessages(t *testing.T) {
	in := []translator.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "line one"},
		{Role: "tool", Content: "5"},
		{Role: "tool", Content: "6"},
		{Role: "assistant", Content: "ok"},
	}
	out := normalize(in)

	if len(out) != 3 {
		t.Fatalf("expected 3 merged messages, got %d: %+v", len(out), out)
	}
	if out[0].Role != "system" {
		t.Fatalf("unexpected leading role: %+v", out[0])
	}
	want := "line one\nTool output: 5\nTool output: 6"
	if out[1].Role != "user" || out[1].Content != want {
		t.Fatalf("expected merged user turn %q, got %+v", want, out[1])
	}
	if out[2].Role != "assistant" || out[2].Content != "ok" {
		t.Fatalf("expected a lone trailing assistant message, got %+v", out[2])
	}
}

func TestNormalizeConvertsToolRoleToUser(t *testing.T) {
	in := []translator.Message{{Role: "tool", Content: "42"}}
	out := normalize(in)
	if len(out) != 1 || out[0].Role != "user" || out[0].Content != "Tool output: 42" {
		t.Fatalf("unexpected normalization: %+v", out)
	}
}
