package llm

import (
	"testing"

	"github.com/loqalabs/loqa-voice/internal/conversation"
)

func TestNormalizeKeepsAnsweredCalls(t *testing.T) {
	msgs := []conversation.Message{
		{Role: conversation.RoleUser, Content: "time?"},
		{Role: conversation.RoleAssistant, ToolCalls: []conversation.ToolCall{{ID: "a", Name: "get_datetime"}}},
		{Role: conversation.RoleTool, ToolCallID: "a", Name: "get_datetime", Content: "noon"},
	}
	out := normalize(msgs)
	if len(out) != 3 || len(out[1].ToolCalls) != 1 || out[2].Role != conversation.RoleTool {
		t.Fatalf("expected history unchanged, got %+v", out)
	}
}

func TestNormalizeRewritesOrphans(t *testing.T) {
	msgs := []conversation.Message{
		// Call whose answer was replaced by the uniform error result.
		{Role: conversation.RoleAssistant, ToolCalls: []conversation.ToolCall{{ID: "a", Name: "x"}}},
		{Role: conversation.RoleTool, ToolCallID: "tool_error", Name: "tool_error", Content: "failed"},
		{Role: conversation.RoleUser, Content: "ok"},
	}
	out := normalize(msgs)
	if len(out) != 2 {
		t.Fatalf("expected empty assistant message dropped, got %+v", out)
	}
	if out[0].Role != conversation.RoleSystem || out[0].Content != "Tool tool_error returned: failed" {
		t.Fatalf("expected orphan tool message as system note, got %+v", out[0])
	}
}

func TestNormalizeKeepsAnsweredSiblings(t *testing.T) {
	msgs := []conversation.Message{
		{Role: conversation.RoleUser, Content: "weather and time?"},
		{Role: conversation.RoleAssistant, ToolCalls: []conversation.ToolCall{
			{ID: "a", Name: "get_datetime"},
			{ID: "b", Name: "get_weather_now"},
		}},
		{Role: conversation.RoleTool, ToolCallID: "a", Name: "get_datetime", Content: "noon"},
		{Role: conversation.RoleTool, ToolCallID: "tool_error", Name: "tool_error", Content: "weather unavailable"},
	}
	out := normalize(msgs)
	if len(out) != 4 {
		t.Fatalf("expected 4 messages, got %+v", out)
	}
	calls := out[1].ToolCalls
	if len(calls) != 1 || calls[0].ID != "a" {
		t.Fatalf("expected only the answered call kept, got %+v", calls)
	}
	if out[2].Role != conversation.RoleTool || out[2].ToolCallID != "a" {
		t.Fatalf("expected answered result to stay paired, got %+v", out[2])
	}
	if out[3].Role != conversation.RoleSystem {
		t.Fatalf("expected error result as system note, got %+v", out[3])
	}
	if len(msgs[1].ToolCalls) != 2 {
		t.Fatal("normalize must not modify the input history")
	}
}
