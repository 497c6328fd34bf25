package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/conversation"
	"github.com/loqalabs/loqa-voice/internal/tools"
)

func newOpenAITestBackend(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAI(config.LLMConfig{Endpoint: srv.URL + "/v1", Model: "test-model"})
}

func TestOpenAICompleteParsesToolCalls(t *testing.T) {
	var got map[string]any
	backend := newOpenAITestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"","tool_calls":[{"id":"call_9","type":"function","function":{"name":"calculate","arguments":"{\"expression\":\"1+1\"}"}}]}}]}`)
	})

	completion, err := backend.Complete(context.Background(), Request{
		System:      "be brief",
		Messages:    []conversation.Message{{Role: conversation.RoleUser, Content: "1+1"}},
		Tools:       []tools.Definition{{Name: "calculate", Parameters: tools.ObjectSchema(nil)}},
		ToolChoice:  "auto",
		Temperature: 1,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(completion.ToolCalls) != 1 || completion.ToolCalls[0].ID != "call_9" || completion.ToolCalls[0].Name != "calculate" {
		t.Fatalf("unexpected tool calls %+v", completion.ToolCalls)
	}
	if got["tool_choice"] != "auto" || got["model"] != "test-model" {
		t.Fatalf("unexpected request body %v", got)
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system + user messages, got %v", got["messages"])
	}
}

func TestOpenAICompleteClassifiesBadRequest(t *testing.T) {
	backend := newOpenAITestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"Failed to call a function","type":"invalid_request_error","code":"tool_use_failed"}}`)
	})
	_, err := backend.Complete(context.Background(), Request{Messages: []conversation.Message{{Role: conversation.RoleUser, Content: "x"}}})
	if !IsClientError(err) {
		t.Fatalf("expected client error, got %v", err)
	}
}

func TestOpenAIStreamDeltas(t *testing.T) {
	backend := newOpenAITestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"Hi", "", " there"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var deltas []string
	err := backend.Stream(context.Background(), Request{Messages: []conversation.Message{{Role: conversation.RoleUser, Content: "x"}}}, func(d Delta) error {
		deltas = append(deltas, d.Content)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(deltas) != 3 || deltas[0] != "Hi" || deltas[1] != "" || deltas[2] != " there" {
		t.Fatalf("unexpected deltas %q", deltas)
	}
}
