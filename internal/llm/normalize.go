package llm

import (
	"fmt"

	"github.com/loqalabs/loqa-voice/internal/conversation"
)

// normalize makes a bounded history acceptable to chat APIs that require every assistant tool
// call to be answered by a tool message and every tool message to follow its call. Unanswered
// calls are stripped from assistant messages while their answered siblings stay paired, and
// tool messages without a matching call become system notes.
func normalize(msgs []conversation.Message) []conversation.Message {
	answered := make(map[string]bool)
	for _, m := range msgs {
		if m.Role == conversation.RoleTool && m.ToolCallID != "" {
			answered[m.ToolCallID] = true
		}
	}

	out := make([]conversation.Message, 0, len(msgs))
	open := make(map[string]bool)
	for _, m := range msgs {
		switch m.Role {
		case conversation.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				var kept []conversation.ToolCall
				for _, c := range m.ToolCalls {
					if answered[c.ID] {
						kept = append(kept, c)
						open[c.ID] = true
					}
				}
				m.ToolCalls = kept
			}
			if m.Content == "" && len(m.ToolCalls) == 0 {
				continue
			}
			out = append(out, m)
		case conversation.RoleTool:
			if open[m.ToolCallID] {
				delete(open, m.ToolCallID)
				out = append(out, m)
				continue
			}
			out = append(out, conversation.Message{
				Role:    conversation.RoleSystem,
				Content: fmt.Sprintf("Tool %s returned: %s", m.Name, m.Content),
			})
		default:
			out = append(out, m)
		}
	}
	return out
}
