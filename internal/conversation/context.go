// Package conversation holds the bounded message log shared by the phases of a turn.
package conversation

import (
	"encoding/json"
	"sync"
)

// DefaultLimit is the number of messages retained when no limit is configured.
const DefaultLimit = 15

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one entry of the conversation. Tool messages carry the id and name of the call
// they answer; assistant messages may carry the calls they requested.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Context is an append-only FIFO bounded to a fixed number of messages. When full, appending
// evicts the oldest entry.
type Context struct {
	mu       sync.RWMutex
	limit    int
	messages []Message
}

func NewContext(limit int) *Context {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Context{limit: limit, messages: make([]Message, 0, limit)}
}

func (c *Context) Append(msgs ...Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		if len(c.messages) == c.limit {
			copy(c.messages, c.messages[1:])
			c.messages = c.messages[:c.limit-1]
		}
		c.messages = append(c.messages, m)
	}
}

// Messages returns a copy of the log, oldest first.
func (c *Context) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

func (c *Context) Limit() int { return c.limit }

// Last returns the newest message.
func (c *Context) Last() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}
