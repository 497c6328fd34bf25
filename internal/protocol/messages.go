// Package protocol defines the turn events published on the bus and written to the journal.
package protocol

import "time"

const (
	SubjectTurnStarted        = "voice.turn.started"
	SubjectTranscriptFinal    = "voice.transcript.final"
	SubjectTranscriptRejected = "voice.transcript.rejected"
	SubjectToolCall           = "voice.tool.call"
	SubjectToolResult         = "voice.tool.result"
	SubjectLLMFragment        = "voice.llm.fragment"
	SubjectTurnCompleted      = "voice.turn.completed"
	SubjectTurnFailed         = "voice.turn.failed"
)

// TurnStarted is emitted once a turn begins capturing audio.
type TurnStarted struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is the recognized text of one utterance.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	TurnID     string    `json:"turn_id"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
	// Reason is set when the transcript was rejected as a likely false positive.
	Reason string `json:"reason,omitempty"`
}

// ToolCall is a model-requested function invocation.
type ToolCall struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult reports the outcome of a ToolCall.
type ToolResult struct {
	SessionID string  `json:"session_id"`
	TurnID    string  `json:"turn_id"`
	CallID    string  `json:"call_id"`
	Name      string  `json:"name"`
	Content   string  `json:"content"`
	Error     string  `json:"error,omitempty"`
	ElapsedMS float64 `json:"elapsed_ms"`
}

// Fragment is one piece of streamed response text.
type Fragment struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
	Sequence  int    `json:"sequence"`
	Text      string `json:"text"`
}

// TurnFinished closes a turn, successfully or not.
type TurnFinished struct {
	SessionID  string    `json:"session_id"`
	TurnID     string    `json:"turn_id"`
	Outcome    string    `json:"outcome"`
	Transcript string    `json:"transcript,omitempty"`
	Response   string    `json:"response,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS float64   `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}
