package models

import "time"

// Message is a single entry of the conversation. Values are treated as immutable: a streaming
// assistant reply is advanced by replacing the value in the conversation, never by mutating it.
type Message struct {
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time

	// Streaming is true while the reply producing this message is still open. Once false, Text is final.
	Streaming bool
	// Failed is set when the reply ended with the fallback message instead of the model's answer.
	Failed bool
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the visitor. It is always created final.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the model.
	RoleAssistant Role = "assistant"
)

// WithFragment returns a copy of m with fragment appended to its text.
func (m Message) WithFragment(fragment string) Message {
	m.Text += fragment
	return m
}

// Completed returns a final copy of m.
func (m Message) Completed() Message {
	m.Streaming = false
	return m
}

// FailedWith returns a final, failed copy of m. An empty text keeps whatever was accumulated.
func (m Message) FailedWith(text string) Message {
	if text != "" {
		m.Text = text
	}
	m.Streaming = false
	m.Failed = true
	return m
}

// StreamingState names the state used by the templates and the browser script.
func (m Message) StreamingState() string {
	switch {
	case m.Streaming && m.Text == "":
		return StreamingStateLoading
	case m.Streaming:
		return StreamingStateStreaming
	default:
		return StreamingStateEnded
	}
}

const (
	StreamingStateLoading   = "loading"
	StreamingStateStreaming = "streaming"
	StreamingStateEnded     = "ended"
)
