// ABOUTME: Wire frames for the companion protocol: JSON text frames over one socket.
// ABOUTME: Closed tagged-variant type decoded once at the connection boundary.

package companion

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FrameType tags a companion protocol frame.
type FrameType string

// Outbound frame types (bridge → companion).
const (
	FrameUserMessage    FrameType = "user_message"
	FrameExecuteCommand FrameType = "execute_command"
)

// Inbound frame types (companion → bridge). Anything else is treated as an
// opaque command result.
const (
	FrameTypingAction FrameType = "typing_action"
	FrameFinalMessage FrameType = "final_message_update"
	FrameAIReply      FrameType = "ai_reply"
	FrameErrorMessage FrameType = "error_message"
)

// Frame is a single companion protocol frame. Exactly one frame per
// WebSocket text message; field names follow the wire protocol.
type Frame struct {
	Type    FrameType `json:"type"`
	ChatID  string    `json:"chatId,omitempty"`
	Text    string    `json:"text,omitempty"`
	Command string    `json:"command,omitempty"`
	Args    any       `json:"args,omitempty"`
}

// ParseFrame decodes one inbound frame. Trailing newlines on the text are
// stripped; the companion appends them to streamed chunks.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("parsing companion frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("companion frame missing type")
	}
	f.Text = strings.TrimRight(f.Text, "\n")
	return f, nil
}

// isFinal reports whether f carries a finished reply for a chat.
func (f Frame) isFinal() bool {
	return f.Type == FrameFinalMessage || f.Type == FrameAIReply
}
