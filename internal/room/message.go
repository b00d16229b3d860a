// ABOUTME: Inbound room message shape handed to the relay.
// ABOUTME: Converts mautrix events, surfacing edit relations and server timestamps.

package room

import (
	"time"

	"maunium.net/go/mautrix/event"
)

// Message is one inbound text message from the room, reduced to what the
// relay needs.
type Message struct {
	RoomID    string
	Sender    string
	EventID   string
	Body      string
	Timestamp time.Time

	// EditTarget is the event id this message replaces, when the message is
	// an m.replace edit. Body then carries the replacement content.
	EditTarget string
}

// fromEvent converts an m.room.message event. Returns false for anything
// that is not plain text.
func fromEvent(evt *event.Event) (Message, bool) {
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return Message{}, false
	}

	msg := Message{
		RoomID:    evt.RoomID.String(),
		Sender:    evt.Sender.String(),
		EventID:   evt.ID.String(),
		Body:      content.Body,
		Timestamp: time.UnixMilli(evt.Timestamp),
	}

	if rel := content.RelatesTo; rel != nil && rel.Type == event.RelReplace {
		msg.EditTarget = rel.EventID.String()
		if content.NewContent != nil {
			msg.Body = content.NewContent.Body
		}
	}
	return msg, true
}
