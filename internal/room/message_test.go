// ABOUTME: Tests for inbound event conversion and markdown rendering.
// ABOUTME: Covers text filtering, edit relations, and table support.

package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

func textEvent(body string) *event.Event {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: body}
	return &event.Event{
		ID:        id.EventID("$e1"),
		RoomID:    id.RoomID("!room:example.org"),
		Sender:    id.UserID("@user:example.org"),
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
		Content:   event.Content{Parsed: content},
	}
}

func TestFromEvent_Text(t *testing.T) {
	msg, ok := fromEvent(textEvent("hello"))
	require.True(t, ok)
	assert.Equal(t, "!room:example.org", msg.RoomID)
	assert.Equal(t, "@user:example.org", msg.Sender)
	assert.Equal(t, "$e1", msg.EventID)
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, int64(1748779200000), msg.Timestamp.UnixMilli())
	assert.Empty(t, msg.EditTarget)
}

func TestFromEvent_NonText(t *testing.T) {
	evt := textEvent("img")
	evt.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgImage
	_, ok := fromEvent(evt)
	assert.False(t, ok)
}

func TestFromEvent_UnparsedContent(t *testing.T) {
	evt := textEvent("x")
	evt.Content.Parsed = nil
	_, ok := fromEvent(evt)
	assert.False(t, ok)
}

func TestFromEvent_EditRelation(t *testing.T) {
	evt := textEvent("* corrected")
	content := evt.Content.Parsed.(*event.MessageEventContent)
	content.RelatesTo = &event.RelatesTo{Type: event.RelReplace, EventID: id.EventID("$orig")}
	content.NewContent = &event.MessageEventContent{MsgType: event.MsgText, Body: "corrected"}

	msg, ok := fromEvent(evt)
	require.True(t, ok)
	assert.Equal(t, "$orig", msg.EditTarget)
	assert.Equal(t, "corrected", msg.Body, "edit body comes from m.new_content")
}

func TestFromEvent_ThreadRelationIsNotAnEdit(t *testing.T) {
	evt := textEvent("reply in thread")
	content := evt.Content.Parsed.(*event.MessageEventContent)
	content.RelatesTo = &event.RelatesTo{Type: event.RelThread, EventID: id.EventID("$root")}

	msg, ok := fromEvent(evt)
	require.True(t, ok)
	assert.Empty(t, msg.EditTarget)
	assert.Equal(t, "reply in thread", msg.Body)
}

func TestRenderMarkdown(t *testing.T) {
	html := RenderMarkdown("**bold** text")
	assert.Contains(t, html, "<strong>bold</strong>")
}

func TestRenderMarkdown_Table(t *testing.T) {
	html := RenderMarkdown("| a | b |\n|---|---|\n| 1 | 2 |")
	assert.Contains(t, html, "<table>")
}
