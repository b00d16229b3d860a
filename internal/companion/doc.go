// Package companion owns the persistent WebSocket connection to the local
// LLM companion process.
//
// # Connection lifecycle
//
// The session listens for exactly one inbound connection. A second
// connection does not queue: it atomically supersedes the previous peer,
// which is closed, and all in-memory streaming state is discarded. The same
// discard happens on disconnect; in-flight placeholders are simply
// abandoned, and the conversation resumes at the next user turn.
//
// # Stream correlation
//
// Replies are push-based: there is no blocking await on a response. A
// typing_action frame for an unseen chat id posts a "thinking…" placeholder
// into the room and opens a streaming session mapping the chat id to the
// placeholder's event id. The matching final_message_update (or ai_reply)
// edits that placeholder in place and closes the session; the edited event
// is recorded as a conversation turn. Frames of unknown type are handed to
// the command layer as opaque results.
//
// Frame handling errors never kill the read loop: they are logged and
// reported into the room as a best-effort diagnostic.
package companion
