// Package relay coordinates the two sides of the bridge.
//
// Inbound room messages are qualified (not self-authored, non-empty, fresh,
// not redelivered, not already tracked), bound to the active conversation
// thread, recorded, and forwarded to the companion as user_message frames.
// The first message after the active-conversation pointer is cleared
// registers a new thread keyed by that message's event id.
//
// Edits of previously answered messages trigger the tracker's delete-after
// cascade before the edited content is forwarded as a fresh turn. When no
// companion is connected, the user gets an apology instead, and both events
// are marked disposable.
//
// The package also carries the administrative command surface (ping, status,
// new, list, rm, rewind, cleartrash, st).
package relay
