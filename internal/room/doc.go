// Package room adapts the Matrix transport for the bridge.
//
// The Client owns the sync loop and a dispatch goroutine; SendText, EditText,
// and DeleteText are marshaled onto that goroutine as closures and awaited,
// so every room mutation runs on the transport's own execution context. A
// bounded wait covers the startup race where a caller arrives before the
// loop is running.
//
// Outbound text carries a goldmark-rendered HTML formatted_body and, when a
// thread is active, an m.thread relation. Inbound events are reduced to the
// Message type, with m.replace edit relations surfaced for the relay's
// rewind handling.
package room
