// Package tracker is the conversation bookkeeping layer between the relay
// and the ledger.
//
// It answers dedup queries, records conversation turns and disposable
// chatter, registers threads, and performs the cascading delete-after that
// gives the bridge its rewind semantics: when a user edits an earlier
// message, every tracked event downstream of it in the same thread is
// redacted from the room and dropped from the ledger, so the conversation
// can branch from the edit point.
//
// Room redaction during a cascade is best effort. A failed redaction is
// logged and does not stop the cascade; the ledger is updated for every
// victim regardless, since the ledger, not the room, is the source of truth.
package tracker
