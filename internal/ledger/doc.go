// Package ledger persists the bridge's conversation bookkeeping as a single
// JSON document.
//
// # State
//
// The ledger holds four pieces of state:
//
//   - ordered records of (thread id, event id) pairs, one per room message
//     that counts as a conversation turn
//   - the set of tracked event ids (superset of the ids in the records)
//   - the set of disposable "trash" event ids (placeholders, apologies)
//   - the thread registry, mapping a thread id to its first message text
//
// Records carry a monotonically increasing sequence number assigned at track
// time. Cascading deletes compute their cut against this order.
//
// # Durability
//
// Save writes the whole document to a temp file and renames it into place, so
// a crash mid-write never corrupts previously durable state. Open tolerates a
// missing or corrupt file by starting empty; after a restart the ledger is
// the sole source of truth, nothing is reconstructed from the room transport.
//
// Files written before trackedEvents was persisted are still readable: the
// tracked set is derived from the ordered records when the key is absent.
package ledger
