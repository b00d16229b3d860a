// ABOUTME: Conversation tracker over the ledger: dedup, thread registry, and cascades.
// ABOUTME: Implements delete-after rewind semantics with best-effort room redaction.

package tracker

import (
	"context"
	"log/slog"

	"github.com/2389/tavern-bridge/internal/ledger"
)

// RoomSender is the room capability the tracker needs: deleting (redacting)
// a previously sent event.
type RoomSender interface {
	DeleteText(ctx context.Context, roomID, eventID string) (string, error)
}

// Tracker maintains the conversation ledger and performs cascading deletes.
// All mutations persist the ledger before returning.
type Tracker struct {
	led    *ledger.Ledger
	rooms  RoomSender
	logger *slog.Logger
}

// New creates a Tracker over the given ledger and room sender.
func New(led *ledger.Ledger, rooms RoomSender, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		led:    led,
		rooms:  rooms,
		logger: logger.With("component", "tracker"),
	}
}

// HasTracked reports whether eventID is a recorded conversation turn.
func (t *Tracker) HasTracked(eventID string) bool {
	return t.led.HasTracked(eventID)
}

// ThreadOf returns the thread an event was recorded under.
func (t *Tracker) ThreadOf(eventID string) (string, bool) {
	return t.led.ThreadOf(eventID)
}

// Track records eventID as a turn under threadID and persists. Idempotent.
// Tracking lifts any disposable mark on the event: a streamed placeholder
// becomes the reply once the final update lands on it, and an event is never
// both a conversation turn and trash.
func (t *Tracker) Track(threadID, eventID string) error {
	changed := t.led.Track(threadID, eventID)
	if t.led.UnmarkTrash(eventID) {
		changed = true
	}
	if !changed {
		return nil
	}
	return t.save()
}

// Untrack drops eventID from the ledger entirely, as if never recorded.
// Used when a recorded turn turns out not to have reached the companion.
func (t *Tracker) Untrack(eventID string) error {
	if eventID == "" || !t.led.HasTracked(eventID) {
		return nil
	}
	t.led.RemoveRecords([]string{eventID})
	return t.save()
}

// MarkTrash flags eventID as disposable and persists.
func (t *Tracker) MarkTrash(eventID string) error {
	if eventID == "" {
		return nil
	}
	t.led.MarkTrash(eventID)
	return t.save()
}

// RegisterThread records a new thread and persists. First write wins.
func (t *Tracker) RegisterThread(threadID, firstText string) error {
	if !t.led.RegisterThread(threadID, firstText) {
		return nil
	}
	return t.save()
}

// ListThreads returns the registered threads in ledger order.
func (t *Tracker) ListThreads() []ledger.ThreadInfo {
	return t.led.Threads()
}

// Stats returns ledger counters for the status report.
func (t *Tracker) Stats() (events, threads, trash int) {
	return t.led.Stats()
}

// DeleteAfter removes every tracked event of threadID that occurs after the
// anchor event, both from the room (best effort) and from the ledger, and
// returns the number of events removed. An unknown anchor or empty thread id
// is a tolerated no-op returning 0: rewinds racing an unstarted conversation
// are expected.
func (t *Tracker) DeleteAfter(ctx context.Context, roomID, threadID, anchorEventID string) (int, error) {
	if threadID == "" || anchorEventID == "" {
		return 0, nil
	}

	records := t.led.Records()
	anchor := -1
	for i, rec := range records {
		if rec.ThreadID == threadID && rec.EventID == anchorEventID {
			anchor = i
			break
		}
	}
	if anchor < 0 {
		return 0, nil
	}

	var victims []string
	for _, rec := range records[anchor+1:] {
		if rec.ThreadID == threadID {
			victims = append(victims, rec.EventID)
		}
	}
	return t.deleteBatch(ctx, roomID, victims)
}

// DeleteLast removes the last n tracked events of threadID. The trailing
// window is counted over the thread's own subsequence, so interleaved events
// of other threads never shift the cut.
func (t *Tracker) DeleteLast(ctx context.Context, roomID, threadID string, n int) (int, error) {
	if threadID == "" || n <= 0 {
		return 0, nil
	}

	events := t.led.EventsOf(threadID)
	if n > len(events) {
		n = len(events)
	}
	return t.deleteBatch(ctx, roomID, events[len(events)-n:])
}

// RemoveThread deletes the thread registration and every event under it.
func (t *Tracker) RemoveThread(ctx context.Context, roomID, threadID string) (int, error) {
	if threadID == "" {
		return 0, nil
	}

	removed := t.led.RemoveThread(threadID)
	for _, eventID := range removed {
		t.deleteEvent(ctx, roomID, eventID)
	}
	// Save even when the thread had no events: the registration itself
	// was dropped.
	return len(removed), t.save()
}

// ClearTrash redacts every disposable event (best effort) and drains the
// trash set.
func (t *Tracker) ClearTrash(ctx context.Context, roomID string) (int, error) {
	ids := t.led.ClearTrash()
	for _, eventID := range ids {
		t.deleteEvent(ctx, roomID, eventID)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return len(ids), t.save()
}

// deleteBatch redacts victims in the room, removes them from the ledger, and
// persists. Room deletion is best effort: a failed redaction is logged and
// the remaining victims are still processed, and the ledger entry is removed
// regardless of the room outcome.
func (t *Tracker) deleteBatch(ctx context.Context, roomID string, victims []string) (int, error) {
	if len(victims) == 0 {
		return 0, nil
	}

	for _, eventID := range victims {
		t.deleteEvent(ctx, roomID, eventID)
	}
	t.led.RemoveRecords(victims)
	return len(victims), t.save()
}

func (t *Tracker) deleteEvent(ctx context.Context, roomID, eventID string) {
	if _, err := t.rooms.DeleteText(ctx, roomID, eventID); err != nil {
		t.logger.Error("failed to delete room event",
			"room", roomID,
			"event_id", eventID,
			"error", err,
		)
	}
}

func (t *Tracker) save() error {
	if err := t.led.Save(); err != nil {
		// In-memory state is now ahead of durable state. Accepted, but loud.
		t.logger.Error("failed to persist ledger", "error", err)
		return err
	}
	return nil
}
