// ABOUTME: Persisted ledger of room events attributed to conversation threads.
// ABOUTME: Single JSON document, saved atomically, sole source of truth across restarts.

package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Record is one room event attributed to a conversation thread.
// Seq is a monotonically increasing sequence number assigned at track time;
// it fixes the global order that cascades are computed against.
type Record struct {
	Seq      uint64
	ThreadID string
	EventID  string
}

// ThreadInfo is a thread listing entry.
type ThreadInfo struct {
	ID        string
	FirstText string
}

// Ledger holds the ordered event records, the tracked and trash event sets,
// and the thread registry. All methods are safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	path    string
	logger  *slog.Logger
	nextSeq uint64

	records []Record
	tracked map[string]struct{}
	trash   map[string]struct{}
	threads map[string]string
}

// fileState is the persisted shape. The "thread" key and the optional
// trackedEvents list match the historical on-disk format.
type fileState struct {
	OrderedEvents [][2]string       `json:"orderedEvents"`
	TrackedEvents []string          `json:"trackedEvents"`
	TrashEvents   []string          `json:"trashEvents"`
	Threads       map[string]string `json:"thread"`
}

// Open loads the ledger at path. A missing or unreadable file is not an
// error: the ledger starts empty and the condition is logged.
func Open(path string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		path:    path,
		logger:  logger.With("component", "ledger"),
		tracked: make(map[string]struct{}),
		trash:   make(map[string]struct{}),
		threads: make(map[string]string),
	}
	l.load()
	return l
}

// load reads the persisted state. Any failure degrades to empty state.
func (l *Ledger) load() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("failed to read ledger file, starting empty", "path", l.path, "error", err)
		}
		return
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		l.logger.Warn("failed to parse ledger file, starting empty", "path", l.path, "error", err)
		return
	}

	for _, pair := range state.OrderedEvents {
		l.records = append(l.records, Record{Seq: l.nextSeq, ThreadID: pair[0], EventID: pair[1]})
		l.nextSeq++
	}
	if state.TrackedEvents != nil {
		for _, id := range state.TrackedEvents {
			l.tracked[id] = struct{}{}
		}
	} else {
		// Older files carry only orderedEvents; derive the tracked set.
		for _, rec := range l.records {
			l.tracked[rec.EventID] = struct{}{}
		}
	}
	for _, id := range state.TrashEvents {
		l.trash[id] = struct{}{}
	}
	for threadID, text := range state.Threads {
		l.threads[threadID] = text
	}

	l.logger.Info("ledger loaded",
		"path", l.path,
		"events", len(l.records),
		"threads", len(l.threads),
		"trash", len(l.trash),
	)
}

// Save writes the full ledger state to disk atomically (temp file + rename),
// so a crash mid-write never corrupts previously durable state.
func (l *Ledger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state := fileState{
		OrderedEvents: make([][2]string, 0, len(l.records)),
		TrackedEvents: make([]string, 0, len(l.tracked)),
		TrashEvents:   make([]string, 0, len(l.trash)),
		Threads:       l.threads,
	}
	for _, rec := range l.records {
		state.OrderedEvents = append(state.OrderedEvents, [2]string{rec.ThreadID, rec.EventID})
	}
	for id := range l.tracked {
		state.TrackedEvents = append(state.TrackedEvents, id)
	}
	for id := range l.trash {
		state.TrashEvents = append(state.TrashEvents, id)
	}
	sort.Strings(state.TrackedEvents)
	sort.Strings(state.TrashEvents)

	data, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("creating temp ledger file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp ledger file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing ledger file: %w", err)
	}
	return nil
}

// HasTracked reports whether eventID is a tracked conversation turn.
// An empty id is never tracked.
func (l *Ledger) HasTracked(eventID string) bool {
	if eventID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tracked[eventID]
	return ok
}

// Track records eventID as a conversation turn under threadID. Tracking an
// empty or already tracked event is a no-op. Returns true if state changed.
func (l *Ledger) Track(threadID, eventID string) bool {
	if eventID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.tracked[eventID]; ok {
		return false
	}
	l.tracked[eventID] = struct{}{}
	l.records = append(l.records, Record{Seq: l.nextSeq, ThreadID: threadID, EventID: eventID})
	l.nextSeq++
	return true
}

// MarkTrash flags eventID as disposable chatter (placeholders, apologies,
// command replies). Disposability is advisory: trash events are not part of
// conversation history and are purged in bulk by ClearTrash.
func (l *Ledger) MarkTrash(eventID string) {
	if eventID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trash[eventID] = struct{}{}
}

// UnmarkTrash lifts the disposable flag from eventID. Returns true if the
// event was in the trash set.
func (l *Ledger) UnmarkTrash(eventID string) bool {
	if eventID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.trash[eventID]; !ok {
		return false
	}
	delete(l.trash, eventID)
	return true
}

// ClearTrash drains the trash set, returning the drained event ids.
func (l *Ledger) ClearTrash() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.trash))
	for id := range l.trash {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	l.trash = make(map[string]struct{})
	return ids
}

// RegisterThread records a new thread keyed by its first user-message event
// id, carrying that message's text for listings. First write wins.
// Returns true if the thread was newly registered.
func (l *Ledger) RegisterThread(threadID, firstText string) bool {
	if threadID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.threads[threadID]; ok {
		return false
	}
	l.threads[threadID] = firstText
	return true
}

// RemoveThread deletes the thread registration and every record under it,
// returning the removed event ids in ledger order.
func (l *Ledger) RemoveThread(threadID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.threads, threadID)

	var removed []string
	kept := l.records[:0]
	for _, rec := range l.records {
		if rec.ThreadID == threadID {
			removed = append(removed, rec.EventID)
			delete(l.tracked, rec.EventID)
		} else {
			kept = append(kept, rec)
		}
	}
	l.records = kept
	return removed
}

// RemoveRecords removes the given event ids from the ordered records and the
// tracked set, preserving the relative order of survivors.
func (l *Ledger) RemoveRecords(eventIDs []string) {
	if len(eventIDs) == 0 {
		return
	}
	victims := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		victims[id] = struct{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.records[:0]
	for _, rec := range l.records {
		if _, ok := victims[rec.EventID]; ok {
			delete(l.tracked, rec.EventID)
		} else {
			kept = append(kept, rec)
		}
	}
	l.records = kept
}

// Records returns a snapshot of the ordered event records.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// EventsOf returns the event ids recorded under threadID, in ledger order.
func (l *Ledger) EventsOf(threadID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []string
	for _, rec := range l.records {
		if rec.ThreadID == threadID {
			out = append(out, rec.EventID)
		}
	}
	return out
}

// ThreadOf returns the thread an event is recorded under.
func (l *Ledger) ThreadOf(eventID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rec := range l.records {
		if rec.EventID == eventID {
			return rec.ThreadID, true
		}
	}
	return "", false
}

// Threads lists registered threads. Threads with recorded events come first,
// in first-event order; threads registered but not yet recorded follow in
// lexicographic order for determinism.
func (l *Ledger) Threads() []ThreadInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{}, len(l.threads))
	var out []ThreadInfo
	for _, rec := range l.records {
		if _, ok := seen[rec.ThreadID]; ok {
			continue
		}
		if text, registered := l.threads[rec.ThreadID]; registered {
			seen[rec.ThreadID] = struct{}{}
			out = append(out, ThreadInfo{ID: rec.ThreadID, FirstText: text})
		}
	}

	var rest []string
	for threadID := range l.threads {
		if _, ok := seen[threadID]; !ok {
			rest = append(rest, threadID)
		}
	}
	sort.Strings(rest)
	for _, threadID := range rest {
		out = append(out, ThreadInfo{ID: threadID, FirstText: l.threads[threadID]})
	}
	return out
}

// Stats returns counts for the status report.
func (l *Ledger) Stats() (events, threads, trash int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records), len(l.threads), len(l.trash)
}
