// ABOUTME: Relay coordinator wiring room messages to the companion and back.
// ABOUTME: Applies qualification, thread binding, and edit-triggered rewinds.

package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/tavern-bridge/internal/companion"
	"github.com/2389/tavern-bridge/internal/dedupe"
	"github.com/2389/tavern-bridge/internal/ledger"
	"github.com/2389/tavern-bridge/internal/room"
)

// apologyText is sent when a user message arrives with no companion peer.
const apologyText = "Sorry, I can't reach the companion right now. Make sure SillyTavern is running with the bridge extension enabled."

// RoomSender is what the coordinator needs from the room transport.
type RoomSender interface {
	SendText(ctx context.Context, text, roomID, threadID string) (string, error)
}

// CompanionLink is what the coordinator needs from the companion session.
type CompanionLink interface {
	Send(ctx context.Context, f companion.Frame) error
	Connected() bool
	SetTarget(roomID, threadID string)
}

// Conversations is what the coordinator needs from the tracker.
type Conversations interface {
	HasTracked(eventID string) bool
	ThreadOf(eventID string) (string, bool)
	Track(threadID, eventID string) error
	Untrack(eventID string) error
	MarkTrash(eventID string) error
	RegisterThread(threadID, firstText string) error
	ListThreads() []ledger.ThreadInfo
	Stats() (events, threads, trash int)
	DeleteAfter(ctx context.Context, roomID, threadID, anchorEventID string) (int, error)
	DeleteLast(ctx context.Context, roomID, threadID string, n int) (int, error)
	RemoveThread(ctx context.Context, roomID, threadID string) (int, error)
	ClearTrash(ctx context.Context, roomID string) (int, error)
}

// Options configures the coordinator.
type Options struct {
	// SelfID is the bridge's own room user id; its messages are ignored.
	SelfID string

	// CommandPrefix marks administrative commands (default "!").
	CommandPrefix string

	// Freshness is the window within which a message's server timestamp
	// must fall. Older messages are replayed history, not new input.
	Freshness time.Duration

	// AllowedRooms restricts processing to the listed room ids. Empty
	// allows all rooms.
	AllowedRooms []string
}

// Coordinator relays qualifying user messages into the companion session and
// maintains the active conversation pointer.
type Coordinator struct {
	opts   Options
	rooms  RoomSender
	link   CompanionLink
	convs  Conversations
	seen   *dedupe.Cache
	logger *slog.Logger

	mu       sync.Mutex
	active   string // active thread id, "" when no conversation is bound
	lastRoom string
}

// New creates a Coordinator. The seen cache guards against events
// redelivered by the room transport after a reconnect.
func New(opts Options, rooms RoomSender, link CompanionLink, convs Conversations, seen *dedupe.Cache, logger *slog.Logger) *Coordinator {
	if opts.CommandPrefix == "" {
		opts.CommandPrefix = "!"
	}
	if opts.Freshness <= 0 {
		opts.Freshness = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		opts:   opts,
		rooms:  rooms,
		link:   link,
		convs:  convs,
		seen:   seen,
		logger: logger.With("component", "relay"),
	}
}

// HandleMessage processes one inbound room message.
func (c *Coordinator) HandleMessage(ctx context.Context, msg room.Message) {
	if !c.roomAllowed(msg.RoomID) {
		return
	}
	if msg.Sender == c.opts.SelfID {
		return
	}
	if msg.Body == "" {
		return
	}
	if age := time.Since(msg.Timestamp); age > c.opts.Freshness {
		c.logger.Debug("ignoring stale message", "event_id", msg.EventID, "age", age)
		return
	}
	if c.seen != nil && c.seen.CheckAndMark(msg.EventID) {
		c.logger.Debug("ignoring redelivered message", "event_id", msg.EventID)
		return
	}

	c.setLastRoom(msg.RoomID)

	if isCommand(msg.Body, c.opts.CommandPrefix) {
		c.handleCommand(ctx, msg)
		return
	}

	if c.convs.HasTracked(msg.EventID) {
		return
	}

	// An edit of a previously answered message rewinds the conversation:
	// everything downstream of the edited turn is discarded, then the new
	// content goes out as a fresh turn.
	if msg.EditTarget != "" {
		if !c.convs.HasTracked(msg.EditTarget) {
			return
		}
		threadID, ok := c.convs.ThreadOf(msg.EditTarget)
		if !ok {
			return
		}
		n, err := c.convs.DeleteAfter(ctx, msg.RoomID, threadID, msg.EditTarget)
		if err != nil {
			c.logger.Error("rewind cascade failed", "thread_id", threadID, "error", err)
		} else if n > 0 {
			c.logger.Info("rewound conversation after edit",
				"thread_id", threadID,
				"anchor", msg.EditTarget,
				"deleted", n,
			)
		}
		c.setActive(threadID)
	}

	c.forward(ctx, msg)
}

// forward hands a qualifying user message to the companion, binding a new
// thread when no conversation is active.
func (c *Coordinator) forward(ctx context.Context, msg room.Message) {
	if !c.link.Connected() {
		c.logger.Warn("user message received, but no companion is connected", "event_id", msg.EventID)
		c.apologize(ctx, msg)
		return
	}

	threadID := c.activeThread()
	if threadID == "" {
		threadID = msg.EventID
		if err := c.convs.RegisterThread(threadID, msg.Body); err != nil {
			c.logger.Error("failed to register thread", "thread_id", threadID, "error", err)
		}
		c.setActive(threadID)
		c.logger.Info("started new conversation", "thread_id", threadID)
	}

	// Record first, then act: the turn is durable before the companion
	// sees it.
	if err := c.convs.Track(threadID, msg.EventID); err != nil {
		c.logger.Error("failed to track user message", "event_id", msg.EventID, "error", err)
	}

	c.link.SetTarget(msg.RoomID, threadID)
	frame := companion.Frame{
		Type:   companion.FrameUserMessage,
		ChatID: msg.EventID,
		Text:   msg.Body,
	}
	if err := c.link.Send(ctx, frame); err != nil {
		c.logger.Error("failed to forward message to companion", "event_id", msg.EventID, "error", err)
		// The companion never saw this turn. Drop the record before the
		// apology marks the event disposable, so cascades never count it.
		if uerr := c.convs.Untrack(msg.EventID); uerr != nil {
			c.logger.Error("failed to untrack undelivered message", "event_id", msg.EventID, "error", uerr)
		}
		c.apologize(ctx, msg)
	}
}

// apologize tells the user the companion is unavailable. Both the original
// message and the apology are disposable: neither is conversation history,
// and cleartrash purges them later.
func (c *Coordinator) apologize(ctx context.Context, msg room.Message) {
	eventID, err := c.rooms.SendText(ctx, apologyText, msg.RoomID, c.activeThread())
	if err != nil {
		c.logger.Error("failed to send apology", "room", msg.RoomID, "error", err)
		return
	}
	if err := c.convs.MarkTrash(msg.EventID); err != nil {
		c.logger.Error("failed to mark message disposable", "event_id", msg.EventID, "error", err)
	}
	if err := c.convs.MarkTrash(eventID); err != nil {
		c.logger.Error("failed to mark apology disposable", "event_id", eventID, "error", err)
	}
}

// HandleCommandResult posts an opaque companion command result into the last
// active room. Wired as the session's CommandResultFunc.
func (c *Coordinator) HandleCommandResult(ctx context.Context, f companion.Frame) {
	roomID := c.lastRoomID()
	if roomID == "" || f.Text == "" {
		return
	}
	eventID, err := c.rooms.SendText(ctx, f.Text, roomID, c.activeThread())
	if err != nil {
		c.logger.Error("failed to post command result", "type", f.Type, "error", err)
		return
	}
	if err := c.convs.MarkTrash(eventID); err != nil {
		c.logger.Error("failed to mark command result disposable", "event_id", eventID, "error", err)
	}
}

func (c *Coordinator) roomAllowed(roomID string) bool {
	if len(c.opts.AllowedRooms) == 0 {
		return true
	}
	for _, allowed := range c.opts.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

func (c *Coordinator) activeThread() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Coordinator) setActive(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = threadID
}

func (c *Coordinator) lastRoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRoom
}

func (c *Coordinator) setLastRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRoom = roomID
}
