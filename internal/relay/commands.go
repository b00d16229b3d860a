// ABOUTME: Administrative room commands: status, conversation management, rewind.
// ABOUTME: Command chatter is marked disposable so cleartrash can purge it.

package relay

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/tavern-bridge/internal/companion"
	"github.com/2389/tavern-bridge/internal/room"
)

// isCommand reports whether body is addressed to the command layer. A bare
// prefix still qualifies: it must not be forwarded as a user message.
func isCommand(body, prefix string) bool {
	return strings.HasPrefix(body, prefix)
}

// handleCommand dispatches one administrative command. The command message
// itself is marked disposable.
func (c *Coordinator) handleCommand(ctx context.Context, msg room.Message) {
	if err := c.convs.MarkTrash(msg.EventID); err != nil {
		c.logger.Error("failed to mark command disposable", "event_id", msg.EventID, "error", err)
	}

	fields := strings.Fields(strings.TrimPrefix(msg.Body, c.opts.CommandPrefix))
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]
	c.logger.Info("handling command", "command", cmd, "sender", msg.Sender)

	switch cmd {
	case "ping":
		c.reply(ctx, msg.RoomID, "Pong!")

	case "status":
		c.reply(ctx, msg.RoomID, c.statusReport())

	case "new":
		c.setActive("")
		c.reply(ctx, msg.RoomID, "Started a new conversation. Your next message opens a fresh thread.")

	case "list":
		c.reply(ctx, msg.RoomID, c.threadListing())

	case "rm":
		if len(args) != 1 {
			c.reply(ctx, msg.RoomID, fmt.Sprintf("Usage: %srm <thread-id>", c.opts.CommandPrefix))
			return
		}
		n, err := c.convs.RemoveThread(ctx, msg.RoomID, args[0])
		if err != nil {
			c.logger.Error("failed to remove thread", "thread_id", args[0], "error", err)
		}
		if c.activeThread() == args[0] {
			c.setActive("")
		}
		c.reply(ctx, msg.RoomID, fmt.Sprintf("Removed conversation %s (%d events).", args[0], n))

	case "rewind":
		if len(args) != 1 {
			c.reply(ctx, msg.RoomID, fmt.Sprintf("Usage: %srewind <n>", c.opts.CommandPrefix))
			return
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			c.reply(ctx, msg.RoomID, "Rewind needs a positive number of turns.")
			return
		}
		deleted, err := c.convs.DeleteLast(ctx, msg.RoomID, c.activeThread(), n)
		if err != nil {
			c.logger.Error("rewind failed", "error", err)
		}
		c.reply(ctx, msg.RoomID, fmt.Sprintf("Rewound %d event(s).", deleted))

	case "cleartrash":
		purged, err := c.convs.ClearTrash(ctx, msg.RoomID)
		if err != nil {
			c.logger.Error("cleartrash failed", "error", err)
		}
		c.reply(ctx, msg.RoomID, fmt.Sprintf("Purged %d disposable event(s).", purged))

	case "st":
		if len(args) == 0 {
			c.reply(ctx, msg.RoomID, fmt.Sprintf("Usage: %sst <command> [args]", c.opts.CommandPrefix))
			return
		}
		frame := companion.Frame{
			Type:    companion.FrameExecuteCommand,
			ChatID:  uuid.NewString(),
			Command: args[0],
		}
		if len(args) > 1 {
			frame.Args = strings.Join(args[1:], " ")
		}
		if err := c.link.Send(ctx, frame); err != nil {
			c.reply(ctx, msg.RoomID, fmt.Sprintf("Could not reach the companion: %v", err))
		}

	default:
		c.reply(ctx, msg.RoomID, fmt.Sprintf("Unknown command %q.", cmd))
	}
}

// reply sends a command response and marks it disposable.
func (c *Coordinator) reply(ctx context.Context, roomID, text string) {
	eventID, err := c.rooms.SendText(ctx, text, roomID, c.activeThread())
	if err != nil {
		c.logger.Error("failed to send command reply", "room", roomID, "error", err)
		return
	}
	if err := c.convs.MarkTrash(eventID); err != nil {
		c.logger.Error("failed to mark reply disposable", "event_id", eventID, "error", err)
	}
}

// statusReport summarizes the bridge state.
func (c *Coordinator) statusReport() string {
	events, threads, trash := c.convs.Stats()

	state := "offline"
	if c.link.Connected() {
		state = "online"
	}
	active := c.activeThread()
	if active == "" {
		active = "none"
	}
	return fmt.Sprintf(
		"Companion: %s\nActive conversation: %s\nTracked events: %d\nConversations: %d\nDisposable events: %d",
		state, active, events, threads, trash,
	)
}

// threadListing renders the registered conversations.
func (c *Coordinator) threadListing() string {
	threads := c.convs.ListThreads()
	if len(threads) == 0 {
		return "No conversations yet."
	}

	var b strings.Builder
	b.WriteString("Conversations:\n")
	active := c.activeThread()
	for _, th := range threads {
		marker := "  "
		if th.ID == active {
			marker = "* "
		}
		fmt.Fprintf(&b, "%s%s — %s\n", marker, th.ID, truncate(th.FirstText, 50))
	}
	return strings.TrimRight(b.String(), "\n")
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
