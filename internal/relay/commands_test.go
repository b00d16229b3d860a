// ABOUTME: Tests for the administrative command surface.
// ABOUTME: Verifies dispatch, replies, and disposable marking of command chatter.

package relay

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tavern-bridge/internal/companion"
)

func TestPing(t *testing.T) {
	c, rooms, _, convs := testCoordinator(t)

	c.HandleMessage(context.Background(), userMessage("$c1", "!ping"))

	require.Equal(t, []string{"Pong!"}, rooms.sends)
	assert.Contains(t, convs.trash, "$c1", "command message disposable")
	assert.Contains(t, convs.trash, "$reply1", "reply disposable")
}

func TestStatus(t *testing.T) {
	c, rooms, link, _ := testCoordinator(t)
	link.connected = true

	c.HandleMessage(context.Background(), userMessage("$c1", "!status"))

	require.Len(t, rooms.sends, 1)
	assert.Contains(t, rooms.sends[0], "Companion: online")
	assert.Contains(t, rooms.sends[0], "Active conversation: none")
}

func TestNew_ClearsActivePointer(t *testing.T) {
	c, _, link, convs := testCoordinator(t)

	c.HandleMessage(context.Background(), userMessage("$e1", "first thread"))
	c.HandleMessage(context.Background(), userMessage("$c1", "!new"))
	c.HandleMessage(context.Background(), userMessage("$e2", "second thread"))

	assert.Len(t, convs.threads, 2, "message after !new opens a fresh thread")
	assert.Equal(t, "$e2", convs.tracked["$e2"])
	require.Len(t, link.frames, 2)
}

func TestList(t *testing.T) {
	c, rooms, _, convs := testCoordinator(t)
	convs.RegisterThread("$T", "what is the airspeed of an unladen swallow, anyway, I forgot")

	c.HandleMessage(context.Background(), userMessage("$c1", "!list"))

	require.Len(t, rooms.sends, 1)
	assert.Contains(t, rooms.sends[0], "$T")
	assert.Contains(t, rooms.sends[0], "...", "long summaries truncated")
}

func TestList_Empty(t *testing.T) {
	c, rooms, _, _ := testCoordinator(t)

	c.HandleMessage(context.Background(), userMessage("$c1", "!list"))
	require.Equal(t, []string{"No conversations yet."}, rooms.sends)
}

func TestRm_RemovesAndClearsActive(t *testing.T) {
	c, rooms, _, convs := testCoordinator(t)

	c.HandleMessage(context.Background(), userMessage("$e1", "start a thread"))
	c.HandleMessage(context.Background(), userMessage("$c1", "!rm $e1"))

	assert.Equal(t, []string{"$e1"}, convs.removed)
	assert.Contains(t, rooms.sends[len(rooms.sends)-1], "Removed conversation $e1")

	// Pointer cleared: the next message starts a new thread.
	c.HandleMessage(context.Background(), userMessage("$e2", "again"))
	assert.Contains(t, convs.threads, "$e2")
}

func TestRewind(t *testing.T) {
	c, rooms, _, convs := testCoordinator(t)
	c.HandleMessage(context.Background(), userMessage("$e1", "start"))

	c.HandleMessage(context.Background(), userMessage("$c1", "!rewind 2"))

	assert.Equal(t, []int{2}, convs.rewinds)
	assert.Contains(t, rooms.sends[len(rooms.sends)-1], "Rewound 2")
}

func TestRewind_RejectsBadArgument(t *testing.T) {
	c, rooms, _, convs := testCoordinator(t)

	c.HandleMessage(context.Background(), userMessage("$c1", "!rewind zero"))
	c.HandleMessage(context.Background(), userMessage("$c2", "!rewind -3"))

	assert.Empty(t, convs.rewinds)
	for _, send := range rooms.sends {
		assert.Contains(t, send, "positive number")
	}
}

func TestClearTrash(t *testing.T) {
	c, rooms, _, convs := testCoordinator(t)
	convs.MarkTrash("$p1")

	c.HandleMessage(context.Background(), userMessage("$c1", "!cleartrash"))

	assert.Equal(t, 1, convs.clearCalls)
	assert.Contains(t, rooms.sends[0], "Purged")
}

func TestSt_ForwardsExecuteCommand(t *testing.T) {
	c, _, link, _ := testCoordinator(t)

	c.HandleMessage(context.Background(), userMessage("$c1", "!st regenerate last 2"))

	require.Len(t, link.frames, 1)
	f := link.frames[0]
	assert.Equal(t, companion.FrameExecuteCommand, f.Type)
	assert.Equal(t, "regenerate", f.Command)
	assert.Equal(t, "last 2", f.Args)
	assert.NotEmpty(t, f.ChatID)
}

func TestSt_CompanionAway(t *testing.T) {
	c, rooms, link, _ := testCoordinator(t)
	link.sendErr = companion.ErrNotConnected

	c.HandleMessage(context.Background(), userMessage("$c1", "!st regenerate"))

	require.Len(t, rooms.sends, 1)
	assert.True(t, strings.HasPrefix(rooms.sends[0], "Could not reach the companion"))
}

func TestUnknownCommand(t *testing.T) {
	c, rooms, _, _ := testCoordinator(t)

	c.HandleMessage(context.Background(), userMessage("$c1", "!dance"))

	require.Len(t, rooms.sends, 1)
	assert.Contains(t, rooms.sends[0], `Unknown command "dance"`)
}

func TestBarePrefixIgnored(t *testing.T) {
	c, rooms, link, _ := testCoordinator(t)

	c.HandleMessage(context.Background(), userMessage("$c1", "!"))

	assert.Empty(t, rooms.sends)
	assert.Empty(t, link.frames, "a bare prefix is not a command and not a message")
}
