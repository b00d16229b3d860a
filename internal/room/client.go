// ABOUTME: Matrix room transport adapter over mautrix.
// ABOUTME: Mutating calls are marshaled onto a dispatch goroutine owned by the sync loop.

package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ErrNotRunning indicates the room dispatch loop did not come up within the
// startup wait bound.
var ErrNotRunning = errors.New("room client is not running")

// startupWait bounds how long a marshaled call waits for the dispatch loop
// during the startup race where the sync context is not yet running.
const startupWait = 5 * time.Second

// MessageHandler receives qualifying inbound room messages.
type MessageHandler func(ctx context.Context, msg Message)

// Client wraps the Matrix client. All mutating calls (send, edit, delete)
// are serialized through a single dispatch goroutine started by Run, so the
// transport has one owning execution context and callers block until their
// marshaled call completes.
type Client struct {
	mx      *mautrix.Client
	selfID  id.UserID
	logger  *slog.Logger
	calls   chan func(ctx context.Context)
	running atomic.Bool
}

// NewClient creates a Matrix client for the given homeserver and credentials.
func NewClient(homeserver, userID, accessToken string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mx, err := mautrix.NewClient(homeserver, id.UserID(userID), accessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Client{
		mx:     mx,
		selfID: id.UserID(userID),
		logger: logger.With("component", "room"),
		calls:  make(chan func(ctx context.Context), 16),
	}, nil
}

// UserID returns the bridge's own Matrix user id.
func (c *Client) UserID() string {
	return c.selfID.String()
}

// OnMessage registers the handler for inbound m.room.message events. Must be
// called before Run.
func (c *Client) OnMessage(handler MessageHandler) error {
	syncer, ok := c.mx.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", c.mx.Syncer)
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		msg, ok := fromEvent(evt)
		if !ok {
			return
		}
		handler(ctx, msg)
	})
	return nil
}

// Run starts the dispatch loop and syncs with the homeserver until ctx is
// cancelled or the sync fails.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("connecting to matrix homeserver", "homeserver", c.mx.HomeserverURL.String(), "user_id", c.selfID)

	go c.dispatch(ctx)

	err := c.mx.SyncWithContext(ctx)
	c.running.Store(false)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("matrix sync failed: %w", err)
	}
	return nil
}

// dispatch executes marshaled calls serially on the room's own goroutine.
func (c *Client) dispatch(ctx context.Context) {
	c.running.Store(true)
	for {
		select {
		case <-ctx.Done():
			c.running.Store(false)
			return
		case fn := <-c.calls:
			fn(ctx)
		}
	}
}

type callResult struct {
	eventID string
	err     error
}

// do marshals fn onto the dispatch goroutine and waits for its result. It
// busy-waits (bounded) for the dispatch loop during startup.
func (c *Client) do(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	deadline := time.Now().Add(startupWait)
	for !c.running.Load() {
		if time.Now().After(deadline) {
			return "", ErrNotRunning
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	done := make(chan callResult, 1)
	call := func(loopCtx context.Context) {
		eventID, err := fn(loopCtx)
		done <- callResult{eventID: eventID, err: err}
	}

	select {
	case c.calls <- call:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-done:
		return res.eventID, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SendText sends a markdown-formatted text message, threaded under threadID
// when set, and returns the new event id.
func (c *Client) SendText(ctx context.Context, text, roomID, threadID string) (string, error) {
	return c.do(ctx, func(loopCtx context.Context) (string, error) {
		content := newTextContent(text)
		if threadID != "" {
			content.RelatesTo = &event.RelatesTo{
				Type:          event.RelThread,
				EventID:       id.EventID(threadID),
				IsFallingBack: true,
				InReplyTo:     &event.InReplyTo{EventID: id.EventID(threadID)},
			}
		}
		resp, err := c.mx.SendMessageEvent(loopCtx, id.RoomID(roomID), event.EventMessage, &content)
		if err != nil {
			return "", fmt.Errorf("sending message: %w", err)
		}
		return resp.EventID.String(), nil
	})
}

// EditText replaces the body of a previously sent event in place.
func (c *Client) EditText(ctx context.Context, text, roomID, eventID string) (string, error) {
	return c.do(ctx, func(loopCtx context.Context) (string, error) {
		content := newTextContent(text)
		content.SetEdit(id.EventID(eventID))
		resp, err := c.mx.SendMessageEvent(loopCtx, id.RoomID(roomID), event.EventMessage, &content)
		if err != nil {
			return "", fmt.Errorf("editing message: %w", err)
		}
		return resp.EventID.String(), nil
	})
}

// DeleteText redacts an event and returns the redaction's event id.
func (c *Client) DeleteText(ctx context.Context, roomID, eventID string) (string, error) {
	return c.do(ctx, func(loopCtx context.Context) (string, error) {
		resp, err := c.mx.RedactEvent(loopCtx, id.RoomID(roomID), id.EventID(eventID))
		if err != nil {
			return "", fmt.Errorf("redacting message: %w", err)
		}
		return resp.EventID.String(), nil
	})
}

// newTextContent builds an m.text content with a rendered HTML body.
func newTextContent(text string) event.MessageEventContent {
	return event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          text,
		Format:        event.FormatHTML,
		FormattedBody: RenderMarkdown(text),
	}
}
