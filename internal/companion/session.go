// ABOUTME: Owns the single companion WebSocket connection and its stream state.
// ABOUTME: Demultiplexes inbound frames into room sends/edits and tracked turns.

package companion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrNotConnected indicates no companion peer currently holds the connection.
// Outbound frames are never buffered across a disconnect; the caller must
// tell the user the companion is unavailable instead.
var ErrNotConnected = errors.New("companion not connected")

// placeholderText is the room message shown while a reply streams.
const placeholderText = "thinking…"

// RoomOutput is what the session needs from the room transport to render
// companion events.
type RoomOutput interface {
	SendText(ctx context.Context, text, roomID, threadID string) (string, error)
	EditText(ctx context.Context, text, roomID, eventID string) (string, error)
}

// Turns is what the session needs from the conversation tracker.
type Turns interface {
	Track(threadID, eventID string) error
	MarkTrash(eventID string) error
}

// CommandResultFunc receives inbound frames of types the session does not
// handle itself, as opaque command results.
type CommandResultFunc func(ctx context.Context, f Frame)

// peer is the connection surface the session holds. *websocket.Conn
// satisfies it; tests substitute a fake.
type peer interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Session accepts at most one companion peer at a time and correlates its
// streamed replies with the room placeholder messages they update.
type Session struct {
	addr     string
	room     RoomOutput
	turns    Turns
	onResult CommandResultFunc
	logger   *slog.Logger

	mu       sync.Mutex
	conn     peer
	streams  map[string]string // chat id -> placeholder room event id
	roomID   string
	threadID string
}

// New creates a Session listening on addr once Run is called.
func New(addr string, room RoomOutput, turns Turns, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		addr:    addr,
		room:    room,
		turns:   turns,
		logger:  logger.With("component", "companion"),
		streams: make(map[string]string),
	}
}

// OnCommandResult registers the handler for opaque command-result frames.
func (s *Session) OnCommandResult(fn CommandResultFunc) {
	s.onResult = fn
}

// SetTarget binds the room and active thread that subsequent inbound frames
// render into. Set by the relay before each forwarded user message.
func (s *Session) SetTarget(roomID, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
	s.threadID = threadID
}

// Connected reports whether a companion peer currently holds the connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send transmits a JSON-encoded frame to the current peer.
func (s *Session) Send(ctx context.Context, f Frame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding companion frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing to companion: %w", err)
	}
	return nil
}

// Run serves the companion WebSocket endpoint until ctx is cancelled.
// Listener startup failure is fatal and propagates to the caller.
func (s *Session) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)

	srv := &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("companion listener starting", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("companion listener: %w", err)
	}
	return nil
}

// handleUpgrade accepts a companion WebSocket connection and runs its read
// loop. A new connection supersedes any previous peer.
func (s *Session) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local companion only, no origin check
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}

	defer conn.CloseNow()

	s.attach(conn)
	s.logger.Info("companion connected", "remote", r.RemoteAddr)

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.logger.Info("companion disconnected", "error", err)
			s.detach(conn)
			return
		}
		s.handleRaw(ctx, data)
	}
}

// attach installs conn as the single peer, superseding and closing any
// previous one. Streaming state never survives a peer change.
func (s *Session) attach(conn peer) {
	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.streams = make(map[string]string)
	s.mu.Unlock()

	if old != nil && old != conn {
		s.logger.Warn("superseding existing companion connection")
		old.Close(websocket.StatusPolicyViolation, "superseded by new connection")
	}
}

// detach clears the peer if conn still holds it. A superseded connection's
// read loop must not clobber the new peer's state.
func (s *Session) detach(conn peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
		s.streams = make(map[string]string)
	}
}

// handleRaw parses and dispatches one inbound message. Malformed frames are
// logged and dropped; handler failures are logged and surfaced to the room
// as a diagnostic. Nothing here may kill the read loop.
func (s *Session) handleRaw(ctx context.Context, data []byte) {
	frame, err := ParseFrame(data)
	if err != nil {
		s.logger.Error("dropping malformed companion frame", "error", err)
		return
	}

	if err := s.dispatch(ctx, frame); err != nil {
		s.logger.Error("companion frame handling failed",
			"type", frame.Type,
			"chat_id", frame.ChatID,
			"error", err,
		)
		roomID, threadID := s.target()
		if roomID != "" {
			if _, sendErr := s.room.SendText(ctx, fmt.Sprintf("Unexpected error: %v", err), roomID, threadID); sendErr != nil {
				s.logger.Error("failed to report companion error to room", "error", sendErr)
			}
		}
	}
}

// dispatch routes a parsed frame through the streaming state machine.
func (s *Session) dispatch(ctx context.Context, f Frame) error {
	roomID, threadID := s.target()
	if roomID == "" {
		// No user message has bound a room yet; nowhere to render.
		s.logger.Debug("dropping companion frame with no target room", "type", f.Type)
		return nil
	}

	switch {
	case f.Type == FrameTypingAction:
		return s.handleTyping(ctx, f.ChatID, roomID, threadID)
	case f.isFinal():
		return s.handleFinal(ctx, f, roomID, threadID)
	case f.Type == FrameErrorMessage:
		return s.handleError(ctx, f.Text, roomID, threadID)
	default:
		if s.onResult != nil {
			s.onResult(ctx, f)
		}
		return nil
	}
}

// handleTyping opens a streaming session for an unseen chat id by posting a
// placeholder message. The placeholder is cosmetic, so it is marked
// disposable rather than tracked.
func (s *Session) handleTyping(ctx context.Context, chatID, roomID, threadID string) error {
	if _, open := s.stream(chatID); open {
		return nil
	}

	eventID, err := s.room.SendText(ctx, placeholderText, roomID, threadID)
	if err != nil {
		return fmt.Errorf("sending placeholder: %w", err)
	}
	s.openStream(chatID, eventID)
	if err := s.turns.MarkTrash(eventID); err != nil {
		s.logger.Error("failed to mark placeholder disposable", "event_id", eventID, "error", err)
	}
	return nil
}

// handleFinal closes the chat's streaming session: the placeholder is edited
// in place with the final text, or a fresh message is sent when no stream is
// open, and the resulting event becomes a tracked conversation turn.
func (s *Session) handleFinal(ctx context.Context, f Frame, roomID, threadID string) error {
	eventID, open := s.stream(f.ChatID)
	if open {
		if _, err := s.room.EditText(ctx, f.Text, roomID, eventID); err != nil {
			s.closeStream(f.ChatID)
			return fmt.Errorf("editing placeholder: %w", err)
		}
		s.closeStream(f.ChatID)
	} else {
		var err error
		eventID, err = s.room.SendText(ctx, f.Text, roomID, threadID)
		if err != nil {
			return fmt.Errorf("sending reply: %w", err)
		}
	}

	return s.record(threadID, eventID)
}

// handleError surfaces a companion-reported error in the room. It is tracked
// as a turn so a later rewind also rolls back the visible error.
func (s *Session) handleError(ctx context.Context, text, roomID, threadID string) error {
	s.logger.Error("companion reported an error", "text", text)
	eventID, err := s.room.SendText(ctx, text, roomID, threadID)
	if err != nil {
		return fmt.Errorf("sending companion error: %w", err)
	}
	return s.record(threadID, eventID)
}

// record tracks eventID under threadID, or marks it disposable when no
// thread is active.
func (s *Session) record(threadID, eventID string) error {
	if eventID == "" {
		return nil
	}
	if threadID == "" {
		return s.turns.MarkTrash(eventID)
	}
	return s.turns.Track(threadID, eventID)
}

func (s *Session) target() (roomID, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID, s.threadID
}

func (s *Session) stream(chatID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eventID, ok := s.streams[chatID]
	return eventID, ok
}

func (s *Session) openStream(chatID, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[chatID] = eventID
}

func (s *Session) closeStream(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, chatID)
}
