// Package chat manages one live chat room at a time: the message log, the
// history load, live message ingestion with dedup and room scoping, and
// outbound sends. Messages go out over REST; the broadcast comes back over
// the live channel.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/clustrhq/clustr-go/api"
	"github.com/clustrhq/clustr-go/models"
	"github.com/clustrhq/clustr-go/ws"
)

const defaultHistoryLimit = 50

// API is the slice of the REST client the chat session consumes.
type API interface {
	Messages(ctx context.Context, eventID string, limit, offset int) (*api.MessageHistory, error)
	SendMessage(ctx context.Context, eventID, content string) error
}

// TokenSource reports the cached auth token; "" means unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Notifier surfaces user-facing chat conditions (validation, send failures,
// channel errors).
type Notifier interface {
	Notify(title, message string)
}

// LiveChannel is the persistent push transport. *ws.Client implements it;
// tests substitute a fake.
type LiveChannel interface {
	Connect(ctx context.Context) error
	Close() error
	Connected() bool
	Emit(event string, payload any) error
	On(event string, h ws.Handler)
	OnConnect(f func())
	OnDisconnect(f func())
}

// Session is the chat session store. One instance serves the whole process;
// OpenRoom/CloseRoom switch which room its current-session fields describe.
type Session struct {
	api      API
	tokens   TokenSource
	live     LiveChannel
	notifier Notifier
	logger   *slog.Logger

	historyLimit int

	// histSeq stamps history loads so a slow response for a room the user
	// has already left cannot overwrite the new room's log.
	histSeq atomic.Uint64

	mu             sync.Mutex
	bound          bool
	currentEventID string
	chatRoomID     string
	messages       []models.ChatMessage
	loading        bool
	compose        string
}

type Option func(*Session)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithHistoryLimit overrides how many prior messages a room open requests.
func WithHistoryLimit(n int) Option {
	return func(s *Session) {
		s.historyLimit = n
	}
}

func New(a API, tokens TokenSource, live LiveChannel, notifier Notifier, opts ...Option) *Session {
	s := &Session{
		api:          a,
		tokens:       tokens,
		live:         live,
		notifier:     notifier,
		logger:       slog.Default(),
		historyLimit: defaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect binds the live handlers and establishes the channel. It is
// idempotent: repeated calls cannot stack handlers or connections.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if !s.bound {
		s.bind()
		s.bound = true
	}
	s.mu.Unlock()

	if err := s.live.Connect(ctx); err != nil {
		return fmt.Errorf("connect live channel: %w", err)
	}
	return nil
}

// bind registers the live channel handlers. Called once, with s.mu held.
func (s *Session) bind() {
	s.live.On(ws.EventNewMessage, s.handleNewMessage)
	s.live.On(ws.EventUserJoined, s.presenceHandler("joined the chat"))
	s.live.On(ws.EventUserLeft, s.presenceHandler("left the chat"))
	s.live.On(ws.EventError, s.handleError)
	s.live.OnConnect(s.rejoinRoom)
}

// Connected reports the observed state of the live channel.
func (s *Session) Connected() bool {
	return s.live.Connected()
}

type roomControl struct {
	EventID string `json:"event_id"`
}

// OpenRoom makes eventID the active chat room: announces the subscription on
// the live channel and loads history. Live messages for the room are accepted
// as soon as the room is set; the history load merges rather than replaces so
// none are lost.
func (s *Session) OpenRoom(ctx context.Context, eventID string) {
	s.mu.Lock()
	s.currentEventID = eventID
	s.chatRoomID = ""
	s.messages = nil
	s.compose = ""
	s.loading = true
	s.mu.Unlock()

	if s.live.Connected() {
		if err := s.live.Emit(ws.EventJoinRoom, roomControl{EventID: eventID}); err != nil {
			s.logger.Error("join room", slog.String("error", err.Error()))
		}
	}

	s.LoadHistory(ctx, eventID)
}

// CloseRoom leaves the active room and clears the session state. The
// underlying connection stays up for the next room.
func (s *Session) CloseRoom() {
	s.mu.Lock()
	eventID := s.currentEventID
	s.currentEventID = ""
	s.chatRoomID = ""
	s.messages = nil
	s.compose = ""
	s.loading = false
	s.mu.Unlock()

	if eventID != "" && s.live.Connected() {
		if err := s.live.Emit(ws.EventLeaveRoom, roomControl{EventID: eventID}); err != nil {
			s.logger.Error("leave room", slog.String("error", err.Error()))
		}
	}
}

// rejoinRoom re-announces the active room after a reconnect.
func (s *Session) rejoinRoom() {
	s.mu.Lock()
	eventID := s.currentEventID
	s.mu.Unlock()
	if eventID == "" {
		return
	}
	if err := s.live.Emit(ws.EventJoinRoom, roomControl{EventID: eventID}); err != nil {
		s.logger.Error("rejoin room", slog.String("error", err.Error()))
	}
}

// LoadHistory fetches prior messages for the room. An absent token or a
// failed fetch degrades to an empty log; nothing blocks the user. Live
// messages that arrived while the fetch was in flight are merged in after the
// history, deduplicated by id.
func (s *Session) LoadHistory(ctx context.Context, eventID string) {
	seq := s.histSeq.Add(1)

	token, err := s.tokens.Token(ctx)
	if err != nil || token == "" {
		if err != nil {
			s.logger.Error("read token", slog.String("error", err.Error()))
		} else {
			s.logger.Warn("load history without auth token", slog.String("event_id", eventID))
		}
		s.finishHistory(seq, eventID, nil, "")
		return
	}

	history, err := s.api.Messages(ctx, eventID, s.historyLimit, 0)
	if err != nil {
		s.logger.Error("load history", slog.String("event_id", eventID), slog.String("error", err.Error()))
		s.finishHistory(seq, eventID, nil, "")
		return
	}
	s.finishHistory(seq, eventID, history.Messages, history.ChatRoomID)
}

// finishHistory installs a history load result unless it has been superseded
// by a newer load or a room switch.
func (s *Session) finishHistory(seq uint64, eventID string, history []models.ChatMessage, chatRoomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.histSeq.Load() != seq || s.currentEventID != eventID {
		return
	}

	merged := history
	for _, m := range s.messages {
		if !containsID(merged, m.ID) {
			merged = append(merged, m)
		}
	}
	s.messages = merged
	s.chatRoomID = chatRoomID
	s.loading = false
}

// SendMessage submits a message over REST. The text comes from the explicit
// argument or, when empty, the compose buffer. The message is not appended
// locally; it arrives back on the live channel, where dedup makes even a
// double delivery safe.
func (s *Session) SendMessage(ctx context.Context, eventID, content string) {
	if content == "" {
		s.mu.Lock()
		content = s.compose
		s.mu.Unlock()
	}
	content = strings.TrimSpace(content)
	if content == "" {
		s.notifier.Notify("Error", "Please enter a message")
		return
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		s.logger.Error("read token", slog.String("error", err.Error()))
		return
	}
	if token == "" {
		s.notifier.Notify("Error", "Authentication required")
		return
	}

	if err := s.api.SendMessage(ctx, eventID, content); err != nil {
		s.notifier.Notify("Error", api.ServerMessage(err, "Failed to send message"))
		return
	}

	s.mu.Lock()
	s.compose = ""
	s.mu.Unlock()
}

// Cleanup disconnects the transport and clears all session state. It runs
// once at application teardown, not per room close.
func (s *Session) Cleanup() {
	if err := s.live.Close(); err != nil {
		s.logger.Error("close live channel", slog.String("error", err.Error()))
	}
	s.mu.Lock()
	s.currentEventID = ""
	s.chatRoomID = ""
	s.messages = nil
	s.compose = ""
	s.loading = false
	s.mu.Unlock()
}

func (s *Session) handleNewMessage(body json.RawMessage) {
	var msg models.ChatMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		s.logger.Error("decode new_message", slog.String("error", err.Error()))
		return
	}
	s.appendLive(msg)
}

type presenceEvent struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	EventID  string `json:"event_id"`
}

// presenceHandler synthesizes a system message for a join/leave notice. Ids
// get a uuid suffix so rapid bursts in the same millisecond cannot collide
// with each other or with server ids.
func (s *Session) presenceHandler(verb string) ws.Handler {
	return func(body json.RawMessage) {
		var ev presenceEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			s.logger.Error("decode presence event", slog.String("error", err.Error()))
			return
		}
		now := time.Now()
		s.appendLive(models.ChatMessage{
			ID:        "system_" + uuid.NewString(),
			EventID:   ev.EventID,
			Content:   fmt.Sprintf("%s %s", ev.Username, verb),
			Type:      models.SystemMessage,
			CreatedAt: now,
			Timestamp: now.UnixMilli(),
		})
	}
}

type channelError struct {
	Message string `json:"message"`
}

func (s *Session) handleError(body json.RawMessage) {
	var ev channelError
	if err := json.Unmarshal(body, &ev); err != nil || ev.Message == "" {
		s.notifier.Notify("Chat Error", "Connection error")
		return
	}
	s.notifier.Notify("Chat Error", ev.Message)
}

// appendLive appends a live message, discarding anything scoped to a room
// other than the active one and anything whose id is already present.
func (s *Session) appendLive(msg models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentEventID == "" {
		return
	}
	if msg.EventID != "" && msg.EventID != s.currentEventID {
		return
	}
	if containsID(s.messages, msg.ID) {
		return
	}
	s.messages = append(s.messages, msg)
}

func containsID(messages []models.ChatMessage, id string) bool {
	for _, m := range messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Messages returns the current log in arrival order. The slice is shared;
// treat it as read-only.
func (s *Session) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages
}

func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// CurrentEventID returns the active room's event id, or "".
func (s *Session) CurrentEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentEventID
}

// ChatRoomID returns the server-assigned room id from the last history load.
func (s *Session) ChatRoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatRoomID
}

// Compose returns the pending message text.
func (s *Session) Compose() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compose
}

func (s *Session) SetCompose(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compose = text
}
