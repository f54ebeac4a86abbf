package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clustrhq/clustr-go/api"
	"github.com/clustrhq/clustr-go/models"
	"github.com/clustrhq/clustr-go/ws"
)

type fakeChatAPI struct {
	mu           sync.Mutex
	historyCalls []string
	sendCalls    [][2]string
	historyFn    func(eventID string) (*api.MessageHistory, error)
	sendFn       func(eventID, content string) error
}

func (f *fakeChatAPI) Messages(ctx context.Context, eventID string, limit, offset int) (*api.MessageHistory, error) {
	f.mu.Lock()
	f.historyCalls = append(f.historyCalls, eventID)
	fn := f.historyFn
	f.mu.Unlock()
	if fn != nil {
		return fn(eventID)
	}
	return &api.MessageHistory{}, nil
}

func (f *fakeChatAPI) SendMessage(ctx context.Context, eventID, content string) error {
	f.mu.Lock()
	f.sendCalls = append(f.sendCalls, [2]string{eventID, content})
	fn := f.sendFn
	f.mu.Unlock()
	if fn != nil {
		return fn(eventID, content)
	}
	return nil
}

func (f *fakeChatAPI) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sendCalls)
}

type emitted struct {
	event   string
	payload any
}

// fakeLive is an in-process LiveChannel; push delivers a server event to the
// registered handler the way the read pump would.
type fakeLive struct {
	mu           sync.Mutex
	connected    bool
	connectCalls int
	closeCalls   int
	handlers     map[string]ws.Handler
	emits        []emitted
	onConnect    func()
	onDisconnect func()
}

func newFakeLive() *fakeLive {
	return &fakeLive{handlers: make(map[string]ws.Handler)}
}

func (f *fakeLive) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connectCalls++
	f.connected = true
	onConnect := f.onConnect
	f.mu.Unlock()
	if onConnect != nil {
		onConnect()
	}
	return nil
}

func (f *fakeLive) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeLive) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeLive) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ws.ErrNotConnected
	}
	f.emits = append(f.emits, emitted{event, payload})
	return nil
}

func (f *fakeLive) On(event string, h ws.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = h
}

func (f *fakeLive) OnConnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = fn
}

func (f *fakeLive) OnDisconnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = fn
}

func (f *fakeLive) push(t *testing.T, event string, payload any) {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[event]
	f.mu.Unlock()
	require.NotNil(t, h, "no handler bound for %q", event)
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	h(body)
}

func (f *fakeLive) emitted() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emits...)
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications [][2]string
}

func (r *recordingNotifier) Notify(title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, [2]string{title, message})
}

func (r *recordingNotifier) all() [][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]string(nil), r.notifications...)
}

type chatFixture struct {
	api      *fakeChatAPI
	live     *fakeLive
	notifier *recordingNotifier
	session  *Session
}

func newChatFixture(t *testing.T, token string, opts ...Option) *chatFixture {
	t.Helper()
	f := &chatFixture{
		api:      &fakeChatAPI{},
		live:     newFakeLive(),
		notifier: &recordingNotifier{},
	}
	f.session = New(f.api, api.StaticToken(token), f.live, f.notifier, opts...)
	require.NoError(t, f.session.Connect(context.Background()))
	return f
}

func liveMessage(id, eventID, content string) models.ChatMessage {
	return models.ChatMessage{
		ID:       id,
		EventID:  eventID,
		UserID:   "user-1",
		Username: "alice",
		Content:  content,
		Type:     models.UserMessage,
	}
}

func TestConnect(t *testing.T) {
	t.Run("binds handlers exactly once", func(t *testing.T) {
		f := newChatFixture(t, "token")
		require.NoError(t, f.session.Connect(context.Background()))

		f.session.OpenRoom(context.Background(), "evt-1")
		f.live.push(t, ws.EventNewMessage, liveMessage("m1", "evt-1", "hello"))

		// Even after a second Connect the handler fires once per delivery.
		assert.Len(t, f.session.Messages(), 1)
		assert.Equal(t, 2, f.live.connectCalls)
	})
}

func TestOpenRoom(t *testing.T) {
	t.Run("announces the subscription and loads history", func(t *testing.T) {
		f := newChatFixture(t, "token")
		f.api.historyFn = func(string) (*api.MessageHistory, error) {
			return &api.MessageHistory{
				Messages:   []models.ChatMessage{liveMessage("m1", "evt-1", "first")},
				ChatRoomID: "room-1",
			}, nil
		}

		f.session.OpenRoom(context.Background(), "evt-1")

		emits := f.live.emitted()
		require.Len(t, emits, 1)
		assert.Equal(t, ws.EventJoinRoom, emits[0].event)
		assert.Equal(t, roomControl{EventID: "evt-1"}, emits[0].payload)

		assert.Equal(t, "evt-1", f.session.CurrentEventID())
		assert.Equal(t, "room-1", f.session.ChatRoomID())
		assert.False(t, f.session.Loading())
		require.Len(t, f.session.Messages(), 1)
	})

	t.Run("without token opens with an empty log", func(t *testing.T) {
		f := newChatFixture(t, "")

		f.session.OpenRoom(context.Background(), "evt-1")

		assert.Empty(t, f.api.historyCalls, "no token means no history request")
		assert.Equal(t, "evt-1", f.session.CurrentEventID())
		assert.Empty(t, f.session.Messages())
		assert.False(t, f.session.Loading())
	})

	t.Run("history failure degrades to an empty log", func(t *testing.T) {
		f := newChatFixture(t, "token")
		f.api.historyFn = func(string) (*api.MessageHistory, error) {
			return nil, errors.New("connection refused")
		}

		f.session.OpenRoom(context.Background(), "evt-1")

		assert.Empty(t, f.session.Messages())
		assert.False(t, f.session.Loading())
		assert.Empty(t, f.notifier.all(), "history failures are silent")
	})

	t.Run("switching rooms discards the previous log", func(t *testing.T) {
		f := newChatFixture(t, "token")
		f.session.OpenRoom(context.Background(), "evt-1")
		f.live.push(t, ws.EventNewMessage, liveMessage("m1", "evt-1", "old room"))
		require.Len(t, f.session.Messages(), 1)

		f.session.OpenRoom(context.Background(), "evt-2")

		assert.Empty(t, f.session.Messages())
		assert.Equal(t, "evt-2", f.session.CurrentEventID())
	})
}

func TestLiveMessages(t *testing.T) {
	t.Run("duplicate id is appended once", func(t *testing.T) {
		f := newChatFixture(t, "token")
		f.session.OpenRoom(context.Background(), "evt-1")

		msg := liveMessage("m1", "evt-1", "hello")
		f.live.push(t, ws.EventNewMessage, msg)
		f.live.push(t, ws.EventNewMessage, msg)

		assert.Len(t, f.session.Messages(), 1)
	})

	t.Run("message for another room is discarded", func(t *testing.T) {
		f := newChatFixture(t, "token")
		f.session.OpenRoom(context.Background(), "evt-1")

		f.live.push(t, ws.EventNewMessage, liveMessage("m1", "evt-2", "wrong room"))

		assert.Empty(t, f.session.Messages())
	})

	t.Run("message with no room open is discarded", func(t *testing.T) {
		f := newChatFixture(t, "token")

		f.live.push(t, ws.EventNewMessage, liveMessage("m1", "evt-1", "hello"))

		assert.Empty(t, f.session.Messages())
	})

	t.Run("history merge keeps live arrivals and dedups overlap", func(t *testing.T) {
		f := newChatFixture(t, "token")

		historyStarted := make(chan struct{})
		release := make(chan struct{})
		f.api.historyFn = func(string) (*api.MessageHistory, error) {
			close(historyStarted)
			<-release
			return &api.MessageHistory{
				Messages: []models.ChatMessage{
					liveMessage("m1", "evt-1", "from history"),
					liveMessage("m2", "evt-1", "history only"),
				},
				ChatRoomID: "room-1",
			}, nil
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			f.session.OpenRoom(context.Background(), "evt-1")
		}()
		<-historyStarted

		// m1 also arrives live while the fetch is in flight, plus a live-only
		// message the history snapshot missed.
		f.live.push(t, ws.EventNewMessage, liveMessage("m1", "evt-1", "from live"))
		f.live.push(t, ws.EventNewMessage, liveMessage("m3", "evt-1", "live only"))

		close(release)
		<-done

		msgs := f.session.Messages()
		require.Len(t, msgs, 3)
		assert.Equal(t, "m1", msgs[0].ID)
		assert.Equal(t, "m2", msgs[1].ID)
		assert.Equal(t, "m3", msgs[2].ID)
	})

	t.Run("stale history for a left room is discarded", func(t *testing.T) {
		f := newChatFixture(t, "token")

		historyStarted := make(chan struct{})
		release := make(chan struct{})
		f.api.historyFn = func(eventID string) (*api.MessageHistory, error) {
			if eventID == "evt-1" {
				close(historyStarted)
				<-release
				return &api.MessageHistory{
					Messages: []models.ChatMessage{liveMessage("m1", "evt-1", "stale")},
				}, nil
			}
			return &api.MessageHistory{ChatRoomID: "room-2"}, nil
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			f.session.OpenRoom(context.Background(), "evt-1")
		}()
		<-historyStarted

		f.session.OpenRoom(context.Background(), "evt-2")
		close(release)
		<-done

		assert.Equal(t, "evt-2", f.session.CurrentEventID())
		assert.Empty(t, f.session.Messages())
		assert.Equal(t, "room-2", f.session.ChatRoomID())
	})
}

func TestPresenceEvents(t *testing.T) {
	f := newChatFixture(t, "token")
	f.session.OpenRoom(context.Background(), "evt-1")

	f.live.push(t, ws.EventUserJoined, presenceEvent{UserID: "u2", Username: "bob", EventID: "evt-1"})
	f.live.push(t, ws.EventUserLeft, presenceEvent{UserID: "u2", Username: "bob", EventID: "evt-1"})

	msgs := f.session.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SystemMessage, msgs[0].Type)
	assert.Equal(t, "bob joined the chat", msgs[0].Content)
	assert.Equal(t, "bob left the chat", msgs[1].Content)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
}

func TestChannelErrors(t *testing.T) {
	f := newChatFixture(t, "token")

	f.live.push(t, ws.EventError, channelError{Message: "Not authorized for this chat"})

	notes := f.notifier.all()
	require.Len(t, notes, 1)
	assert.Equal(t, [2]string{"Chat Error", "Not authorized for this chat"}, notes[0])
}

func TestSendMessage(t *testing.T) {
	t.Run("whitespace only is rejected and compose kept", func(t *testing.T) {
		f := newChatFixture(t, "token")
		f.session.OpenRoom(context.Background(), "evt-1")
		f.session.SetCompose("   ")

		f.session.SendMessage(context.Background(), "evt-1", "")

		assert.Zero(t, f.api.sendCount())
		notes := f.notifier.all()
		require.Len(t, notes, 1)
		assert.Equal(t, [2]string{"Error", "Please enter a message"}, notes[0])
		assert.Equal(t, "   ", f.session.Compose())
	})

	t.Run("without token nothing is sent", func(t *testing.T) {
		f := newChatFixture(t, "")
		f.session.OpenRoom(context.Background(), "evt-1")

		f.session.SendMessage(context.Background(), "evt-1", "hello")

		assert.Zero(t, f.api.sendCount())
		notes := f.notifier.all()
		require.Len(t, notes, 1)
		assert.Equal(t, [2]string{"Error", "Authentication required"}, notes[0])
	})

	t.Run("success clears compose without optimistic append", func(t *testing.T) {
		f := newChatFixture(t, "token")
		f.session.OpenRoom(context.Background(), "evt-1")
		f.session.SetCompose("hello room")

		f.session.SendMessage(context.Background(), "evt-1", "")

		require.Equal(t, 1, f.api.sendCount())
		assert.Equal(t, [2]string{"evt-1", "hello room"}, f.api.sendCalls[0])
		assert.Empty(t, f.session.Compose())
		assert.Empty(t, f.session.Messages(), "the echo comes back on the live channel")

		// The server's broadcast is what lands in the log.
		f.live.push(t, ws.EventNewMessage, liveMessage("m1", "evt-1", "hello room"))
		assert.Len(t, f.session.Messages(), 1)
	})

	t.Run("server rejection keeps compose for a retry", func(t *testing.T) {
		f := newChatFixture(t, "token")
		f.session.OpenRoom(context.Background(), "evt-1")
		f.session.SetCompose("hello")
		f.api.sendFn = func(string, string) error {
			return &api.Error{StatusCode: 403, Message: "You must join the event to chat"}
		}

		f.session.SendMessage(context.Background(), "evt-1", "")

		notes := f.notifier.all()
		require.Len(t, notes, 1)
		assert.Equal(t, [2]string{"Error", "You must join the event to chat"}, notes[0])
		assert.Equal(t, "hello", f.session.Compose())
	})

	t.Run("explicit content is trimmed", func(t *testing.T) {
		f := newChatFixture(t, "token")
		f.session.OpenRoom(context.Background(), "evt-1")

		f.session.SendMessage(context.Background(), "evt-1", "  hi there  ")

		require.Equal(t, 1, f.api.sendCount())
		assert.Equal(t, "hi there", f.api.sendCalls[0][1])
	})
}

func TestCloseRoom(t *testing.T) {
	f := newChatFixture(t, "token")
	f.session.OpenRoom(context.Background(), "evt-1")
	f.live.push(t, ws.EventNewMessage, liveMessage("m1", "evt-1", "hello"))

	f.session.CloseRoom()

	assert.Empty(t, f.session.CurrentEventID())
	assert.Empty(t, f.session.Messages())
	emits := f.live.emitted()
	require.Len(t, emits, 2)
	assert.Equal(t, ws.EventLeaveRoom, emits[1].event)
	assert.Equal(t, roomControl{EventID: "evt-1"}, emits[1].payload)
}

func TestReconnectRejoinsRoom(t *testing.T) {
	f := newChatFixture(t, "token")
	f.session.OpenRoom(context.Background(), "evt-1")
	require.Len(t, f.live.emitted(), 1)

	// A reconnect fires the OnConnect callback again.
	require.NoError(t, f.session.Connect(context.Background()))

	emits := f.live.emitted()
	require.Len(t, emits, 2)
	assert.Equal(t, ws.EventJoinRoom, emits[1].event)
	assert.Equal(t, roomControl{EventID: "evt-1"}, emits[1].payload)
}

func TestCleanup(t *testing.T) {
	f := newChatFixture(t, "token")
	f.session.OpenRoom(context.Background(), "evt-1")
	f.live.push(t, ws.EventNewMessage, liveMessage("m1", "evt-1", "hello"))

	f.session.Cleanup()

	assert.Equal(t, 1, f.live.closeCalls)
	assert.Empty(t, f.session.CurrentEventID())
	assert.Empty(t, f.session.Messages())
	assert.Empty(t, f.session.Compose())
}
