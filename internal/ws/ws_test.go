package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/apperr"
	"chat-sync/internal/feed"
	"chat-sync/internal/middleware"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
)

var (
	_ ConversationReader = (*mocks.ChatServiceMock)(nil)
	_ InboxReader        = (*mocks.ChatServiceMock)(nil)
	_ Feed               = (*feed.Hub)(nil)
)

func newRouter(chat *mocks.ChatServiceMock, hub *feed.Hub, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	})
	r.GET("/ws/conversations/:conversation_id", NewConversationHandler(chat, hub, nil, nil).Handle)
	r.GET("/ws/inbox", NewInboxHandler(chat, hub, nil, nil).Handle)
	return r
}

func newServer(t *testing.T, chat *mocks.ChatServiceMock, hub *feed.Hub, userID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newRouter(chat, hub, userID))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readEvent(t *testing.T, conn *websocket.Conn) models.ChangeEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev models.ChangeEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

var convAB = models.Conversation{ID: "c1", Members: []string{"alice", "bob"}}

func msg(id string, seq int64) models.Message {
	return models.Message{ID: id, ConversationID: "c1", SenderID: "alice", Content: id, Sequence: seq}
}

func TestConversationStreamsBacklogThenLiveWithoutDuplicates(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	hub := feed.NewHub(8, nil)
	srv := newServer(t, chat, hub, "bob")

	chat.On("Conversation", mock.Anything, "bob", "c1").Return(convAB, nil).Once()
	chat.On("FetchSince", mock.Anything, "bob", "c1", int64(-1)).Return([]models.Message{msg("m0", 0), msg("m1", 1)}, nil).Once()

	conn, _, err := dial(t, srv, "/ws/conversations/c1")
	require.NoError(t, err)

	assert.Equal(t, "m0", readEvent(t, conn).Message.ID)
	assert.Equal(t, "m1", readEvent(t, conn).Message.ID)

	// m1 was already part of the backlog.
	hub.Dispatch(models.MessageAdded(convAB, msg("m1", 1)))
	hub.Dispatch(models.MessageAdded(convAB, msg("m2", 2)))

	ev := readEvent(t, conn)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "m2", ev.Message.ID)
	assert.EqualValues(t, 2, ev.Message.Sequence)
	chat.AssertExpectations(t)
}

func TestConversationResumesAfterCursor(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	hub := feed.NewHub(8, nil)
	srv := newServer(t, chat, hub, "alice")

	chat.On("Conversation", mock.Anything, "alice", "c1").Return(convAB, nil).Once()
	chat.On("FetchSince", mock.Anything, "alice", "c1", int64(4)).Return([]models.Message{msg("m5", 5)}, nil).Once()

	conn, _, err := dial(t, srv, "/ws/conversations/c1?after_seq=4")
	require.NoError(t, err)

	assert.Equal(t, "m5", readEvent(t, conn).Message.ID)
	chat.AssertExpectations(t)
}

func TestConversationClosesOnRemoval(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	hub := feed.NewHub(8, nil)
	srv := newServer(t, chat, hub, "alice")

	chat.On("Conversation", mock.Anything, "alice", "c1").Return(convAB, nil).Once()
	chat.On("FetchSince", mock.Anything, "alice", "c1", int64(-1)).Return(nil, nil).Once()

	conn, _, err := dial(t, srv, "/ws/conversations/c1")
	require.NoError(t, err)
	waitFor(t, func() bool { c, _ := hub.Counts(); return c == 1 })

	hub.Dispatch(models.ConversationChanged(models.ChangeRemoved, convAB))

	ev := readEvent(t, conn)
	assert.Equal(t, models.ChangeRemoved, ev.Kind)
	assert.Equal(t, models.ScopeConversation, ev.Scope)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	waitFor(t, func() bool { c, _ := hub.Counts(); return c == 0 })
}

func TestConversationSkipsMalformedBacklog(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	hub := feed.NewHub(8, nil)
	srv := newServer(t, chat, hub, "bob")

	var bad apperr.ItemErrors
	bad.Append("m1", apperr.ParseFailed("message m1 is missing sender or date", nil))
	chat.On("Conversation", mock.Anything, "bob", "c1").Return(convAB, nil).Once()
	chat.On("FetchSince", mock.Anything, "bob", "c1", int64(-1)).Return([]models.Message{msg("m0", 0), msg("m2", 2)}, bad.ErrOrNil()).Once()

	conn, _, err := dial(t, srv, "/ws/conversations/c1")
	require.NoError(t, err)

	assert.Equal(t, "m0", readEvent(t, conn).Message.ID)
	assert.Equal(t, "m2", readEvent(t, conn).Message.ID)

	hub.Dispatch(models.MessageAdded(convAB, msg("m3", 3)))
	assert.Equal(t, "m3", readEvent(t, conn).Message.ID)
}

func TestConversationBacklogFailureClosesSocket(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	hub := feed.NewHub(8, nil)
	srv := newServer(t, chat, hub, "bob")

	chat.On("Conversation", mock.Anything, "bob", "c1").Return(convAB, nil).Once()
	chat.On("FetchSince", mock.Anything, "bob", "c1", int64(-1)).Return(nil, errors.New("store unavailable")).Once()

	conn, _, err := dial(t, srv, "/ws/conversations/c1")
	require.NoError(t, err)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr), "got %v", err)
	waitFor(t, func() bool { c, _ := hub.Counts(); return c == 0 })
}

func TestServerShutdownClosesSocketsWithGoingAway(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	hub := feed.NewHub(8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := httptest.NewUnstartedServer(newRouter(chat, hub, "alice"))
	srv.Config.BaseContext = func(net.Listener) context.Context { return ctx }
	srv.Start()
	t.Cleanup(srv.Close)

	chat.On("Conversation", mock.Anything, "alice", "c1").Return(convAB, nil).Once()
	chat.On("FetchSince", mock.Anything, "alice", "c1", int64(-1)).Return(nil, nil).Once()

	conn, _, err := dial(t, srv, "/ws/conversations/c1")
	require.NoError(t, err)
	waitFor(t, func() bool { c, _ := hub.Counts(); return c == 1 })

	cancel()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	waitFor(t, func() bool { c, _ := hub.Counts(); return c == 0 })
}

func TestConversationRejectsNonMember(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	hub := feed.NewHub(8, nil)
	srv := newServer(t, chat, hub, "mallory")

	chat.On("Conversation", mock.Anything, "mallory", "c1").Return(nil, apperr.ErrNotMember).Once()

	_, resp, err := dial(t, srv, "/ws/conversations/c1")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	c, u := hub.Counts()
	assert.Zero(t, c+u)
}

func TestConversationRejectsBadCursor(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	srv := newServer(t, chat, feed.NewHub(8, nil), "alice")

	_, resp, err := dial(t, srv, "/ws/conversations/c1?after_seq=x")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	chat.AssertNotCalled(t, "Conversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestClientDisconnectCancelsSubscription(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	hub := feed.NewHub(8, nil)
	srv := newServer(t, chat, hub, "alice")

	chat.On("Conversation", mock.Anything, "alice", "c1").Return(convAB, nil).Once()
	chat.On("FetchSince", mock.Anything, "alice", "c1", int64(-1)).Return(nil, nil).Once()

	conn, _, err := dial(t, srv, "/ws/conversations/c1")
	require.NoError(t, err)
	waitFor(t, func() bool { c, _ := hub.Counts(); return c == 1 })

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	waitFor(t, func() bool { c, _ := hub.Counts(); return c == 0 })
}

func TestInboxSnapshotThenDedupedChanges(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	hub := feed.NewHub(8, nil)
	srv := newServer(t, chat, hub, "alice")

	first := convAB.WithLatest(msg("m0", 0))
	chat.On("ListConversations", mock.Anything, "alice").Return([]models.Conversation{first}, nil).Once()

	conn, _, err := dial(t, srv, "/ws/inbox")
	require.NoError(t, err)

	ev := readEvent(t, conn)
	assert.Equal(t, models.ChangeAdded, ev.Kind)
	require.NotNil(t, ev.Conversation)
	assert.Equal(t, "c1", ev.Conversation.ID)

	// Same summary again is a duplicate; the newer one goes through.
	hub.Dispatch(models.ConversationChanged(models.ChangeModified, first))
	hub.Dispatch(models.ConversationChanged(models.ChangeModified, convAB.WithLatest(msg("m1", 1))))

	ev = readEvent(t, conn)
	assert.Equal(t, models.ChangeModified, ev.Kind)
	require.NotNil(t, ev.Conversation.LatestMessage)
	assert.EqualValues(t, 1, ev.Conversation.LatestMessage.Sequence)

	// Message events are routed to conversation subscribers only.
	hub.Dispatch(models.MessageAdded(convAB, msg("m2", 2)))
	hub.Dispatch(models.ConversationChanged(models.ChangeRemoved, convAB))

	ev = readEvent(t, conn)
	assert.Equal(t, models.ChangeRemoved, ev.Kind)
	assert.Equal(t, "c1", ev.ConversationID)
}

func TestInboxSkipsMalformedConversations(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	hub := feed.NewHub(8, nil)
	srv := newServer(t, chat, hub, "alice")

	var bad apperr.ItemErrors
	bad.Append("broken", apperr.ParseFailed("missing members", nil))
	chat.On("ListConversations", mock.Anything, "alice").Return([]models.Conversation{convAB}, bad.ErrOrNil()).Once()

	conn, _, err := dial(t, srv, "/ws/inbox")
	require.NoError(t, err)

	ev := readEvent(t, conn)
	assert.Equal(t, "c1", ev.ConversationID)
}

func TestUpgraderOrigins(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws/inbox", nil)
	req.Header.Set("Origin", "https://evil.example")

	assert.True(t, NewUpgrader(nil).CheckOrigin(req))
	assert.True(t, NewUpgrader([]string{"*"}).CheckOrigin(req))
	assert.False(t, NewUpgrader([]string{"https://app.example"}).CheckOrigin(req))

	req.Header.Set("Origin", "https://app.example")
	assert.True(t, NewUpgrader([]string{"https://app.example"}).CheckOrigin(req))
}
