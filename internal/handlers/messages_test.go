package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/apperr"
	"chat-sync/internal/chat"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
)

func newMessageRouter(t *testing.T, userID string) (*mocks.ChatServiceMock, *MessageHandler, func(method, path string, body []byte) map[string]any) {
	t.Helper()
	svc := new(mocks.ChatServiceMock)
	messages := NewMessageHandler(svc, nil)
	router := setupConversationRouter(userID, NewConversationHandler(svc, new(mocks.ProfileResolverMock), nil), messages)
	call := func(method, path string, body []byte) map[string]any {
		rec := serve(router, method, path, body)
		out := decode(t, rec)
		out["status"] = rec.Code
		return out
	}
	return svc, messages, call
}

func TestListMessagesWholeLog(t *testing.T) {
	svc, _, call := newMessageRouter(t, "alice")
	svc.On("FetchAll", mock.Anything, "alice", "c1").Return([]models.Message{
		{ID: "m1", Content: "hi", Sequence: 0},
		{ID: "m2", Content: "yo", Sequence: 1},
	}, nil).Once()

	resp := call(http.MethodGet, "/conversations/c1/messages", nil)

	require.Equal(t, http.StatusOK, resp["status"])
	assert.Len(t, resp["messages"], 2)
	svc.AssertExpectations(t)
}

func TestListMessagesAfterCursor(t *testing.T) {
	svc, _, call := newMessageRouter(t, "alice")
	svc.On("FetchSince", mock.Anything, "alice", "c1", int64(4)).Return([]models.Message{{ID: "m6", Sequence: 5}}, nil).Once()

	resp := call(http.MethodGet, "/conversations/c1/messages?after_seq=4", nil)

	require.Equal(t, http.StatusOK, resp["status"])
	assert.Len(t, resp["messages"], 1)
	svc.AssertNotCalled(t, "FetchAll", mock.Anything, mock.Anything, mock.Anything)
}

func TestListMessagesKeepsReadableMessages(t *testing.T) {
	svc, _, call := newMessageRouter(t, "alice")
	var bad apperr.ItemErrors
	bad.Append("m2", apperr.ParseFailed("message m2 is missing sender or date", nil))
	svc.On("FetchAll", mock.Anything, "alice", "c1").Return([]models.Message{
		{ID: "m1", Content: "hi", Sequence: 0},
		{ID: "m3", Content: "yo", Sequence: 2},
	}, bad.ErrOrNil()).Once()

	resp := call(http.MethodGet, "/conversations/c1/messages", nil)

	require.Equal(t, http.StatusOK, resp["status"])
	assert.Len(t, resp["messages"], 2)
	assert.Equal(t, []any{"m2"}, resp["skipped"])
}

func TestListMessagesStoreFailure(t *testing.T) {
	svc, _, call := newMessageRouter(t, "alice")
	svc.On("FetchSince", mock.Anything, "alice", "c1", int64(-1)).Return(nil, apperr.ErrConversationNotFound).Once()

	resp := call(http.MethodGet, "/conversations/c1/messages?after_seq=-1", nil)

	assert.Equal(t, http.StatusNotFound, resp["status"])
}

func TestListMessagesBadCursor(t *testing.T) {
	svc, _, call := newMessageRouter(t, "alice")

	for _, cursor := range []string{"abc", "-7"} {
		resp := call(http.MethodGet, "/conversations/c1/messages?after_seq="+cursor, nil)
		assert.Equal(t, http.StatusBadRequest, resp["status"], cursor)
	}
	svc.AssertNotCalled(t, "FetchSince", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLastMessageOfEmptyLog(t *testing.T) {
	svc, _, call := newMessageRouter(t, "alice")
	svc.On("FetchLast", mock.Anything, "alice", "c1").Return(nil, apperr.ErrMessageNotFound).Once()

	resp := call(http.MethodGet, "/conversations/c1/messages/last", nil)

	assert.Equal(t, http.StatusNotFound, resp["status"])
	assert.Equal(t, "message not found", resp["error"])
}

func TestPostMessage(t *testing.T) {
	svc, _, call := newMessageRouter(t, "bob")
	stored := models.Message{ID: "m2", ConversationID: "c1", SenderID: "bob", Content: "yo", Sequence: 1}
	svc.On("Append", mock.Anything, "bob", "c1", models.MessageDraft{ID: "m2", Content: "yo"}).Return(stored, nil).Once()

	resp := call(http.MethodPost, "/conversations/c1/messages", []byte(`{"id":"  m2 ","content":"yo"}`))

	require.Equal(t, http.StatusCreated, resp["status"])
	msg := resp["message"].(map[string]any)
	assert.Equal(t, "bob", msg["sender"])
	assert.EqualValues(t, 1, msg["message_number"])
	svc.AssertExpectations(t)
}

func TestPostMessageValidation(t *testing.T) {
	svc, _, call := newMessageRouter(t, "bob")

	for _, body := range []string{`{"content":""}`, `{"content":"\n\t "}`, `not json`} {
		resp := call(http.MethodPost, "/conversations/c1/messages", []byte(body))
		assert.Equal(t, http.StatusBadRequest, resp["status"], body)
	}
	svc.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostMessageNonMember(t *testing.T) {
	svc, _, call := newMessageRouter(t, "mallory")
	svc.On("Append", mock.Anything, "mallory", "c1", mock.Anything).Return(nil, apperr.ErrNotMember).Once()

	resp := call(http.MethodPost, "/conversations/c1/messages", []byte(`{"content":"let me in"}`))

	assert.Equal(t, http.StatusForbidden, resp["status"])
	assert.Equal(t, string(apperr.CodePermissionDenied), resp["code"])
}

func TestStartCall(t *testing.T) {
	svc, _, call := newMessageRouter(t, "alice")
	msgs := []models.Message{
		{ID: "n1", Content: chat.CallNotice, Sequence: 3},
		{ID: "n2", Content: "call-42", Sequence: 4},
	}
	svc.On("StartCall", mock.Anything, "alice", "c1").Return("call-42", msgs, nil).Once()

	resp := call(http.MethodPost, "/conversations/c1/calls", nil)

	require.Equal(t, http.StatusCreated, resp["status"])
	assert.Equal(t, "call-42", resp["call_id"])
	assert.Len(t, resp["messages"], 2)
}
