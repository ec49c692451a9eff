package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/apperr"
	"chat-sync/internal/middleware"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
)

var (
	_ ChatService     = (*mocks.ChatServiceMock)(nil)
	_ ProfileResolver = (*mocks.ProfileResolverMock)(nil)
	_ UserStore       = (*mocks.UserRepositoryMock)(nil)
	_ AvatarUploader  = (*mocks.AvatarUploaderMock)(nil)
)

func asUser(id, email string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id != "" {
			c.Set(middleware.UserIDKey, id)
			c.Set(middleware.EmailKey, email)
		}
		c.Next()
	}
}

func setupConversationRouter(userID string, handler *ConversationHandler, messages *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(asUser(userID, userID+"@example.com"))
	r.GET("/conversations", handler.ListConversations)
	r.POST("/conversations", handler.CreateConversation)
	r.GET("/conversations/find", handler.FindConversation)
	r.GET("/conversations/:conversation_id", handler.GetConversation)
	r.DELETE("/conversations/:conversation_id", handler.DeleteConversation)
	r.POST("/conversations/:conversation_id/latest/repair", handler.RepairLatest)
	if messages != nil {
		r.GET("/conversations/:conversation_id/messages", messages.ListMessages)
		r.GET("/conversations/:conversation_id/messages/last", messages.LastMessage)
		r.POST("/conversations/:conversation_id/messages", messages.PostMessage)
		r.POST("/conversations/:conversation_id/calls", messages.StartCall)
	}
	return r
}

func serve(r *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestListConversationsAttachesPeers(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	profiles := new(mocks.ProfileResolverMock)
	router := setupConversationRouter("alice", NewConversationHandler(chat, profiles, nil), nil)

	convs := []models.Conversation{
		{ID: "c1", Members: []string{"alice", "bob"}},
		{ID: "c2", Members: []string{"alice", "carol"}},
	}
	var skipped apperr.ItemErrors
	skipped.Append("c3", apperr.ParseFailed("missing members", nil))
	chat.On("ListConversations", mock.Anything, "alice").Return(convs, skipped.ErrOrNil()).Once()
	profiles.On("ResolveMany", mock.Anything, []string{"bob", "carol"}).
		Return(map[string]models.Profile{"bob": {UserID: "bob", Username: "Bob"}}, nil).Once()

	rec := serve(router, http.MethodGet, "/conversations", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	list := resp["conversations"].([]any)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	assert.Equal(t, "c1", first["id"])
	assert.Equal(t, "Bob", first["peer"].(map[string]any)["username"])
	assert.NotContains(t, list[1].(map[string]any), "peer")
	assert.Equal(t, []any{"c3"}, resp["skipped"])

	chat.AssertExpectations(t)
	profiles.AssertExpectations(t)
}

func TestListConversationsStoreError(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupConversationRouter("alice", NewConversationHandler(chat, new(mocks.ProfileResolverMock), nil), nil)

	chat.On("ListConversations", mock.Anything, "alice").Return(nil, apperr.WriteFailed("list", assert.AnError)).Once()

	rec := serve(router, http.MethodGet, "/conversations", nil)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "list", resp["error"])
	assert.Equal(t, string(apperr.CodeWriteFailed), resp["code"])
}

func TestRequiresCurrentUser(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupConversationRouter("", NewConversationHandler(chat, new(mocks.ProfileResolverMock), nil), nil)

	rec := serve(router, http.MethodGet, "/conversations", nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	chat.AssertNotCalled(t, "ListConversations", mock.Anything, mock.Anything)
}

func TestCreateConversation(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupConversationRouter("alice", NewConversationHandler(chat, new(mocks.ProfileResolverMock), nil), nil)

	conv := models.Conversation{ID: "c1", Members: []string{"alice", "bob"}}
	msg := models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hi", Sequence: 0}
	chat.On("CreateConversation", mock.Anything, "alice", "bob", models.MessageDraft{ID: "m1", Content: "hi"}).
		Return(conv, msg, nil).Once()

	rec := serve(router, http.MethodPost, "/conversations", []byte(`{"peer_id":" bob ","message":{"id":"m1","content":"hi"}}`))

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "c1", resp["conversation"].(map[string]any)["id"])
	assert.EqualValues(t, 0, resp["message"].(map[string]any)["message_number"])
	chat.AssertExpectations(t)
}

func TestCreateConversationRejectsBlankContent(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupConversationRouter("alice", NewConversationHandler(chat, new(mocks.ProfileResolverMock), nil), nil)

	rec := serve(router, http.MethodPost, "/conversations", []byte(`{"peer_id":"bob","message":{"content":"   "}}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperr.CodeInvalidArgument), decode(t, rec)["code"])
	chat.AssertNotCalled(t, "CreateConversation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateConversationWithSelf(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupConversationRouter("alice", NewConversationHandler(chat, new(mocks.ProfileResolverMock), nil), nil)

	chat.On("CreateConversation", mock.Anything, "alice", "alice", mock.Anything).
		Return(nil, nil, apperr.ErrSelfConversation).Once()

	rec := serve(router, http.MethodPost, "/conversations", []byte(`{"peer_id":"alice","message":{"content":"hello me"}}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperr.CodeSelfConversationRejected), decode(t, rec)["code"])
}

func TestFindConversation(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	profiles := new(mocks.ProfileResolverMock)
	router := setupConversationRouter("alice", NewConversationHandler(chat, profiles, nil), nil)

	rec := serve(router, http.MethodGet, "/conversations/find", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	chat.On("FindConversation", mock.Anything, "alice", "dave").Return(nil, apperr.ErrConversationNotFound).Once()
	rec = serve(router, http.MethodGet, "/conversations/find?peer_id=dave", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	conv := models.Conversation{ID: "c1", Members: []string{"alice", "bob"}}
	chat.On("FindConversation", mock.Anything, "alice", "bob").Return(conv, nil).Once()
	profiles.On("ResolveMany", mock.Anything, []string{"bob"}).Return(nil, assert.AnError).Once()
	rec = serve(router, http.MethodGet, "/conversations/find?peer_id=bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1", decode(t, rec)["conversation"].(map[string]any)["id"])

	chat.AssertExpectations(t)
}

func TestGetConversationNotMember(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupConversationRouter("mallory", NewConversationHandler(chat, new(mocks.ProfileResolverMock), nil), nil)

	chat.On("Conversation", mock.Anything, "mallory", "c1").Return(nil, apperr.ErrNotMember).Once()

	rec := serve(router, http.MethodGet, "/conversations/c1", nil)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteConversation(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupConversationRouter("alice", NewConversationHandler(chat, new(mocks.ProfileResolverMock), nil), nil)

	chat.On("DeleteConversation", mock.Anything, "alice", "c1").Return(nil).Once()
	chat.On("DeleteConversation", mock.Anything, "alice", "gone").Return(apperr.ErrConversationNotFound).Once()

	require.Equal(t, http.StatusNoContent, serve(router, http.MethodDelete, "/conversations/c1", nil).Code)
	require.Equal(t, http.StatusNotFound, serve(router, http.MethodDelete, "/conversations/gone", nil).Code)
	chat.AssertExpectations(t)
}

func TestRepairLatest(t *testing.T) {
	chat := new(mocks.ChatServiceMock)
	router := setupConversationRouter("alice", NewConversationHandler(chat, new(mocks.ProfileResolverMock), nil), nil)

	sent := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	conv := models.Conversation{ID: "c1", Members: []string{"alice", "bob"},
		LatestMessage: &models.LatestMessage{Text: "yo", SenderID: "bob", SentAt: sent, Sequence: 1}}
	chat.On("RepairProjection", mock.Anything, "alice", "c1").Return(conv, nil).Once()

	rec := serve(router, http.MethodPost, "/conversations/c1/latest/repair", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode(t, rec)["conversation"].(map[string]any)["latest_message"].(map[string]any)
	assert.Equal(t, "yo", latest["text"])
	assert.EqualValues(t, 1, latest["message_number"])
}
