package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
)

// ConversationHandler manages the conversation directory endpoints.
type ConversationHandler struct {
	chat     ChatService
	profiles ProfileResolver
	log      *zap.Logger
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(chat ChatService, profiles ProfileResolver, log *zap.Logger) *ConversationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConversationHandler{chat: chat, profiles: profiles, log: log}
}

type messageRequest struct {
	ID      string    `json:"id" conform:"trim" validate:"max=128"`
	Content string    `json:"content" validate:"required,nonblank,max=4096"`
	SentAt  time.Time `json:"sent_at"`
}

func (r messageRequest) draft() models.MessageDraft {
	return models.MessageDraft{ID: r.ID, Content: r.Content, SentAt: r.SentAt}
}

type createConversationRequest struct {
	PeerID  string         `json:"peer_id" conform:"trim" validate:"required"`
	Message messageRequest `json:"message"`
}

type conversationResponse struct {
	models.Conversation
	Peer *models.Profile `json:"peer,omitempty"`
}

// ListConversations returns the caller's conversations with the peer's profile
// attached. Entries that could not be decoded are listed under "skipped".
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	convs, err := h.chat.ListConversations(ctx, userID)
	skipped := []string{}
	if err != nil {
		items, partial := apperr.AsItemErrors(err)
		if !partial {
			respondError(c, err)
			return
		}
		for _, item := range items {
			h.log.Warn("skipping malformed conversation", zap.String("conversation_id", item.ID), zap.Error(item.Err))
			skipped = append(skipped, item.ID)
		}
	}

	peers := make([]string, 0, len(convs))
	for _, conv := range convs {
		peers = append(peers, conv.Peer(userID))
	}
	profiles, err := h.profiles.ResolveMany(ctx, peers)
	if err != nil {
		h.log.Warn("peer profiles unavailable", zap.Error(err))
		profiles = nil
	}

	resp := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		resp = append(resp, h.withPeer(conv, userID, profiles))
	}
	c.JSON(http.StatusOK, gin.H{"conversations": resp, "skipped": skipped})
}

// CreateConversation opens a conversation with a peer and sends its first message.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req createConversationRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}

	conv, msg, err := h.chat.CreateConversation(c.Request.Context(), userID, req.PeerID, req.Message.draft())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv, "message": msg})
}

// FindConversation looks up the conversation with ?peer_id=.
func (h *ConversationHandler) FindConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	peer := c.Query("peer_id")
	if peer == "" {
		respondError(c, apperr.InvalidArg("peer_id is required"))
		return
	}

	conv, err := h.chat.FindConversation(c.Request.Context(), userID, peer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": h.withPeer(conv, userID, h.peerProfile(c, conv, userID))})
}

// GetConversation returns one conversation of the caller.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conv, err := h.chat.Conversation(c.Request.Context(), userID, c.Param("conversation_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": h.withPeer(conv, userID, h.peerProfile(c, conv, userID))})
}

// DeleteConversation removes the conversation and all of its messages.
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.chat.DeleteConversation(c.Request.Context(), userID, c.Param("conversation_id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RepairLatest recomputes the latest-message summary from the log.
func (h *ConversationHandler) RepairLatest(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conv, err := h.chat.RepairProjection(c.Request.Context(), userID, c.Param("conversation_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *ConversationHandler) peerProfile(c *gin.Context, conv models.Conversation, userID string) map[string]models.Profile {
	profiles, err := h.profiles.ResolveMany(c.Request.Context(), []string{conv.Peer(userID)})
	if err != nil {
		h.log.Warn("peer profile unavailable", zap.String("conversation_id", conv.ID), zap.Error(err))
		return nil
	}
	return profiles
}

// withPeer attaches the peer's profile. Unknown peers are left without one.
func (h *ConversationHandler) withPeer(conv models.Conversation, userID string, profiles map[string]models.Profile) conversationResponse {
	resp := conversationResponse{Conversation: conv}
	if p, ok := profiles[conv.Peer(userID)]; ok {
		resp.Peer = &p
	}
	return resp
}
