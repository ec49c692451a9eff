// Package handlers exposes the chat service, the profile directory and avatar
// uploads over REST.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/leebenson/conform"

	"chat-sync/internal/apperr"
	"chat-sync/internal/middleware"
	"chat-sync/internal/models"
)

// ChatService is the part of chat.Service the handlers call.
type ChatService interface {
	FindConversation(ctx context.Context, requester, peer string) (models.Conversation, error)
	CreateConversation(ctx context.Context, requester, peer string, draft models.MessageDraft) (models.Conversation, models.Message, error)
	Conversation(ctx context.Context, requester, conversationID string) (models.Conversation, error)
	ListConversations(ctx context.Context, requester string) ([]models.Conversation, error)
	DeleteConversation(ctx context.Context, requester, conversationID string) error
	Append(ctx context.Context, sender, conversationID string, draft models.MessageDraft) (models.Message, error)
	FetchAll(ctx context.Context, requester, conversationID string) ([]models.Message, error)
	FetchSince(ctx context.Context, requester, conversationID string, afterSeq int64) ([]models.Message, error)
	FetchLast(ctx context.Context, requester, conversationID string) (models.Message, error)
	RepairProjection(ctx context.Context, requester, conversationID string) (models.Conversation, error)
	StartCall(ctx context.Context, requester, conversationID string) (string, []models.Message, error)
}

// ProfileResolver turns ids and emails into profiles.
type ProfileResolver interface {
	Resolve(ctx context.Context, email string) (models.Profile, error)
	ResolveByID(ctx context.Context, id string) (models.Profile, error)
	ResolveMany(ctx context.Context, ids []string) (map[string]models.Profile, error)
	ResolveAll(ctx context.Context) ([]models.Profile, error)
	Invalidate(ctx context.Context, users ...models.User)
}

// UserStore is the writable side of the user directory.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (models.User, error)
	UpsertUser(ctx context.Context, u models.User) (models.User, error)
	UpdateProfileImage(ctx context.Context, id, url string) error
}

// AvatarUploader stores a profile image and returns its public URL.
type AvatarUploader interface {
	Upload(ctx context.Context, userID string, r io.Reader) (string, error)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// bindJSON decodes the body into req, trims its string fields and validates it.
func bindJSON(c *gin.Context, req any) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return apperr.InvalidArg("malformed request body")
	}
	if err := conform.Strings(req); err != nil {
		return apperr.InvalidArg("malformed request body")
	}
	if err := validate.Struct(req); err != nil {
		return validationErr(err)
	}
	return nil
}

func validationErr(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.InvalidArg("invalid request")
	}
	first := fieldErrs[0]
	return apperr.InvalidArg(fmt.Sprintf("%s failed on %s", strings.ToLower(first.Field()), first.Tag()))
}

// respondError writes err as {"error", "code"} with the status its code maps to.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err), "code": apperr.CodeOf(err)})
}

func currentUser(c *gin.Context) (string, bool) {
	id := c.GetString(middleware.UserIDKey)
	if id == "" {
		respondError(c, apperr.ErrNoCurrentUser)
		return "", false
	}
	return id, true
}
