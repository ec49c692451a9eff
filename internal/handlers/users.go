package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-sync/internal/apperr"
	"chat-sync/internal/middleware"
	"chat-sync/internal/models"
	"chat-sync/internal/storage"
)

// UserHandler manages the profile directory endpoints.
type UserHandler struct {
	users    UserStore
	profiles ProfileResolver
	avatars  AvatarUploader
	log      *zap.Logger
}

// NewUserHandler builds a UserHandler. avatars may be nil when object storage is
// not configured.
func NewUserHandler(users UserStore, profiles ProfileResolver, avatars AvatarUploader, log *zap.Logger) *UserHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserHandler{users: users, profiles: profiles, avatars: avatars, log: log}
}

type updateProfileRequest struct {
	Username string `json:"username" conform:"trim" validate:"required,nonblank,max=64"`
}

// ListUsers returns every profile in the directory.
func (h *UserHandler) ListUsers(c *gin.Context) {
	profiles, err := h.profiles.ResolveAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": profiles})
}

// LookupUser resolves ?email= into a profile.
func (h *UserHandler) LookupUser(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		respondError(c, apperr.InvalidArg("email is required"))
		return
	}
	profile, err := h.profiles.Resolve(c.Request.Context(), email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

// Me returns the caller's profile.
func (h *UserHandler) Me(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	profile, err := h.profiles.ResolveByID(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

// UpdateMe creates or updates the caller's directory entry. The email always
// comes from the token.
func (h *UserHandler) UpdateMe(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	email := c.GetString(middleware.EmailKey)
	if email == "" {
		respondError(c, apperr.InvalidArg("token carries no email"))
		return
	}
	var req updateProfileRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()

	prev, err := h.users.GetUserByID(ctx, userID)
	if err != nil && !errors.Is(err, apperr.ErrUserNotFound) {
		respondError(c, err)
		return
	}

	saved, err := h.users.UpsertUser(ctx, models.User{ID: userID, Email: email, Username: req.Username})
	if err != nil {
		respondError(c, err)
		return
	}
	h.profiles.Invalidate(ctx, prev, saved)
	c.JSON(http.StatusOK, gin.H{"user": saved.Profile()})
}

// UploadAvatar stores the multipart "avatar" file and points the caller's
// profile at it.
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if h.avatars == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "avatar storage not configured"})
		return
	}

	header, err := c.FormFile("avatar")
	if err != nil {
		respondError(c, apperr.InvalidArg("avatar file is required"))
		return
	}
	if header.Size > storage.MaxAvatarSize {
		respondError(c, storage.ErrAvatarTooLarge)
		return
	}
	file, err := header.Open()
	if err != nil {
		respondError(c, apperr.InvalidArg("unreadable avatar file"))
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	url, err := h.avatars.Upload(ctx, userID, file)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.users.UpdateProfileImage(ctx, userID, url); err != nil {
		respondError(c, err)
		return
	}

	user, err := h.users.GetUserByID(ctx, userID)
	if err != nil {
		h.log.Warn("reload after avatar upload failed", zap.String("user_id", userID), zap.Error(err))
		user = models.User{ID: userID}
	}
	h.profiles.Invalidate(ctx, user)
	c.JSON(http.StatusOK, gin.H{"profile_image_url": url})
}
