package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
)

// MessageRepository abstracts the per-conversation message log.
type MessageRepository interface {
	AppendMessage(ctx context.Context, m models.Message) (models.Message, bool, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	ListMessagesAfter(ctx context.Context, conversationID string, afterSeq int64) ([]models.Message, error)
	LastMessage(ctx context.Context, conversationID string) (models.Message, error)
}

// MessageRepo is a sqlx implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AppendMessage assigns the next sequence to m and stores it. The returned message
// carries the stored sequence; created is false when m.ID was already stored.
func (r *MessageRepo) AppendMessage(ctx context.Context, m models.Message) (models.Message, bool, error) {
	var (
		stored  models.Message
		created bool
	)
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		stored, created, err = appendTx(ctx, tx, m)
		return err
	})
	if err != nil {
		return models.Message{}, false, writeErr("append message", err)
	}
	return stored, created, nil
}

// ListMessages returns the whole log in sequence order.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return r.ListMessagesAfter(ctx, conversationID, -1)
}

// ListMessagesAfter returns messages whose sequence is greater than afterSeq.
// An unknown conversation has an empty log.
func (r *MessageRepo) ListMessagesAfter(ctx context.Context, conversationID string, afterSeq int64) ([]models.Message, error) {
	var msgs []models.Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id=$1 AND seq > $2 ORDER BY seq ASC`
	if err := r.db.SelectContext(ctx, &msgs, query, conversationID, afterSeq); err != nil {
		return nil, readErr("list messages", err, apperr.ErrMessageNotFound)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// LastMessage returns the message with the highest sequence.
func (r *MessageRepo) LastMessage(ctx context.Context, conversationID string) (models.Message, error) {
	var m models.Message
	err := r.db.GetContext(ctx, &m, `SELECT `+messageColumns+` FROM messages WHERE conversation_id=$1 ORDER BY seq DESC LIMIT 1`, conversationID)
	if err != nil {
		return models.Message{}, readErr("last message", err, apperr.ErrMessageNotFound)
	}
	return m, nil
}
