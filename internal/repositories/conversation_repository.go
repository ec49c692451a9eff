package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
)

// ConversationRepository abstracts the conversation directory.
type ConversationRepository interface {
	FindConversation(ctx context.Context, userA, userB string) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, userA, userB string, first models.Message) (models.Conversation, models.Message, bool, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// FindConversation returns the conversation of an unordered pair of users.
func (r *ConversationRepo) FindConversation(ctx context.Context, userA, userB string) (models.Conversation, error) {
	lo, hi := models.SortedPair(userA, userB)
	var row conversationRow
	err := r.db.GetContext(ctx, &row, `SELECT `+conversationColumns+` FROM conversations WHERE member_a=$1 AND member_b=$2`, lo, hi)
	if err != nil {
		return models.Conversation{}, readErr("find conversation", err, apperr.ErrConversationNotFound)
	}
	return row.toModel()
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	return getConversation(ctx, r.db, conversationID)
}

func getConversation(ctx context.Context, q sqlx.QueryerContext, conversationID string) (models.Conversation, error) {
	var row conversationRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID); err != nil {
		return models.Conversation{}, readErr("get conversation", err, apperr.ErrConversationNotFound)
	}
	return row.toModel()
}

// ListConversations returns the user's conversations, most recently active first.
// Malformed rows are reported through apperr.ItemErrors next to the valid ones.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
        WHERE member_a=$1 OR member_b=$1
        ORDER BY COALESCE(latest_sent_at, created_at) DESC, id ASC`
	var rows []conversationRow
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, readErr("list conversations", err, apperr.ErrConversationNotFound)
	}

	result := make([]models.Conversation, 0, len(rows))
	var bad apperr.ItemErrors
	for _, row := range rows {
		conv, err := row.toModel()
		if err != nil {
			bad.Append(row.ID, err)
			continue
		}
		result = append(result, conv)
	}
	return result, bad.ErrOrNil()
}

// CreateConversation upserts the pair's conversation and appends the first message
// in one transaction. Calling it again for an existing pair appends to that
// conversation. created reports whether first was new.
func (r *ConversationRepo) CreateConversation(ctx context.Context, userA, userB string, first models.Message) (models.Conversation, models.Message, bool, error) {
	if userA == "" || userB == "" {
		return models.Conversation{}, models.Message{}, false, apperr.ErrInvalidConversationKey
	}
	if userA == userB {
		return models.Conversation{}, models.Message{}, false, apperr.ErrSelfConversation
	}
	lo, hi := models.SortedPair(userA, userB)
	conversationID := models.ConversationKey(lo, hi)

	var (
		conv    models.Conversation
		msg     models.Message
		created bool
	)
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversations (id, member_a, member_b) VALUES ($1, $2, $3)
            ON CONFLICT DO NOTHING`, conversationID, lo, hi); err != nil {
			return err
		}

		first.ConversationID = conversationID
		var err error
		msg, created, err = appendTx(ctx, tx, first)
		if err != nil {
			return err
		}

		conv, err = getConversation(ctx, tx, conversationID)
		return err
	})
	if err != nil {
		return models.Conversation{}, models.Message{}, false, writeErr("create conversation", err)
	}
	return conv, msg, created, nil
}

// DeleteConversation removes the messages and then the conversation atomically.
func (r *ConversationRepo) DeleteConversation(ctx context.Context, conversationID string) error {
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id=$1`, conversationID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, conversationID)
		if err != nil {
			return err
		}
		count, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if count == 0 {
			return apperr.ErrConversationNotFound
		}
		return nil
	})
	return writeErr("delete conversation", err)
}
