package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
)

// ProjectionRepository maintains the latest-message summary of conversations.
type ProjectionRepository interface {
	UpdateLatest(ctx context.Context, conversationID string, m models.Message) (bool, error)
	RepairLatest(ctx context.Context, conversationID string) (models.Conversation, error)
}

// ProjectionRepo is a sqlx implementation of ProjectionRepository.
type ProjectionRepo struct {
	db *sqlx.DB
}

// NewProjectionRepo constructs a ProjectionRepo.
func NewProjectionRepo(db *sqlx.DB) *ProjectionRepo {
	return &ProjectionRepo{db: db}
}

// UpdateLatest points the summary at m. It reports false when the stored summary
// already reflects a higher sequence.
func (r *ProjectionRepo) UpdateLatest(ctx context.Context, conversationID string, m models.Message) (bool, error) {
	m.ConversationID = conversationID
	applied, err := updateLatest(ctx, r.db, m)
	if err != nil {
		return false, writeErr("update latest message", err)
	}
	if !applied {
		if err := r.ensureExists(ctx, conversationID); err != nil {
			return false, err
		}
	}
	return applied, nil
}

func (r *ProjectionRepo) ensureExists(ctx context.Context, conversationID string) error {
	var id string
	err := r.db.GetContext(ctx, &id, `SELECT id FROM conversations WHERE id=$1`, conversationID)
	if err != nil {
		return readErr("check conversation", err, apperr.ErrConversationNotFound)
	}
	return nil
}

// RepairLatest recomputes the summary from the highest-sequence message in the log.
// A conversation with an empty log ends up with no summary.
func (r *ProjectionRepo) RepairLatest(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var id string
		if err := tx.GetContext(ctx, &id, `SELECT id FROM conversations WHERE id=$1 FOR UPDATE`, conversationID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.ErrConversationNotFound
			}
			return err
		}

		var last models.Message
		err := tx.GetContext(ctx, &last, `SELECT `+messageColumns+` FROM messages WHERE conversation_id=$1 ORDER BY seq DESC LIMIT 1`, conversationID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, `UPDATE conversations
                SET latest_text=NULL, latest_sender=NULL, latest_sent_at=NULL, latest_seq=NULL
                WHERE id=$1`, conversationID)
		case err == nil:
			_, err = tx.ExecContext(ctx, `UPDATE conversations
                SET latest_text=$2, latest_sender=$3, latest_sent_at=$4, latest_seq=$5
                WHERE id=$1`, conversationID, last.Content, last.SenderID, last.SentAt, last.Sequence)
		}
		if err != nil {
			return err
		}

		conv, err = getConversation(ctx, tx, conversationID)
		return err
	})
	if err != nil {
		return models.Conversation{}, writeErr("repair latest message", err)
	}
	return conv, nil
}
