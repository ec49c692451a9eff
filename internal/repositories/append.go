package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
)

// appendTx stores m with the next sequence of its conversation and advances the
// conversation summary. The conversation row stays locked until tx ends, which
// serializes concurrent appenders. Re-sending a message id returns the stored copy
// and created=false.
func appendTx(ctx context.Context, tx *sqlx.Tx, m models.Message) (stored models.Message, created bool, err error) {
	var nextSeq int64
	err = tx.GetContext(ctx, &nextSeq, `SELECT next_seq FROM conversations WHERE id=$1 FOR UPDATE`, m.ConversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Message{}, false, apperr.ErrConversationNotFound
		}
		return models.Message{}, false, err
	}

	var existing models.Message
	err = tx.GetContext(ctx, &existing, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, m.ID)
	switch {
	case err == nil:
		if existing.ConversationID != m.ConversationID {
			return models.Message{}, false, apperr.ErrMessageIDConflict
		}
		return existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return models.Message{}, false, err
	}

	m.Sequence = nextSeq
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET next_seq = next_seq + 1 WHERE id=$1`, m.ConversationID); err != nil {
		return models.Message{}, false, err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO messages (id, conversation_id, sender_id, content, sent_at, seq)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.SentAt, m.Sequence)
	if err != nil {
		return models.Message{}, false, err
	}

	if _, err := updateLatest(ctx, tx, m); err != nil {
		return models.Message{}, false, err
	}
	return m, true, nil
}

// updateLatest moves the summary to m unless a higher sequence is already recorded.
func updateLatest(ctx context.Context, exec sqlx.ExecerContext, m models.Message) (bool, error) {
	res, err := exec.ExecContext(ctx, `UPDATE conversations
        SET latest_text=$2, latest_sender=$3, latest_sent_at=$4, latest_seq=$5
        WHERE id=$1 AND (latest_seq IS NULL OR latest_seq <= $5)`,
		m.ConversationID, m.Content, m.SenderID, m.SentAt, m.Sequence)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
