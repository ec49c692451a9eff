package repositories

import (
	"database/sql"
	"time"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
)

const conversationColumns = `id, member_a, member_b, next_seq, latest_text, latest_sender, latest_sent_at, latest_seq, created_at`

const messageColumns = `id, conversation_id, sender_id, content, sent_at, seq`

const userColumns = `id, email, username, profile_image_url, created_at`

// conversationRow is the relational shape of a conversation.
type conversationRow struct {
	ID           string         `db:"id"`
	MemberA      string         `db:"member_a"`
	MemberB      string         `db:"member_b"`
	NextSeq      int64          `db:"next_seq"`
	LatestText   sql.NullString `db:"latest_text"`
	LatestSender sql.NullString `db:"latest_sender"`
	LatestSentAt sql.NullTime   `db:"latest_sent_at"`
	LatestSeq    sql.NullInt64  `db:"latest_seq"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r conversationRow) toModel() (models.Conversation, error) {
	if r.MemberA == "" || r.MemberB == "" || r.MemberA == r.MemberB {
		return models.Conversation{}, apperr.ParseFailed("conversation "+r.ID+" has invalid members", nil)
	}
	conv := models.Conversation{
		ID:        r.ID,
		Members:   []string{r.MemberA, r.MemberB},
		CreatedAt: r.CreatedAt,
	}

	set := 0
	for _, valid := range []bool{r.LatestText.Valid, r.LatestSender.Valid, r.LatestSentAt.Valid, r.LatestSeq.Valid} {
		if valid {
			set++
		}
	}
	switch set {
	case 0:
	case 4:
		conv.LatestMessage = &models.LatestMessage{
			SentAt:   r.LatestSentAt.Time,
			Text:     r.LatestText.String,
			SenderID: r.LatestSender.String,
			Sequence: r.LatestSeq.Int64,
		}
	default:
		return models.Conversation{}, apperr.ParseFailed("conversation "+r.ID+" has a partial latest message", nil)
	}
	return conv, nil
}
