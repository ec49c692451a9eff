package docstore

import (
	"time"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
)

type userDoc struct {
	Email           string    `firestore:"email"`
	Username        string    `firestore:"username"`
	ProfileImageURL string    `firestore:"profileImageUrl"`
	CreatedAt       time.Time `firestore:"createdAt"`
}

type latestDoc struct {
	Date          time.Time `firestore:"date"`
	Text          string    `firestore:"text"`
	Sender        string    `firestore:"sender"`
	MessageNumber int64     `firestore:"messageNumber"`
}

type conversationDoc struct {
	Members       []string   `firestore:"members"`
	NextSeq       int64      `firestore:"nextSeq"`
	LatestMessage *latestDoc `firestore:"latestMessage"`
	CreatedAt     time.Time  `firestore:"createdAt"`
}

type messageDoc struct {
	Sender        string    `firestore:"sender"`
	Content       string    `firestore:"content"`
	SentDate      time.Time `firestore:"sentDate"`
	MessageNumber int64     `firestore:"messageNumber"`
}

func (d userDoc) toModel(id string) models.User {
	return models.User{
		ID:              id,
		Email:           d.Email,
		Username:        d.Username,
		ProfileImageURL: d.ProfileImageURL,
		CreatedAt:       d.CreatedAt,
	}
}

func (d conversationDoc) toModel(id string) (models.Conversation, error) {
	if len(d.Members) != 2 || d.Members[0] == "" || d.Members[1] == "" || d.Members[0] == d.Members[1] {
		return models.Conversation{}, apperr.ParseFailed("conversation "+id+" has invalid members", nil)
	}
	conv := models.Conversation{
		ID:        id,
		Members:   append([]string(nil), d.Members...),
		CreatedAt: d.CreatedAt,
	}
	if d.LatestMessage != nil {
		conv.LatestMessage = &models.LatestMessage{
			SentAt:   d.LatestMessage.Date,
			Text:     d.LatestMessage.Text,
			SenderID: d.LatestMessage.Sender,
			Sequence: d.LatestMessage.MessageNumber,
		}
	}
	return conv, nil
}

// advance applies m to the summary unless a higher sequence is already recorded.
func (d *conversationDoc) advance(m models.Message) bool {
	if d.LatestMessage != nil && d.LatestMessage.MessageNumber > m.Sequence {
		return false
	}
	d.LatestMessage = latestFrom(m)
	return true
}

func latestFrom(m models.Message) *latestDoc {
	return &latestDoc{
		Date:          m.SentAt,
		Text:          m.Content,
		Sender:        m.SenderID,
		MessageNumber: m.Sequence,
	}
}

func messageFrom(m models.Message) messageDoc {
	return messageDoc{
		Sender:        m.SenderID,
		Content:       m.Content,
		SentDate:      m.SentAt,
		MessageNumber: m.Sequence,
	}
}

func (d messageDoc) toModel(id, conversationID string) (models.Message, error) {
	if d.Sender == "" || d.SentDate.IsZero() {
		return models.Message{}, apperr.ParseFailed("message "+id+" is missing sender or date", nil)
	}
	return models.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       d.Sender,
		Content:        d.Content,
		SentAt:         d.SentDate,
		Sequence:       d.MessageNumber,
	}, nil
}
