package docstore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
)

// AppendMessage allocates the next sequence inside a transaction on the
// conversation document. created is false for an id that is already stored.
func (s *Store) AppendMessage(ctx context.Context, m models.Message) (models.Message, bool, error) {
	ref := s.conversations().Doc(m.ConversationID)
	var res appendResult
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := loadConversation(tx, ref)
		if err != nil {
			return err
		}
		res, err = appendInTx(tx, ref, doc, m)
		return err
	})
	if err != nil {
		return models.Message{}, false, writeErr("append message", err)
	}
	return res.msg, res.created, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return s.ListMessagesAfter(ctx, conversationID, -1)
}

// ListMessagesAfter returns messages with a sequence greater than afterSeq in
// sequence order. Undecodable documents are reported as apperr.ItemErrors.
func (s *Store) ListMessagesAfter(ctx context.Context, conversationID string, afterSeq int64) ([]models.Message, error) {
	iter := s.messages(conversationID).
		Where("messageNumber", ">", afterSeq).
		OrderBy("messageNumber", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	msgs := []models.Message{}
	var bad apperr.ItemErrors
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "list messages")
		}
		m, err := decodeMessage(snap, conversationID)
		if err != nil {
			bad.Append(snap.Ref.ID, err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, bad.ErrOrNil()
}

// LastMessage returns the highest-sequence message.
func (s *Store) LastMessage(ctx context.Context, conversationID string) (models.Message, error) {
	snaps, err := s.messages(conversationID).
		OrderBy("messageNumber", firestore.Desc).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return models.Message{}, errors.Wrap(err, "last message")
	}
	if len(snaps) == 0 {
		return models.Message{}, apperr.ErrMessageNotFound
	}
	return decodeMessage(snaps[0], conversationID)
}

// UpdateLatest compares sequences inside a transaction so an older message never
// replaces a newer summary.
func (s *Store) UpdateLatest(ctx context.Context, conversationID string, m models.Message) (bool, error) {
	ref := s.conversations().Doc(conversationID)
	var applied bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := loadConversation(tx, ref)
		if err != nil {
			return err
		}
		applied = doc.advance(m)
		if !applied {
			return nil
		}
		return tx.Update(ref, []firestore.Update{{Path: "latestMessage", Value: doc.LatestMessage}})
	})
	if err != nil {
		return false, writeErr("update latest message", err)
	}
	return applied, nil
}

// RepairLatest rebuilds the summary from the highest-sequence message.
func (s *Store) RepairLatest(ctx context.Context, conversationID string) (models.Conversation, error) {
	ref := s.conversations().Doc(conversationID)
	var conv models.Conversation
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := loadConversation(tx, ref)
		if err != nil {
			return err
		}
		snaps, err := tx.Documents(ref.Collection(messagesCollection).OrderBy("messageNumber", firestore.Desc).Limit(1)).GetAll()
		if err != nil {
			return err
		}

		doc.LatestMessage = nil
		if len(snaps) > 0 {
			last, err := decodeMessage(snaps[0], conversationID)
			if err != nil {
				return err
			}
			doc.LatestMessage = latestFrom(last)
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		conv, err = doc.toModel(conversationID)
		return err
	})
	if err != nil {
		return models.Conversation{}, writeErr("repair latest message", err)
	}
	return conv, nil
}

func decodeMessage(snap *firestore.DocumentSnapshot, conversationID string) (models.Message, error) {
	var doc messageDoc
	if err := snap.DataTo(&doc); err != nil {
		return models.Message{}, apperr.ParseFailed("decode message "+snap.Ref.ID, err)
	}
	return doc.toModel(snap.Ref.ID, conversationID)
}
