package docstore

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
)

// FindConversation reads the pair's conversation by its derived key.
func (s *Store) FindConversation(ctx context.Context, userA, userB string) (models.Conversation, error) {
	if userA == userB {
		return models.Conversation{}, apperr.ErrConversationNotFound
	}
	conv, err := s.GetConversation(ctx, models.ConversationKey(userA, userB))
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.HasMember(userA) || !conv.HasMember(userB) {
		return models.Conversation{}, apperr.ErrConversationNotFound
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	snap, err := s.conversations().Doc(conversationID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return models.Conversation{}, apperr.ErrConversationNotFound
		}
		return models.Conversation{}, errors.Wrap(err, "get conversation")
	}
	var doc conversationDoc
	if err := snap.DataTo(&doc); err != nil {
		return models.Conversation{}, apperr.ParseFailed("decode conversation "+conversationID, err)
	}
	return doc.toModel(conversationID)
}

// ListConversations queries by membership and sorts by latest activity.
// Documents that fail to decode are returned as apperr.ItemErrors.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	snaps, err := s.conversations().Where("members", "array-contains", userID).Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}

	result := make([]models.Conversation, 0, len(snaps))
	var bad apperr.ItemErrors
	for _, snap := range snaps {
		var doc conversationDoc
		if err := snap.DataTo(&doc); err != nil {
			bad.Append(snap.Ref.ID, apperr.ParseFailed("decode conversation", err))
			continue
		}
		conv, err := doc.toModel(snap.Ref.ID)
		if err != nil {
			bad.Append(snap.Ref.ID, err)
			continue
		}
		result = append(result, conv)
	}

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i].LatestAt(), result[j].LatestAt()
		if !a.Equal(b) {
			return a.After(b)
		}
		return result[i].ID < result[j].ID
	})
	return result, bad.ErrOrNil()
}

// CreateConversation creates the pair's conversation if needed and appends the
// first message in the same transaction.
func (s *Store) CreateConversation(ctx context.Context, userA, userB string, first models.Message) (models.Conversation, models.Message, bool, error) {
	if userA == "" || userB == "" {
		return models.Conversation{}, models.Message{}, false, apperr.ErrInvalidConversationKey
	}
	if userA == userB {
		return models.Conversation{}, models.Message{}, false, apperr.ErrSelfConversation
	}
	lo, hi := models.SortedPair(userA, userB)
	ref := s.conversations().Doc(models.ConversationKey(lo, hi))

	var (
		conv models.Conversation
		res  appendResult
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := loadConversation(tx, ref)
		if errors.Is(err, apperr.ErrConversationNotFound) {
			doc = conversationDoc{Members: []string{lo, hi}, CreatedAt: time.Now().UTC()}
		} else if err != nil {
			return err
		}

		res, err = appendInTx(tx, ref, doc, first)
		if err != nil {
			return err
		}
		conv, err = res.doc.toModel(ref.ID)
		return err
	})
	if err != nil {
		return models.Conversation{}, models.Message{}, false, writeErr("create conversation", err)
	}
	return conv, res.msg, res.created, nil
}

// deleteRounds bounds how often DeleteConversation chases messages appended
// while it was clearing the log.
const deleteRounds = 5

// DeleteConversation clears the message log in passes of at most deleteChunk
// writes, then deletes the conversation in a transaction that checks the log is
// still empty. A failure part way leaves the conversation in place, so the call
// can be retried.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	ref := s.conversations().Doc(conversationID)
	if _, err := ref.Get(ctx); err != nil {
		if isNotFound(err) {
			return apperr.ErrConversationNotFound
		}
		return writeErr("delete conversation", err)
	}

	for round := 0; round < deleteRounds; round++ {
		if err := s.deleteMessages(ctx, ref); err != nil {
			return writeErr("delete messages", err)
		}

		deleted := false
		err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			if _, err := loadConversation(tx, ref); err != nil {
				return err
			}
			left, err := tx.Documents(ref.Collection(messagesCollection).Limit(1)).GetAll()
			if err != nil {
				return err
			}
			if len(left) > 0 {
				deleted = false
				return nil
			}
			deleted = true
			return tx.Delete(ref)
		})
		if err != nil {
			return writeErr("delete conversation", err)
		}
		if deleted {
			return nil
		}
	}
	return apperr.WriteFailed("delete conversation", errors.New("messages still being appended"))
}

// deleteMessages removes every message under ref, deleteChunk documents at a time.
func (s *Store) deleteMessages(ctx context.Context, ref *firestore.DocumentRef) error {
	for {
		snaps, err := ref.Collection(messagesCollection).Limit(s.deleteChunk).Documents(ctx).GetAll()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return nil
		}

		bw := s.client.BulkWriter(ctx)
		jobs := make([]*firestore.BulkWriterJob, 0, len(snaps))
		for _, snap := range snaps {
			job, err := bw.Delete(snap.Ref)
			if err != nil {
				bw.End()
				return err
			}
			jobs = append(jobs, job)
		}
		bw.End()
		for _, job := range jobs {
			if _, err := job.Results(); err != nil {
				return err
			}
		}
	}
}
