// Package docstore keeps users, conversations and message logs in Cloud Firestore.
//
// Layout:
//
//	users/{userID}
//	conversations/{conversationID}
//	conversations/{conversationID}/messages/{messageID}
package docstore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

const (
	usersCollection         = "users"
	conversationsCollection = "conversations"
	messagesCollection      = "messages"

	// maxWritesPerPass matches Firestore's per-commit write limit.
	maxWritesPerPass = 500
)

var (
	_ repositories.UserRepository         = (*Store)(nil)
	_ repositories.ConversationRepository = (*Store)(nil)
	_ repositories.MessageRepository      = (*Store)(nil)
	_ repositories.ProjectionRepository   = (*Store)(nil)
)

// Store implements the repository interfaces on top of a Firestore client.
type Store struct {
	client      *firestore.Client
	deleteChunk int
}

// New opens a Firestore client. credentialsFile may be empty to use
// application default credentials.
func New(ctx context.Context, projectID, credentialsFile string) (*Store, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create firestore client")
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *firestore.Client) *Store {
	return &Store{client: client, deleteChunk: maxWritesPerPass}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Ping reads at most one user document to prove the client can reach Firestore.
func (s *Store) Ping(ctx context.Context) error {
	iter := s.users().Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return errors.Wrap(err, "ping firestore")
	}
	return nil
}

func (s *Store) users() *firestore.CollectionRef {
	return s.client.Collection(usersCollection)
}

func (s *Store) conversations() *firestore.CollectionRef {
	return s.client.Collection(conversationsCollection)
}

func (s *Store) messages(conversationID string) *firestore.CollectionRef {
	return s.conversations().Doc(conversationID).Collection(messagesCollection)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// loadConversation reads and decodes a conversation inside tx.
func loadConversation(tx *firestore.Transaction, ref *firestore.DocumentRef) (conversationDoc, error) {
	var doc conversationDoc
	snap, err := tx.Get(ref)
	if err != nil {
		if isNotFound(err) {
			return doc, apperr.ErrConversationNotFound
		}
		return doc, err
	}
	if err := snap.DataTo(&doc); err != nil {
		return doc, apperr.ParseFailed("decode conversation "+ref.ID, err)
	}
	return doc, nil
}

// appendResult is what appendInTx stored. created is false when the message id
// was already in the log.
type appendResult struct {
	msg     models.Message
	doc     conversationDoc
	created bool
}

// appendInTx stores m with the conversation's next sequence and writes back the
// conversation document. Every read happens before the first write, as Firestore
// transactions require.
func appendInTx(tx *firestore.Transaction, ref *firestore.DocumentRef, doc conversationDoc, m models.Message) (appendResult, error) {
	msgRef := ref.Collection(messagesCollection).Doc(m.ID)
	snap, err := tx.Get(msgRef)
	switch {
	case err == nil:
		existing, err := decodeMessage(snap, ref.ID)
		return appendResult{msg: existing, doc: doc}, err
	case !isNotFound(err):
		return appendResult{}, err
	}

	m.ConversationID = ref.ID
	m.Sequence = doc.NextSeq
	doc.NextSeq++
	doc.advance(m)

	if err := tx.Create(msgRef, messageFrom(m)); err != nil {
		return appendResult{}, err
	}
	if err := tx.Set(ref, doc); err != nil {
		return appendResult{}, err
	}
	return appendResult{msg: m, doc: doc, created: true}, nil
}

func writeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.CodeOf(err) != apperr.CodeUnknown {
		return err
	}
	return apperr.WriteFailed(op, err)
}
