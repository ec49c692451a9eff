package docstore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

// UpsertUser writes the user document, keeping its avatar and creation time.
// The email must not belong to another user.
func (s *Store) UpsertUser(ctx context.Context, u models.User) (models.User, error) {
	ref := s.users().Doc(u.ID)
	var stored models.User
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		owners, err := tx.Documents(s.users().Where("email", "==", u.Email).Limit(2)).GetAll()
		if err != nil {
			return err
		}
		for _, owner := range owners {
			if owner.Ref.ID != u.ID {
				return repositories.ErrEmailTaken
			}
		}

		doc := userDoc{Email: u.Email, Username: u.Username, ProfileImageURL: u.ProfileImageURL, CreatedAt: time.Now().UTC()}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var existing userDoc
			if err := snap.DataTo(&existing); err == nil {
				doc.CreatedAt = existing.CreatedAt
				if doc.ProfileImageURL == "" {
					doc.ProfileImageURL = existing.ProfileImageURL
				}
			}
		case !isNotFound(err):
			return err
		}

		stored = doc.toModel(u.ID)
		return tx.Set(ref, doc)
	})
	if err != nil {
		return models.User{}, writeErr("upsert user", err)
	}
	return stored, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (models.User, error) {
	snap, err := s.users().Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return models.User{}, apperr.ErrUserNotFound
		}
		return models.User{}, errors.Wrap(err, "get user")
	}
	return decodeUser(snap)
}

// GetUserByEmail is a single-document lookup on the indexed email field.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	snaps, err := s.users().Where("email", "==", email).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return models.User{}, errors.Wrap(err, "get user by email")
	}
	if len(snaps) == 0 {
		return models.User{}, apperr.ErrUserNotFound
	}
	return decodeUser(snaps[0])
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	snaps, err := s.users().OrderBy("username", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	users := make([]models.User, 0, len(snaps))
	var bad apperr.ItemErrors
	for _, snap := range snaps {
		u, err := decodeUser(snap)
		if err != nil {
			bad.Append(snap.Ref.ID, err)
			continue
		}
		users = append(users, u)
	}
	return users, bad.ErrOrNil()
}

func (s *Store) UpdateProfileImage(ctx context.Context, id, url string) error {
	_, err := s.users().Doc(id).Update(ctx, []firestore.Update{{Path: "profileImageUrl", Value: url}})
	if err != nil {
		if isNotFound(err) {
			return apperr.ErrUserNotFound
		}
		return writeErr("update profile image", err)
	}
	return nil
}

func decodeUser(snap *firestore.DocumentSnapshot) (models.User, error) {
	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return models.User{}, apperr.ParseFailed("decode user "+snap.Ref.ID, err)
	}
	if doc.Email == "" {
		return models.User{}, apperr.ParseFailed("user "+snap.Ref.ID+" has no email", nil)
	}
	return doc.toModel(snap.Ref.ID), nil
}
