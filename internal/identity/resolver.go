// Package identity resolves user ids and emails into render-ready profiles.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"chat-sync/internal/apperr"
	"chat-sync/internal/cache"
	"chat-sync/internal/models"
)

const (
	emailKeyPrefix = "profile:email:"
	idKeyPrefix    = "profile:id:"
)

// Store is the subset of the user directory the resolver reads.
type Store interface {
	GetUserByID(ctx context.Context, id string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
}

// Resolver is a read-through profile cache over the user directory.
// Each service instance owns its resolver; nothing is shared between requests
// except the cache backend.
type Resolver struct {
	store Store
	cache cache.Cache
	ttl   time.Duration
	log   *zap.Logger
}

func NewResolver(store Store, c cache.Cache, ttl time.Duration, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{store: store, cache: c, ttl: ttl, log: log}
}

// Resolve looks a profile up by email. A missing user yields apperr.ErrUserNotFound,
// which callers render as an unknown user.
func (r *Resolver) Resolve(ctx context.Context, email string) (models.Profile, error) {
	if p, ok := r.cached(ctx, emailKeyPrefix+email); ok {
		return p, nil
	}
	u, err := r.store.GetUserByEmail(ctx, email)
	if err != nil {
		return models.Profile{}, err
	}
	p := u.Profile()
	r.remember(ctx, p)
	return p, nil
}

// ResolveByID looks a profile up by user id.
func (r *Resolver) ResolveByID(ctx context.Context, id string) (models.Profile, error) {
	if p, ok := r.cached(ctx, idKeyPrefix+id); ok {
		return p, nil
	}
	u, err := r.store.GetUserByID(ctx, id)
	if err != nil {
		return models.Profile{}, err
	}
	p := u.Profile()
	r.remember(ctx, p)
	return p, nil
}

// ResolveMany resolves every id it can. Unknown ids are left out of the result.
func (r *Resolver) ResolveMany(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	out := make(map[string]models.Profile, len(ids))
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		p, err := r.ResolveByID(ctx, id)
		if errors.Is(err, apperr.ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

// ResolveAll scans the whole directory. It bypasses the cache and loads every
// user into memory. Malformed user documents are logged and skipped.
func (r *Resolver) ResolveAll(ctx context.Context) ([]models.Profile, error) {
	users, err := r.store.ListUsers(ctx)
	if items, ok := apperr.AsItemErrors(err); ok {
		for _, item := range items {
			r.log.Warn("skipping malformed user", zap.String("user_id", item.ID), zap.Error(item.Err))
		}
	} else if err != nil {
		return nil, err
	}

	profiles := make([]models.Profile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, u.Profile())
	}
	return profiles, nil
}

// Invalidate drops the cached entries of the given users. Pass both the old and
// the new record when an email changes.
func (r *Resolver) Invalidate(ctx context.Context, users ...models.User) {
	if r.cache == nil {
		return
	}
	keys := make([]string, 0, 2*len(users))
	for _, u := range users {
		if u.ID != "" {
			keys = append(keys, idKeyPrefix+u.ID)
		}
		if u.Email != "" {
			keys = append(keys, emailKeyPrefix+u.Email)
		}
	}
	if _, err := r.cache.Del(ctx, keys...); err != nil {
		r.log.Warn("profile cache invalidate failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (r *Resolver) cached(ctx context.Context, key string) (models.Profile, bool) {
	if r.cache == nil {
		return models.Profile{}, false
	}
	raw, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			r.log.Warn("profile cache read failed", zap.String("key", key), zap.Error(err))
		}
		return models.Profile{}, false
	}
	var p models.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		r.log.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		return models.Profile{}, false
	}
	return p, true
}

func (r *Resolver) remember(ctx context.Context, p models.Profile) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	for _, key := range []string{idKeyPrefix + p.UserID, emailKeyPrefix + p.Email} {
		if err := r.cache.Set(ctx, key, string(raw), r.ttl); err != nil {
			r.log.Warn("profile cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
}
