package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kassa/internal/cache"
	errs "kassa/internal/errors"
	"kassa/internal/models"
)

type fakeUserStore struct {
	users map[string]*models.User
	calls int
	err   error
}

func (f *fakeUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.users[email], nil
}

type fakeIdentityCache struct {
	entries map[string]cache.CachedIdentity
	getErr  error
}

func (f *fakeIdentityCache) GetIdentityByAuth(ctx context.Context, email, passwordHash string) (*cache.CachedIdentity, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	id, ok := f.entries[email+":"+passwordHash]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return &id, nil
}

func (f *fakeIdentityCache) SetIdentity(ctx context.Context, email, passwordHash string, id cache.CachedIdentity) error {
	f.entries[email+":"+passwordHash] = id
	return nil
}

func newUserFixtures() (*fakeUserStore, *fakeIdentityCache) {
	store := &fakeUserStore{users: map[string]*models.User{
		"ana@example.com": {
			UserID:       "u-ana",
			Email:        "ana@example.com",
			PasswordHash: HashPassword("s3cret"),
			Role:         models.RoleBuyer,
			IsActive:     true,
		},
		"old@example.com": {
			UserID:       "u-old",
			Email:        "old@example.com",
			PasswordHash: HashPassword("s3cret"),
			Role:         models.RoleBuyer,
		},
	}}
	return store, &fakeIdentityCache{entries: map[string]cache.CachedIdentity{}}
}

func TestAuthenticate_CachesIdentity(t *testing.T) {
	store, identities := newUserFixtures()
	users := NewUserService(store, identities)

	id, err := users.Authenticate(context.Background(), "ana@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: "u-ana", Role: models.RoleBuyer}, *id)
	assert.Equal(t, 1, store.calls)

	id, err = users.Authenticate(context.Background(), "ana@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "u-ana", id.UserID)
	assert.Equal(t, 1, store.calls, "second login must be served from cache")
}

func TestAuthenticate_RejectsBadCredentials(t *testing.T) {
	store, identities := newUserFixtures()
	users := NewUserService(store, identities)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "ana@example.com", "guess"},
		{"unknown user", "nobody@example.com", "s3cret"},
		{"inactive user", "old@example.com", "s3cret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := users.Authenticate(context.Background(), tt.email, tt.password)
			requireKind(t, err, errs.Unauthenticated)
			assert.ErrorIs(t, err, errs.ErrUnauthorized)
		})
	}
	assert.Empty(t, identities.entries)
}

func TestAuthenticate_WithoutOrBrokenCache(t *testing.T) {
	store, identities := newUserFixtures()
	identities.getErr = errors.New("connection refused")

	id, err := NewUserService(store, identities).Authenticate(context.Background(), "ana@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "u-ana", id.UserID)

	id, err = NewUserService(store, nil).Authenticate(context.Background(), "ana@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "u-ana", id.UserID)

	store.err = errors.New("database is down")
	_, err = NewUserService(store, nil).Authenticate(context.Background(), "ana@example.com", "s3cret")
	requireKind(t, err, errs.Internal)
}
