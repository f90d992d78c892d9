package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"kassa/internal/cache"
	errs "kassa/internal/errors"
	"kassa/internal/logger"
	"kassa/internal/models"
)

type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type IdentityCache interface {
	GetIdentityByAuth(ctx context.Context, email, passwordHash string) (*cache.CachedIdentity, error)
	SetIdentity(ctx context.Context, email, passwordHash string, id cache.CachedIdentity) error
}

// UserService authenticates API callers
type UserService struct {
	users UserStore
	cache IdentityCache
}

func NewUserService(users UserStore, identityCache IdentityCache) *UserService {
	return &UserService{users: users, cache: identityCache}
}

func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Authenticate checks credentials in the Valkey cache first, then in Postgres.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.Identity, error) {
	passwordHash := HashPassword(password)

	if s.cache != nil {
		cached, err := s.cache.GetIdentityByAuth(ctx, email, passwordHash)
		if err == nil {
			return &models.Identity{UserID: cached.UserID, Role: cached.Role}, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.WithContext(ctx).Warn("Identity cache lookup failed", "error", err)
		}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "failed to load user")
	}
	if user == nil || !user.IsActive || user.PasswordHash != passwordHash {
		return nil, errs.Wrap(errs.Unauthenticated, errs.ErrUnauthorized, "invalid credentials")
	}

	identity := &models.Identity{UserID: user.UserID, Role: user.Role}
	if s.cache != nil {
		if err := s.cache.SetIdentity(ctx, email, passwordHash, cache.CachedIdentity{UserID: identity.UserID, Role: identity.Role}); err != nil {
			logger.WithContext(ctx).Warn("Failed to cache identity", "error", err)
		}
	}

	return identity, nil
}
