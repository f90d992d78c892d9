package cache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("user not found in cache")

type Config struct {
	Addr         string
	Password     string
	UsersHashKey string
}

// Enabled reports whether a Valkey address was configured.
func (c Config) Enabled() bool {
	return c.Addr != ""
}

// CachedIdentity is what the auth hash stores per credential pair
type CachedIdentity struct {
	UserID string
	Role   string
}

type ValkeyClient struct {
	client       redis.UniversalClient
	usersHashKey string
}

func NewValkeyClient(cfg Config) (*ValkeyClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           0,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}

	return NewValkeyClientWith(rdb, cfg.UsersHashKey), nil
}

func NewValkeyClientWith(rdb redis.UniversalClient, usersHashKey string) *ValkeyClient {
	if usersHashKey == "" {
		usersHashKey = "users:auth"
	}
	return &ValkeyClient{client: rdb, usersHashKey: usersHashKey}
}

func authField(email, passwordHash string) string {
	return base64.StdEncoding.EncodeToString([]byte(email + ":" + passwordHash))
}

// GetIdentityByAuth looks up "userId:role" by the base64(email:hash) field.
func (v *ValkeyClient) GetIdentityByAuth(ctx context.Context, email, passwordHash string) (*CachedIdentity, error) {
	value, err := v.client.HGet(ctx, v.usersHashKey, authField(email, passwordHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("cache lookup error: %w", err)
	}

	userID, role, ok := strings.Cut(value, ":")
	if !ok || userID == "" || role == "" {
		return nil, fmt.Errorf("invalid identity in cache: %q", value)
	}

	return &CachedIdentity{UserID: userID, Role: role}, nil
}

func (v *ValkeyClient) SetIdentity(ctx context.Context, email, passwordHash string, id CachedIdentity) error {
	err := v.client.HSet(ctx, v.usersHashKey, authField(email, passwordHash), id.UserID+":"+id.Role).Err()
	if err != nil {
		return fmt.Errorf("cache store error: %w", err)
	}
	return nil
}

func (v *ValkeyClient) Close() error {
	return v.client.Close()
}
