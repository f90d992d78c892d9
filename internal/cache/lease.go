package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = rueidis.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lease is a single-holder lock with expiry, used to keep one sweeper active
// across replicas.
type Lease struct {
	client rueidis.Client
	key    string
	ttl    time.Duration
}

func NewLeaseClient(cfg Config) (rueidis.Client, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{cfg.Addr},
		Password:     cfg.Password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}
	return client, nil
}

func NewLease(client rueidis.Client, key string, ttl time.Duration) *Lease {
	return &Lease{client: client, key: key, ttl: ttl}
}

// Acquire tries to take the lease. ok is false when another holder owns it.
func (l *Lease) Acquire(ctx context.Context) (token string, ok bool, err error) {
	token = uuid.New().String()

	cmd := l.client.B().Set().Key(l.key).Value(token).Nx().PxMilliseconds(l.ttl.Milliseconds()).Build()
	err = l.client.Do(ctx, cmd).Error()
	if rueidis.IsRedisNil(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	return token, true, nil
}

func (l *Lease) Release(ctx context.Context, token string) error {
	err := releaseScript.Exec(ctx, l.client, []string{l.key}, []string{token}).Error()
	if err != nil && !rueidis.IsRedisNil(err) {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}
