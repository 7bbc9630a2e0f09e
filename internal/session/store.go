// Package session keeps the per-wallet profile blob and the last
// connected wallet, scoped by wallet identity so switching accounts never
// reads another identity's cached state.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound means no session state exists for the wallet.
var ErrNotFound = errors.New("session not found")

// Blob is the cached session state for one wallet.
type Blob struct {
	Wallet      string    `json:"wallet"`
	DisplayName string    `json:"display_name,omitempty"`
	Institution string    `json:"institution,omitempty"`
	Role        string    `json:"role,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store is the session interface injected into handlers. Implementations
// must key every entry by lowercased wallet.
type Store interface {
	Get(ctx context.Context, wallet string) (*Blob, error)
	Set(ctx context.Context, wallet string, blob *Blob) error
	Clear(ctx context.Context, wallet string) error
	SetLastWallet(ctx context.Context, wallet string) error
	LastWallet(ctx context.Context) (string, error)
}

// RedisStore keeps session blobs in redis with a TTL.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore creates a redis-backed store.
func NewRedisStore(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "herbalyze"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisStore) key(wallet string) string {
	return fmt.Sprintf("%s:session:%s", s.keyPrefix, strings.ToLower(wallet))
}

func (s *RedisStore) Get(ctx context.Context, wallet string) (*Blob, error) {
	data, err := s.client.Get(ctx, s.key(wallet)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session get: %w", err)
	}
	blob := &Blob{}
	if err := json.Unmarshal(data, blob); err != nil {
		return nil, fmt.Errorf("session decode: %w", err)
	}
	return blob, nil
}

func (s *RedisStore) Set(ctx context.Context, wallet string, blob *Blob) error {
	blob.Wallet = strings.ToLower(wallet)
	blob.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("session encode: %w", err)
	}
	if err := s.client.Set(ctx, s.key(wallet), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("session set: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, wallet string) error {
	if err := s.client.Del(ctx, s.key(wallet)).Err(); err != nil {
		return fmt.Errorf("session clear: %w", err)
	}
	return nil
}

func (s *RedisStore) SetLastWallet(ctx context.Context, wallet string) error {
	key := s.keyPrefix + ":lastwallet"
	if err := s.client.Set(ctx, key, strings.ToLower(wallet), s.ttl).Err(); err != nil {
		return fmt.Errorf("session set last wallet: %w", err)
	}
	return nil
}

func (s *RedisStore) LastWallet(ctx context.Context) (string, error) {
	wallet, err := s.client.Get(ctx, s.keyPrefix+":lastwallet").Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("session last wallet: %w", err)
	}
	return wallet, nil
}
