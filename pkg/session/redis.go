package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "scamtrap:session:"

// RedisPersister stores one JSON record per session id. Records never
// expire: a session exists for the lifetime of the store.
type RedisPersister struct {
	client *redis.Client
}

// NewRedisPersister connects to addr and verifies the connection.
func NewRedisPersister(ctx context.Context, addr string) (*RedisPersister, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisPersister{client: client}, nil
}

// NewRedisPersisterFromClient wraps an existing client (tests use this with
// miniredis).
func NewRedisPersisterFromClient(client *redis.Client) *RedisPersister {
	return &RedisPersister{client: client}
}

func (p *RedisPersister) Save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	if err := p.client.Set(ctx, redisKeyPrefix+rec.SessionID, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (p *RedisPersister) Load(ctx context.Context, sessionID string) (*Record, error) {
	data, err := p.client.Get(ctx, redisKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session record: %w", err)
	}
	return &rec, nil
}

// Close releases the underlying connection pool.
func (p *RedisPersister) Close() error {
	return p.client.Close()
}

var _ Persister = (*RedisPersister)(nil)
