package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-live/internal/config"
	"github.com/stemsi/exstem-live/internal/model"
)

// Redis keeps every live session as a JSON field of a single hash.
type Redis struct {
	rdb *redis.Client
	key string
}

// NewRedis creates a Redis-backed SessionStore.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, key: config.CacheKey.ExamSessions}
}

// Get loads the session stored under code.
func (s *Redis) Get(ctx context.Context, code string) (*model.ExamSession, error) {
	data, err := s.rdb.HGet(ctx, s.key, code).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: hget %s: %v", ErrPersistence, code, err)
	}

	var session model.ExamSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrPersistence, code, err)
	}
	return &session, nil
}

// Set replaces the stored document.
func (s *Redis) Set(ctx context.Context, code string, session *model.ExamSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrPersistence, code, err)
	}
	if err := s.rdb.HSet(ctx, s.key, code, data).Err(); err != nil {
		return fmt.Errorf("%w: hset %s: %v", ErrPersistence, code, err)
	}
	return nil
}

// Exists reports whether a session is stored under code.
func (s *Redis) Exists(ctx context.Context, code string) (bool, error) {
	ok, err := s.rdb.HExists(ctx, s.key, code).Result()
	if err != nil {
		return false, fmt.Errorf("%w: hexists %s: %v", ErrPersistence, code, err)
	}
	return ok, nil
}

// Delete evicts the session. Deleting a missing code is not an error.
func (s *Redis) Delete(ctx context.Context, code string) error {
	if err := s.rdb.HDel(ctx, s.key, code).Err(); err != nil {
		return fmt.Errorf("%w: hdel %s: %v", ErrPersistence, code, err)
	}
	return nil
}
