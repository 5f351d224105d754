package step

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix    = "eventwire:checkpoints:"
	defaultRedisTTL   = 7 * 24 * time.Hour
	redisPingDeadline = 5 * time.Second
)

// RedisStore keeps the checkpoints of an execution in one hash keyed by step id.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore connects to url (redis://...) and verifies the connection.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingDeadline)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}

	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(executionID string) string {
	return redisKeyPrefix + executionID
}

func (s *RedisStore) GetCheckpoint(ctx context.Context, executionID, stepID string) (*Checkpoint, error) {
	raw, err := s.client.HGet(ctx, redisKey(executionID), stepID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get checkpoint %s/%s: %w", executionID, stepID, err)
	}

	var checkpoint Checkpoint

	err = json.Unmarshal(raw, &checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint %s/%s: %w", executionID, stepID, err)
	}

	return &checkpoint, nil
}

func (s *RedisStore) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	err := validateKey(checkpoint.ExecutionID, checkpoint.StepID)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	key := redisKey(checkpoint.ExecutionID)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, checkpoint.StepID, raw)
		pipe.Expire(ctx, key, s.ttl)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s/%s: %w", checkpoint.ExecutionID, checkpoint.StepID, err)
	}

	return nil
}

func (s *RedisStore) DeleteCheckpoints(ctx context.Context, executionID string) error {
	err := s.client.Del(ctx, redisKey(executionID)).Err()
	if err != nil {
		return fmt.Errorf("failed to delete checkpoints of %s: %w", executionID, err)
	}

	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
