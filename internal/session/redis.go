package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"healthq/internal/model"
)

// RedisStore keeps each transcript as a Redis list of JSON turns plus a
// creation timestamp key. Both keys share the optional TTL, refreshed on
// every append.
type RedisStore struct {
	client *redisv9.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redisv9.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "healthq"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *RedisStore) GetOrCreate(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}
	created := s.now().UTC()
	if err := s.client.SetNX(ctx, s.createdKey(id), created.Format(time.RFC3339Nano), s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("redis create session failed: %w", err)
	}
	raw, err := s.client.Get(ctx, s.createdKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get session failed: %w", err)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		created = parsed
	}

	turns, err := s.Transcript(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.Session{ID: id, Turns: turns, CreatedAt: created}, nil
}

func (s *RedisStore) Append(ctx context.Context, id string, turn model.Turn) error {
	if id == "" {
		return ErrEmptySessionID
	}
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn failed: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.SetNX(ctx, s.createdKey(id), s.now().UTC().Format(time.RFC3339Nano), s.ttl)
	pipe.RPush(ctx, s.turnsKey(id), payload)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.turnsKey(id), s.ttl)
		pipe.Expire(ctx, s.createdKey(id), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append turn failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Transcript(ctx context.Context, id string) ([]model.Turn, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}
	raws, err := s.client.LRange(ctx, s.turnsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read transcript failed: %w", err)
	}
	turns := make([]model.Turn, 0, len(raws))
	for _, raw := range raws {
		var turn model.Turn
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			return nil, fmt.Errorf("unmarshal turn failed: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (s *RedisStore) Reset(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptySessionID
	}
	if err := s.client.Del(ctx, s.turnsKey(id), s.createdKey(id)).Err(); err != nil {
		return fmt.Errorf("redis reset session failed: %w", err)
	}
	return nil
}

func (s *RedisStore) turnsKey(id string) string {
	return fmt.Sprintf("%s:session:%s:turns", s.prefix, id)
}

func (s *RedisStore) createdKey(id string) string {
	return fmt.Sprintf("%s:session:%s:created", s.prefix, id)
}
