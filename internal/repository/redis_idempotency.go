package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/GoPolymarket/credcalls/internal/middleware"
	"github.com/redis/go-redis/v9"
)

type RedisIdempotencyStore struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisIdempotencyStore(client redis.Cmdable, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{
		client: client,
		ttl:    ttl,
		prefix: "credcalls:idem:",
	}
}

func (s *RedisIdempotencyStore) GetOrLock(ctx context.Context, key string) (*middleware.IdempotencyRecord, bool) {
	record := middleware.IdempotencyRecord{
		CreatedAt:  time.Now().UTC(),
		Processing: true,
	}
	locked, err := s.client.SetNX(ctx, s.prefix+key, encodeIdemRecord(record), s.ttl).Result()
	if err == nil && locked {
		return nil, false
	}

	raw, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		// key expired between SETNX and GET, or redis is unavailable
		if errors.Is(err, redis.Nil) {
			return nil, false
		}
		return &middleware.IdempotencyRecord{Processing: true}, true
	}
	rec, err := decodeIdemRecord(raw)
	if err != nil {
		return nil, false
	}
	return rec, true
}

func (s *RedisIdempotencyStore) Save(ctx context.Context, key string, status int, body []byte) {
	record := middleware.IdempotencyRecord{
		Status:     status,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
		Processing: false,
	}
	_ = s.client.Set(ctx, s.prefix+key, encodeIdemRecord(record), s.ttl).Err()
}

func (s *RedisIdempotencyStore) Unlock(ctx context.Context, key string) {
	_ = s.client.Del(ctx, s.prefix+key).Err()
}

type idemWire struct {
	Status     int    `json:"status"`
	Body       string `json:"body"`
	CreatedAt  int64  `json:"created_at"`
	Processing bool   `json:"processing"`
}

func encodeIdemRecord(rec middleware.IdempotencyRecord) string {
	data, _ := json.Marshal(idemWire{
		Status:     rec.Status,
		Body:       base64.StdEncoding.EncodeToString(rec.Body),
		CreatedAt:  rec.CreatedAt.Unix(),
		Processing: rec.Processing,
	})
	return string(data)
}

func decodeIdemRecord(raw string) (*middleware.IdempotencyRecord, error) {
	var wire idemWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, err
	}
	body, err := base64.StdEncoding.DecodeString(wire.Body)
	if err != nil {
		return nil, err
	}
	return &middleware.IdempotencyRecord{
		Status:     wire.Status,
		Body:       body,
		CreatedAt:  time.Unix(wire.CreatedAt, 0).UTC(),
		Processing: wire.Processing,
	}, nil
}
