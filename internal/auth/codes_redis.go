package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisCodePrefix     = "drugshop:reset-code:"
	redisCodeMaxRetries = 4
)

// RedisCodeStore shares codes across instances. Keys carry a Redis TTL and the
// value embeds its own expiry so Verify applies the same clock as the memory store.
type RedisCodeStore struct {
	client   *redis.Client
	ttl      time.Duration
	prefix   string
	now      func() time.Time
	generate func() (string, error)
}

func NewRedisCodeStore(client *redis.Client, ttl time.Duration) *RedisCodeStore {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &RedisCodeStore{
		client:   client,
		ttl:      ttl,
		prefix:   redisCodePrefix,
		now:      func() time.Time { return time.Now().UTC() },
		generate: GenerateCode,
	}
}

func (s *RedisCodeStore) key(email string) string {
	return s.prefix + NormalizeEmail(email)
}

func (s *RedisCodeStore) Issue(ctx context.Context, email string) (string, error) {
	code, err := s.generate()
	if err != nil {
		return "", err
	}

	expiresAt := s.now().Add(s.ttl)
	if err := s.client.Set(ctx, s.key(email), encodeCodeValue(code, expiresAt, 0), s.ttl).Err(); err != nil {
		return "", storageError("store verification code", err)
	}
	return code, nil
}

func (s *RedisCodeStore) Verify(ctx context.Context, email, code string) (bool, error) {
	return s.check(ctx, email, code, false)
}

// Consume deletes the key inside the same WATCH transaction that matched it, so
// concurrent callers with one code see a single success.
func (s *RedisCodeStore) Consume(ctx context.Context, email, code string) (bool, error) {
	return s.check(ctx, email, code, true)
}

func (s *RedisCodeStore) check(ctx context.Context, email, code string, consume bool) (bool, error) {
	key := s.key(email)

	for i := 0; i < redisCodeMaxRetries; i++ {
		var matched bool

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Result()
			if err != nil {
				return err
			}

			now := s.now()
			stored, expiresAt, misses, err := decodeCodeValue(raw)
			if err != nil || now.After(expiresAt) {
				return s.deleteKey(ctx, tx, key)
			}

			if !codesEqual(stored, code) {
				misses++
				remaining := expiresAt.Sub(now)
				if misses >= MaxCodeAttempts || remaining <= 0 {
					return s.deleteKey(ctx, tx, key)
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, encodeCodeValue(stored, expiresAt, misses), remaining)
					return nil
				})
				return err
			}

			if consume {
				if err := s.deleteKey(ctx, tx, key); err != nil {
					return err
				}
			}
			matched = true
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, storageError("check verification code", err)
		}
		return matched, nil
	}

	return false, nil
}

func (s *RedisCodeStore) deleteKey(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func (s *RedisCodeStore) Clear(ctx context.Context, email string) error {
	if err := s.client.Del(ctx, s.key(email)).Err(); err != nil {
		return storageError("clear verification code", err)
	}
	return nil
}

func encodeCodeValue(code string, expiresAt time.Time, misses int) string {
	return code + ":" + strconv.FormatInt(expiresAt.UnixMilli(), 10) + ":" + strconv.Itoa(misses)
}

func decodeCodeValue(raw string) (string, time.Time, int, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return "", time.Time{}, 0, fmt.Errorf("malformed verification code value")
	}
	millis, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, 0, fmt.Errorf("parse verification code expiry: %w", err)
	}
	misses, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", time.Time{}, 0, fmt.Errorf("parse verification code misses: %w", err)
	}
	return parts[0], time.UnixMilli(millis).UTC(), misses, nil
}
