package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]Notification)}
}

func (s *MemoryStore) Append(_ context.Context, email string, n Notification, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append([]Notification{n}, s.data[email]...)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	s.data[email] = list
	return nil
}

func (s *MemoryStore) List(_ context.Context, email string) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.data[email]))
	copy(out, s.data[email])
	return out, nil
}

func (s *MemoryStore) Replace(_ context.Context, email string, ns []Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ns) == 0 {
		delete(s.data, email)
		return nil
	}
	s.data[email] = append([]Notification(nil), ns...)
	return nil
}

// RedisStore keeps a JSON list per patient. The key expires one window
// after the latest write.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func notificationsKey(email string) string {
	return "notifications:" + email
}

func (s *RedisStore) Append(ctx context.Context, email string, n Notification, limit int) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	key := notificationsKey(email)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, b)
		if limit > 0 {
			pipe.LTrim(ctx, key, 0, int64(limit-1))
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, email string) ([]Notification, error) {
	raw, err := s.client.LRange(ctx, notificationsKey(email), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange notifications: %w", err)
	}
	out := make([]Notification, 0, len(raw))
	for _, item := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *RedisStore) Replace(ctx context.Context, email string, ns []Notification) error {
	key := notificationsKey(email)
	values := make([]any, 0, len(ns))
	for _, n := range ns {
		b, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshal notification: %w", err)
		}
		values = append(values, b)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace notifications: %w", err)
	}
	return nil
}
