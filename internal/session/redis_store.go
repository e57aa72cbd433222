package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// sessionKeyPrefix namespaces session records in Redis.
const sessionKeyPrefix = "session:"

// RedisStore persists sessions as JSON blobs in Redis.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redis url: %v", ErrUnavailable, err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	c := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &RedisStore{client: c}, nil
}

// Load returns the stored session or a fresh default one.
func (r *RedisStore) Load(ctx context.Context, senderID string) (*Session, error) {
	raw, err := r.client.Get(ctx, sessionKeyPrefix+senderID).Result()
	if err == redis.Nil {
		return New(senderID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		// Corrupt record: start over rather than wedging the sender.
		return New(senderID), nil
	}
	if s.SenderID == "" {
		s.SenderID = senderID
	}
	return &s, nil
}

// Save writes the full session record. Redis SET replaces the value atomically.
func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := r.client.Set(ctx, sessionKeyPrefix+s.SenderID, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// List enumerates stored sessions.
func (r *RedisStore) List(ctx context.Context) ([]Summary, error) {
	var result []Summary
	iter := r.client.Scan(ctx, 0, sessionKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		raw, err := r.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		var s Session
		if json.Unmarshal([]byte(raw), &s) != nil {
			continue
		}
		result = append(result, Summary{
			SenderID:   s.SenderID,
			Greeted:    s.Greeted,
			IsMember:   s.IsMember,
			HistoryLen: len(s.History),
			UpdatedAt:  s.UpdatedAt.Format(time.RFC3339),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result, nil
}

// Close releases the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
