package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BTreeMap/NutriPipe/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "nutripipe:session:"
	redisPingTimeout = 5 * time.Second
	redisScanCount   = 100
)

// RedisStore keeps sessions as JSON values in Redis.
// Expiry is delegated to Redis via the session TTL, so PurgeIdle has nothing to do.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the Redis server named by WithRedisURL.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis URL not set")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("RedisStore.NewRedisStore: invalid URL", "error", err)
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("RedisStore.NewRedisStore: ping failed", "error", err)
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Debug("RedisStore.NewRedisStore: connected", "addr", redisOpts.Addr, "ttl", cfg.SessionTTL)

	return &RedisStore{client: client, ttl: cfg.SessionTTL}, nil
}

func redisKey(userID string) string {
	return redisKeyPrefix + userID
}

func (s *RedisStore) GetSession(ctx context.Context, userID string) (*models.Session, error) {
	data, err := s.client.Get(ctx, redisKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore.GetSession: get failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get session for %s: %w", userID, err)
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session for %s: %w", userID, err)
	}
	return &session, nil
}

func (s *RedisStore) SaveSession(ctx context.Context, session models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session for %s: %w", session.UserID, err)
	}
	// A zero TTL means the key never expires.
	if err := s.client.Set(ctx, redisKey(session.UserID), data, s.ttl).Err(); err != nil {
		slog.Error("RedisStore.SaveSession: set failed", "error", err, "userID", session.UserID)
		return fmt.Errorf("failed to save session for %s: %w", session.UserID, err)
	}
	return nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, redisKey(userID)).Err(); err != nil {
		slog.Error("RedisStore.DeleteSession: del failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			// expired between SCAN and GET
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", iter.Val(), err)
		}
		var session models.Session
		if err := json.Unmarshal(data, &session); err != nil {
			slog.Warn("RedisStore.ListSessions: skipping undecodable session", "key", iter.Val(), "error", err)
			continue
		}
		sessions = append(sessions, session)
	}
	if err := iter.Err(); err != nil {
		slog.Error("RedisStore.ListSessions: scan failed", "error", err)
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UserID < sessions[j].UserID })
	return sessions, nil
}

// PurgeIdle is a no-op; Redis expires keys on its own.
func (s *RedisStore) PurgeIdle(ctx context.Context, before time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
