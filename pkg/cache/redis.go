package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore is a Store backed by Redis, letting every edge instance share
// the same partitions. Each partition uses a hash for its entries and a
// sorted set, scored by a global sequence, for insertion order.
type RedisStore struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	prefix      string
	now         func() time.Time
}

// NewRedisStore creates and connects a new RedisStore.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisStore(
	ctx context.Context,
	cfg *RedisConfig,
	logger zerolog.Logger,
) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "assetedge"
	}
	logger.Info().Str("redis_address", cfg.Addr).Str("key_prefix", prefix).Msg("Successfully connected to Redis.")

	return &RedisStore{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisStore").Logger(),
		prefix:      prefix,
		now:         time.Now,
	}, nil
}

func (s *RedisStore) partitionsKey() string { return s.prefix + ":partitions" }
func (s *RedisStore) seqKey() string        { return s.prefix + ":seq" }

func (s *RedisStore) entriesKey(partition string) string {
	return s.prefix + ":p:" + partition + ":entries"
}

func (s *RedisStore) orderKey(partition string) string {
	return s.prefix + ":p:" + partition + ":order"
}

// Match retrieves the response stored for key.
func (s *RedisStore) Match(ctx context.Context, partition string, key RequestKey) (*CachedResponse, error) {
	field := key.String()
	data, err := s.redisClient.HGet(ctx, s.entriesKey(partition), field).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("key '%s' in partition '%s': %w", field, partition, ErrNotFound)
		}
		s.logger.Error().Err(err).Str("partition", partition).Str("key", field).Msg("Unexpected Redis error during match.")
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	var resp CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		s.logger.Error().Err(err).Str("key", field).Msg("Failed to unmarshal cached response.")
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	s.logger.Debug().Str("partition", partition).Str("key", field).Msg("Redis cache hit.")
	return &resp, nil
}

// Put stores resp and moves key to the newest position. The entry, its
// order and the partition registration are written in one transaction.
func (s *RedisStore) Put(ctx context.Context, partition string, key RequestKey, resp *CachedResponse) error {
	if resp == nil {
		return fmt.Errorf("cannot store nil response for '%s'", key)
	}
	stored := resp.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = s.now()
	}
	field := key.String()
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	seq, err := s.redisClient.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("redis incr: %w", err)
	}

	_, err = s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.entriesKey(partition), field, data)
		pipe.ZAdd(ctx, s.orderKey(partition), redis.Z{Score: float64(seq), Member: field})
		pipe.SAdd(ctx, s.partitionsKey(), partition)
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("partition", partition).Str("key", field).Msg("Failed to store response in Redis.")
		return fmt.Errorf("failed to store in redis: %w", err)
	}
	s.logger.Debug().Str("partition", partition).Str("key", field).Msg("Stored response in Redis.")
	return nil
}

// Delete removes a single key.
func (s *RedisStore) Delete(ctx context.Context, partition string, key RequestKey) (bool, error) {
	n, err := s.DeleteKeys(ctx, partition, key)
	return n > 0, err
}

// DeleteKeys removes several keys in one transaction.
func (s *RedisStore) DeleteKeys(ctx context.Context, partition string, keys ...RequestKey) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	fields := make([]string, len(keys))
	members := make([]interface{}, len(keys))
	for i, key := range keys {
		fields[i] = key.String()
		members[i] = fields[i]
	}

	var removed *redis.IntCmd
	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, s.entriesKey(partition), fields...)
		pipe.ZRem(ctx, s.orderKey(partition), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete from redis: %w", err)
	}
	return int(removed.Val()), nil
}

// Keys lists keys oldest first.
func (s *RedisStore) Keys(ctx context.Context, partition string) ([]RequestKey, error) {
	members, err := s.redisClient.ZRange(ctx, s.orderKey(partition), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	keys := make([]RequestKey, 0, len(members))
	for _, m := range members {
		keys = append(keys, parseRequestKey(m))
	}
	return keys, nil
}

// Partitions lists partition names in lexical order.
func (s *RedisStore) Partitions(ctx context.Context) ([]string, error) {
	names, err := s.redisClient.SMembers(ctx, s.partitionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// DeletePartition drops the partition's entries, order and registration.
func (s *RedisStore) DeletePartition(ctx context.Context, partition string) (bool, error) {
	var unregistered *redis.IntCmd
	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.entriesKey(partition), s.orderKey(partition))
		unregistered = pipe.SRem(ctx, s.partitionsKey(), partition)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete partition '%s': %w", partition, err)
	}
	return unregistered.Val() > 0, nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}

func parseRequestKey(s string) RequestKey {
	method, rawURL, found := strings.Cut(s, " ")
	if !found {
		return RequestKey{Method: "GET", URL: s}
	}
	return RequestKey{Method: method, URL: rawURL}
}
