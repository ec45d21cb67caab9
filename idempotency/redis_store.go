package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/actionmesh/actionmesh/envelope"
	"github.com/actionmesh/actionmesh/tenant"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed Store suitable for distributed deployments.
// Claims use SET NX so that concurrent retries of the same logical request
// race on a single atomic operation.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// storedRecord is the serialized terminal record.
type storedRecord struct {
	Envelope   *envelope.ActionEnvelope `json:"envelope"`
	ParamsHash string                   `json:"params_hash"`
}

// NewRedisStore creates a Redis-backed idempotency store and verifies the
// connection.
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "actionmesh:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "idem:"}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by tests.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "actionmesh:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "idem:"}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks store health.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) resultKey(tenantID, key string) string {
	return s.keyPrefix + "result:" + tenantID + ":" + key
}

func (s *RedisStore) claimKey(tenantID, key string) string {
	return s.keyPrefix + "claim:" + tenantID + ":" + key
}

func (s *RedisStore) Check(ctx context.Context, tenantID, key, paramsHash string) (*envelope.ActionEnvelope, error) {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.resultKey(tenantID, key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}

	var rec storedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}
	if rec.ParamsHash != paramsHash {
		return nil, conflictError(key)
	}
	return rec.Envelope, nil
}

func (s *RedisStore) Reserve(ctx context.Context, tenantID, key, paramsHash string, ttl time.Duration) (bool, error) {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return false, err
	}

	ok, err := s.client.SetNX(ctx, s.claimKey(tenantID, key), paramsHash, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency reserve failed: %w", err)
	}
	if ok {
		return true, nil
	}

	// Claim already held: surface a conflict when the holder used a
	// different payload.
	held, err := s.client.Get(ctx, s.claimKey(tenantID, key)).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("idempotency claim read failed: %w", err)
	}
	if err == nil && held != paramsHash {
		return false, conflictError(key)
	}
	return false, nil
}

func (s *RedisStore) Commit(ctx context.Context, tenantID, key, paramsHash string, env *envelope.ActionEnvelope, ttl time.Duration) error {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return err
	}

	data, err := json.Marshal(storedRecord{Envelope: env, ParamsHash: paramsHash})
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.resultKey(tenantID, key), data, ttl)
	pipe.Del(ctx, s.claimKey(tenantID, key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("idempotency commit failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, tenantID, key string) error {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.claimKey(tenantID, key)).Err(); err != nil {
		return fmt.Errorf("idempotency release failed: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
