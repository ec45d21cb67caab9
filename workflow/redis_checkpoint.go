package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/actionmesh/actionmesh/idempotency"
	"github.com/actionmesh/actionmesh/tenant"
	"github.com/redis/go-redis/v9"
)

// RedisCheckpointStore persists workflow state in Redis. Each workflow is
// one JSON value; non-terminal workflows are additionally tracked in an
// active set so recovery never scans the keyspace.
type RedisCheckpointStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCheckpointStore creates a Redis-backed checkpoint store and
// verifies the connection.
func NewRedisCheckpointStore(config idempotency.RedisConfig) (*RedisCheckpointStore, error) {
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

	return NewRedisCheckpointStoreWithClient(client, config.KeyPrefix), nil
}

// NewRedisCheckpointStoreWithClient wraps an existing client, used by tests.
func NewRedisCheckpointStoreWithClient(client *redis.Client, keyPrefix string) *RedisCheckpointStore {
	if keyPrefix == "" {
		keyPrefix = "actionmesh:"
	}
	return &RedisCheckpointStore{client: client, keyPrefix: keyPrefix + "wf:"}
}

// Close closes the underlying client.
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}

func (s *RedisCheckpointStore) stateKey(tenantID, workflowID string) string {
	return s.keyPrefix + "state:" + tenantID + ":" + workflowID
}

func (s *RedisCheckpointStore) activeSetKey() string {
	return s.keyPrefix + "active"
}

// activeMember encodes the (tenant, workflow) pair stored in the active set.
func activeMember(tenantID, workflowID string) string {
	return tenantID + ":" + workflowID
}

func (s *RedisCheckpointStore) Save(ctx context.Context, state *State) error {
	if err := tenant.Check(ctx, state.TenantID); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state: %w", err)
	}

	member := activeMember(state.TenantID, state.WorkflowID)
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.stateKey(state.TenantID, state.WorkflowID), data, 0)
	if state.Status.Terminal() {
		pipe.SRem(ctx, s.activeSetKey(), member)
	} else {
		pipe.SAdd(ctx, s.activeSetKey(), member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("checkpoint save failed: %w", err)
	}
	return nil
}

func (s *RedisCheckpointStore) Load(ctx context.Context, tenantID, workflowID string) (*State, error) {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.stateKey(tenantID, workflowID)).Bytes()
	if err == redis.Nil {
		return nil, checkpointNotFound(workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint load failed: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow state: %w", err)
	}
	return &state, nil
}

func (s *RedisCheckpointStore) Delete(ctx context.Context, tenantID, workflowID string) error {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.stateKey(tenantID, workflowID))
	pipe.SRem(ctx, s.activeSetKey(), activeMember(tenantID, workflowID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("checkpoint delete failed: %w", err)
	}
	return nil
}

func (s *RedisCheckpointStore) ListNonTerminal(ctx context.Context) ([]*State, error) {
	members, err := s.client.SMembers(ctx, s.activeSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("checkpoint scan failed: %w", err)
	}

	var out []*State
	for _, member := range members {
		data, err := s.client.Get(ctx, s.keyPrefix+"state:"+member).Bytes()
		if err == redis.Nil {
			// Stale set entry; drop it.
			s.client.SRem(ctx, s.activeSetKey(), member)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("checkpoint scan read failed: %w", err)
		}
		var state State
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow state: %w", err)
		}
		if !state.Status.Terminal() {
			out = append(out, &state)
		}
	}
	return out, nil
}

var _ CheckpointStore = (*RedisCheckpointStore)(nil)
