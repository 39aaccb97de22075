package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReconciliationState is the scheduler's per-transaction backoff bookkeeping.
type ReconciliationState struct {
	LastCheckedAt time.Time
	RetryCount    int
}

// StateStore holds ReconciliationState entries. Only the scheduler writes to it.
// A missing entry means "never checked".
type StateStore interface {
	Get(ctx context.Context, id uuid.UUID) (ReconciliationState, bool, error)
	Put(ctx context.Context, id uuid.UUID, state ReconciliationState) error
	Delete(ctx context.Context, id uuid.UUID) error
	// Retain drops every entry whose id is not in live.
	Retain(ctx context.Context, live map[uuid.UUID]struct{}) error
}

// MemoryStateStore is the default in-process StateStore. It is emptied by a restart,
// which resets backoff without affecting correctness.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]ReconciliationState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: make(map[uuid.UUID]ReconciliationState)}
}

func (m *MemoryStateStore) Get(_ context.Context, id uuid.UUID) (ReconciliationState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.entries[id]
	return state, ok, nil
}

func (m *MemoryStateStore) Put(_ context.Context, id uuid.UUID, state ReconciliationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = state
	return nil
}

func (m *MemoryStateStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *MemoryStateStore) Retain(_ context.Context, live map[uuid.UUID]struct{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.entries {
		if _, ok := live[id]; !ok {
			delete(m.entries, id)
		}
	}
	return nil
}

// Len reports the number of tracked transactions.
func (m *MemoryStateStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

const (
	stateFieldLastChecked = "last_checked_at"
	stateFieldRetryCount  = "retry_count"
)

// RedisStateStore keeps backoff state in Redis hashes so it survives restarts.
// Each entry is `<prefix>:<transaction id>` with a TTL as a safety net.
type RedisStateStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStateStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStateStore {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "crypto_ledger:reconcile"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	return &RedisStateStore{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

func (r *RedisStateStore) key(id uuid.UUID) string {
	return fmt.Sprintf("%s:%s", r.prefix, id)
}

func (r *RedisStateStore) Get(ctx context.Context, id uuid.UUID) (ReconciliationState, bool, error) {
	values, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return ReconciliationState{}, false, err
	}
	if len(values) == 0 {
		return ReconciliationState{}, false, nil
	}
	return decodeState(values)
}

func (r *RedisStateStore) Put(ctx context.Context, id uuid.UUID, state ReconciliationState) error {
	key := r.key(id)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		stateFieldLastChecked, strconv.FormatInt(state.LastCheckedAt.UnixNano(), 10),
		stateFieldRetryCount, strconv.Itoa(state.RetryCount),
	)
	pipe.Expire(ctx, key, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStateStore) Delete(ctx context.Context, id uuid.UUID) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

func (r *RedisStateStore) Retain(ctx context.Context, live map[uuid.UUID]struct{}) error {
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 200).Iterator()
	var stale []string
	for iter.Next(ctx) {
		key := iter.Val()
		id, err := uuid.Parse(strings.TrimPrefix(key, r.prefix+":"))
		if err != nil {
			continue
		}
		if _, ok := live[id]; !ok {
			stale = append(stale, key)
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	return r.client.Del(ctx, stale...).Err()
}

func decodeState(values map[string]string) (ReconciliationState, bool, error) {
	nanos, err := strconv.ParseInt(values[stateFieldLastChecked], 10, 64)
	if err != nil {
		return ReconciliationState{}, false, fmt.Errorf("decode %s: %w", stateFieldLastChecked, err)
	}
	retries, err := strconv.Atoi(values[stateFieldRetryCount])
	if err != nil {
		return ReconciliationState{}, false, fmt.Errorf("decode %s: %w", stateFieldRetryCount, err)
	}
	if retries < 0 {
		return ReconciliationState{}, false, errors.New("negative retry count in reconciliation state")
	}
	return ReconciliationState{
		LastCheckedAt: time.Unix(0, nanos).UTC(),
		RetryCount:    retries,
	}, true, nil
}
