package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no record exists for the key, including
// after it expired or was taken
// ジョブ情報が存在しない場合のエラー
var ErrNotFound = errors.New("ジョブ情報が見つかりません")

// Store keeps short-lived job records shared between the API and workers
// ジョブ状態の保存インターフェース
type Store interface {
	// Save stores v as JSON. ttl 0 updates an existing record and keeps its
	// current expiry; it returns ErrNotFound once the record has expired.
	Save(ctx context.Context, key string, v any, ttl time.Duration) error
	// Load decodes the record into v.
	Load(ctx context.Context, key string, v any) error
	// Take decodes the record into v and deletes it atomically. Of several
	// concurrent callers only one succeeds.
	Take(ctx context.Context, key string, v any) error
}

// RedisStore keeps job records in Redis
// Redisを使用したジョブ状態ストア
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store with an existing Redis client
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "zaiwarehouse:jobs:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// Save sets the key with SET EX, or with SET XX KEEPTTL when ttl is 0
func (s *RedisStore) Save(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ジョブ情報のシリアライズに失敗しました: %w", err)
	}
	args := redis.SetArgs{TTL: ttl}
	if ttl <= 0 {
		args = redis.SetArgs{Mode: "XX", KeepTTL: true}
	}
	err = s.client.SetArgs(ctx, s.keyPrefix+key, data, args).Err()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("ジョブ情報の保存に失敗しました: %w", err)
	}
	return nil
}

// Load reads the key
func (s *RedisStore) Load(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	return s.decode(data, err, v)
}

// Take reads and deletes the key with GETDEL
func (s *RedisStore) Take(ctx context.Context, key string, v any) error {
	data, err := s.client.GetDel(ctx, s.keyPrefix+key).Bytes()
	return s.decode(data, err, v)
}

func (s *RedisStore) decode(data []byte, err error, v any) error {
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("ジョブ情報の取得に失敗しました: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ジョブ情報のデシリアライズに失敗しました: %w", err)
	}
	return nil
}

// MemoryStore keeps job records in process memory
// プロセス内メモリのジョブ状態ストア
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memoryEntry{}, now: time.Now}
}

// Save stores the record. With ttl 0 the record must still be live.
func (s *MemoryStore) Save(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ジョブ情報のシリアライズに失敗しました: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	} else {
		existing, ok := s.live(key)
		if !ok {
			return ErrNotFound
		}
		entry.expiresAt = existing.expiresAt
	}
	s.entries[key] = entry
	return nil
}

// Load reads the record
func (s *MemoryStore) Load(ctx context.Context, key string, v any) error {
	s.mu.Lock()
	entry, ok := s.live(key)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(entry.data, v)
}

// Take reads and removes the record
func (s *MemoryStore) Take(ctx context.Context, key string, v any) error {
	s.mu.Lock()
	entry, ok := s.live(key)
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(entry.data, v)
}

// live returns the entry unless it has expired; the caller holds mu
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}
