package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type record struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func TestRedisStore_SaveLoadTake(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "test:")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "job-1", record{Status: "pending"}, time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("test:job-1"))

	// TTL 0 の更新では有効期限を維持する
	require.NoError(t, store.Save(ctx, "job-1", record{Status: "ready", Count: 3}, 0))
	assert.Equal(t, time.Hour, mr.TTL("test:job-1"))

	var got record
	require.NoError(t, store.Load(ctx, "job-1", &got))
	assert.Equal(t, record{Status: "ready", Count: 3}, got)

	var taken record
	require.NoError(t, store.Take(ctx, "job-1", &taken))
	assert.Equal(t, "ready", taken.Status)
	assert.ErrorIs(t, store.Take(ctx, "job-1", &taken), ErrNotFound)
	assert.ErrorIs(t, store.Load(ctx, "job-1", &taken), ErrNotFound)
}

func TestRedisStore_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "job-2", record{Status: "ready"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	var got record
	assert.ErrorIs(t, store.Load(ctx, "job-2", &got), ErrNotFound)
}

func TestRedisStore_SaveKeepingTTLAfterExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "job-3", record{Status: "processing"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	// 期限切れ後の更新でジョブを復活させない
	assert.ErrorIs(t, store.Save(ctx, "job-3", record{Status: "ready"}, 0), ErrNotFound)
	assert.False(t, mr.Exists("test:job-3"))
	assert.ErrorIs(t, store.Save(ctx, "never-saved", record{Status: "ready"}, 0), ErrNotFound)
}

func TestMemoryStore_ExpiryAndTake(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "a", record{Status: "pending"}, 10*time.Minute))
	now = now.Add(5 * time.Minute)
	require.NoError(t, store.Save(ctx, "a", record{Status: "ready"}, 0))

	var got record
	require.NoError(t, store.Load(ctx, "a", &got))
	assert.Equal(t, "ready", got.Status)

	// 元の有効期限（作成から10分）で失効する
	now = now.Add(6 * time.Minute)
	assert.ErrorIs(t, store.Load(ctx, "a", &got), ErrNotFound)
	assert.ErrorIs(t, store.Save(ctx, "a", record{Status: "ready"}, 0), ErrNotFound)
	assert.ErrorIs(t, store.Load(ctx, "a", &got), ErrNotFound)

	require.NoError(t, store.Save(ctx, "b", record{Status: "ready"}, time.Minute))
	var wg sync.WaitGroup
	var taken int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var r record
			if store.Take(ctx, "b", &r) == nil {
				atomic.AddInt32(&taken, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), taken)
}

func TestLocalQueue_RunsRegisteredHandlers(t *testing.T) {
	q := NewLocalQueue(context.Background(), 2, zap.NewNop())

	var (
		mu       sync.Mutex
		payloads []string
	)
	q.Register("echo", func(ctx context.Context, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		payloads = append(payloads, string(payload))
		return nil
	})
	q.Register("fail", func(ctx context.Context, payload []byte) error {
		return errors.New("boom")
	})
	q.Register("panic", func(ctx context.Context, payload []byte) error {
		panic("unexpected")
	})

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "echo", []byte("a")))
	require.NoError(t, q.Enqueue(ctx, "fail", nil))
	require.NoError(t, q.Enqueue(ctx, "panic", nil))
	require.NoError(t, q.Enqueue(ctx, "echo", []byte("b")))
	q.Wait()

	assert.ElementsMatch(t, []string{"a", "b"}, payloads)
	assert.ErrorIs(t, q.Enqueue(ctx, "missing", nil), ErrUnknownTask)
}

func TestLocalQueue_EnqueueDoesNotBlockWhenBusy(t *testing.T) {
	q := NewLocalQueue(context.Background(), 1, zap.NewNop())

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var ran int32
	q.Register("hold", func(ctx context.Context, payload []byte) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		atomic.AddInt32(&ran, 1)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "hold", nil))
	<-started

	// ワーカーが埋まっていても登録はすぐに返る
	done := make(chan error, 1)
	go func() { done <- q.Enqueue(ctx, "hold", nil) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked while the pool was busy")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, q.Enqueue(cancelled, "hold", nil), context.Canceled)

	close(release)
	q.Wait()
	assert.Equal(t, int32(2), atomic.LoadInt32(&ran))
}

func TestAdapt_PermanentSkipsRetry(t *testing.T) {
	permanent := adapt(func(ctx context.Context, payload []byte) error {
		return Permanent(errors.New("壊れたペイロード"))
	})
	transient := adapt(func(ctx context.Context, payload []byte) error {
		return errors.New("一時的な失敗")
	})
	ok := adapt(func(ctx context.Context, payload []byte) error { return nil })

	task := asynq.NewTask("t", []byte("{}"))
	assert.ErrorIs(t, permanent(context.Background(), task), asynq.SkipRetry)

	err := transient(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))

	assert.NoError(t, ok(context.Background(), task))
	assert.Nil(t, Permanent(nil))
}
