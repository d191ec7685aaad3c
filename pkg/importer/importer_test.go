package importer

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nemonet1337/zaiWarehouse/pkg/blob"
	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
	"github.com/nemonet1337/zaiWarehouse/pkg/inventory/storage"
	"github.com/nemonet1337/zaiWarehouse/pkg/jobs"
	"github.com/nemonet1337/zaiWarehouse/pkg/tabular"
)

type countingQueue struct {
	mu    sync.Mutex
	count int
}

func (q *countingQueue) Enqueue(ctx context.Context, taskType string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.count++
	return nil
}

type failingQueue struct{}

func (failingQueue) Enqueue(ctx context.Context, taskType string, payload []byte) error {
	return errors.New("キューに接続できません")
}

type recordingNotifier struct {
	mu        sync.Mutex
	summaries []Summary
}

func (n *recordingNotifier) NotifyImport(ctx context.Context, summary Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, summary)
	return nil
}

type importFixture struct {
	coordinator *Coordinator
	queue       *jobs.LocalQueue
	blobs       *blob.LocalStore
	manager     *inventory.Manager
	notifier    *recordingNotifier
	logs        *observer.ObservedLogs
}

func newImportFixture(t *testing.T) *importFixture {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	store := storage.NewMemoryStorage(zap.NewNop())
	manager := inventory.NewManager(store, nil, zap.NewNop(), inventory.DefaultConfig())
	blobs, err := blob.NewLocalStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	queue := jobs.NewLocalQueue(context.Background(), 1, zap.NewNop())
	notifier := &recordingNotifier{}

	c := NewCoordinator(jobs.NewMemoryStore(), queue, blobs, manager, notifier, Config{}, logger)
	for _, h := range c.Handlers() {
		queue.Register(h.Type, h.Handler)
	}
	return &importFixture{coordinator: c, queue: queue, blobs: blobs, manager: manager, notifier: notifier, logs: logs}
}

func csvUpload(t *testing.T, name string, headers []string, rows [][]any) Upload {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, tabular.Write(&buf, tabular.FormatCSV, "data", headers, rows))
	return Upload{Filename: name, Content: buf.Bytes()}
}

func TestStart_RejectsBadUploads(t *testing.T) {
	queue := &countingQueue{}
	c := NewCoordinator(jobs.NewMemoryStore(), queue, nil, nil, nil, Config{MaxSize: 16}, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		entity string
		upload Upload
	}{
		{"不正な拡張子", "products", Upload{Filename: "products.pdf", Content: []byte("%PDF")}},
		{"拡張子なし", "products", Upload{Filename: "products", Content: []byte("a")}},
		{"空ファイル", "products", Upload{Filename: "products.csv"}},
		{"ファイル名なし", "products", Upload{Content: []byte("a")}},
		{"未対応エンティティ", "orders", Upload{Filename: "orders.csv", Content: []byte("a")}},
		{"サイズ超過", "products", Upload{Filename: "big.csv", Content: bytes.Repeat([]byte("x"), 17)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Start(ctx, tc.entity, tc.upload)
			assert.True(t, inventory.IsValidationError(err), "err = %v", err)
		})
	}
	assert.Zero(t, queue.count)
}

func TestProcess_CategoriesUpsertByName(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	existing := &inventory.Category{Name: "工具", Description: "旧"}
	require.NoError(t, f.manager.CreateCategory(ctx, existing))

	upload := csvUpload(t, "categories.csv", []string{"name", "description"}, [][]any{
		{"工具", "電動工具と手工具"},
		{"消耗品", "刃・ビット"},
	})
	job, err := f.coordinator.Start(ctx, "categories", upload)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	f.queue.Wait()

	status, err := f.coordinator.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, status.Status)
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 1, status.Created)
	assert.Equal(t, 1, status.Updated)
	assert.Empty(t, status.Failed)

	updated, err := f.manager.GetCategory(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "電動工具と手工具", updated.Description)

	categories, err := f.manager.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, categories, 2)

	// 処理後にアップロードファイルは削除される
	left, err := f.blobs.List(ctx, "imports/")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestProcess_ProductRowFailuresAreNotified(t *testing.T) {
	f := newImportFixture(t)
	ctx := inventory.WithUser(context.Background(), "user-3")

	category := &inventory.Category{Name: "工具"}
	require.NoError(t, f.manager.CreateCategory(ctx, category))
	supplier := &inventory.Supplier{Name: "山田商事"}
	require.NoError(t, f.manager.CreateSupplier(ctx, supplier))

	upload := csvUpload(t, "products.csv",
		[]string{"name", "category", "supplier", "price", "specifications", "is_active"},
		[][]any{
			{"電動ドリル", "工具", "山田商事", "1,200.50", "電圧: 18V; 重量: 1.5kg", "true"},
			{"丸ノコ", "存在しないカテゴリ", "山田商事", "8000", "", ""},
			{"", "工具", "山田商事", "100", "", ""},
			{"ドライバー", "工具", "山田商事", "abc", "", ""},
		})
	job, err := f.coordinator.Start(ctx, "products", upload)
	require.NoError(t, err)
	f.queue.Wait()

	status, err := f.coordinator.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, status.Status)
	assert.Equal(t, 4, status.Total)
	assert.Equal(t, 1, status.Created)
	require.Len(t, status.Failed, 3)
	assert.Equal(t, []int{3, 4, 5}, []int{status.Failed[0].Line, status.Failed[1].Line, status.Failed[2].Line})

	products, err := f.manager.ListProducts(ctx, inventory.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.True(t, decimal.RequireFromString("1200.50").Equal(products[0].Price))
	assert.Equal(t, []inventory.Specification{{Title: "電圧", Value: "18V"}, {Title: "重量", Value: "1.5kg"}}, products[0].Specifications)
	assert.Equal(t, category.ID, products[0].CategoryID)

	require.Len(t, f.notifier.summaries, 1)
	summary := f.notifier.summaries[0]
	assert.Equal(t, job.ID, summary.JobID)
	assert.Equal(t, "user-3", summary.UserID)
	assert.Len(t, summary.Failed, 3)

	entries := f.logs.FilterMessage("取込が完了しました").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].ContextMap()["failed"])
}

func TestProcess_UnreadableFileFailsJob(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	job, err := f.coordinator.Start(ctx, "warehouses", Upload{Filename: "warehouses.xlsx", Content: []byte("not a workbook")})
	require.NoError(t, err)
	f.queue.Wait()

	status, err := f.coordinator.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status.Status)
	assert.NotEmpty(t, status.Error)

	require.Len(t, f.notifier.summaries, 1)
	assert.Equal(t, StatusFailed, f.notifier.summaries[0].Status)
	assert.Equal(t, 1, f.logs.FilterMessage("取込に失敗しました").Len())
}

func TestStatus_Unknown(t *testing.T) {
	c := NewCoordinator(jobs.NewMemoryStore(), &countingQueue{}, nil, nil, nil, Config{}, nil)
	_, err := c.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestParseSpecifications(t *testing.T) {
	specs, err := parseSpecifications("色: 赤; ; サイズ: L")
	require.NoError(t, err)
	assert.Equal(t, []inventory.Specification{{Title: "色", Value: "赤"}, {Title: "サイズ", Value: "L"}}, specs)

	_, err = parseSpecifications("色赤")
	assert.True(t, inventory.IsValidationError(err))
}

func TestStart_EnqueueFailureRemovesUpload(t *testing.T) {
	mr := miniredis.RunT(t)
	store := jobs.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	blobs, err := blob.NewLocalStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	c := NewCoordinator(store, failingQueue{}, blobs, nil, nil, Config{}, nil)
	ctx := context.Background()

	upload := csvUpload(t, "categories.csv", []string{"name"}, [][]any{{"工具"}})
	job, err := c.Start(ctx, "categories", upload)
	require.Error(t, err)
	assert.Nil(t, job)

	// ジョブ情報もアップロードファイルも残らない
	assert.Empty(t, mr.Keys())
	left, err := blobs.List(ctx, "imports/")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestProcess_ExpiredJobRemovesUpload(t *testing.T) {
	mr := miniredis.RunT(t)
	store := jobs.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	blobs, err := blob.NewLocalStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	queue := &countingQueue{}
	c := NewCoordinator(store, queue, blobs, nil, nil, Config{TTL: time.Hour}, nil)
	ctx := context.Background()

	upload := csvUpload(t, "categories.csv", []string{"name"}, [][]any{{"工具"}})
	job, err := c.Start(ctx, "categories", upload)
	require.NoError(t, err)
	assert.Equal(t, 1, queue.count)

	left, err := blobs.List(ctx, "imports/")
	require.NoError(t, err)
	require.Len(t, left, 1)

	mr.FastForward(2 * time.Hour)
	err = c.Process(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, jobs.IsPermanent(err))

	left, err = blobs.List(ctx, "imports/")
	require.NoError(t, err)
	assert.Empty(t, left)
}
