// Package app wires storage, queues, blob stores and domain services from
// the configuration. The API server and the worker share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiWarehouse/internal/config"
	"github.com/nemonet1337/zaiWarehouse/internal/metrics"
	"github.com/nemonet1337/zaiWarehouse/internal/notify"
	"github.com/nemonet1337/zaiWarehouse/pkg/blob"
	"github.com/nemonet1337/zaiWarehouse/pkg/export"
	"github.com/nemonet1337/zaiWarehouse/pkg/importer"
	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
	"github.com/nemonet1337/zaiWarehouse/pkg/inventory/storage"
	"github.com/nemonet1337/zaiWarehouse/pkg/jobs"
	"github.com/nemonet1337/zaiWarehouse/pkg/purchasing"
	"github.com/nemonet1337/zaiWarehouse/pkg/tabular"
)

// Storage is a backend serving both the ledger and purchase orders
type Storage interface {
	inventory.Storage
	purchasing.Storage
}

// App holds the wired services
// 構成済みのサービス群
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Storage   Storage
	Manager   *inventory.Manager
	Workflow  *purchasing.Workflow
	Dashboard *inventory.Dashboard
	Exports   *export.Coordinator
	Imports   *importer.Coordinator
	Blobs     blob.Store
	Metrics   *metrics.Metrics
	Queue     jobs.Queue

	redis   *redis.Client
	local   *jobs.LocalQueue
	closers []func() error
}

// New builds the application. In local mode tasks run in-process and are
// registered here; otherwise they are enqueued to asynq and executed by
// the worker.
// 設定からアプリケーションを構成
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}

	if err := a.openStorage(); err != nil {
		return nil, err
	}
	if err := a.openBlobs(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var (
		store jobs.Store
		sink  notify.Sink = notify.NewLogPublisher(logger)
	)
	if cfg.Queue.Driver == "asynq" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, a.redis.Close)
		store = jobs.NewRedisStore(a.redis, "")
		sink = notify.Fanout{sink, notify.NewRedisPublisher(a.redis, notify.WithLogger(logger))}

		queue := jobs.NewAsynqQueue(a.RedisOpts(), cfg.Queue.MaxRetry, cfg.Queue.TaskTimeout)
		a.closers = append(a.closers, queue.Close)
		a.Queue = queue
	} else {
		store = jobs.NewMemoryStore()
		a.local = jobs.NewLocalQueue(ctx, cfg.Queue.Concurrency, logger)
		a.Queue = a.local
	}

	publisher := metrics.NewPublisher(a.Metrics, sink, sink)
	a.Manager = inventory.NewManager(a.Storage, publisher, logger, &inventory.Config{
		LowStockThreshold:   cfg.Inventory.LowStockThreshold,
		DefaultHistoryLimit: cfg.Inventory.DefaultHistoryLimit,
		MaxHistoryLimit:     cfg.Inventory.MaxHistoryLimit,
	})
	a.Workflow = purchasing.NewWorkflow(a.Storage, a.Manager, publisher, logger)
	a.Dashboard = inventory.NewDashboard(a.Storage, a.Workflow, logger, nil)

	a.Exports = export.NewCoordinator(store, a.Queue, a.Blobs, export.NewSource(a.Storage, a.Storage), export.Config{
		TTL:    cfg.Export.TTL,
		Format: tabular.Format(cfg.Export.Format),
	}, logger)
	a.Exports.SetObserver(a.Metrics)

	a.Imports = importer.NewCoordinator(store, a.Queue, a.Blobs, a.Manager, sink, importer.Config{
		TTL:     cfg.Import.TTL,
		MaxSize: cfg.Import.MaxSize,
	}, logger)
	a.Imports.SetObserver(a.Metrics)

	if a.local != nil {
		for _, h := range a.TaskHandlers() {
			a.local.Register(h.Type, h.Handler)
		}
	}
	return a, nil
}

func (a *App) openStorage() error {
	db := a.Config.Database
	switch db.Driver {
	case "memory":
		a.Storage = storage.NewMemoryStorage(a.Logger)
	case "postgres":
		pg, err := storage.NewPostgreSQLStorage(a.Config.DSN(), storage.PoolConfig{
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnLifetime,
		}, a.Logger)
		if err != nil {
			return err
		}
		a.Storage = pg
	default:
		return fmt.Errorf("無効なデータベースドライバー: %s", db.Driver)
	}
	a.closers = append(a.closers, a.Storage.Close)
	return nil
}

func (a *App) openBlobs(ctx context.Context) error {
	cfg := a.Config.Blob
	switch cfg.Driver {
	case "local":
		store, err := blob.NewLocalStore(cfg.LocalDir, a.Logger)
		if err != nil {
			return err
		}
		a.Blobs = store
	case "minio":
		store, err := blob.NewMinIOStore(blob.MinIOConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		}, a.Logger)
		if err != nil {
			return err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return err
		}
		a.Blobs = store
	case "s3":
		store, err := blob.NewS3Store(ctx, blob.S3Config{
			Endpoint:     cfg.Endpoint,
			Region:       cfg.Region,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			Bucket:       cfg.Bucket,
			UseSSL:       cfg.UseSSL,
			UsePathStyle: cfg.Endpoint != "",
		}, blob.WithS3Logger(a.Logger))
		if err != nil {
			return err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return err
		}
		a.Blobs = store
	default:
		return fmt.Errorf("無効なファイル保存ドライバー: %s", cfg.Driver)
	}
	return nil
}

// RedisOpts returns the asynq connection options
func (a *App) RedisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}
}

// TaskHandlers returns every background task handler, instrumented
func (a *App) TaskHandlers() []jobs.TaskHandler {
	var handlers []jobs.TaskHandler
	handlers = append(handlers, a.Exports.Handlers()...)
	handlers = append(handlers, a.Imports.Handlers()...)
	return a.Metrics.WrapHandlers(handlers)
}

// Cron returns the periodic task registrations for the worker
func (a *App) Cron() []jobs.CronRegistration {
	if a.Config.Queue.SweepCron == "" {
		return nil
	}
	return []jobs.CronRegistration{{Spec: a.Config.Queue.SweepCron, TaskType: export.TaskSweep}}
}

// RunLocalSweep removes expired exports on a ticker until ctx ends. It
// stands in for the worker's cron in local mode.
// ローカルモードで期限切れエクスポートを定期削除
func (a *App) RunLocalSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Exports.Sweep(ctx); err != nil {
				a.Logger.Warn("期限切れエクスポートの削除に失敗しました", zap.Error(err))
			}
		}
	}
}

// Local reports whether tasks run in-process
func (a *App) Local() bool {
	return a.local != nil
}

// Wait blocks until in-process tasks finish. It is a no-op with asynq.
func (a *App) Wait() {
	if a.local != nil {
		a.local.Wait()
	}
}

// Ping checks the storage and Redis connections
func (a *App) Ping(ctx context.Context) error {
	if err := a.Storage.Ping(ctx); err != nil {
		return err
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("Redis接続確認に失敗しました: %w", err)
		}
	}
	return nil
}

// Close releases every resource in reverse order of acquisition
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
