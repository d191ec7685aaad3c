package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// AsynqQueue enqueues tasks to Redis through an asynq client
// asynqクライアントを使用したキュー
type AsynqQueue struct {
	client   *asynq.Client
	maxRetry int
	timeout  time.Duration
}

var _ Queue = (*AsynqQueue)(nil)

// NewAsynqQueue constructs an asynq-backed queue
func NewAsynqQueue(redisOpts asynq.RedisClientOpt, maxRetry int, timeout time.Duration) *AsynqQueue {
	return &AsynqQueue{
		client:   asynq.NewClient(redisOpts),
		maxRetry: maxRetry,
		timeout:  timeout,
	}
}

// Enqueue submits the task to the default queue
func (q *AsynqQueue) Enqueue(ctx context.Context, taskType string, payload []byte) error {
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(q.maxRetry)}
	if q.timeout > 0 {
		opts = append(opts, asynq.Timeout(q.timeout))
	}
	if _, err := q.client.EnqueueContext(ctx, asynq.NewTask(taskType, payload), opts...); err != nil {
		return fmt.Errorf("タスク登録に失敗しました (%s): %w", taskType, err)
	}
	return nil
}

// Close releases client resources
func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// TaskHandler binds a task type to its handler
type TaskHandler struct {
	Type    string
	Handler HandlerFunc
}

// CronRegistration wires a cron expression to a task
type CronRegistration struct {
	Spec     string
	TaskType string
	Payload  []byte
}

// WorkerConfig collects dependencies required to bootstrap the worker
// ワーカー起動に必要な設定
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *zap.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// Worker wraps the asynq server and optional scheduler
// asynqサーバーとスケジューラーをまとめたワーカー
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *zap.Logger
}

// NewWorker constructs a Worker instance
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("タスク処理に失敗しました", zap.String("task", task.Type()), zap.Error(err))
		}),
	})

	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, adapt(h.Handler))
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.TaskType == "" {
				continue
			}
			task := asynq.NewTask(entry.TaskType, entry.Payload)
			if _, err := scheduler.Register(entry.Spec, task, asynq.Queue(QueueDefault)); err != nil {
				return nil, fmt.Errorf("定期タスク登録に失敗しました (%s): %w", entry.TaskType, err)
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

// adapt converts a payload handler into an asynq handler. Permanent
// failures skip the remaining retries.
func adapt(h HandlerFunc) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		err := h(ctx, t.Payload())
		if err != nil && IsPermanent(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
}

// Run starts processing jobs until context cancellation
// コンテキストがキャンセルされるまでタスクを処理
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("ワーカーが設定されていません")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	w.logger.Info("ワーカーを起動しました")

	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		w.logger.Info("ワーカーを停止しました")
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}
