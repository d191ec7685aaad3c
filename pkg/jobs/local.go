package jobs

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LocalQueue runs tasks in-process on a bounded goroutine pool. Tasks are
// not retried and do not survive a restart.
// プロセス内で実行するキュー（開発・単一ノード用）
type LocalQueue struct {
	ctx         context.Context
	group       errgroup.Group
	concurrency int
	logger      *zap.Logger

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	backlog  []localTask
	running  int
}

type localTask struct {
	taskType string
	handler  HandlerFunc
	payload  []byte
}

var _ Queue = (*LocalQueue)(nil)

// NewLocalQueue creates a queue whose tasks run under ctx with at most
// concurrency tasks at a time
func NewLocalQueue(ctx context.Context, concurrency int, logger *zap.Logger) *LocalQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &LocalQueue{
		ctx:         ctx,
		concurrency: concurrency,
		handlers:    map[string]HandlerFunc{},
		logger:      logger,
	}
}

// Register binds a handler to a task type
func (q *LocalQueue) Register(taskType string, h HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

// Enqueue schedules the task and returns without waiting for a free worker.
// Tasks beyond the pool size wait in the backlog.
// タスクを登録（ワーカーの空きを待たない）
func (q *LocalQueue) Enqueue(ctx context.Context, taskType string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.handlers[taskType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskType)
	}

	q.backlog = append(q.backlog, localTask{
		taskType: taskType,
		handler:  h,
		payload:  append([]byte(nil), payload...),
	})
	if q.running < q.concurrency {
		q.running++
		q.group.Go(q.drain)
	}
	return nil
}

// drain runs backlog tasks until none are left
func (q *LocalQueue) drain() error {
	for {
		q.mu.Lock()
		if len(q.backlog) == 0 {
			q.running--
			q.mu.Unlock()
			return nil
		}
		task := q.backlog[0]
		q.backlog[0] = localTask{}
		q.backlog = q.backlog[1:]
		q.mu.Unlock()

		q.run(task)
	}
}

func (q *LocalQueue) run(task localTask) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("タスク処理中にパニックが発生しました", zap.String("task", task.taskType), zap.Any("panic", r))
		}
	}()
	if err := task.handler(q.ctx, task.payload); err != nil {
		q.logger.Error("タスク処理に失敗しました", zap.String("task", task.taskType), zap.Error(err))
	}
}

// Wait blocks until every scheduled task has finished, backlog included
func (q *LocalQueue) Wait() {
	_ = q.group.Wait()
}
