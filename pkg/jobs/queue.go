// Package jobs runs background work for exports and imports. Tasks are
// identified by a type string and carry a JSON payload; they run either on
// an asynq worker backed by Redis or in-process on a bounded goroutine pool.
package jobs

import (
	"context"
	"errors"
)

const (
	// QueueDefault is the queue name for background jobs
	QueueDefault = "default"
)

// HandlerFunc processes one task payload
// タスク処理関数
type HandlerFunc func(ctx context.Context, payload []byte) error

// Queue submits tasks for background processing
// バックグラウンド処理キュー
type Queue interface {
	Enqueue(ctx context.Context, taskType string, payload []byte) error
}

// ErrUnknownTask is returned when no handler is registered for a task type
var ErrUnknownTask = errors.New("未登録のタスク種別です")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
// 再試行不要なエラーとしてマーク
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
