// Package importer loads catalog data from uploaded spreadsheets. Uploads
// are checked and stored synchronously; rows are applied by a background
// task and the outcome is reported through a Notifier.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/zaiWarehouse/pkg/blob"
	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
	"github.com/nemonet1337/zaiWarehouse/pkg/jobs"
	"github.com/nemonet1337/zaiWarehouse/pkg/tabular"
)

// TaskProcess is the worker task type for imports
const TaskProcess = "import:process"

// ErrNotFound is returned for unknown or expired import jobs
// 取込ジョブが存在しない場合のエラー
var ErrNotFound = fmt.Errorf("取込ジョブ: %w", inventory.ErrNotFound)

// Entity is an importable entity type
type Entity string

const (
	EntityProducts   Entity = "products"
	EntityCategories Entity = "categories"
	EntitySuppliers  Entity = "suppliers"
	EntityWarehouses Entity = "warehouses"
)

// Status is the lifecycle state of an import job
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Upload is a file received from a client
type Upload struct {
	Filename string
	Content  []byte
}

// RowError describes one rejected row
// 取込に失敗した行
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// Job is the persisted state of one import
// 取込ジョブ
type Job struct {
	ID          string     `json:"id"`
	Entity      Entity     `json:"entity"`
	Filename    string     `json:"filename"`
	Status      Status     `json:"status"`
	Total       int        `json:"total"`
	Created     int        `json:"created"`
	Updated     int        `json:"updated"`
	Failed      []RowError `json:"failed,omitempty"`
	Error       string     `json:"error,omitempty"`
	UploadKey   string     `json:"upload_key"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedBy   string     `json:"created_by"`
}

// Summary is sent to the notifier when an import finishes
// 取込完了時の通知内容
type Summary struct {
	JobID    string     `json:"job_id"`
	Entity   Entity     `json:"entity"`
	Filename string     `json:"filename"`
	Status   Status     `json:"status"`
	Total    int        `json:"total"`
	Created  int        `json:"created"`
	Updated  int        `json:"updated"`
	Failed   []RowError `json:"failed,omitempty"`
	Error    string     `json:"error,omitempty"`
	UserID   string     `json:"user_id"`
}

// Notifier receives import summaries
// 取込結果の通知先
type Notifier interface {
	NotifyImport(ctx context.Context, summary Summary) error
}

// Payload is the body of a process task
type Payload struct {
	JobID string `json:"job_id"`
}

// Config controls job lifetime and limits
type Config struct {
	TTL     time.Duration // ジョブ情報の保持期間
	MaxSize int64         // アップロード上限（バイト）
	Prefix  string        // Blobキーの接頭辞
}

// DefaultConfig returns default settings
func DefaultConfig() Config {
	return Config{TTL: 24 * time.Hour, MaxSize: 10 << 20, Prefix: "imports"}
}

// Observer is notified when a job finishes. It may be nil.
type Observer interface {
	ObserveJob(kind string, status string, duration time.Duration)
}

// Coordinator runs the import job lifecycle
// 取込ジョブの調整役
type Coordinator struct {
	store    jobs.Store
	queue    jobs.Queue
	blobs    blob.Store
	catalog  inventory.CatalogManager
	notifier Notifier
	observer Observer
	config   Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewCoordinator creates an import coordinator. notifier may be nil.
// 新しい取込コーディネーターを作成
func NewCoordinator(store jobs.Store, queue jobs.Queue, blobs blob.Store, catalog inventory.CatalogManager, notifier Notifier, config Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaults.MaxSize
	}
	if config.Prefix == "" {
		config.Prefix = defaults.Prefix
	}
	return &Coordinator{
		store:    store,
		queue:    queue,
		blobs:    blobs,
		catalog:  catalog,
		notifier: notifier,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// SetObserver attaches a job observer such as a metrics tracker
func (c *Coordinator) SetObserver(o Observer) {
	c.observer = o
}

func jobKey(id string) string {
	return "import:" + id
}

// Start checks the upload, stores it and enqueues processing. Rejected
// uploads are never enqueued.
// アップロードを検証・保存し取込処理を登録
func (c *Coordinator) Start(ctx context.Context, entity string, upload Upload) (*Job, error) {
	if _, ok := importers[Entity(entity)]; !ok {
		return nil, inventory.NewValidationError("entity", "取込できないエンティティです", entity)
	}
	if strings.TrimSpace(upload.Filename) == "" || len(upload.Content) == 0 {
		return nil, inventory.NewValidationError("file", "ファイルを指定してください", upload.Filename)
	}
	format, err := tabular.FormatFromFilename(upload.Filename)
	if err != nil {
		return nil, inventory.NewValidationError("file", "xlsxまたはcsvファイルのみ取込できます", upload.Filename)
	}
	if int64(len(upload.Content)) > c.config.MaxSize {
		return nil, inventory.NewValidationError("file", "ファイルサイズが上限を超えています", upload.Filename)
	}

	job := &Job{
		ID:        inventory.NewID(),
		Entity:    Entity(entity),
		Filename:  filepath.Base(upload.Filename),
		Status:    StatusQueued,
		CreatedAt: c.now(),
		CreatedBy: inventory.UserFromContext(ctx),
	}
	job.UploadKey = blob.Key(c.config.Prefix, job.ID+format.Extension())

	if err := c.blobs.Put(ctx, job.UploadKey, bytes.NewReader(upload.Content), int64(len(upload.Content)), format.ContentType()); err != nil {
		return nil, fmt.Errorf("アップロードファイルの保存に失敗しました: %w", err)
	}
	if err := c.store.Save(ctx, jobKey(job.ID), job, c.config.TTL); err != nil {
		c.deleteUpload(ctx, job.UploadKey)
		return nil, err
	}

	payload, err := json.Marshal(Payload{JobID: job.ID})
	if err != nil {
		c.discardJob(ctx, job)
		return nil, err
	}
	if err := c.queue.Enqueue(ctx, TaskProcess, payload); err != nil {
		c.discardJob(ctx, job)
		return nil, fmt.Errorf("取込タスクの登録に失敗しました: %w", err)
	}

	c.logger.Info("取込を受け付けました",
		zap.String("job_id", job.ID),
		zap.String("entity", entity),
		zap.String("filename", job.Filename),
		zap.Int("bytes", len(upload.Content)),
	)
	return job, nil
}

// Status returns the job for polling
// 取込ジョブの状態を取得
func (c *Coordinator) Status(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var job Job
	if err := c.store.Load(ctx, jobKey(id), &job); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// HandleProcess is the worker handler for TaskProcess
func (c *Coordinator) HandleProcess(ctx context.Context, payload []byte) error {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil || p.JobID == "" {
		return jobs.Permanent(fmt.Errorf("不正な取込タスクです: %s", string(payload)))
	}
	return c.Process(ctx, p.JobID)
}

// Process applies every row of the uploaded file. Row failures are
// collected; an unreadable file fails the whole job. The upload is
// deleted once the job reaches a final state.
// アップロードファイルの各行を取り込む
func (c *Coordinator) Process(ctx context.Context, id string) error {
	started := c.now()
	job, err := c.Status(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.logger.Warn("期限切れの取込ジョブをスキップしました", zap.String("job_id", id))
			c.discardExpiredUpload(ctx, id)
			return jobs.Permanent(err)
		}
		return err
	}
	if job.Status == StatusDone || job.Status == StatusFailed {
		return nil
	}

	job.Status = StatusProcessing
	if err := c.store.Save(ctx, jobKey(id), job, 0); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.logger.Warn("期限切れの取込ジョブをスキップしました", zap.String("job_id", id))
			c.deleteUpload(ctx, job.UploadKey)
			return jobs.Permanent(ErrNotFound)
		}
		return err
	}

	records, err := c.readUpload(ctx, job)
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		c.finish(ctx, job, started)
		return jobs.Permanent(err)
	}

	apply := importers[job.Entity]
	run := newRun(c.catalog)
	if err := run.load(ctx); err != nil {
		// 参照データの読み込み失敗は再試行の対象
		job.Status = StatusQueued
		if saveErr := c.store.Save(ctx, jobKey(id), job, 0); saveErr != nil {
			c.logger.Error("取込ジョブ状態の保存に失敗しました", zap.String("job_id", id), zap.Error(saveErr))
		}
		return err
	}

	job.Total = len(records)
	for _, rec := range records {
		created, err := apply(ctx, run, rec)
		if err != nil {
			job.Failed = append(job.Failed, RowError{Line: rec.Line, Message: err.Error()})
			continue
		}
		if created {
			job.Created++
		} else {
			job.Updated++
		}
	}
	job.Status = StatusDone
	c.finish(ctx, job, started)
	return nil
}

func (c *Coordinator) readUpload(ctx context.Context, job *Job) ([]tabular.Record, error) {
	format, err := tabular.FormatFromFilename(job.UploadKey)
	if err != nil {
		return nil, err
	}
	rc, _, err := c.blobs.Get(ctx, job.UploadKey)
	if err != nil {
		return nil, fmt.Errorf("アップロードファイルを取得できません: %w", err)
	}
	defer rc.Close()
	records, err := tabular.Read(rc, format)
	if err != nil {
		return nil, fmt.Errorf("ファイルを読み込めません: %w", err)
	}
	return records, nil
}

// finish saves the final state, notifies and removes the upload
func (c *Coordinator) finish(ctx context.Context, job *Job, started time.Time) {
	completed := c.now()
	job.CompletedAt = &completed
	if err := c.store.Save(ctx, jobKey(job.ID), job, 0); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.logger.Warn("処理中に取込ジョブが期限切れになりました", zap.String("job_id", job.ID))
		} else {
			c.logger.Error("取込ジョブ状態の保存に失敗しました", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("entity", string(job.Entity)),
		zap.String("status", string(job.Status)),
		zap.Int("total", job.Total),
		zap.Int("created", job.Created),
		zap.Int("updated", job.Updated),
		zap.Int("failed", len(job.Failed)),
	}
	if job.Status == StatusFailed {
		c.logger.Error("取込に失敗しました", append(fields, zap.String("error", job.Error))...)
	} else {
		c.logger.Info("取込が完了しました", fields...)
	}

	if c.notifier != nil {
		summary := Summary{
			JobID:    job.ID,
			Entity:   job.Entity,
			Filename: job.Filename,
			Status:   job.Status,
			Total:    job.Total,
			Created:  job.Created,
			Updated:  job.Updated,
			Failed:   job.Failed,
			Error:    job.Error,
			UserID:   job.CreatedBy,
		}
		if err := c.notifier.NotifyImport(ctx, summary); err != nil {
			c.logger.Warn("取込結果の通知に失敗しました", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	c.deleteUpload(ctx, job.UploadKey)
	if c.observer != nil {
		c.observer.ObserveJob("import", string(job.Status), completed.Sub(started))
	}
}

// discardJob removes a job that was never enqueued along with its upload
func (c *Coordinator) discardJob(ctx context.Context, job *Job) {
	var discarded Job
	if err := c.store.Take(ctx, jobKey(job.ID), &discarded); err != nil && !errors.Is(err, jobs.ErrNotFound) {
		c.logger.Warn("未登録の取込ジョブの削除に失敗しました", zap.String("job_id", job.ID), zap.Error(err))
	}
	c.deleteUpload(ctx, job.UploadKey)
}

// discardExpiredUpload deletes the upload of a job whose record is gone.
// The extension is unknown, so every key under the job id is removed.
func (c *Coordinator) discardExpiredUpload(ctx context.Context, id string) {
	objects, err := c.blobs.List(ctx, blob.Key(c.config.Prefix, id)+".")
	if err != nil {
		c.logger.Warn("アップロードファイルの一覧取得に失敗しました", zap.String("job_id", id), zap.Error(err))
		return
	}
	for _, obj := range objects {
		c.deleteUpload(ctx, obj.Key)
	}
}

func (c *Coordinator) deleteUpload(ctx context.Context, key string) {
	if err := c.blobs.Delete(ctx, key); err != nil {
		c.logger.Warn("アップロードファイルの削除に失敗しました", zap.String("key", key), zap.Error(err))
	}
}

// Handlers returns the worker registrations for this coordinator
func (c *Coordinator) Handlers() []jobs.TaskHandler {
	return []jobs.TaskHandler{{Type: TaskProcess, Handler: c.HandleProcess}}
}
