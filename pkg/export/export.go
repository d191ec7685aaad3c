// Package export generates tabular files in the background. A caller
// starts a job, polls it by token and downloads the result exactly once;
// artifacts that are never fetched are removed by a periodic sweep.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/zaiWarehouse/pkg/blob"
	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
	"github.com/nemonet1337/zaiWarehouse/pkg/jobs"
	"github.com/nemonet1337/zaiWarehouse/pkg/tabular"
)

// Task types handled by the worker
const (
	TaskGenerate = "export:generate"
	TaskSweep    = "export:sweep"
)

var (
	// ErrNotFound is returned for unknown, expired or already fetched tokens
	// 存在しない・期限切れ・取得済みのトークン
	ErrNotFound = fmt.Errorf("エクスポート: %w", inventory.ErrNotFound)

	// ErrNotReady is returned when fetching a job that is still running
	// 生成中のジョブ
	ErrNotReady = errors.New("エクスポートファイルはまだ生成中です")

	// ErrFailed is returned when fetching a job whose generation failed
	ErrFailed = errors.New("エクスポートファイルの生成に失敗しました")
)

// Entity is an exportable entity type
type Entity string

const (
	EntityProducts       Entity = "products"
	EntityPurchaseOrders Entity = "purchase_orders"
	EntityStockMovements Entity = "stock_movements"
)

// Schemas lists the fields each entity can export, in display order
// エンティティごとのエクスポート可能項目
var Schemas = map[Entity][]string{
	EntityProducts:       {"name", "price", "total_stock", "category", "supplier", "warehouse", "specifications", "is_active"},
	EntityPurchaseOrders: {"product", "category", "supplier", "price", "quantity", "status", "order_date"},
	EntityStockMovements: {"product", "warehouse", "type", "reason", "quantity", "notes", "created_at"},
}

// Status is the lifecycle state of an export job
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Job is the persisted state of one export request
// エクスポートジョブ
type Job struct {
	Token       string         `json:"token"`
	Entity      Entity         `json:"entity"`
	Fields      []string       `json:"fields"`
	Format      tabular.Format `json:"format"`
	Status      Status         `json:"status"`
	Ready       bool           `json:"ready"`
	Rows        int            `json:"rows"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedBy   string         `json:"created_by"`
}

// storedJob keeps the artifact key, which is not part of the public view
type storedJob struct {
	Job
	ArtifactKey string `json:"artifact_key"`
}

// Filename is the download name of the artifact
func (j *Job) Filename() string {
	return fmt.Sprintf("%s-%s%s", j.Entity, j.CreatedAt.Format("20060102-150405"), j.Format.Extension())
}

// Payload is the body of a generate task
type Payload struct {
	Token string `json:"token"`
}

// RowSource loads the rows for an export. Each row holds the values of
// fields in the order given.
// エクスポート行データの取得元
type RowSource interface {
	Rows(ctx context.Context, entity Entity, fields []string) ([][]any, error)
}

// Config controls job lifetime and output
type Config struct {
	TTL    time.Duration  // トークンとファイルの有効期間
	Format tabular.Format // 既定の出力形式
	Prefix string         // Blobキーの接頭辞
}

// DefaultConfig returns default settings
func DefaultConfig() Config {
	return Config{TTL: time.Hour, Format: tabular.FormatXLSX, Prefix: "exports"}
}

// Observer is notified when a job finishes. It may be nil.
type Observer interface {
	ObserveJob(kind string, status string, duration time.Duration)
}

// Coordinator runs the export job lifecycle
// エクスポートジョブの調整役
type Coordinator struct {
	store    jobs.Store
	queue    jobs.Queue
	blobs    blob.Store
	source   RowSource
	config   Config
	observer Observer
	logger   *zap.Logger
	now      func() time.Time
}

// NewCoordinator creates an export coordinator
// 新しいエクスポートコーディネーターを作成
func NewCoordinator(store jobs.Store, queue jobs.Queue, blobs blob.Store, source RowSource, config Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.Format == "" {
		config.Format = defaults.Format
	}
	if config.Prefix == "" {
		config.Prefix = defaults.Prefix
	}
	return &Coordinator{
		store:  store,
		queue:  queue,
		blobs:  blobs,
		source: source,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// SetObserver attaches a job observer such as a metrics tracker
func (c *Coordinator) SetObserver(o Observer) {
	c.observer = o
}

// Start validates the field selection, records a queued job and enqueues
// generation. It does not wait for the file.
// フィールド選択を検証しジョブを登録（生成完了は待たない）
func (c *Coordinator) Start(ctx context.Context, entity string, fields []string, format tabular.Format) (*Job, error) {
	schema, ok := Schemas[Entity(entity)]
	if !ok {
		return nil, inventory.NewValidationError("entity", "エクスポートできないエンティティです", entity)
	}
	selected, err := selectFields(schema, fields)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = c.config.Format
	}
	if _, err := tabular.ParseFormat(string(format)); err != nil {
		return nil, inventory.NewValidationError("format", "未対応の出力形式です", string(format))
	}

	job := storedJob{Job: Job{
		Token:     inventory.NewID(),
		Entity:    Entity(entity),
		Fields:    selected,
		Format:    format,
		Status:    StatusQueued,
		CreatedAt: c.now(),
		CreatedBy: inventory.UserFromContext(ctx),
	}}
	if err := c.store.Save(ctx, job.Token, job, c.config.TTL); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(Payload{Token: job.Token})
	if err != nil {
		return nil, err
	}
	if err := c.queue.Enqueue(ctx, TaskGenerate, payload); err != nil {
		var discarded storedJob
		if takeErr := c.store.Take(ctx, job.Token, &discarded); takeErr != nil && !errors.Is(takeErr, jobs.ErrNotFound) {
			c.logger.Warn("未登録ジョブの削除に失敗しました", zap.String("token", job.Token), zap.Error(takeErr))
		}
		return nil, fmt.Errorf("エクスポートタスクの登録に失敗しました: %w", err)
	}

	c.logger.Info("エクスポートを受け付けました",
		zap.String("token", job.Token),
		zap.String("entity", entity),
		zap.Strings("fields", selected),
		zap.String("format", string(format)),
	)
	return job.public(), nil
}

// selectFields checks every field against the schema and drops duplicates
// keeping first occurrence
func selectFields(schema, fields []string) ([]string, error) {
	if len(fields) == 0 {
		return nil, inventory.NewValidationError("fields", "出力項目を1つ以上選択してください", "")
	}
	allowed := make(map[string]bool, len(schema))
	for _, f := range schema {
		allowed[f] = true
	}
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if !allowed[f] {
			return nil, inventory.NewValidationError("fields", "選択できない出力項目です", f)
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}

// Status returns the job for polling
// ジョブ状態を取得
func (c *Coordinator) Status(ctx context.Context, token string) (*Job, error) {
	job, err := c.load(ctx, token)
	if err != nil {
		return nil, err
	}
	return job.public(), nil
}

// FetchAndRetire returns the artifact and deletes it. A token can be
// fetched once; later calls get ErrNotFound.
// ファイルを取得し削除（トークンは1回限り）
func (c *Coordinator) FetchAndRetire(ctx context.Context, token string) ([]byte, *Job, error) {
	job, err := c.load(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	switch job.Status {
	case StatusReady:
	case StatusFailed:
		return nil, nil, fmt.Errorf("%w: %s", ErrFailed, job.Error)
	default:
		return nil, nil, ErrNotReady
	}

	// 取得権はジョブ情報の原子的な削除で確定する
	var claimed storedJob
	if err := c.store.Take(ctx, token, &claimed); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	rc, _, err := c.blobs.Get(ctx, claimed.ArtifactKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("エクスポートファイルの読み込みに失敗しました: %w", err)
	}

	if err := c.blobs.Delete(ctx, claimed.ArtifactKey); err != nil {
		// 削除に失敗しても定期掃除で回収される
		c.logger.Warn("エクスポートファイルの削除に失敗しました", zap.String("key", claimed.ArtifactKey), zap.Error(err))
	}
	c.logger.Info("エクスポートファイルを取得しました", zap.String("token", token), zap.Int("bytes", len(data)))
	return data, claimed.public(), nil
}

// HandleGenerate is the worker handler for TaskGenerate
func (c *Coordinator) HandleGenerate(ctx context.Context, payload []byte) error {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil || p.Token == "" {
		return jobs.Permanent(fmt.Errorf("不正なエクスポートタスクです: %s", string(payload)))
	}
	return c.Generate(ctx, p.Token)
}

// Generate renders the file for a queued job and marks it ready. A job
// that expired before it ran is dropped.
// ファイルを生成しジョブを完了状態にする
func (c *Coordinator) Generate(ctx context.Context, token string) error {
	started := c.now()
	job, err := c.load(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.logger.Warn("期限切れのエクスポートジョブをスキップしました", zap.String("token", token))
			return jobs.Permanent(err)
		}
		return err
	}
	if job.Status == StatusReady {
		return nil
	}

	job.Status = StatusProcessing
	job.Error = ""
	if err := c.store.Save(ctx, token, job, 0); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.logger.Warn("期限切れのエクスポートジョブをスキップしました", zap.String("token", token))
			return jobs.Permanent(ErrNotFound)
		}
		return err
	}

	key, rows, err := c.render(ctx, job)
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		if saveErr := c.store.Save(ctx, token, job, 0); saveErr != nil {
			c.logger.Error("ジョブ状態の保存に失敗しました", zap.String("token", token), zap.Error(saveErr))
		}
		c.logger.Error("エクスポート生成に失敗しました", zap.String("token", token), zap.Error(err))
		c.observe(StatusFailed, started)
		return err
	}

	completed := c.now()
	job.Status = StatusReady
	job.Ready = true
	job.Rows = rows
	job.ArtifactKey = key
	job.CompletedAt = &completed
	if err := c.store.Save(ctx, token, job, 0); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			// 生成中に期限切れとなったジョブのファイルは残さない
			c.discardArtifact(ctx, key)
			c.logger.Warn("生成中にエクスポートジョブが期限切れになりました", zap.String("token", token))
			c.observe(StatusFailed, started)
			return jobs.Permanent(ErrNotFound)
		}
		return err
	}

	c.logger.Info("エクスポート生成が完了しました",
		zap.String("token", token),
		zap.String("entity", string(job.Entity)),
		zap.Int("rows", rows),
		zap.Duration("elapsed", completed.Sub(started)),
	)
	c.observe(StatusReady, started)
	return nil
}

func (c *Coordinator) render(ctx context.Context, job *storedJob) (string, int, error) {
	rows, err := c.source.Rows(ctx, job.Entity, job.Fields)
	if err != nil {
		return "", 0, fmt.Errorf("行データの取得に失敗しました: %w", err)
	}

	var buf bytes.Buffer
	if err := tabular.Write(&buf, job.Format, string(job.Entity), job.Fields, rows); err != nil {
		return "", 0, err
	}

	key := blob.Key(c.config.Prefix, job.Token+job.Format.Extension())
	if err := c.blobs.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), job.Format.ContentType()); err != nil {
		return "", 0, fmt.Errorf("エクスポートファイルの保存に失敗しました: %w", err)
	}
	return key, len(rows), nil
}

func (c *Coordinator) discardArtifact(ctx context.Context, key string) {
	if err := c.blobs.Delete(ctx, key); err != nil {
		c.logger.Warn("エクスポートファイルの削除に失敗しました", zap.String("key", key), zap.Error(err))
	}
}

// HandleSweep is the worker handler for TaskSweep
func (c *Coordinator) HandleSweep(ctx context.Context, _ []byte) error {
	_, err := c.Sweep(ctx)
	return err
}

// Sweep deletes artifacts older than the TTL and returns how many were removed
// 有効期限を過ぎたファイルを削除
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	objects, err := c.blobs.List(ctx, c.config.Prefix+"/")
	if err != nil {
		return 0, err
	}
	cutoff := c.now().Add(-c.config.TTL)
	removed := 0
	for _, obj := range objects {
		if obj.ModTime.After(cutoff) {
			continue
		}
		if err := c.blobs.Delete(ctx, obj.Key); err != nil {
			c.logger.Warn("期限切れファイルの削除に失敗しました", zap.String("key", obj.Key), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("期限切れのエクスポートファイルを削除しました", zap.Int("removed", removed))
	}
	return removed, nil
}

// Handlers returns the worker registrations for this coordinator
func (c *Coordinator) Handlers() []jobs.TaskHandler {
	return []jobs.TaskHandler{
		{Type: TaskGenerate, Handler: c.HandleGenerate},
		{Type: TaskSweep, Handler: c.HandleSweep},
	}
}

func (c *Coordinator) load(ctx context.Context, token string) (*storedJob, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	var job storedJob
	if err := c.store.Load(ctx, token, &job); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (c *Coordinator) observe(status Status, started time.Time) {
	if c.observer != nil {
		c.observer.ObserveJob("export", string(status), c.now().Sub(started))
	}
}

func (j *storedJob) public() *Job {
	out := j.Job
	out.Fields = append([]string(nil), j.Fields...)
	return &out
}
