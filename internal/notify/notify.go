// Package notify delivers domain events and import summaries to Redis
// pub/sub channels or to the application log.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiWarehouse/pkg/importer"
	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
	"github.com/nemonet1337/zaiWarehouse/pkg/purchasing"
)

// Channel names, relative to the publisher prefix
const (
	ChannelStockChanged   = "stock_changed"
	ChannelLowStock       = "low_stock"
	ChannelOrderConfirmed = "order_confirmed"
	ChannelImportDone     = "import_done"
)

// Sink is everything a notifier delivers
type Sink interface {
	inventory.EventPublisher
	purchasing.EventPublisher
	importer.Notifier
}

// RedisPublisher publishes JSON messages to Redis channels
// Redis Pub/Subでイベントを配信
type RedisPublisher struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

var _ Sink = (*RedisPublisher)(nil)

// RedisOption configures a RedisPublisher
type RedisOption func(*RedisPublisher)

// WithPrefix sets the channel prefix
func WithPrefix(prefix string) RedisOption {
	return func(p *RedisPublisher) {
		p.prefix = prefix
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) RedisOption {
	return func(p *RedisPublisher) {
		p.logger = logger
	}
}

// NewRedisPublisher creates a publisher on an existing client. The caller
// keeps ownership of the client.
func NewRedisPublisher(client *redis.Client, opts ...RedisOption) *RedisPublisher {
	p := &RedisPublisher{client: client, prefix: "zaiwarehouse:events:", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Channel returns the full channel name
func (p *RedisPublisher) Channel(name string) string {
	return p.prefix + name
}

func (p *RedisPublisher) publish(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗しました: %w", err)
	}
	channel := p.Channel(name)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("イベント配信に失敗しました", zap.String("channel", channel), zap.Error(err))
		return fmt.Errorf("イベント配信に失敗しました: %w", err)
	}
	p.logger.Debug("イベントを配信しました", zap.String("channel", channel))
	return nil
}

// PublishStockChanged implements inventory.EventPublisher
func (p *RedisPublisher) PublishStockChanged(ctx context.Context, event inventory.StockChangedEvent) error {
	return p.publish(ctx, ChannelStockChanged, event)
}

// PublishLowStock implements inventory.EventPublisher
func (p *RedisPublisher) PublishLowStock(ctx context.Context, event inventory.LowStockEvent) error {
	return p.publish(ctx, ChannelLowStock, event)
}

// PublishOrderConfirmed implements purchasing.EventPublisher
func (p *RedisPublisher) PublishOrderConfirmed(ctx context.Context, event purchasing.OrderConfirmedEvent) error {
	return p.publish(ctx, ChannelOrderConfirmed, event)
}

// NotifyImport implements importer.Notifier
func (p *RedisPublisher) NotifyImport(ctx context.Context, summary importer.Summary) error {
	return p.publish(ctx, ChannelImportDone, summary)
}

// LogPublisher writes events to the log
// イベントをログに出力
type LogPublisher struct {
	logger *zap.Logger
}

var _ Sink = (*LogPublisher)(nil)

// NewLogPublisher creates a log publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// PublishStockChanged implements inventory.EventPublisher
func (p *LogPublisher) PublishStockChanged(ctx context.Context, event inventory.StockChangedEvent) error {
	p.logger.Info("在庫変動",
		zap.String("movement_id", event.MovementID),
		zap.String("product_id", event.ProductID),
		zap.String("warehouse_id", event.WarehouseID),
		zap.String("reason", string(event.Reason)),
		zap.Int64("delta", event.Delta),
		zap.Int64("new_quantity", event.NewQuantity),
	)
	return nil
}

// PublishLowStock implements inventory.EventPublisher
func (p *LogPublisher) PublishLowStock(ctx context.Context, event inventory.LowStockEvent) error {
	p.logger.Warn("在庫が閾値を下回りました",
		zap.String("product_id", event.ProductID),
		zap.String("warehouse_id", event.WarehouseID),
		zap.Int64("quantity", event.Quantity),
		zap.Int64("threshold", event.Threshold),
	)
	return nil
}

// PublishOrderConfirmed implements purchasing.EventPublisher
func (p *LogPublisher) PublishOrderConfirmed(ctx context.Context, event purchasing.OrderConfirmedEvent) error {
	p.logger.Info("発注書確定",
		zap.String("order_id", event.OrderID),
		zap.String("status", string(event.Status)),
		zap.Strings("movement_ids", event.MovementIDs),
	)
	return nil
}

// NotifyImport implements importer.Notifier. Each failed row is logged
// with its line number.
func (p *LogPublisher) NotifyImport(ctx context.Context, summary importer.Summary) error {
	fields := []zap.Field{
		zap.String("job_id", summary.JobID),
		zap.String("entity", string(summary.Entity)),
		zap.String("filename", summary.Filename),
		zap.String("status", string(summary.Status)),
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("failed", len(summary.Failed)),
		zap.String("user_id", summary.UserID),
	}
	if summary.Status == importer.StatusFailed {
		p.logger.Error("取込結果", append(fields, zap.String("error", summary.Error))...)
		return nil
	}
	p.logger.Info("取込結果", fields...)
	for _, row := range summary.Failed {
		p.logger.Warn("取込失敗行",
			zap.String("job_id", summary.JobID),
			zap.Int("line", row.Line),
			zap.String("reason", row.Message),
		)
	}
	return nil
}

// Fanout delivers to every sink and returns the first error
type Fanout []Sink

var _ Sink = Fanout(nil)

// PublishStockChanged implements inventory.EventPublisher
func (f Fanout) PublishStockChanged(ctx context.Context, event inventory.StockChangedEvent) error {
	return f.each(func(s Sink) error { return s.PublishStockChanged(ctx, event) })
}

// PublishLowStock implements inventory.EventPublisher
func (f Fanout) PublishLowStock(ctx context.Context, event inventory.LowStockEvent) error {
	return f.each(func(s Sink) error { return s.PublishLowStock(ctx, event) })
}

// PublishOrderConfirmed implements purchasing.EventPublisher
func (f Fanout) PublishOrderConfirmed(ctx context.Context, event purchasing.OrderConfirmedEvent) error {
	return f.each(func(s Sink) error { return s.PublishOrderConfirmed(ctx, event) })
}

// NotifyImport implements importer.Notifier
func (f Fanout) NotifyImport(ctx context.Context, summary importer.Summary) error {
	return f.each(func(s Sink) error { return s.NotifyImport(ctx, summary) })
}

func (f Fanout) each(fn func(Sink) error) error {
	var first error
	for _, s := range f {
		if err := fn(s); err != nil && first == nil {
			first = err
		}
	}
	return first
}
