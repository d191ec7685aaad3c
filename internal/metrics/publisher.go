package metrics

import (
	"context"

	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
	"github.com/nemonet1337/zaiWarehouse/pkg/purchasing"
)

// Publisher counts domain events and forwards them. Either inner
// publisher may be nil.
// イベントを計数して転送するパブリッシャー
type Publisher struct {
	metrics *Metrics
	stock   inventory.EventPublisher
	orders  purchasing.EventPublisher
}

var (
	_ inventory.EventPublisher  = (*Publisher)(nil)
	_ purchasing.EventPublisher = (*Publisher)(nil)
)

// NewPublisher wraps the given publishers
func NewPublisher(m *Metrics, stock inventory.EventPublisher, orders purchasing.EventPublisher) *Publisher {
	return &Publisher{metrics: m, stock: stock, orders: orders}
}

// PublishStockChanged implements inventory.EventPublisher
func (p *Publisher) PublishStockChanged(ctx context.Context, event inventory.StockChangedEvent) error {
	if p.metrics != nil {
		p.metrics.movements.WithLabelValues(string(event.Type), string(event.Reason)).Inc()
	}
	if p.stock == nil {
		return nil
	}
	return p.stock.PublishStockChanged(ctx, event)
}

// PublishLowStock implements inventory.EventPublisher
func (p *Publisher) PublishLowStock(ctx context.Context, event inventory.LowStockEvent) error {
	if p.metrics != nil {
		p.metrics.lowStock.Inc()
	}
	if p.stock == nil {
		return nil
	}
	return p.stock.PublishLowStock(ctx, event)
}

// PublishOrderConfirmed implements purchasing.EventPublisher
func (p *Publisher) PublishOrderConfirmed(ctx context.Context, event purchasing.OrderConfirmedEvent) error {
	if p.metrics != nil {
		p.metrics.orders.WithLabelValues(string(event.Status)).Inc()
	}
	if p.orders == nil {
		return nil
	}
	return p.orders.PublishOrderConfirmed(ctx, event)
}
