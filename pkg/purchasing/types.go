// Package purchasing implements the purchase order workflow: orders are
// created as draft or confirmed, edited while non-terminal, and closed by a
// single confirm action that either receives the goods or cancels the order.
package purchasing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
)

// Status is the lifecycle state of a purchase order
// 発注書のステータス
type Status string

const (
	StatusDraft     Status = "draft"     // 下書き
	StatusConfirmed Status = "confirmed" // 確定
	StatusCompleted Status = "completed" // 入荷完了（終端）
	StatusCancelled Status = "cancelled" // 取消（終端）
)

// Terminal reports whether no further transition is allowed
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Editable reports whether s may be set through create or update
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusConfirmed
}

var (
	// ErrInvalidState is returned for operations against a terminal order,
	// including the loser of a concurrent confirm
	// 終端状態の発注書に対する操作のエラー
	ErrInvalidState = errors.New("発注書は既に確定済みまたは取消済みです")

	// ErrOrderNotFound is returned when a purchase order doesn't exist
	// 発注書が存在しない場合のエラー
	ErrOrderNotFound = fmt.Errorf("発注書: %w", inventory.ErrNotFound)
)

// Item is one line of a purchase order
// 発注明細
type Item struct {
	ID        string          `json:"id" db:"id"`
	OrderID   string          `json:"order_id" db:"order_id"`
	ProductID string          `json:"product_id" db:"product_id"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
}

// Subtotal returns quantity x unit price
func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
}

// Order is a purchase order with its lines
// 発注書
type Order struct {
	ID          string     `json:"id" db:"id"`                     // 発注書ID
	SupplierID  string     `json:"supplier_id" db:"supplier_id"`   // 仕入先ID
	OrderDate   time.Time  `json:"order_date" db:"order_date"`     // 発注日
	Status      Status     `json:"status" db:"status"`             // ステータス
	Notes       string     `json:"notes" db:"notes"`               // 備考（取消理由）
	WarehouseID string     `json:"warehouse_id" db:"warehouse_id"` // 入荷先倉庫
	Items       []Item     `json:"items"`                          // 明細
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`     // 作成日時
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`     // 更新日時
	ClosedAt    *time.Time `json:"closed_at" db:"closed_at"`       // 終端状態への遷移日時
	CreatedBy   string     `json:"created_by" db:"created_by"`     // 作成者
}

// Total returns the order value
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Filter narrows an order listing
type Filter struct {
	Status     Status
	SupplierID string
	Offset     int
	Limit      int
}

// ItemInput is a requested order line
type ItemInput struct {
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CreateInput describes a new order
// 発注書作成の入力
type CreateInput struct {
	SupplierID string      `json:"supplier_id"`
	OrderDate  time.Time   `json:"order_date"`
	Status     Status      `json:"status"`
	Notes      string      `json:"notes"`
	Items      []ItemInput `json:"items"`
}

// UpdateInput replaces the editable parts of a non-terminal order
// 発注書更新の入力（明細は全置換）
type UpdateInput struct {
	OrderDate time.Time   `json:"order_date"`
	Status    Status      `json:"status"`
	Notes     string      `json:"notes"`
	Items     []ItemInput `json:"items"`
}

// ConfirmInput closes an order
// 発注書確定の入力
type ConfirmInput struct {
	Status      Status `json:"status"`
	WarehouseID string `json:"warehouse_id"`
	Notes       string `json:"notes"`
}

// OrderConfirmedEvent is published after an order reaches a terminal state
// 発注書が終端状態になった際に発行されるイベント
type OrderConfirmedEvent struct {
	OrderID     string    `json:"order_id"`
	SupplierID  string    `json:"supplier_id"`
	Status      Status    `json:"status"`
	WarehouseID string    `json:"warehouse_id,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	MovementIDs []string  `json:"movement_ids,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	UserID      string    `json:"user_id"`
}

// Tx extends the ledger transaction with order persistence so receipts
// and the status change commit together.
// 台帳トランザクションに発注書操作を加えたもの
type Tx interface {
	inventory.Tx

	GetSupplier(ctx context.Context, id string) (*inventory.Supplier, error)
	// LockOrder returns the order with items and holds its row until commit.
	LockOrder(ctx context.Context, id string) (*Order, error)
	CreateOrder(ctx context.Context, order *Order) error
	UpdateOrder(ctx context.Context, order *Order) error
	ReplaceItems(ctx context.Context, orderID string, items []Item) error
}

// Storage persists purchase orders
// 発注書の永続化インターフェース
type Storage interface {
	WithOrderTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrders(ctx context.Context, filter Filter) ([]Order, error)
	CountOrdersByStatus(ctx context.Context) (map[string]int, error)
}

// StockReceiver records receipts inside the order transaction
// 発注トランザクション内で入庫を記録する
type StockReceiver interface {
	RecordAdjustmentTx(ctx context.Context, tx inventory.Tx, input inventory.AdjustmentInput) (*inventory.StockMovement, error)
	Announce(ctx context.Context, movements ...inventory.StockMovement)
}

// EventPublisher publishes order events
type EventPublisher interface {
	PublishOrderConfirmed(ctx context.Context, event OrderConfirmedEvent) error
}
