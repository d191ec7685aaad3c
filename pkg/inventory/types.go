// Package inventory provides the warehouse stock ledger, movement recording
// and catalog management for the back-office.
package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Supplier represents a vendor purchase orders are placed with
// 発注先の仕入先を表現
type Supplier struct {
	ID          string    `json:"id" db:"id"`                     // 仕入先ID
	Name        string    `json:"name" db:"name"`                 // 仕入先名
	ContactName string    `json:"contact_name" db:"contact_name"` // 担当者名
	Email       string    `json:"email" db:"email"`               // メールアドレス
	Phone       string    `json:"phone" db:"phone"`               // 電話番号
	Address     string    `json:"address" db:"address"`           // 住所
	CreatedAt   time.Time `json:"created_at" db:"created_at"`     // 作成日時
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`     // 更新日時
}

// Category groups products
// 商品カテゴリを表現
type Category struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Warehouse represents a physical storage site
// 保管倉庫を表現
type Warehouse struct {
	ID        string    `json:"id" db:"id"`                 // 倉庫ID
	Name      string    `json:"name" db:"name"`             // 倉庫名
	Address   string    `json:"address" db:"address"`       // 住所
	Phone     string    `json:"phone" db:"phone"`           // 電話番号
	Email     string    `json:"email" db:"email"`           // メールアドレス
	IsActive  bool      `json:"is_active" db:"is_active"`   // アクティブ状態
	CreatedAt time.Time `json:"created_at" db:"created_at"` // 作成日時
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"` // 更新日時
}

// Specification is a single titled attribute of a product
// 商品仕様の一項目
type Specification struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// Product represents a stocked article
// 在庫対象の商品を表現
type Product struct {
	ID             string          `json:"id" db:"id"`                           // 商品ID
	Name           string          `json:"name" db:"name"`                       // 商品名
	CategoryID     string          `json:"category_id" db:"category_id"`         // カテゴリID
	SupplierID     string          `json:"supplier_id" db:"supplier_id"`         // 仕入先ID
	Price          decimal.Decimal `json:"price" db:"price"`                     // 単価
	Specifications []Specification `json:"specifications" db:"specifications"`   // 仕様（順序付き）
	IsActive       bool            `json:"is_active" db:"is_active"`             // 発注可能フラグ
	ManualKey      string          `json:"manual_key,omitempty" db:"manual_key"` // マニュアル文書のBlobキー
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`           // 作成日時
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`           // 更新日時
}

// WarehouseStock is the ledger row for one (product, warehouse) pair
// 商品×倉庫ごとの在庫台帳行
type WarehouseStock struct {
	ProductID   string    `json:"product_id" db:"product_id"`     // 商品ID
	WarehouseID string    `json:"warehouse_id" db:"warehouse_id"` // 倉庫ID
	Quantity    int64     `json:"quantity" db:"quantity"`         // 在庫数量（0以上）
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`     // 最終更新日時
	UpdatedBy   string    `json:"updated_by" db:"updated_by"`     // 更新者
}

// MovementType is the direction of a stock movement
// 入出庫の方向
type MovementType string

const (
	MovementIn  MovementType = "in"  // 入庫
	MovementOut MovementType = "out" // 出庫
)

// MovementReason explains why stock moved
// 入出庫の理由
type MovementReason string

const (
	ReasonPurchase   MovementReason = "purchase"   // 仕入
	ReasonSale       MovementReason = "sale"       // 販売
	ReasonReturn     MovementReason = "return"     // 返品
	ReasonTransfer   MovementReason = "transfer"   // 倉庫間移動
	ReasonAdjustment MovementReason = "adjustment" // 棚卸調整
	ReasonDamage     MovementReason = "damage"     // 破損
)

// StockMovement is an append-only record of a quantity change
// 在庫変動の追記専用レコード
type StockMovement struct {
	ID            string         `json:"id" db:"id"`                         // 移動ID
	ProductID     string         `json:"product_id" db:"product_id"`         // 商品ID
	WarehouseID   string         `json:"warehouse_id" db:"warehouse_id"`     // 倉庫ID
	Type          MovementType   `json:"type" db:"type"`                     // 入庫/出庫
	Reason        MovementReason `json:"reason" db:"reason"`                 // 理由
	Quantity      int64          `json:"quantity" db:"quantity"`             // 数量（正の値）
	Notes         string         `json:"notes" db:"notes"`                   // 備考
	CorrelationID string         `json:"correlation_id" db:"correlation_id"` // 移動の両レッグで共有するID
	Reference     string         `json:"reference" db:"reference"`           // 参照番号（発注書IDなど）
	BalanceAfter  int64          `json:"balance_after" db:"balance_after"`   // 適用後の在庫数量
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`         // 作成日時
	CreatedBy     string         `json:"created_by" db:"created_by"`         // 作成者
}

// Delta returns the signed ledger change the movement represents
func (m StockMovement) Delta() int64 {
	if m.Type == MovementOut {
		return -m.Quantity
	}
	return m.Quantity
}

// MovementFilter narrows a movement history query
// 入出庫履歴の検索条件
type MovementFilter struct {
	ProductID     string
	WarehouseID   string
	Reason        MovementReason
	CorrelationID string
	From          *time.Time
	To            *time.Time
	Limit         int
}

// ProductFilter narrows a product listing
type ProductFilter struct {
	SupplierID string
	CategoryID string
	ActiveOnly bool
	Offset     int
	Limit      int
}

// Delta is one signed ledger change applied by AdjustManyTx
type Delta struct {
	ProductID   string
	WarehouseID string
	Amount      int64
}

// StockChangedEvent is published after a movement is committed
// 在庫変動コミット後に発行されるイベント
type StockChangedEvent struct {
	MovementID    string         `json:"movement_id"`
	ProductID     string         `json:"product_id"`
	WarehouseID   string         `json:"warehouse_id"`
	Type          MovementType   `json:"type"`
	Reason        MovementReason `json:"reason"`
	Delta         int64          `json:"delta"`
	NewQuantity   int64          `json:"new_quantity"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Reference     string         `json:"reference,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	UserID        string         `json:"user_id"`
}

// LowStockEvent is published when a balance falls to or below the threshold
// 在庫数量が閾値以下になった際に発行されるイベント
type LowStockEvent struct {
	ProductID   string    `json:"product_id"`
	WarehouseID string    `json:"warehouse_id"`
	Quantity    int64     `json:"quantity"`
	Threshold   int64     `json:"threshold"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewID returns a fresh entity identifier
// 新しいエンティティIDを生成
func NewID() string {
	return uuid.New().String()
}

// NewCorrelationID returns an identifier shared by related movements
// 関連する入出庫で共有する相関IDを生成
func NewCorrelationID() string {
	return uuid.New().String()
}
