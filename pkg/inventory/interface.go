package inventory

import (
	"context"
)

// StockLedger applies signed deltas to per-(product, warehouse) quantities
// 商品×倉庫ごとの在庫数量に増減を適用する台帳
type StockLedger interface {
	Adjust(ctx context.Context, productID, warehouseID string, delta int64) (int64, error)
}

// MovementRecorder validates and records stock movements
// 入出庫を検証して記録するインターフェース
type MovementRecorder interface {
	RecordAdjustment(ctx context.Context, input AdjustmentInput) (*StockMovement, error)
	RecordTransfer(ctx context.Context, input TransferInput) (*TransferResult, error)
}

// StockQuery exposes read access to ledger rows and movement history
// 在庫と履歴の照会インターフェース
type StockQuery interface {
	GetStock(ctx context.Context, productID, warehouseID string) (*WarehouseStock, error)
	GetTotalStock(ctx context.Context, productID string) (int64, error)
	GetStockByProduct(ctx context.Context, productID string) ([]WarehouseStock, error)
	GetStockByWarehouse(ctx context.Context, warehouseID string) ([]WarehouseStock, error)
	GetHistory(ctx context.Context, filter MovementFilter) ([]StockMovement, error)
}

// CatalogManager manages reference data used by the ledger and orders
// 台帳と発注が参照するマスタデータの管理インターフェース
type CatalogManager interface {
	CreateSupplier(ctx context.Context, supplier *Supplier) error
	GetSupplier(ctx context.Context, id string) (*Supplier, error)
	UpdateSupplier(ctx context.Context, supplier *Supplier) error
	DeleteSupplier(ctx context.Context, id string) error
	ListSuppliers(ctx context.Context) ([]Supplier, error)

	CreateCategory(ctx context.Context, category *Category) error
	GetCategory(ctx context.Context, id string) (*Category, error)
	UpdateCategory(ctx context.Context, category *Category) error
	DeleteCategory(ctx context.Context, id string) error
	ListCategories(ctx context.Context) ([]Category, error)

	CreateWarehouse(ctx context.Context, warehouse *Warehouse) error
	GetWarehouse(ctx context.Context, id string) (*Warehouse, error)
	UpdateWarehouse(ctx context.Context, warehouse *Warehouse) error
	DeleteWarehouse(ctx context.Context, id string) error
	ListWarehouses(ctx context.Context) ([]Warehouse, error)

	CreateProduct(ctx context.Context, product *Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	UpdateProduct(ctx context.Context, product *Product) error
	DeleteProduct(ctx context.Context, id string) error
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
}

// Tx is the unit of work the ledger writes through. Implementations must
// serialize LockStock callers on the same pair until the transaction ends.
// 台帳書き込みのトランザクション単位
type Tx interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
	GetWarehouse(ctx context.Context, id string) (*Warehouse, error)
	// LockStock returns the row for the pair and holds it until commit.
	// Returns ErrStockNotFound when the pair has no row.
	LockStock(ctx context.Context, productID, warehouseID string) (*WarehouseStock, error)
	// EnsureStock inserts a zero row for the pair if none exists.
	EnsureStock(ctx context.Context, productID, warehouseID string) error
	UpdateStock(ctx context.Context, stock *WarehouseStock) error
	CreateMovement(ctx context.Context, movement *StockMovement) error
}

// CatalogStorage persists reference data
// マスタデータの永続化インターフェース
type CatalogStorage interface {
	CreateSupplier(ctx context.Context, supplier *Supplier) error
	GetSupplier(ctx context.Context, id string) (*Supplier, error)
	UpdateSupplier(ctx context.Context, supplier *Supplier) error
	DeleteSupplier(ctx context.Context, id string) error
	ListSuppliers(ctx context.Context) ([]Supplier, error)

	CreateCategory(ctx context.Context, category *Category) error
	GetCategory(ctx context.Context, id string) (*Category, error)
	UpdateCategory(ctx context.Context, category *Category) error
	DeleteCategory(ctx context.Context, id string) error
	ListCategories(ctx context.Context) ([]Category, error)

	CreateWarehouse(ctx context.Context, warehouse *Warehouse) error
	GetWarehouse(ctx context.Context, id string) (*Warehouse, error)
	UpdateWarehouse(ctx context.Context, warehouse *Warehouse) error
	DeleteWarehouse(ctx context.Context, id string) error
	ListWarehouses(ctx context.Context) ([]Warehouse, error)

	CreateProduct(ctx context.Context, product *Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	UpdateProduct(ctx context.Context, product *Product) error
	DeleteProduct(ctx context.Context, id string) error
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
}

// Storage defines the interface for inventory data persistence
// 在庫データ永続化のインターフェースを定義
type Storage interface {
	CatalogStorage

	// WithTx runs fn in a transaction, committing when fn returns nil
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetStock(ctx context.Context, productID, warehouseID string) (*WarehouseStock, error)
	ListStockByProduct(ctx context.Context, productID string) ([]WarehouseStock, error)
	ListStockByWarehouse(ctx context.Context, warehouseID string) ([]WarehouseStock, error)
	ListAllStock(ctx context.Context) ([]WarehouseStock, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error)

	Ping(ctx context.Context) error
	Close() error
}

// EventPublisher defines interface for publishing inventory events
// 在庫イベント発行のインターフェースを定義
type EventPublisher interface {
	PublishStockChanged(ctx context.Context, event StockChangedEvent) error
	PublishLowStock(ctx context.Context, event LowStockEvent) error
}
