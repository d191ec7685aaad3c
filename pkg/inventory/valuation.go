package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderCounter reports purchase order counts per status
// 発注書のステータス別件数を返す
type OrderCounter interface {
	CountOrdersByStatus(ctx context.Context) (map[string]int, error)
}

// LowStockItem is a ledger row at or below the low-stock threshold
// 低在庫の行
type LowStockItem struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	WarehouseID   string `json:"warehouse_id"`
	WarehouseName string `json:"warehouse_name"`
	Quantity      int64  `json:"quantity"`
}

// DashboardSummary aggregates the figures shown on the back-office dashboard
// ダッシュボードの集計値
type DashboardSummary struct {
	ProductCount    int             `json:"product_count"`
	ActiveProducts  int             `json:"active_products"`
	WarehouseCount  int             `json:"warehouse_count"`
	SupplierCount   int             `json:"supplier_count"`
	TotalUnits      int64           `json:"total_units"`
	StockValue      decimal.Decimal `json:"stock_value"`
	LowStock        []LowStockItem  `json:"low_stock"`
	OrdersByStatus  map[string]int  `json:"orders_by_status"`
	RecentMovements []StockMovement `json:"recent_movements"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// Dashboard computes stock valuation and summary metrics
// 在庫評価とダッシュボード集計
type Dashboard struct {
	storage Storage
	orders  OrderCounter
	logger  *zap.Logger
	config  *Config
}

// NewDashboard creates a dashboard. orders may be nil.
// 新しいダッシュボードを作成
func NewDashboard(storage Storage, orders OrderCounter, logger *zap.Logger, config *Config) *Dashboard {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dashboard{storage: storage, orders: orders, logger: logger, config: config}
}

// StockValue returns quantity x price summed over the given rows
// 在庫金額（数量×単価）を計算
func StockValue(stocks []WarehouseStock, prices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, s := range stocks {
		price, ok := prices[s.ProductID]
		if !ok {
			continue
		}
		total = total.Add(price.Mul(decimal.NewFromInt(s.Quantity)))
	}
	return total
}

// WarehouseValue returns the stock value held at one warehouse
// 倉庫ごとの在庫金額を計算
func (d *Dashboard) WarehouseValue(ctx context.Context, warehouseID string) (decimal.Decimal, error) {
	stocks, err := d.storage.ListStockByWarehouse(ctx, warehouseID)
	if err != nil {
		return decimal.Zero, wrapStorage("list_stock_by_warehouse", "在庫一覧取得に失敗しました", err)
	}
	products, err := d.storage.ListProducts(ctx, ProductFilter{})
	if err != nil {
		return decimal.Zero, wrapStorage("list_products", "商品一覧取得に失敗しました", err)
	}
	prices := make(map[string]decimal.Decimal, len(products))
	for _, p := range products {
		prices[p.ID] = p.Price
	}
	return StockValue(stocks, prices), nil
}

// Summary builds the dashboard figures
// ダッシュボード集計を作成
func (d *Dashboard) Summary(ctx context.Context) (*DashboardSummary, error) {
	products, err := d.storage.ListProducts(ctx, ProductFilter{})
	if err != nil {
		return nil, wrapStorage("list_products", "商品一覧取得に失敗しました", err)
	}
	warehouses, err := d.storage.ListWarehouses(ctx)
	if err != nil {
		return nil, wrapStorage("list_warehouses", "倉庫一覧取得に失敗しました", err)
	}
	suppliers, err := d.storage.ListSuppliers(ctx)
	if err != nil {
		return nil, wrapStorage("list_suppliers", "仕入先一覧取得に失敗しました", err)
	}
	stocks, err := d.storage.ListAllStock(ctx)
	if err != nil {
		return nil, wrapStorage("list_all_stock", "在庫一覧取得に失敗しました", err)
	}
	recent, err := d.storage.ListMovements(ctx, MovementFilter{Limit: 10})
	if err != nil {
		return nil, wrapStorage("list_movements", "入出庫履歴取得に失敗しました", err)
	}

	summary := &DashboardSummary{
		ProductCount:    len(products),
		WarehouseCount:  len(warehouses),
		SupplierCount:   len(suppliers),
		StockValue:      decimal.Zero,
		LowStock:        []LowStockItem{},
		OrdersByStatus:  map[string]int{},
		RecentMovements: recent,
		GeneratedAt:     time.Now(),
	}

	productNames := make(map[string]string, len(products))
	prices := make(map[string]decimal.Decimal, len(products))
	for _, p := range products {
		productNames[p.ID] = p.Name
		prices[p.ID] = p.Price
		if p.IsActive {
			summary.ActiveProducts++
		}
	}
	warehouseNames := make(map[string]string, len(warehouses))
	for _, w := range warehouses {
		warehouseNames[w.ID] = w.Name
	}

	for _, s := range stocks {
		summary.TotalUnits += s.Quantity
		if d.config.LowStockThreshold > 0 && s.Quantity <= d.config.LowStockThreshold {
			summary.LowStock = append(summary.LowStock, LowStockItem{
				ProductID:     s.ProductID,
				ProductName:   productNames[s.ProductID],
				WarehouseID:   s.WarehouseID,
				WarehouseName: warehouseNames[s.WarehouseID],
				Quantity:      s.Quantity,
			})
		}
	}
	summary.StockValue = StockValue(stocks, prices)
	sort.Slice(summary.LowStock, func(i, j int) bool {
		return summary.LowStock[i].Quantity < summary.LowStock[j].Quantity
	})

	if d.orders != nil {
		counts, err := d.orders.CountOrdersByStatus(ctx)
		if err != nil {
			// 発注件数はダッシュボード表示の補助情報のため、失敗してもログのみ
			d.logger.Error("発注件数の取得に失敗しました", zap.Error(err))
		} else {
			summary.OrdersByStatus = counts
		}
	}

	return summary, nil
}
