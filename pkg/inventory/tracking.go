package inventory

import (
	"context"
	"errors"
	"time"
)

// GetStock retrieves the ledger row for a pair. A pair that has never
// received stock reports zero.
// 商品×倉庫の在庫を取得（記録がない場合は数量0）
func (m *Manager) GetStock(ctx context.Context, productID, warehouseID string) (*WarehouseStock, error) {
	stock, err := m.storage.GetStock(ctx, productID, warehouseID)
	if errors.Is(err, ErrStockNotFound) {
		return &WarehouseStock{ProductID: productID, WarehouseID: warehouseID}, nil
	}
	if err != nil {
		return nil, wrapStorage("get_stock", "在庫取得に失敗しました", err)
	}
	return stock, nil
}

// GetTotalStock sums a product's quantity across warehouses
// 全倉庫の在庫合計を取得
func (m *Manager) GetTotalStock(ctx context.Context, productID string) (int64, error) {
	stocks, err := m.GetStockByProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, s := range stocks {
		total += s.Quantity
	}
	return total, nil
}

// GetStockByProduct lists a product's rows across warehouses
// 商品の倉庫別在庫一覧を取得
func (m *Manager) GetStockByProduct(ctx context.Context, productID string) ([]WarehouseStock, error) {
	stocks, err := m.storage.ListStockByProduct(ctx, productID)
	if err != nil {
		return nil, wrapStorage("list_stock_by_product", "在庫一覧取得に失敗しました", err)
	}
	return stocks, nil
}

// GetStockByWarehouse lists all rows held at a warehouse
// 倉庫の在庫一覧を取得
func (m *Manager) GetStockByWarehouse(ctx context.Context, warehouseID string) ([]WarehouseStock, error) {
	stocks, err := m.storage.ListStockByWarehouse(ctx, warehouseID)
	if err != nil {
		return nil, wrapStorage("list_stock_by_warehouse", "在庫一覧取得に失敗しました", err)
	}
	return stocks, nil
}

// GetHistory returns movements matching filter, newest first
// 入出庫履歴を新しい順に取得
func (m *Manager) GetHistory(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	if filter.Limit <= 0 {
		filter.Limit = m.config.DefaultHistoryLimit
	}
	if m.config.MaxHistoryLimit > 0 && filter.Limit > m.config.MaxHistoryLimit {
		filter.Limit = m.config.MaxHistoryLimit
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, NewValidationError("from", "開始日時が終了日時より後です", filter.From.Format(time.RFC3339))
	}
	if filter.Reason != "" {
		if err := ValidateReason(filter.Reason); err != nil {
			return nil, err
		}
	}

	movements, err := m.storage.ListMovements(ctx, filter)
	if err != nil {
		return nil, wrapStorage("list_movements", "入出庫履歴取得に失敗しました", err)
	}
	return movements, nil
}

// GetTransfer returns both legs of a transfer by correlation id
// 相関IDから倉庫間移動の両レッグを取得
func (m *Manager) GetTransfer(ctx context.Context, correlationID string) (*TransferResult, error) {
	movements, err := m.storage.ListMovements(ctx, MovementFilter{CorrelationID: correlationID, Limit: 2})
	if err != nil {
		return nil, wrapStorage("list_movements", "入出庫履歴取得に失敗しました", err)
	}
	result := &TransferResult{CorrelationID: correlationID}
	found := 0
	for _, mv := range movements {
		switch mv.Type {
		case MovementOut:
			result.Out = mv
			found++
		case MovementIn:
			result.In = mv
			found++
		}
	}
	if found != 2 {
		return nil, ErrNotFound
	}
	return result, nil
}
