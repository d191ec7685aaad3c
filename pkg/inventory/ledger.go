package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Ledger is the authoritative per-(product, warehouse) quantity store.
// Every stock mutation in the system goes through it.
// 商品×倉庫ごとの在庫数量を管理する唯一の台帳
type Ledger struct {
	storage Storage
	logger  *zap.Logger
}

var _ StockLedger = (*Ledger)(nil)

// NewLedger creates a ledger over the given storage
// 新しい在庫台帳を作成
func NewLedger(storage Storage, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{storage: storage, logger: logger}
}

// Adjust applies delta in its own transaction and returns the new quantity
// 単独トランザクションで在庫数量に増減を適用
func (l *Ledger) Adjust(ctx context.Context, productID, warehouseID string, delta int64) (int64, error) {
	var quantity int64
	err := l.storage.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		q, err := l.AdjustTx(ctx, tx, productID, warehouseID, delta)
		if err != nil {
			return err
		}
		quantity = q
		return nil
	})
	if err != nil {
		return 0, err
	}
	return quantity, nil
}

// AdjustTx applies delta inside the caller's transaction
// 呼び出し元のトランザクション内で増減を適用
func (l *Ledger) AdjustTx(ctx context.Context, tx Tx, productID, warehouseID string, delta int64) (int64, error) {
	results, err := l.AdjustManyTx(ctx, tx, []Delta{{ProductID: productID, WarehouseID: warehouseID, Amount: delta}})
	if err != nil {
		return 0, err
	}
	return results[0], nil
}

type stockKey struct {
	productID   string
	warehouseID string
}

// AdjustManyTx applies several deltas as one unit. Rows are locked in
// (product, warehouse) order so concurrent multi-row operations cannot
// deadlock each other; deltas are then applied in the order given.
// A missing row is created at zero only when the first delta applied to
// it is positive.
// 複数の増減を一括適用（ロック順序は商品ID・倉庫ID順）
func (l *Ledger) AdjustManyTx(ctx context.Context, tx Tx, deltas []Delta) ([]int64, error) {
	if len(deltas) == 0 {
		return nil, NewValidationError("deltas", "増減が指定されていません", "")
	}

	firstAmount := make(map[stockKey]int64, len(deltas))
	for _, d := range deltas {
		if err := ValidateID("product_id", d.ProductID); err != nil {
			return nil, err
		}
		if err := ValidateID("warehouse_id", d.WarehouseID); err != nil {
			return nil, err
		}
		if d.Amount == 0 {
			return nil, NewValidationError("delta", "増減量が0です", "0")
		}
		k := stockKey{d.ProductID, d.WarehouseID}
		if _, ok := firstAmount[k]; !ok {
			firstAmount[k] = d.Amount
		}
	}

	keys := make([]stockKey, 0, len(firstAmount))
	for k := range firstAmount {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].productID != keys[j].productID {
			return keys[i].productID < keys[j].productID
		}
		return keys[i].warehouseID < keys[j].warehouseID
	})

	// 行ロックの取得
	rows := make(map[stockKey]*WarehouseStock, len(keys))
	for _, k := range keys {
		stock, err := tx.LockStock(ctx, k.productID, k.warehouseID)
		if err != nil && !errors.Is(err, ErrStockNotFound) {
			return nil, wrapStorage("lock_stock", "在庫行のロックに失敗しました", err)
		}
		if stock == nil {
			if firstAmount[k] < 0 {
				return nil, fmt.Errorf("%w: 商品=%s 倉庫=%s", ErrUnknownLocation, k.productID, k.warehouseID)
			}
			// 入庫時は数量0の行を作成してからロック
			if err := tx.EnsureStock(ctx, k.productID, k.warehouseID); err != nil {
				return nil, wrapStorage("ensure_stock", "在庫行の作成に失敗しました", err)
			}
			stock, err = tx.LockStock(ctx, k.productID, k.warehouseID)
			if err != nil {
				return nil, wrapStorage("lock_stock", "在庫行のロックに失敗しました", err)
			}
		}
		rows[k] = stock
	}

	user := UserFromContext(ctx)
	now := time.Now()
	results := make([]int64, len(deltas))
	for i, d := range deltas {
		stock := rows[stockKey{d.ProductID, d.WarehouseID}]
		next := stock.Quantity + d.Amount
		if next < 0 {
			return nil, fmt.Errorf("%w: 商品=%s 倉庫=%s 現在=%d 要求=%d",
				ErrInsufficientStock, d.ProductID, d.WarehouseID, stock.Quantity, -d.Amount)
		}
		stock.Quantity = next
		stock.UpdatedAt = now
		stock.UpdatedBy = user
		results[i] = next
	}

	for _, k := range keys {
		if err := tx.UpdateStock(ctx, rows[k]); err != nil {
			return nil, wrapStorage("update_stock", "在庫更新に失敗しました", err)
		}
	}

	l.logger.Debug("在庫台帳を更新しました", zap.Int("deltas", len(deltas)), zap.String("user_id", user))
	return results, nil
}

type userKey struct{}

// WithUser attaches the acting user's id to ctx
// コンテキストに操作ユーザーIDを設定
func WithUser(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext extracts user ID from context
// コンテキストからユーザーIDを取得
func UserFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userKey{}).(string); ok {
		return userID
	}
	return "system"
}
