package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AdjustmentInput describes a single-warehouse stock movement
// 単一倉庫の入出庫入力
type AdjustmentInput struct {
	ProductID   string         `json:"product_id"`
	WarehouseID string         `json:"warehouse_id"`
	Type        MovementType   `json:"type"`
	Reason      MovementReason `json:"reason"`
	Quantity    int64          `json:"quantity"`
	Notes       string         `json:"notes"`
	Reference   string         `json:"reference"`
}

// TransferInput describes a move between two warehouses
// 倉庫間移動の入力
type TransferInput struct {
	ProductID         string `json:"product_id"`
	SourceWarehouseID string `json:"source_warehouse_id"`
	DestWarehouseID   string `json:"dest_warehouse_id"`
	Quantity          int64  `json:"quantity"`
	Notes             string `json:"notes"`
}

// TransferResult holds both legs of a committed transfer
// 倉庫間移動の結果（出庫レッグと入庫レッグ）
type TransferResult struct {
	CorrelationID string        `json:"correlation_id"`
	Out           StockMovement `json:"out"`
	In            StockMovement `json:"in"`
}

// RecordAdjustment validates and records a movement in its own transaction
// 入出庫を検証し単独トランザクションで記録
func (m *Manager) RecordAdjustment(ctx context.Context, input AdjustmentInput) (*StockMovement, error) {
	var movement *StockMovement
	err := m.storage.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		mv, err := m.RecordAdjustmentTx(ctx, tx, input)
		if err != nil {
			return err
		}
		movement = mv
		return nil
	})
	if err != nil {
		m.logger.Warn("入出庫の記録に失敗しました",
			zap.String("product_id", input.ProductID),
			zap.String("warehouse_id", input.WarehouseID),
			zap.String("reason", string(input.Reason)),
			zap.Int64("quantity", input.Quantity),
			zap.Error(err),
		)
		return nil, err
	}

	m.logger.Info("入出庫を記録しました",
		zap.String("movement_id", movement.ID),
		zap.String("product_id", movement.ProductID),
		zap.String("warehouse_id", movement.WarehouseID),
		zap.String("type", string(movement.Type)),
		zap.String("reason", string(movement.Reason)),
		zap.Int64("quantity", movement.Quantity),
		zap.Int64("balance_after", movement.BalanceAfter),
	)
	m.Announce(ctx, *movement)
	return movement, nil
}

// RecordAdjustmentTx records a movement inside the caller's transaction.
// Events are not published; the caller announces after commit.
// 呼び出し元のトランザクション内で入出庫を記録（イベントはコミット後に呼び出し元が発行）
func (m *Manager) RecordAdjustmentTx(ctx context.Context, tx Tx, input AdjustmentInput) (*StockMovement, error) {
	if err := ValidateMovementQuantity(input.Quantity); err != nil {
		return nil, err
	}
	movementType, err := ResolveMovementType(input.Reason, input.Type)
	if err != nil {
		return nil, err
	}
	if err := m.checkReferences(ctx, tx, input.ProductID, input.WarehouseID, movementType); err != nil {
		return nil, err
	}

	movement := &StockMovement{
		ID:          NewID(),
		ProductID:   input.ProductID,
		WarehouseID: input.WarehouseID,
		Type:        movementType,
		Reason:      input.Reason,
		Quantity:    input.Quantity,
		Notes:       strings.TrimSpace(input.Notes),
		Reference:   input.Reference,
		CreatedAt:   time.Now(),
		CreatedBy:   UserFromContext(ctx),
	}

	// 台帳更新が失敗した場合は移動記録を作成しない
	balance, err := m.ledger.AdjustTx(ctx, tx, movement.ProductID, movement.WarehouseID, movement.Delta())
	if err != nil {
		return nil, err
	}
	movement.BalanceAfter = balance

	if err := tx.CreateMovement(ctx, movement); err != nil {
		return nil, wrapStorage("create_movement", "入出庫記録の作成に失敗しました", err)
	}
	return movement, nil
}

// RecordTransfer moves quantity between two warehouses as one transaction
// 倉庫間移動を単一トランザクションで記録
func (m *Manager) RecordTransfer(ctx context.Context, input TransferInput) (*TransferResult, error) {
	if err := ValidateMovementQuantity(input.Quantity); err != nil {
		return nil, err
	}
	if input.SourceWarehouseID == input.DestWarehouseID {
		return nil, NewValidationError("dest_warehouse_id", "移動元と移動先の倉庫が同じです", input.DestWarehouseID)
	}

	correlationID := NewCorrelationID()
	notes := strings.TrimSpace(input.Notes)
	user := UserFromContext(ctx)
	now := time.Now()

	result := &TransferResult{
		CorrelationID: correlationID,
		Out: StockMovement{
			ID:            NewID(),
			ProductID:     input.ProductID,
			WarehouseID:   input.SourceWarehouseID,
			Type:          MovementOut,
			Reason:        ReasonTransfer,
			Quantity:      input.Quantity,
			Notes:         notes,
			CorrelationID: correlationID,
			CreatedAt:     now,
			CreatedBy:     user,
		},
		In: StockMovement{
			ID:            NewID(),
			ProductID:     input.ProductID,
			WarehouseID:   input.DestWarehouseID,
			Type:          MovementIn,
			Reason:        ReasonTransfer,
			Quantity:      input.Quantity,
			Notes:         notes,
			CorrelationID: correlationID,
			CreatedAt:     now,
			CreatedBy:     user,
		},
	}

	err := m.storage.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := m.checkReferences(ctx, tx, input.ProductID, input.SourceWarehouseID, MovementOut); err != nil {
			return err
		}
		if err := m.checkReferences(ctx, tx, input.ProductID, input.DestWarehouseID, MovementIn); err != nil {
			return err
		}

		// 出庫レッグ → 入庫レッグの順に適用
		balances, err := m.ledger.AdjustManyTx(ctx, tx, []Delta{
			{ProductID: input.ProductID, WarehouseID: input.SourceWarehouseID, Amount: -input.Quantity},
			{ProductID: input.ProductID, WarehouseID: input.DestWarehouseID, Amount: input.Quantity},
		})
		if err != nil {
			return err
		}
		result.Out.BalanceAfter = balances[0]
		result.In.BalanceAfter = balances[1]

		if err := tx.CreateMovement(ctx, &result.Out); err != nil {
			return wrapStorage("create_movement", "出庫レッグの記録に失敗しました", err)
		}
		if err := tx.CreateMovement(ctx, &result.In); err != nil {
			return wrapStorage("create_movement", "入庫レッグの記録に失敗しました", err)
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("倉庫間移動に失敗しました",
			zap.String("product_id", input.ProductID),
			zap.String("from", input.SourceWarehouseID),
			zap.String("to", input.DestWarehouseID),
			zap.Int64("quantity", input.Quantity),
			zap.Error(err),
		)
		return nil, err
	}

	m.logger.Info("倉庫間移動が完了しました",
		zap.String("correlation_id", correlationID),
		zap.String("product_id", input.ProductID),
		zap.String("from", input.SourceWarehouseID),
		zap.String("to", input.DestWarehouseID),
		zap.Int64("quantity", input.Quantity),
	)
	m.Announce(ctx, result.Out, result.In)
	return result, nil
}

// Announce publishes stock-changed and low-stock events for committed movements
// コミット済みの入出庫についてイベントを発行
func (m *Manager) Announce(ctx context.Context, movements ...StockMovement) {
	if m.publisher == nil {
		return
	}
	for _, mv := range movements {
		event := StockChangedEvent{
			MovementID:    mv.ID,
			ProductID:     mv.ProductID,
			WarehouseID:   mv.WarehouseID,
			Type:          mv.Type,
			Reason:        mv.Reason,
			Delta:         mv.Delta(),
			NewQuantity:   mv.BalanceAfter,
			CorrelationID: mv.CorrelationID,
			Reference:     mv.Reference,
			Timestamp:     mv.CreatedAt,
			UserID:        mv.CreatedBy,
		}
		if err := m.publisher.PublishStockChanged(ctx, event); err != nil {
			m.logger.Error("在庫変動イベント発行に失敗しました", zap.String("movement_id", mv.ID), zap.Error(err))
		}

		threshold := m.config.LowStockThreshold
		if threshold > 0 && mv.Type == MovementOut && mv.BalanceAfter <= threshold {
			low := LowStockEvent{
				ProductID:   mv.ProductID,
				WarehouseID: mv.WarehouseID,
				Quantity:    mv.BalanceAfter,
				Threshold:   threshold,
				Timestamp:   time.Now(),
			}
			if err := m.publisher.PublishLowStock(ctx, low); err != nil {
				m.logger.Error("低在庫イベント発行に失敗しました", zap.String("product_id", mv.ProductID), zap.Error(err))
			}
		}
	}
}

// checkReferences validates that product and warehouse exist
// 商品と倉庫の存在を確認
func (m *Manager) checkReferences(ctx context.Context, tx Tx, productID, warehouseID string, movementType MovementType) error {
	if err := ValidateID("product_id", productID); err != nil {
		return err
	}
	if err := ValidateID("warehouse_id", warehouseID); err != nil {
		return err
	}
	if _, err := tx.GetProduct(ctx, productID); err != nil {
		return wrapStorage("get_product", "商品取得に失敗しました", err)
	}
	warehouse, err := tx.GetWarehouse(ctx, warehouseID)
	if err != nil {
		return wrapStorage("get_warehouse", "倉庫取得に失敗しました", err)
	}
	// 無効化された倉庫への入庫は不可（出庫は在庫引き上げのため許可）
	if movementType == MovementIn && !warehouse.IsActive {
		return NewValidationError("warehouse_id", fmt.Sprintf("倉庫 %s は無効化されています", warehouse.Name), warehouseID)
	}
	return nil
}
