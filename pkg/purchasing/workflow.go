package purchasing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
)

// Workflow drives purchase orders through their state machine
// 発注書の状態遷移を管理
type Workflow struct {
	storage   Storage
	receiver  StockReceiver
	publisher EventPublisher
	logger    *zap.Logger
}

// NewWorkflow creates a purchase order workflow. publisher may be nil.
// 新しい発注ワークフローを作成
func NewWorkflow(storage Storage, receiver StockReceiver, publisher EventPublisher, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		storage:   storage,
		receiver:  receiver,
		publisher: publisher,
		logger:    logger,
	}
}

// Create persists a new order in draft or confirmed state. No stock effect.
// 発注書を作成（在庫には影響しない）
func (w *Workflow) Create(ctx context.Context, input CreateInput) (*Order, error) {
	status := input.Status
	if status == "" {
		status = StatusDraft
	}
	if !status.Editable() {
		return nil, inventory.NewValidationError("status", "作成時のステータスはdraftまたはconfirmedのみです", string(status))
	}
	if err := inventory.ValidateID("supplier_id", input.SupplierID); err != nil {
		return nil, err
	}
	if err := validateItems(input.Items); err != nil {
		return nil, err
	}

	now := time.Now()
	order := &Order{
		ID:         inventory.NewID(),
		SupplierID: input.SupplierID,
		OrderDate:  orderDate(input.OrderDate, now),
		Status:     status,
		Notes:      strings.TrimSpace(input.Notes),
		CreatedAt:  now,
		UpdatedAt:  now,
		CreatedBy:  inventory.UserFromContext(ctx),
	}
	order.Items = buildItems(order.ID, input.Items)

	err := w.storage.WithOrderTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetSupplier(ctx, order.SupplierID); err != nil {
			return err
		}
		if err := checkOrderable(ctx, tx, order.Items); err != nil {
			return err
		}
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("発注書作成完了",
		zap.String("order_id", order.ID),
		zap.String("supplier_id", order.SupplierID),
		zap.String("status", string(order.Status)),
		zap.Int("items", len(order.Items)),
	)
	return order, nil
}

// Update replaces items, date, status and notes of a non-terminal order
// 終端前の発注書を更新（明細は全置換）
func (w *Workflow) Update(ctx context.Context, orderID string, input UpdateInput) (*Order, error) {
	if !input.Status.Editable() {
		return nil, inventory.NewValidationError("status", "更新時のステータスはdraftまたはconfirmedのみです", string(input.Status))
	}
	if err := validateItems(input.Items); err != nil {
		return nil, err
	}

	var order *Order
	err := w.storage.WithOrderTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return fmt.Errorf("%w: 発注書 %s (%s)", ErrInvalidState, current.ID, current.Status)
		}

		items := buildItems(current.ID, input.Items)
		if err := checkOrderable(ctx, tx, items); err != nil {
			return err
		}
		if err := tx.ReplaceItems(ctx, current.ID, items); err != nil {
			return err
		}

		current.Items = items
		current.Status = input.Status
		current.OrderDate = orderDate(input.OrderDate, current.OrderDate)
		current.Notes = strings.TrimSpace(input.Notes)
		current.UpdatedAt = time.Now()
		if err := tx.UpdateOrder(ctx, current); err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("発注書更新完了",
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.Int("items", len(order.Items)),
	)
	return order, nil
}

// Confirm moves the order to completed or cancelled. The order row is
// locked for the whole transaction, so of two concurrent confirms exactly
// one succeeds and the other gets ErrInvalidState. Completion receives
// every item at the warehouse; any failed item rolls back the receipts
// and leaves the order in its prior state.
// 発注書を入荷完了または取消に遷移
func (w *Workflow) Confirm(ctx context.Context, orderID string, input ConfirmInput) (*Order, error) {
	notes := strings.TrimSpace(input.Notes)
	switch input.Status {
	case StatusCompleted:
		if input.WarehouseID == "" {
			return nil, inventory.NewValidationError("warehouse_id", "入荷完了には入荷先倉庫の指定が必要です", "")
		}
	case StatusCancelled:
		if notes == "" {
			return nil, inventory.NewValidationError("notes", "取消には理由（備考）の入力が必要です", "")
		}
	default:
		return nil, inventory.NewValidationError("status", "確定先のステータスはcompletedまたはcancelledのみです", string(input.Status))
	}

	var (
		order     *Order
		movements []inventory.StockMovement
	)
	err := w.storage.WithOrderTx(ctx, func(ctx context.Context, tx Tx) error {
		movements = nil

		current, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return fmt.Errorf("%w: 発注書 %s (%s)", ErrInvalidState, current.ID, current.Status)
		}

		if input.Status == StatusCompleted {
			// 商品ID順に入庫して他の発注書との行ロック順序を揃える
			items := append([]Item(nil), current.Items...)
			sort.SliceStable(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

			for _, item := range items {
				mv, err := w.receiver.RecordAdjustmentTx(ctx, tx, inventory.AdjustmentInput{
					ProductID:   item.ProductID,
					WarehouseID: input.WarehouseID,
					Type:        inventory.MovementIn,
					Reason:      inventory.ReasonPurchase,
					Quantity:    item.Quantity,
					Notes:       notes,
					Reference:   current.ID,
				})
				if err != nil {
					return fmt.Errorf("明細 %s の入庫に失敗しました: %w", item.ID, err)
				}
				movements = append(movements, *mv)
			}
			current.WarehouseID = input.WarehouseID
		}

		now := time.Now()
		current.Status = input.Status
		if notes != "" {
			current.Notes = notes
		}
		current.UpdatedAt = now
		current.ClosedAt = &now
		if err := tx.UpdateOrder(ctx, current); err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil {
		w.logger.Warn("発注書の確定に失敗しました",
			zap.String("order_id", orderID),
			zap.String("target", string(input.Status)),
			zap.Error(err),
		)
		return nil, err
	}

	w.logger.Info("発注書確定完了",
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.String("warehouse_id", order.WarehouseID),
		zap.Int("movements", len(movements)),
	)

	w.receiver.Announce(ctx, movements...)
	if w.publisher != nil {
		ids := make([]string, 0, len(movements))
		for _, mv := range movements {
			ids = append(ids, mv.ID)
		}
		event := OrderConfirmedEvent{
			OrderID:     order.ID,
			SupplierID:  order.SupplierID,
			Status:      order.Status,
			WarehouseID: order.WarehouseID,
			Notes:       order.Notes,
			MovementIDs: ids,
			Timestamp:   order.UpdatedAt,
			UserID:      inventory.UserFromContext(ctx),
		}
		if err := w.publisher.PublishOrderConfirmed(ctx, event); err != nil {
			w.logger.Error("発注確定イベント発行に失敗しました", zap.String("order_id", order.ID), zap.Error(err))
		}
	}
	return order, nil
}

// Get retrieves an order with its items
// 発注書を取得
func (w *Workflow) Get(ctx context.Context, orderID string) (*Order, error) {
	return w.storage.GetOrder(ctx, orderID)
}

// List lists orders matching the filter, newest first
// 発注書一覧を取得
func (w *Workflow) List(ctx context.Context, filter Filter) ([]Order, error) {
	if filter.Status != "" && !filter.Status.Editable() && !filter.Status.Terminal() {
		return nil, inventory.NewValidationError("status", "無効なステータスです", string(filter.Status))
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 500
	}
	return w.storage.ListOrders(ctx, filter)
}

// CountOrdersByStatus reports order counts for the dashboard
func (w *Workflow) CountOrdersByStatus(ctx context.Context) (map[string]int, error) {
	return w.storage.CountOrdersByStatus(ctx)
}

func validateItems(items []ItemInput) error {
	if len(items) == 0 {
		return inventory.NewValidationError("items", "明細が1件以上必要です", "")
	}
	for i, item := range items {
		field := fmt.Sprintf("items[%d]", i)
		if err := inventory.ValidateID(field+".product_id", item.ProductID); err != nil {
			return err
		}
		if item.Quantity <= 0 {
			return inventory.NewValidationError(field+".quantity", "数量は正の整数である必要があります", fmt.Sprintf("%d", item.Quantity))
		}
		if err := inventory.ValidatePrice(field+".unit_price", item.UnitPrice); err != nil {
			return err
		}
	}
	return nil
}

func buildItems(orderID string, inputs []ItemInput) []Item {
	items := make([]Item, 0, len(inputs))
	for _, in := range inputs {
		items = append(items, Item{
			ID:        inventory.NewID(),
			OrderID:   orderID,
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
		})
	}
	return items
}

// checkOrderable requires every product to exist and be active
func checkOrderable(ctx context.Context, tx Tx, items []Item) error {
	for _, item := range items {
		product, err := tx.GetProduct(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if !product.IsActive {
			return inventory.NewValidationError("product_id", fmt.Sprintf("商品 %s は発注できません（無効）", product.Name), item.ProductID)
		}
	}
	return nil
}

func orderDate(requested, fallback time.Time) time.Time {
	if requested.IsZero() {
		return fallback
	}
	return requested
}
