package purchasing_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
	"github.com/nemonet1337/zaiWarehouse/pkg/inventory/storage"
	"github.com/nemonet1337/zaiWarehouse/pkg/purchasing"
)

type confirmedRecorder struct {
	mu     sync.Mutex
	events []purchasing.OrderConfirmedEvent
}

func (r *confirmedRecorder) PublishOrderConfirmed(ctx context.Context, event purchasing.OrderConfirmedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type workflowFixture struct {
	store     *storage.MemoryStorage
	manager   *inventory.Manager
	workflow  *purchasing.Workflow
	events    *confirmedRecorder
	supplier  *inventory.Supplier
	drill     *inventory.Product
	saw       *inventory.Product
	warehouse *inventory.Warehouse
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryStorage(zap.NewNop())
	manager := inventory.NewManager(store, nil, zap.NewNop(), nil)
	events := &confirmedRecorder{}
	workflow := purchasing.NewWorkflow(store, manager, events, zap.NewNop())

	category := &inventory.Category{Name: "電動工具"}
	require.NoError(t, manager.CreateCategory(ctx, category))
	supplier := &inventory.Supplier{Name: "佐藤工機"}
	require.NoError(t, manager.CreateSupplier(ctx, supplier))

	drill := &inventory.Product{Name: "ドリル", CategoryID: category.ID, SupplierID: supplier.ID, Price: decimal.NewFromInt(5000), IsActive: true}
	require.NoError(t, manager.CreateProduct(ctx, drill))
	saw := &inventory.Product{Name: "丸ノコ", CategoryID: category.ID, SupplierID: supplier.ID, Price: decimal.NewFromInt(8000), IsActive: true}
	require.NoError(t, manager.CreateProduct(ctx, saw))

	warehouse := &inventory.Warehouse{Name: "本社倉庫", IsActive: true}
	require.NoError(t, manager.CreateWarehouse(ctx, warehouse))

	return &workflowFixture{
		store:     store,
		manager:   manager,
		workflow:  workflow,
		events:    events,
		supplier:  supplier,
		drill:     drill,
		saw:       saw,
		warehouse: warehouse,
	}
}

func (f *workflowFixture) createOrder(t *testing.T, items ...purchasing.ItemInput) *purchasing.Order {
	t.Helper()
	order, err := f.workflow.Create(context.Background(), purchasing.CreateInput{
		SupplierID: f.supplier.ID,
		Status:     purchasing.StatusConfirmed,
		Items:      items,
	})
	require.NoError(t, err)
	return order
}

func (f *workflowFixture) quantity(t *testing.T, productID string) int64 {
	t.Helper()
	stock, err := f.manager.GetStock(context.Background(), productID, f.warehouse.ID)
	require.NoError(t, err)
	return stock.Quantity
}

func (f *workflowFixture) purchaseMovements(t *testing.T, orderID string) []inventory.StockMovement {
	t.Helper()
	all, err := f.manager.GetHistory(context.Background(), inventory.MovementFilter{Reason: inventory.ReasonPurchase})
	require.NoError(t, err)
	var out []inventory.StockMovement
	for _, mv := range all {
		if mv.Reference == orderID {
			out = append(out, mv)
		}
	}
	return out
}

func TestWorkflow_Create(t *testing.T) {
	f := newWorkflowFixture(t)

	order, err := f.workflow.Create(context.Background(), purchasing.CreateInput{
		SupplierID: f.supplier.ID,
		Notes:      "月次補充",
		Items: []purchasing.ItemInput{
			{ProductID: f.drill.ID, Quantity: 3, UnitPrice: decimal.NewFromInt(4500)},
			{ProductID: f.saw.ID, Quantity: 1, UnitPrice: decimal.RequireFromString("7200.50")},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, purchasing.StatusDraft, order.Status)
	assert.False(t, order.OrderDate.IsZero())
	assert.Nil(t, order.ClosedAt)
	assert.True(t, order.Total().Equal(decimal.RequireFromString("20700.50")))

	stored, err := f.workflow.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)

	// 作成では在庫は変動しない
	stocks, err := f.manager.GetStockByProduct(context.Background(), f.drill.ID)
	require.NoError(t, err)
	assert.Empty(t, stocks)
}

func TestWorkflow_Create_Validation(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()

	_, err := f.workflow.Create(ctx, purchasing.CreateInput{SupplierID: f.supplier.ID})
	assert.True(t, inventory.IsValidationError(err), "明細なしは拒否")

	_, err = f.workflow.Create(ctx, purchasing.CreateInput{
		SupplierID: f.supplier.ID,
		Status:     purchasing.StatusCompleted,
		Items:      []purchasing.ItemInput{{ProductID: f.drill.ID, Quantity: 1}},
	})
	assert.True(t, inventory.IsValidationError(err), "作成時に終端ステータスは不可")

	_, err = f.workflow.Create(ctx, purchasing.CreateInput{
		SupplierID: f.supplier.ID,
		Items:      []purchasing.ItemInput{{ProductID: f.drill.ID, Quantity: 0}},
	})
	assert.True(t, inventory.IsValidationError(err), "数量0は拒否")

	_, err = f.workflow.Create(ctx, purchasing.CreateInput{
		SupplierID: "unknown",
		Items:      []purchasing.ItemInput{{ProductID: f.drill.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, inventory.ErrSupplierNotFound)

	f.saw.IsActive = false
	require.NoError(t, f.manager.UpdateProduct(ctx, f.saw))
	_, err = f.workflow.Create(ctx, purchasing.CreateInput{
		SupplierID: f.supplier.ID,
		Items:      []purchasing.ItemInput{{ProductID: f.saw.ID, Quantity: 1}},
	})
	assert.True(t, inventory.IsValidationError(err), "無効な商品は発注不可")
}

func TestWorkflow_Confirm_Completed(t *testing.T) {
	f := newWorkflowFixture(t)
	order := f.createOrder(t,
		purchasing.ItemInput{ProductID: f.drill.ID, Quantity: 5, UnitPrice: decimal.NewFromInt(4500)},
	)
	ctx := inventory.WithUser(context.Background(), "manager-1")

	confirmed, err := f.workflow.Confirm(ctx, order.ID, purchasing.ConfirmInput{
		Status:      purchasing.StatusCompleted,
		WarehouseID: f.warehouse.ID,
	})

	require.NoError(t, err)
	assert.Equal(t, purchasing.StatusCompleted, confirmed.Status)
	assert.Equal(t, f.warehouse.ID, confirmed.WarehouseID)
	require.NotNil(t, confirmed.ClosedAt)
	assert.Equal(t, int64(5), f.quantity(t, f.drill.ID))

	movements := f.purchaseMovements(t, order.ID)
	require.Len(t, movements, 1)
	assert.Equal(t, inventory.MovementIn, movements[0].Type)
	assert.Equal(t, int64(5), movements[0].Quantity)
	assert.Equal(t, "manager-1", movements[0].CreatedBy)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, purchasing.StatusCompleted, f.events.events[0].Status)
	assert.Equal(t, []string{movements[0].ID}, f.events.events[0].MovementIDs)
}

func TestWorkflow_Confirm_CancelRequiresNotes(t *testing.T) {
	f := newWorkflowFixture(t)
	order := f.createOrder(t, purchasing.ItemInput{ProductID: f.drill.ID, Quantity: 2})

	_, err := f.workflow.Confirm(context.Background(), order.ID, purchasing.ConfirmInput{Status: purchasing.StatusCancelled, Notes: "   "})
	var ve *inventory.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "notes", ve.Field)

	cancelled, err := f.workflow.Confirm(context.Background(), order.ID, purchasing.ConfirmInput{
		Status: purchasing.StatusCancelled,
		Notes:  "仕入先都合により取消",
	})
	require.NoError(t, err)
	assert.Equal(t, purchasing.StatusCancelled, cancelled.Status)
	assert.Equal(t, "仕入先都合により取消", cancelled.Notes)
	assert.Empty(t, f.purchaseMovements(t, order.ID))

	stocks, err := f.manager.GetStockByProduct(context.Background(), f.drill.ID)
	require.NoError(t, err)
	assert.Empty(t, stocks)
}

func TestWorkflow_Confirm_CompletedRequiresWarehouse(t *testing.T) {
	f := newWorkflowFixture(t)
	order := f.createOrder(t, purchasing.ItemInput{ProductID: f.drill.ID, Quantity: 2})

	_, err := f.workflow.Confirm(context.Background(), order.ID, purchasing.ConfirmInput{Status: purchasing.StatusCompleted})

	assert.True(t, inventory.IsValidationError(err))
	stored, err := f.workflow.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, purchasing.StatusConfirmed, stored.Status)
}

func TestWorkflow_Confirm_TerminalIsInvalidState(t *testing.T) {
	f := newWorkflowFixture(t)
	order := f.createOrder(t, purchasing.ItemInput{ProductID: f.drill.ID, Quantity: 1})
	ctx := context.Background()

	_, err := f.workflow.Confirm(ctx, order.ID, purchasing.ConfirmInput{Status: purchasing.StatusCompleted, WarehouseID: f.warehouse.ID})
	require.NoError(t, err)

	_, err = f.workflow.Confirm(ctx, order.ID, purchasing.ConfirmInput{Status: purchasing.StatusCancelled, Notes: "二重操作"})
	assert.ErrorIs(t, err, purchasing.ErrInvalidState)

	_, err = f.workflow.Update(ctx, order.ID, purchasing.UpdateInput{
		Status: purchasing.StatusDraft,
		Items:  []purchasing.ItemInput{{ProductID: f.drill.ID, Quantity: 9}},
	})
	assert.ErrorIs(t, err, purchasing.ErrInvalidState)
	assert.Equal(t, int64(1), f.quantity(t, f.drill.ID))
}

func TestWorkflow_Confirm_ConcurrentOnlyOneWins(t *testing.T) {
	f := newWorkflowFixture(t)
	order := f.createOrder(t,
		purchasing.ItemInput{ProductID: f.drill.ID, Quantity: 4},
		purchasing.ItemInput{ProductID: f.saw.ID, Quantity: 2},
	)

	const attempts = 2
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.workflow.Confirm(context.Background(), order.ID, purchasing.ConfirmInput{
				Status:      purchasing.StatusCompleted,
				WarehouseID: f.warehouse.ID,
			})
		}(i)
	}
	wg.Wait()

	var succeeded, invalid int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, purchasing.ErrInvalidState):
			invalid++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, invalid)
	assert.Len(t, f.purchaseMovements(t, order.ID), 2)
	assert.Equal(t, int64(4), f.quantity(t, f.drill.ID))
	assert.Equal(t, int64(2), f.quantity(t, f.saw.ID))
}

func TestWorkflow_Confirm_FailedReceiptLeavesOrderOpen(t *testing.T) {
	f := newWorkflowFixture(t)
	order := f.createOrder(t,
		purchasing.ItemInput{ProductID: f.drill.ID, Quantity: 4},
		purchasing.ItemInput{ProductID: f.saw.ID, Quantity: 2},
	)
	ctx := context.Background()

	// 無効化された倉庫には入庫できない
	f.warehouse.IsActive = false
	require.NoError(t, f.manager.UpdateWarehouse(ctx, f.warehouse))

	_, err := f.workflow.Confirm(ctx, order.ID, purchasing.ConfirmInput{Status: purchasing.StatusCompleted, WarehouseID: f.warehouse.ID})
	assert.True(t, inventory.IsValidationError(err))

	stored, err := f.workflow.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, purchasing.StatusConfirmed, stored.Status)
	assert.Nil(t, stored.ClosedAt)
	assert.Empty(t, f.purchaseMovements(t, order.ID))
	assert.Empty(t, f.events.events)

	all, err := f.store.ListAllStock(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestWorkflow_Confirm_UnknownOrder(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.workflow.Confirm(context.Background(), "missing", purchasing.ConfirmInput{Status: purchasing.StatusCancelled, Notes: "x"})

	assert.ErrorIs(t, err, purchasing.ErrOrderNotFound)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestWorkflow_UpdateReplacesItems(t *testing.T) {
	f := newWorkflowFixture(t)
	order := f.createOrder(t, purchasing.ItemInput{ProductID: f.drill.ID, Quantity: 1})
	ctx := context.Background()

	updated, err := f.workflow.Update(ctx, order.ID, purchasing.UpdateInput{
		Status: purchasing.StatusDraft,
		Notes:  "数量見直し",
		Items: []purchasing.ItemInput{
			{ProductID: f.saw.ID, Quantity: 6, UnitPrice: decimal.NewFromInt(7000)},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, purchasing.StatusDraft, updated.Status)

	stored, err := f.workflow.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, f.saw.ID, stored.Items[0].ProductID)
	assert.Equal(t, int64(6), stored.Items[0].Quantity)
	assert.Equal(t, "数量見直し", stored.Notes)
}

func TestWorkflow_ListAndCount(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	first := f.createOrder(t, purchasing.ItemInput{ProductID: f.drill.ID, Quantity: 1})
	f.createOrder(t, purchasing.ItemInput{ProductID: f.saw.ID, Quantity: 1})
	_, err := f.workflow.Confirm(ctx, first.ID, purchasing.ConfirmInput{Status: purchasing.StatusCancelled, Notes: "不要"})
	require.NoError(t, err)

	open, err := f.workflow.List(ctx, purchasing.Filter{Status: purchasing.StatusConfirmed})
	require.NoError(t, err)
	assert.Len(t, open, 1)

	_, err = f.workflow.List(ctx, purchasing.Filter{Status: "shipped"})
	assert.True(t, inventory.IsValidationError(err))

	counts, err := f.workflow.CountOrdersByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"confirmed": 1, "cancelled": 1}, counts)
}
