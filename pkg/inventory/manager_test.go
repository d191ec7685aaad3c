package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
	"github.com/nemonet1337/zaiWarehouse/pkg/inventory/storage"
)

// recordingPublisher は発行されたイベントを記録する
type recordingPublisher struct {
	mu      sync.Mutex
	changed []inventory.StockChangedEvent
	low     []inventory.LowStockEvent
}

func (p *recordingPublisher) PublishStockChanged(ctx context.Context, event inventory.StockChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, event)
	return nil
}

func (p *recordingPublisher) PublishLowStock(ctx context.Context, event inventory.LowStockEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.low = append(p.low, event)
	return nil
}

type fixture struct {
	store     *storage.MemoryStorage
	manager   *inventory.Manager
	publisher *recordingPublisher
	product   *inventory.Product
	whA       *inventory.Warehouse
	whB       *inventory.Warehouse
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryStorage(zap.NewNop())
	pub := &recordingPublisher{}
	cfg := inventory.DefaultConfig()
	cfg.LowStockThreshold = 2
	m := inventory.NewManager(store, pub, zap.NewNop(), cfg)

	category := &inventory.Category{Name: "工具"}
	require.NoError(t, m.CreateCategory(ctx, category))
	supplier := &inventory.Supplier{Name: "山田商事", Email: "sales@yamada.example.com"}
	require.NoError(t, m.CreateSupplier(ctx, supplier))

	product := &inventory.Product{
		Name:       "電動ドリル",
		CategoryID: category.ID,
		SupplierID: supplier.ID,
		Price:      decimal.RequireFromString("1200.50"),
		IsActive:   true,
		Specifications: []inventory.Specification{
			{Title: "電圧", Value: "18V"},
		},
	}
	require.NoError(t, m.CreateProduct(ctx, product))

	whA := &inventory.Warehouse{Name: "東京倉庫", IsActive: true}
	require.NoError(t, m.CreateWarehouse(ctx, whA))
	whB := &inventory.Warehouse{Name: "大阪倉庫", IsActive: true}
	require.NoError(t, m.CreateWarehouse(ctx, whB))

	return &fixture{store: store, manager: m, publisher: pub, product: product, whA: whA, whB: whB}
}

func (f *fixture) deposit(t *testing.T, warehouseID string, qty int64) {
	t.Helper()
	_, err := f.manager.RecordAdjustment(context.Background(), inventory.AdjustmentInput{
		ProductID:   f.product.ID,
		WarehouseID: warehouseID,
		Type:        inventory.MovementIn,
		Reason:      inventory.ReasonAdjustment,
		Quantity:    qty,
	})
	require.NoError(t, err)
}

func (f *fixture) quantity(t *testing.T, warehouseID string) int64 {
	t.Helper()
	stock, err := f.manager.GetStock(context.Background(), f.product.ID, warehouseID)
	require.NoError(t, err)
	return stock.Quantity
}

func (f *fixture) movements(t *testing.T) []inventory.StockMovement {
	t.Helper()
	mvs, err := f.manager.GetHistory(context.Background(), inventory.MovementFilter{ProductID: f.product.ID})
	require.NoError(t, err)
	return mvs
}

func TestLedger_SumOfDeltas(t *testing.T) {
	f := newFixture(t)
	ledger := f.manager.Ledger()
	ctx := context.Background()

	deltas := []int64{5, -2, 10, -13, 4, -4, 1}
	var sum int64
	for _, d := range deltas {
		qty, err := ledger.Adjust(ctx, f.product.ID, f.whA.ID, d)
		require.NoError(t, err)
		sum += d
		assert.Equal(t, sum, qty)
		assert.GreaterOrEqual(t, qty, int64(0))
	}
	assert.Equal(t, sum, f.quantity(t, f.whA.ID))

	// 負になる調整は拒否され、数量は変わらない
	_, err := ledger.Adjust(ctx, f.product.ID, f.whA.ID, -(sum + 1))
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, sum, f.quantity(t, f.whA.ID))
}

func TestLedger_UnknownLocation(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Ledger().Adjust(context.Background(), f.product.ID, f.whB.ID, -1)

	assert.ErrorIs(t, err, inventory.ErrUnknownLocation)
	_, err = f.store.GetStock(context.Background(), f.product.ID, f.whB.ID)
	assert.ErrorIs(t, err, inventory.ErrStockNotFound)
}

func TestLedger_ConcurrentWithdrawalsNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, f.whA.ID, 10)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Ledger().Adjust(context.Background(), f.product.ID, f.whA.ID, -1)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, int64(0), f.quantity(t, f.whA.ID))
}

func TestManager_RecordAdjustment(t *testing.T) {
	f := newFixture(t)
	ctx := inventory.WithUser(context.Background(), "staff-1")

	mv, err := f.manager.RecordAdjustment(ctx, inventory.AdjustmentInput{
		ProductID:   f.product.ID,
		WarehouseID: f.whA.ID,
		Type:        inventory.MovementIn,
		Reason:      inventory.ReasonPurchase,
		Quantity:    8,
		Notes:       "  初回入荷  ",
	})

	require.NoError(t, err)
	assert.Equal(t, inventory.MovementIn, mv.Type)
	assert.Equal(t, int64(8), mv.BalanceAfter)
	assert.Equal(t, "初回入荷", mv.Notes)
	assert.Equal(t, "staff-1", mv.CreatedBy)
	assert.Equal(t, int64(8), f.quantity(t, f.whA.ID))
	require.Len(t, f.publisher.changed, 1)
	assert.Equal(t, int64(8), f.publisher.changed[0].NewQuantity)
}

func TestManager_RecordAdjustment_SaleForcesOut(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, f.whA.ID, 5)

	mv, err := f.manager.RecordAdjustment(context.Background(), inventory.AdjustmentInput{
		ProductID:   f.product.ID,
		WarehouseID: f.whA.ID,
		Reason:      inventory.ReasonSale,
		Quantity:    4,
	})

	require.NoError(t, err)
	assert.Equal(t, inventory.MovementOut, mv.Type)
	assert.Equal(t, int64(1), f.quantity(t, f.whA.ID))
	// 閾値2以下になったため低在庫イベントが発行される
	require.Len(t, f.publisher.low, 1)
	assert.Equal(t, int64(1), f.publisher.low[0].Quantity)
}

func TestManager_RecordAdjustment_InsufficientStockWritesNoMovement(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, f.whA.ID, 7)
	before := len(f.movements(t))

	_, err := f.manager.RecordAdjustment(context.Background(), inventory.AdjustmentInput{
		ProductID:   f.product.ID,
		WarehouseID: f.whA.ID,
		Type:        inventory.MovementOut,
		Reason:      inventory.ReasonAdjustment,
		Quantity:    10,
	})

	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Len(t, f.movements(t), before)
	assert.Equal(t, int64(7), f.quantity(t, f.whA.ID))
}

func TestManager_RecordAdjustment_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		input inventory.AdjustmentInput
	}{
		{"数量0", inventory.AdjustmentInput{ProductID: f.product.ID, WarehouseID: f.whA.ID, Type: inventory.MovementIn, Reason: inventory.ReasonPurchase, Quantity: 0}},
		{"負の数量", inventory.AdjustmentInput{ProductID: f.product.ID, WarehouseID: f.whA.ID, Type: inventory.MovementIn, Reason: inventory.ReasonPurchase, Quantity: -3}},
		{"transfer指定", inventory.AdjustmentInput{ProductID: f.product.ID, WarehouseID: f.whA.ID, Type: inventory.MovementIn, Reason: inventory.ReasonTransfer, Quantity: 1}},
		{"破損で入庫", inventory.AdjustmentInput{ProductID: f.product.ID, WarehouseID: f.whA.ID, Type: inventory.MovementIn, Reason: inventory.ReasonDamage, Quantity: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.RecordAdjustment(context.Background(), tt.input)
			assert.True(t, inventory.IsValidationError(err), "got %v", err)
		})
	}
	assert.Empty(t, f.movements(t))
}

func TestManager_RecordAdjustment_UnknownReferences(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.RecordAdjustment(context.Background(), inventory.AdjustmentInput{
		ProductID: "missing", WarehouseID: f.whA.ID, Type: inventory.MovementIn, Reason: inventory.ReasonPurchase, Quantity: 1,
	})
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
	assert.ErrorIs(t, err, inventory.ErrNotFound)

	_, err = f.manager.RecordAdjustment(context.Background(), inventory.AdjustmentInput{
		ProductID: f.product.ID, WarehouseID: "missing", Type: inventory.MovementIn, Reason: inventory.ReasonPurchase, Quantity: 1,
	})
	assert.ErrorIs(t, err, inventory.ErrWarehouseNotFound)
}

func TestManager_RecordAdjustment_InactiveWarehouseRejectsDeposit(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, f.whA.ID, 3)
	f.whA.IsActive = false
	require.NoError(t, f.manager.UpdateWarehouse(context.Background(), f.whA))

	_, err := f.manager.RecordAdjustment(context.Background(), inventory.AdjustmentInput{
		ProductID: f.product.ID, WarehouseID: f.whA.ID, Type: inventory.MovementIn, Reason: inventory.ReasonReturn, Quantity: 1,
	})
	assert.True(t, inventory.IsValidationError(err))

	// 出庫は可能
	_, err = f.manager.RecordAdjustment(context.Background(), inventory.AdjustmentInput{
		ProductID: f.product.ID, WarehouseID: f.whA.ID, Type: inventory.MovementOut, Reason: inventory.ReasonAdjustment, Quantity: 3,
	})
	assert.NoError(t, err)
}

func TestManager_RecordTransfer(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, f.whA.ID, 10)

	result, err := f.manager.RecordTransfer(context.Background(), inventory.TransferInput{
		ProductID:         f.product.ID,
		SourceWarehouseID: f.whA.ID,
		DestWarehouseID:   f.whB.ID,
		Quantity:          4,
		Notes:             "店舗補充",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(6), f.quantity(t, f.whA.ID))
	assert.Equal(t, int64(4), f.quantity(t, f.whB.ID))

	assert.Equal(t, inventory.MovementOut, result.Out.Type)
	assert.Equal(t, inventory.MovementIn, result.In.Type)
	assert.Equal(t, inventory.ReasonTransfer, result.Out.Reason)
	assert.Equal(t, inventory.ReasonTransfer, result.In.Reason)
	assert.Equal(t, result.CorrelationID, result.Out.CorrelationID)
	assert.Equal(t, result.CorrelationID, result.In.CorrelationID)
	assert.Equal(t, "店舗補充", result.Out.Notes)
	assert.Equal(t, result.Out.Notes, result.In.Notes)

	legs, err := f.manager.GetTransfer(context.Background(), result.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, result.Out.ID, legs.Out.ID)
	assert.Equal(t, result.In.ID, legs.In.ID)
}

func TestManager_RecordTransfer_RoundTrip(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, f.whA.ID, 9)
	f.deposit(t, f.whB.ID, 2)
	ctx := context.Background()

	_, err := f.manager.RecordTransfer(ctx, inventory.TransferInput{ProductID: f.product.ID, SourceWarehouseID: f.whA.ID, DestWarehouseID: f.whB.ID, Quantity: 5})
	require.NoError(t, err)
	_, err = f.manager.RecordTransfer(ctx, inventory.TransferInput{ProductID: f.product.ID, SourceWarehouseID: f.whB.ID, DestWarehouseID: f.whA.ID, Quantity: 5})
	require.NoError(t, err)

	assert.Equal(t, int64(9), f.quantity(t, f.whA.ID))
	assert.Equal(t, int64(2), f.quantity(t, f.whB.ID))
}

func TestManager_RecordTransfer_FailedSourceWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, f.whA.ID, 3)
	before := len(f.movements(t))

	_, err := f.manager.RecordTransfer(context.Background(), inventory.TransferInput{
		ProductID: f.product.ID, SourceWarehouseID: f.whA.ID, DestWarehouseID: f.whB.ID, Quantity: 4,
	})

	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Len(t, f.movements(t), before)
	assert.Equal(t, int64(3), f.quantity(t, f.whA.ID))
	_, err = f.store.GetStock(context.Background(), f.product.ID, f.whB.ID)
	assert.True(t, errors.Is(err, inventory.ErrStockNotFound), "移動先の在庫行は作成されない")
}

func TestManager_RecordTransfer_SameWarehouse(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.RecordTransfer(context.Background(), inventory.TransferInput{
		ProductID: f.product.ID, SourceWarehouseID: f.whA.ID, DestWarehouseID: f.whA.ID, Quantity: 1,
	})

	assert.True(t, inventory.IsValidationError(err))
}

func TestManager_RecordTransfer_EmptySourceIsUnknownLocation(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.RecordTransfer(context.Background(), inventory.TransferInput{
		ProductID: f.product.ID, SourceWarehouseID: f.whA.ID, DestWarehouseID: f.whB.ID, Quantity: 1,
	})

	assert.ErrorIs(t, err, inventory.ErrUnknownLocation)
}

func TestManager_CatalogRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.manager.CreateWarehouse(ctx, &inventory.Warehouse{Name: "東京倉庫"})
	assert.ErrorIs(t, err, inventory.ErrDuplicate)

	err = f.manager.CreateProduct(ctx, &inventory.Product{Name: "X", CategoryID: "nope", SupplierID: f.product.SupplierID})
	assert.ErrorIs(t, err, inventory.ErrCategoryNotFound)

	f.deposit(t, f.whA.ID, 1)
	assert.ErrorIs(t, f.manager.DeleteProduct(ctx, f.product.ID), inventory.ErrInUse)
	assert.ErrorIs(t, f.manager.DeleteWarehouse(ctx, f.whA.ID), inventory.ErrInUse)
	assert.ErrorIs(t, f.manager.DeleteSupplier(ctx, f.product.SupplierID), inventory.ErrInUse)

	got, err := f.manager.GetProduct(ctx, f.product.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("1200.5")))
	assert.Equal(t, []inventory.Specification{{Title: "電圧", Value: "18V"}}, got.Specifications)
}

func TestDashboard_Summary(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, f.whA.ID, 10)
	f.deposit(t, f.whB.ID, 1)

	cfg := inventory.DefaultConfig()
	cfg.LowStockThreshold = 2
	dashboard := inventory.NewDashboard(f.store, f.store, zap.NewNop(), cfg)

	summary, err := dashboard.Summary(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.ProductCount)
	assert.Equal(t, 2, summary.WarehouseCount)
	assert.Equal(t, int64(11), summary.TotalUnits)
	assert.True(t, summary.StockValue.Equal(decimal.RequireFromString("13205.5")), summary.StockValue.String())
	require.Len(t, summary.LowStock, 1)
	assert.Equal(t, f.whB.ID, summary.LowStock[0].WarehouseID)
	assert.Len(t, summary.RecentMovements, 2)
}

func BenchmarkManager_RecordAdjustment(b *testing.B) {
	ctx := context.Background()
	store := storage.NewMemoryStorage(zap.NewNop())
	m := inventory.NewManager(store, nil, zap.NewNop(), nil)

	category := &inventory.Category{Name: "bench"}
	supplier := &inventory.Supplier{Name: "bench"}
	_ = m.CreateCategory(ctx, category)
	_ = m.CreateSupplier(ctx, supplier)
	product := &inventory.Product{Name: "bench", CategoryID: category.ID, SupplierID: supplier.ID, IsActive: true}
	_ = m.CreateProduct(ctx, product)
	warehouse := &inventory.Warehouse{Name: "bench", IsActive: true}
	_ = m.CreateWarehouse(ctx, warehouse)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = m.RecordAdjustment(ctx, inventory.AdjustmentInput{
			ProductID:   product.ID,
			WarehouseID: warehouse.ID,
			Type:        inventory.MovementIn,
			Reason:      inventory.ReasonAdjustment,
			Quantity:    1,
		})
	}
}
