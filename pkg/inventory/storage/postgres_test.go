package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
	"github.com/nemonet1337/zaiWarehouse/pkg/purchasing"
)

var stockColumnNames = []string{"product_id", "warehouse_id", "quantity", "updated_at", "updated_by"}

const (
	lockStockSQL   = `SELECT (.+) FROM warehouse_stocks WHERE product_id = \$1 AND warehouse_id = \$2 FOR UPDATE`
	updateStockSQL = `UPDATE warehouse_stocks SET quantity = \$3, updated_at = \$4, updated_by = \$5`
)

func newMockStorage(t *testing.T) (*PostgreSQLStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgreSQLStorageFromDB(db, zap.NewNop()), mock
}

func TestPostgreSQLStorage_LedgerAdjustCommits(t *testing.T) {
	store, mock := newMockStorage(t)
	ledger := inventory.NewLedger(store, zap.NewNop())
	ctx := inventory.WithUser(context.Background(), "staff-9")

	mock.ExpectBegin()
	mock.ExpectQuery(lockStockSQL).
		WithArgs("P1", "W1").
		WillReturnRows(sqlmock.NewRows(stockColumnNames).AddRow("P1", "W1", int64(7), time.Now(), "system"))
	mock.ExpectExec(updateStockSQL).
		WithArgs("P1", "W1", int64(4), sqlmock.AnyArg(), "staff-9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	qty, err := ledger.Adjust(ctx, "P1", "W1", -3)

	require.NoError(t, err)
	assert.Equal(t, int64(4), qty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_LedgerCreatesRowOnDeposit(t *testing.T) {
	store, mock := newMockStorage(t)
	ledger := inventory.NewLedger(store, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery(lockStockSQL).
		WithArgs("P1", "W1").
		WillReturnRows(sqlmock.NewRows(stockColumnNames))
	mock.ExpectExec(`INSERT INTO warehouse_stocks (.+) ON CONFLICT \(product_id, warehouse_id\) DO NOTHING`).
		WithArgs("P1", "W1", sqlmock.AnyArg(), "system").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(lockStockSQL).
		WithArgs("P1", "W1").
		WillReturnRows(sqlmock.NewRows(stockColumnNames).AddRow("P1", "W1", int64(0), time.Now(), "system"))
	mock.ExpectExec(updateStockSQL).
		WithArgs("P1", "W1", int64(5), sqlmock.AnyArg(), "system").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	qty, err := ledger.Adjust(context.Background(), "P1", "W1", 5)

	require.NoError(t, err)
	assert.Equal(t, int64(5), qty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_LedgerInsufficientStockRollsBack(t *testing.T) {
	store, mock := newMockStorage(t)
	ledger := inventory.NewLedger(store, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery(lockStockSQL).
		WithArgs("P1", "W1").
		WillReturnRows(sqlmock.NewRows(stockColumnNames).AddRow("P1", "W1", int64(2), time.Now(), "system"))
	mock.ExpectRollback()

	_, err := ledger.Adjust(context.Background(), "P1", "W1", -3)

	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTx_UpdateStockCheckViolation(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectExec(updateStockSQL).
		WillReturnError(&pq.Error{Code: pgCheckViolation, Constraint: "warehouse_stocks_quantity_non_negative"})
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		return tx.UpdateStock(ctx, &inventory.WarehouseStock{ProductID: "P1", WarehouseID: "W1", Quantity: -1})
	})

	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_CreateSupplierDuplicate(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectExec(`INSERT INTO suppliers`).
		WillReturnError(&pq.Error{Code: pgUniqueViolation})

	err := store.CreateSupplier(context.Background(), &inventory.Supplier{ID: "S1", Name: "山田商事"})

	assert.ErrorIs(t, err, inventory.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_DeleteSupplierInUse(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectExec(`DELETE FROM suppliers WHERE id = \$1`).
		WithArgs("S1").
		WillReturnError(&pq.Error{Code: pgForeignKeyViolation})

	err := store.DeleteSupplier(context.Background(), "S1")

	assert.ErrorIs(t, err, inventory.ErrInUse)
}

func TestPostgreSQLStorage_GetProductNotFound(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectQuery(`SELECT (.+) FROM products WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetProduct(context.Background(), "missing")

	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestPostgreSQLStorage_UpdateWarehouseNotFound(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectExec(`UPDATE warehouses`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateWarehouse(context.Background(), &inventory.Warehouse{ID: "W9", Name: "x"})

	assert.ErrorIs(t, err, inventory.ErrWarehouseNotFound)
}

func TestPostgreSQLStorage_ListMovementsFilter(t *testing.T) {
	store, mock := newMockStorage(t)
	columns := []string{"id", "product_id", "warehouse_id", "type", "reason", "quantity", "notes",
		"correlation_id", "reference", "balance_after", "created_at", "created_by"}
	created := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM stock_movements WHERE product_id = \$1 AND reason = \$2 ORDER BY created_at DESC, id LIMIT \$3`).
		WithArgs("P1", "sale", 5).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("M1", "P1", "W1", "out", "sale", int64(2), "", "", "", int64(8), created, "staff-1"))

	movements, err := store.ListMovements(context.Background(), inventory.MovementFilter{
		ProductID: "P1",
		Reason:    inventory.ReasonSale,
		Limit:     5,
	})

	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, inventory.MovementOut, movements[0].Type)
	assert.Equal(t, int64(-2), movements[0].Delta())
	assert.Equal(t, int64(8), movements[0].BalanceAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTx_LockOrderLoadsItems(t *testing.T) {
	store, mock := newMockStorage(t)
	now := time.Now()
	orderColumnNames := []string{"id", "supplier_id", "order_date", "status", "notes", "warehouse_id",
		"created_at", "updated_at", "closed_at", "created_by"}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM purchase_orders WHERE id = \$1 FOR UPDATE`).
		WithArgs("O1").
		WillReturnRows(sqlmock.NewRows(orderColumnNames).
			AddRow("O1", "S1", now, "confirmed", "", nil, now, now, nil, "staff-1"))
	mock.ExpectQuery(`FROM purchase_order_items WHERE order_id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "quantity", "unit_price"}).
			AddRow("I1", "O1", "P1", int64(5), "4500.00").
			AddRow("I2", "O1", "P2", int64(1), "120.50"))
	mock.ExpectCommit()

	var order *purchasing.Order
	err := store.WithOrderTx(context.Background(), func(ctx context.Context, tx purchasing.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, "O1")
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, purchasing.StatusConfirmed, order.Status)
	assert.Empty(t, order.WarehouseID)
	assert.Nil(t, order.ClosedAt)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "22620.5", order.Total().String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTx_LockOrderNotFound(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM purchase_orders WHERE id = \$1 FOR UPDATE`).
		WithArgs("O404").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.WithOrderTx(context.Background(), func(ctx context.Context, tx purchasing.Tx) error {
		_, err := tx.LockOrder(ctx, "O404")
		return err
	})

	assert.ErrorIs(t, err, purchasing.ErrOrderNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
