package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
	"github.com/nemonet1337/zaiWarehouse/pkg/purchasing"
)

// PostgreSQL error codes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// PostgreSQLStorage implements the Storage interface using PostgreSQL
// PostgreSQLを使用したStorageインターフェースの実装
type PostgreSQLStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

var (
	_ inventory.Storage  = (*PostgreSQLStorage)(nil)
	_ purchasing.Storage = (*PostgreSQLStorage)(nil)
)

// PoolConfig sets connection pool limits
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
// 新しいPostgreSQLストレージインスタンスを作成
func NewPostgreSQLStorage(dsn string, pool PoolConfig, logger *zap.Logger) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
	}

	// 接続テスト
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースpingに失敗しました: %w", err)
	}

	// 接続プール設定
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = 25
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = 10
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	return NewPostgreSQLStorageFromDB(db, logger), nil
}

// NewPostgreSQLStorageFromDB wraps an already opened database handle
// 既存のデータベースハンドルからストレージを作成
func NewPostgreSQLStorageFromDB(db *sql.DB, logger *zap.Logger) *PostgreSQLStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgreSQLStorage{db: db, logger: logger}
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// WithTx runs fn inside a database transaction
// トランザクション内で処理を実行
func (s *PostgreSQLStorage) WithTx(ctx context.Context, fn func(ctx context.Context, tx inventory.Tx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return fn(ctx, &pgTx{tx: tx}) })
}

// WithOrderTx runs fn inside a database transaction covering purchase orders
// 発注書を含むトランザクション内で処理を実行
func (s *PostgreSQLStorage) WithOrderTx(ctx context.Context, fn func(ctx context.Context, tx purchasing.Tx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return fn(ctx, &pgTx{tx: tx}) })
}

func (s *PostgreSQLStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗しました: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Warn("ロールバックに失敗しました", zap.Error(err))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗しました: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
// データベース接続を閉じる
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}

// mapError converts driver errors to domain sentinels
func mapError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgUniqueViolation:
			return inventory.ErrDuplicate
		case pgForeignKeyViolation:
			return inventory.ErrInUse
		case pgCheckViolation:
			return inventory.NewValidationError(pqErr.Constraint, "制約違反です", pqErr.Message)
		}
	}
	return err
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ---- suppliers ----

const supplierColumns = `id, name, contact_name, email, phone, address, created_at, updated_at`

func scanSupplier(row rowScanner) (*inventory.Supplier, error) {
	v := &inventory.Supplier{}
	if err := row.Scan(&v.ID, &v.Name, &v.ContactName, &v.Email, &v.Phone, &v.Address, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return v, nil
}

func getSupplierFrom(ctx context.Context, q queryer, id string) (*inventory.Supplier, error) {
	row := q.QueryRowContext(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id)
	v, err := scanSupplier(row)
	if err != nil {
		return nil, mapError(err, inventory.ErrSupplierNotFound)
	}
	return v, nil
}

// CreateSupplier creates a new supplier
// 仕入先を作成
func (s *PostgreSQLStorage) CreateSupplier(ctx context.Context, v *inventory.Supplier) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (`+supplierColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.Name, v.ContactName, v.Email, v.Phone, v.Address, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("仕入先作成に失敗しました: %w", mapError(err, nil))
	}
	return nil
}

// GetSupplier retrieves a supplier
func (s *PostgreSQLStorage) GetSupplier(ctx context.Context, id string) (*inventory.Supplier, error) {
	return getSupplierFrom(ctx, s.db, id)
}

// UpdateSupplier updates a supplier
func (s *PostgreSQLStorage) UpdateSupplier(ctx context.Context, v *inventory.Supplier) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE suppliers SET name = $2, contact_name = $3, email = $4, phone = $5, address = $6, updated_at = $7
		WHERE id = $1`,
		v.ID, v.Name, v.ContactName, v.Email, v.Phone, v.Address, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("仕入先更新に失敗しました: %w", mapError(err, nil))
	}
	return requireAffected(res, inventory.ErrSupplierNotFound)
}

// DeleteSupplier deletes a supplier
func (s *PostgreSQLStorage) DeleteSupplier(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM suppliers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("仕入先削除に失敗しました: %w", mapError(err, nil))
	}
	return requireAffected(res, inventory.ErrSupplierNotFound)
}

// ListSuppliers lists suppliers by name
func (s *PostgreSQLStorage) ListSuppliers(ctx context.Context) ([]inventory.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+supplierColumns+` FROM suppliers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("仕入先一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	out := []inventory.Supplier{}
	for rows.Next() {
		v, err := scanSupplier(rows)
		if err != nil {
			return nil, fmt.Errorf("仕入先データ読み取りに失敗しました: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// ---- categories ----

const categoryColumns = `id, name, description, created_at, updated_at`

func scanCategory(row rowScanner) (*inventory.Category, error) {
	v := &inventory.Category{}
	if err := row.Scan(&v.ID, &v.Name, &v.Description, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return v, nil
}

// CreateCategory creates a new category
// カテゴリを作成
func (s *PostgreSQLStorage) CreateCategory(ctx context.Context, v *inventory.Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (`+categoryColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		v.ID, v.Name, v.Description, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("カテゴリ作成に失敗しました: %w", mapError(err, nil))
	}
	return nil
}

// GetCategory retrieves a category
func (s *PostgreSQLStorage) GetCategory(ctx context.Context, id string) (*inventory.Category, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id)
	v, err := scanCategory(row)
	if err != nil {
		return nil, mapError(err, inventory.ErrCategoryNotFound)
	}
	return v, nil
}

// UpdateCategory updates a category
func (s *PostgreSQLStorage) UpdateCategory(ctx context.Context, v *inventory.Category) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE categories SET name = $2, description = $3, updated_at = $4 WHERE id = $1`,
		v.ID, v.Name, v.Description, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("カテゴリ更新に失敗しました: %w", mapError(err, nil))
	}
	return requireAffected(res, inventory.ErrCategoryNotFound)
}

// DeleteCategory deletes a category
func (s *PostgreSQLStorage) DeleteCategory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("カテゴリ削除に失敗しました: %w", mapError(err, nil))
	}
	return requireAffected(res, inventory.ErrCategoryNotFound)
}

// ListCategories lists categories by name
func (s *PostgreSQLStorage) ListCategories(ctx context.Context) ([]inventory.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	out := []inventory.Category{}
	for rows.Next() {
		v, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("カテゴリデータ読み取りに失敗しました: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// ---- warehouses ----

const warehouseColumns = `id, name, address, phone, email, is_active, created_at, updated_at`

func scanWarehouse(row rowScanner) (*inventory.Warehouse, error) {
	v := &inventory.Warehouse{}
	if err := row.Scan(&v.ID, &v.Name, &v.Address, &v.Phone, &v.Email, &v.IsActive, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return v, nil
}

func getWarehouseFrom(ctx context.Context, q queryer, id string) (*inventory.Warehouse, error) {
	row := q.QueryRowContext(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id = $1`, id)
	v, err := scanWarehouse(row)
	if err != nil {
		return nil, mapError(err, inventory.ErrWarehouseNotFound)
	}
	return v, nil
}

// CreateWarehouse creates a new warehouse
// 倉庫を作成
func (s *PostgreSQLStorage) CreateWarehouse(ctx context.Context, v *inventory.Warehouse) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO warehouses (`+warehouseColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.Name, v.Address, v.Phone, v.Email, v.IsActive, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("倉庫作成に失敗しました: %w", mapError(err, nil))
	}
	return nil
}

// GetWarehouse retrieves a warehouse
func (s *PostgreSQLStorage) GetWarehouse(ctx context.Context, id string) (*inventory.Warehouse, error) {
	return getWarehouseFrom(ctx, s.db, id)
}

// UpdateWarehouse updates a warehouse
func (s *PostgreSQLStorage) UpdateWarehouse(ctx context.Context, v *inventory.Warehouse) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE warehouses SET name = $2, address = $3, phone = $4, email = $5, is_active = $6, updated_at = $7
		WHERE id = $1`,
		v.ID, v.Name, v.Address, v.Phone, v.Email, v.IsActive, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("倉庫更新に失敗しました: %w", mapError(err, nil))
	}
	return requireAffected(res, inventory.ErrWarehouseNotFound)
}

// DeleteWarehouse deletes a warehouse; zero-quantity ledger rows cascade
func (s *PostgreSQLStorage) DeleteWarehouse(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM warehouses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("倉庫削除に失敗しました: %w", mapError(err, nil))
	}
	return requireAffected(res, inventory.ErrWarehouseNotFound)
}

// ListWarehouses lists warehouses by name
func (s *PostgreSQLStorage) ListWarehouses(ctx context.Context) ([]inventory.Warehouse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+warehouseColumns+` FROM warehouses ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("倉庫一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	out := []inventory.Warehouse{}
	for rows.Next() {
		v, err := scanWarehouse(rows)
		if err != nil {
			return nil, fmt.Errorf("倉庫データ読み取りに失敗しました: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// ---- products ----

const productColumns = `id, name, category_id, supplier_id, price, specifications, is_active, manual_key, created_at, updated_at`

func scanProduct(row rowScanner) (*inventory.Product, error) {
	v := &inventory.Product{}
	var specs []byte
	if err := row.Scan(&v.ID, &v.Name, &v.CategoryID, &v.SupplierID, &v.Price, &specs, &v.IsActive, &v.ManualKey, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	if len(specs) > 0 {
		if err := json.Unmarshal(specs, &v.Specifications); err != nil {
			return nil, fmt.Errorf("商品仕様の解析に失敗しました: %w", err)
		}
	}
	return v, nil
}

func encodeSpecifications(specs []inventory.Specification) ([]byte, error) {
	if specs == nil {
		specs = []inventory.Specification{}
	}
	data, err := json.Marshal(specs)
	if err != nil {
		return nil, fmt.Errorf("商品仕様のシリアライズに失敗しました: %w", err)
	}
	return data, nil
}

func getProductFrom(ctx context.Context, q queryer, id string) (*inventory.Product, error) {
	row := q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	v, err := scanProduct(row)
	if err != nil {
		return nil, mapError(err, inventory.ErrProductNotFound)
	}
	return v, nil
}

// CreateProduct creates a new product
// 商品を作成
func (s *PostgreSQLStorage) CreateProduct(ctx context.Context, v *inventory.Product) error {
	specs, err := encodeSpecifications(v.Specifications)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.Name, v.CategoryID, v.SupplierID, v.Price, specs, v.IsActive, v.ManualKey, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("商品作成に失敗しました: %w", mapError(err, nil))
	}
	return nil
}

// GetProduct retrieves a product
func (s *PostgreSQLStorage) GetProduct(ctx context.Context, id string) (*inventory.Product, error) {
	return getProductFrom(ctx, s.db, id)
}

// UpdateProduct updates a product
func (s *PostgreSQLStorage) UpdateProduct(ctx context.Context, v *inventory.Product) error {
	specs, err := encodeSpecifications(v.Specifications)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category_id = $3, supplier_id = $4, price = $5, specifications = $6,
		    is_active = $7, manual_key = $8, updated_at = $9
		WHERE id = $1`,
		v.ID, v.Name, v.CategoryID, v.SupplierID, v.Price, specs, v.IsActive, v.ManualKey, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("商品更新に失敗しました: %w", mapError(err, nil))
	}
	return requireAffected(res, inventory.ErrProductNotFound)
}

// DeleteProduct deletes a product; zero-quantity ledger rows cascade
func (s *PostgreSQLStorage) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("商品削除に失敗しました: %w", mapError(err, nil))
	}
	return requireAffected(res, inventory.ErrProductNotFound)
}

// ListProducts lists products matching the filter by name
// 条件に合う商品一覧を取得
func (s *PostgreSQLStorage) ListProducts(ctx context.Context, filter inventory.ProductFilter) ([]inventory.Product, error) {
	var (
		conds []string
		args  []any
	)
	if filter.SupplierID != "" {
		args = append(args, filter.SupplierID)
		conds = append(conds, fmt.Sprintf("supplier_id = $%d", len(args)))
	}
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		conds = append(conds, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if filter.ActiveOnly {
		conds = append(conds, "is_active = TRUE")
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY name`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("商品一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	out := []inventory.Product{}
	for rows.Next() {
		v, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("商品データ読み取りに失敗しました: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// ---- stock ledger ----

const stockColumns = `product_id, warehouse_id, quantity, updated_at, updated_by`

func scanStock(row rowScanner) (*inventory.WarehouseStock, error) {
	v := &inventory.WarehouseStock{}
	if err := row.Scan(&v.ProductID, &v.WarehouseID, &v.Quantity, &v.UpdatedAt, &v.UpdatedBy); err != nil {
		return nil, err
	}
	return v, nil
}

// GetStock retrieves stock information for a product at a warehouse
// 指定倉庫の商品在庫情報を取得
func (s *PostgreSQLStorage) GetStock(ctx context.Context, productID, warehouseID string) (*inventory.WarehouseStock, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+stockColumns+` FROM warehouse_stocks
		WHERE product_id = $1 AND warehouse_id = $2`, productID, warehouseID)
	v, err := scanStock(row)
	if err != nil {
		return nil, mapError(err, inventory.ErrStockNotFound)
	}
	return v, nil
}

// ListStockByProduct lists a product's rows
func (s *PostgreSQLStorage) ListStockByProduct(ctx context.Context, productID string) ([]inventory.WarehouseStock, error) {
	return s.listStock(ctx, `WHERE product_id = $1 ORDER BY warehouse_id`, productID)
}

// ListStockByWarehouse lists a warehouse's rows
// 倉庫別在庫一覧を取得
func (s *PostgreSQLStorage) ListStockByWarehouse(ctx context.Context, warehouseID string) ([]inventory.WarehouseStock, error) {
	return s.listStock(ctx, `WHERE warehouse_id = $1 ORDER BY product_id`, warehouseID)
}

// ListAllStock lists every ledger row
func (s *PostgreSQLStorage) ListAllStock(ctx context.Context) ([]inventory.WarehouseStock, error) {
	return s.listStock(ctx, `ORDER BY product_id, warehouse_id`)
}

func (s *PostgreSQLStorage) listStock(ctx context.Context, clause string, args ...any) ([]inventory.WarehouseStock, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stockColumns+` FROM warehouse_stocks `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("在庫一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	out := []inventory.WarehouseStock{}
	for rows.Next() {
		v, err := scanStock(rows)
		if err != nil {
			return nil, fmt.Errorf("在庫データ読み取りに失敗しました: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// ---- movements ----

const movementColumns = `id, product_id, warehouse_id, type, reason, quantity, notes, correlation_id, reference, balance_after, created_at, created_by`

func scanMovement(row rowScanner) (*inventory.StockMovement, error) {
	v := &inventory.StockMovement{}
	var movementType, reason string
	if err := row.Scan(&v.ID, &v.ProductID, &v.WarehouseID, &movementType, &reason, &v.Quantity,
		&v.Notes, &v.CorrelationID, &v.Reference, &v.BalanceAfter, &v.CreatedAt, &v.CreatedBy); err != nil {
		return nil, err
	}
	v.Type = inventory.MovementType(movementType)
	v.Reason = inventory.MovementReason(reason)
	return v, nil
}

// ListMovements lists movements newest first
// 入出庫履歴を新しい順に取得
func (s *PostgreSQLStorage) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.StockMovement, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProductID != "" {
		add("product_id = $%d", filter.ProductID)
	}
	if filter.WarehouseID != "" {
		add("warehouse_id = $%d", filter.WarehouseID)
	}
	if filter.Reason != "" {
		add("reason = $%d", string(filter.Reason))
	}
	if filter.CorrelationID != "" {
		add("correlation_id = $%d", filter.CorrelationID)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}

	query := `SELECT ` + movementColumns + ` FROM stock_movements`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("入出庫履歴取得に失敗しました: %w", err)
	}
	defer rows.Close()

	out := []inventory.StockMovement{}
	for rows.Next() {
		v, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("入出庫データ読み取りに失敗しました: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// ---- purchase orders ----

const orderColumns = `id, supplier_id, order_date, status, notes, warehouse_id, created_at, updated_at, closed_at, created_by`

func scanOrder(row rowScanner) (*purchasing.Order, error) {
	v := &purchasing.Order{}
	var (
		status    string
		warehouse sql.NullString
		closedAt  sql.NullTime
	)
	if err := row.Scan(&v.ID, &v.SupplierID, &v.OrderDate, &status, &v.Notes, &warehouse,
		&v.CreatedAt, &v.UpdatedAt, &closedAt, &v.CreatedBy); err != nil {
		return nil, err
	}
	v.Status = purchasing.Status(status)
	v.WarehouseID = warehouse.String
	if closedAt.Valid {
		t := closedAt.Time
		v.ClosedAt = &t
	}
	return v, nil
}

func loadItems(ctx context.Context, q queryer, orderIDs ...string) (map[string][]purchasing.Item, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price
		FROM purchase_order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("発注明細取得に失敗しました: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]purchasing.Item, len(orderIDs))
	for rows.Next() {
		var item purchasing.Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("発注明細読み取りに失敗しました: %w", err)
		}
		out[item.OrderID] = append(out[item.OrderID], item)
	}
	return out, rows.Err()
}

// GetOrder retrieves a purchase order with items
// 発注書を取得
func (s *PostgreSQLStorage) GetOrder(ctx context.Context, id string) (*purchasing.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		return nil, mapError(err, purchasing.ErrOrderNotFound)
	}
	items, err := loadItems(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

// ListOrders lists orders newest first
// 発注書一覧を取得
func (s *PostgreSQLStorage) ListOrders(ctx context.Context, filter purchasing.Filter) ([]purchasing.Order, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.SupplierID != "" {
		args = append(args, filter.SupplierID)
		conds = append(conds, fmt.Sprintf("supplier_id = $%d", len(args)))
	}
	query := `SELECT ` + orderColumns + ` FROM purchase_orders`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("発注書一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	orders := []purchasing.Order{}
	ids := []string{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("発注書データ読み取りに失敗しました: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return orders, nil
	}

	items, err := loadItems(ctx, s.db, ids...)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

// CountOrdersByStatus counts orders per status
func (s *PostgreSQLStorage) CountOrdersByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM purchase_orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("発注件数取得に失敗しました: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// pgTx runs ledger and order statements on one *sql.Tx
type pgTx struct {
	tx *sql.Tx
}

var _ purchasing.Tx = (*pgTx)(nil)

func (t *pgTx) GetProduct(ctx context.Context, id string) (*inventory.Product, error) {
	return getProductFrom(ctx, t.tx, id)
}

func (t *pgTx) GetWarehouse(ctx context.Context, id string) (*inventory.Warehouse, error) {
	return getWarehouseFrom(ctx, t.tx, id)
}

func (t *pgTx) GetSupplier(ctx context.Context, id string) (*inventory.Supplier, error) {
	return getSupplierFrom(ctx, t.tx, id)
}

// LockStock takes the row lock that serializes adjustments on the pair
func (t *pgTx) LockStock(ctx context.Context, productID, warehouseID string) (*inventory.WarehouseStock, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+stockColumns+` FROM warehouse_stocks
		WHERE product_id = $1 AND warehouse_id = $2
		FOR UPDATE`, productID, warehouseID)
	v, err := scanStock(row)
	if err != nil {
		return nil, mapError(err, inventory.ErrStockNotFound)
	}
	return v, nil
}

func (t *pgTx) EnsureStock(ctx context.Context, productID, warehouseID string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO warehouse_stocks (`+stockColumns+`)
		VALUES ($1, $2, 0, $3, $4)
		ON CONFLICT (product_id, warehouse_id) DO NOTHING`,
		productID, warehouseID, time.Now(), inventory.UserFromContext(ctx))
	if err != nil {
		return fmt.Errorf("在庫行の作成に失敗しました: %w", mapError(err, nil))
	}
	return nil
}

func (t *pgTx) UpdateStock(ctx context.Context, stock *inventory.WarehouseStock) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE warehouse_stocks SET quantity = $3, updated_at = $4, updated_by = $5
		WHERE product_id = $1 AND warehouse_id = $2`,
		stock.ProductID, stock.WarehouseID, stock.Quantity, stock.UpdatedAt, stock.UpdatedBy)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgCheckViolation {
			return inventory.ErrInsufficientStock
		}
		return fmt.Errorf("在庫更新に失敗しました: %w", err)
	}
	return requireAffected(res, inventory.ErrStockNotFound)
}

func (t *pgTx) CreateMovement(ctx context.Context, v *inventory.StockMovement) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_movements (`+movementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		v.ID, v.ProductID, v.WarehouseID, string(v.Type), string(v.Reason), v.Quantity,
		v.Notes, v.CorrelationID, v.Reference, v.BalanceAfter, v.CreatedAt, v.CreatedBy)
	if err != nil {
		return fmt.Errorf("入出庫記録作成に失敗しました: %w", mapError(err, nil))
	}
	return nil
}

// LockOrder takes the row lock that makes the confirm check-and-set atomic
func (t *pgTx) LockOrder(ctx context.Context, id string) (*purchasing.Order, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id)
	order, err := scanOrder(row)
	if err != nil {
		return nil, mapError(err, purchasing.ErrOrderNotFound)
	}
	items, err := loadItems(ctx, t.tx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o *purchasing.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchase_orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.SupplierID, o.OrderDate, string(o.Status), o.Notes, nullString(o.WarehouseID),
		o.CreatedAt, o.UpdatedAt, o.ClosedAt, o.CreatedBy)
	if err != nil {
		return fmt.Errorf("発注書作成に失敗しました: %w", mapError(err, nil))
	}
	return t.insertItems(ctx, o.Items)
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *purchasing.Order) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET order_date = $2, status = $3, notes = $4, warehouse_id = $5, updated_at = $6, closed_at = $7
		WHERE id = $1`,
		o.ID, o.OrderDate, string(o.Status), o.Notes, nullString(o.WarehouseID), o.UpdatedAt, o.ClosedAt)
	if err != nil {
		return fmt.Errorf("発注書更新に失敗しました: %w", mapError(err, nil))
	}
	return requireAffected(res, purchasing.ErrOrderNotFound)
}

func (t *pgTx) ReplaceItems(ctx context.Context, orderID string, items []purchasing.Item) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM purchase_order_items WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("発注明細削除に失敗しました: %w", err)
	}
	return t.insertItems(ctx, items)
}

func (t *pgTx) insertItems(ctx context.Context, items []purchasing.Item) error {
	for i, item := range items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO purchase_order_items (id, order_id, product_id, quantity, unit_price, position)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, i)
		if err != nil {
			return fmt.Errorf("発注明細作成に失敗しました: %w", mapError(err, nil))
		}
	}
	return nil
}
