package inventory

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CreateSupplier registers a new supplier
// 仕入先を新規登録
func (m *Manager) CreateSupplier(ctx context.Context, supplier *Supplier) error {
	if err := ValidateSupplier(supplier); err != nil {
		return err
	}
	if supplier.ID == "" {
		supplier.ID = NewID()
	}
	now := time.Now()
	supplier.Name = strings.TrimSpace(supplier.Name)
	supplier.CreatedAt = now
	supplier.UpdatedAt = now

	if err := m.storage.CreateSupplier(ctx, supplier); err != nil {
		return wrapStorage("create_supplier", "仕入先作成に失敗しました", err)
	}
	m.logger.Info("仕入先作成完了", zap.String("supplier_id", supplier.ID), zap.String("name", supplier.Name))
	return nil
}

// GetSupplier retrieves supplier information
// 仕入先情報を取得
func (m *Manager) GetSupplier(ctx context.Context, id string) (*Supplier, error) {
	supplier, err := m.storage.GetSupplier(ctx, id)
	if err != nil {
		return nil, wrapStorage("get_supplier", "仕入先取得に失敗しました", err)
	}
	return supplier, nil
}

// UpdateSupplier updates supplier information
// 仕入先情報を更新
func (m *Manager) UpdateSupplier(ctx context.Context, supplier *Supplier) error {
	if err := ValidateSupplier(supplier); err != nil {
		return err
	}
	existing, err := m.GetSupplier(ctx, supplier.ID)
	if err != nil {
		return err
	}
	supplier.CreatedAt = existing.CreatedAt
	supplier.UpdatedAt = time.Now()

	if err := m.storage.UpdateSupplier(ctx, supplier); err != nil {
		return wrapStorage("update_supplier", "仕入先更新に失敗しました", err)
	}
	m.logger.Info("仕入先更新完了", zap.String("supplier_id", supplier.ID))
	return nil
}

// DeleteSupplier removes a supplier
// 仕入先を削除
func (m *Manager) DeleteSupplier(ctx context.Context, id string) error {
	if err := m.storage.DeleteSupplier(ctx, id); err != nil {
		return wrapStorage("delete_supplier", "仕入先削除に失敗しました", err)
	}
	m.logger.Info("仕入先削除完了", zap.String("supplier_id", id))
	return nil
}

// ListSuppliers lists all suppliers
func (m *Manager) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	suppliers, err := m.storage.ListSuppliers(ctx)
	if err != nil {
		return nil, wrapStorage("list_suppliers", "仕入先一覧取得に失敗しました", err)
	}
	return suppliers, nil
}

// CreateCategory registers a new category
// カテゴリを新規登録
func (m *Manager) CreateCategory(ctx context.Context, category *Category) error {
	if err := ValidateCategory(category); err != nil {
		return err
	}
	if category.ID == "" {
		category.ID = NewID()
	}
	now := time.Now()
	category.Name = strings.TrimSpace(category.Name)
	category.CreatedAt = now
	category.UpdatedAt = now

	if err := m.storage.CreateCategory(ctx, category); err != nil {
		return wrapStorage("create_category", "カテゴリ作成に失敗しました", err)
	}
	m.logger.Info("カテゴリ作成完了", zap.String("category_id", category.ID), zap.String("name", category.Name))
	return nil
}

// GetCategory retrieves a category
func (m *Manager) GetCategory(ctx context.Context, id string) (*Category, error) {
	category, err := m.storage.GetCategory(ctx, id)
	if err != nil {
		return nil, wrapStorage("get_category", "カテゴリ取得に失敗しました", err)
	}
	return category, nil
}

// UpdateCategory updates a category
func (m *Manager) UpdateCategory(ctx context.Context, category *Category) error {
	if err := ValidateCategory(category); err != nil {
		return err
	}
	existing, err := m.GetCategory(ctx, category.ID)
	if err != nil {
		return err
	}
	category.CreatedAt = existing.CreatedAt
	category.UpdatedAt = time.Now()

	if err := m.storage.UpdateCategory(ctx, category); err != nil {
		return wrapStorage("update_category", "カテゴリ更新に失敗しました", err)
	}
	m.logger.Info("カテゴリ更新完了", zap.String("category_id", category.ID))
	return nil
}

// DeleteCategory removes a category
func (m *Manager) DeleteCategory(ctx context.Context, id string) error {
	if err := m.storage.DeleteCategory(ctx, id); err != nil {
		return wrapStorage("delete_category", "カテゴリ削除に失敗しました", err)
	}
	m.logger.Info("カテゴリ削除完了", zap.String("category_id", id))
	return nil
}

// ListCategories lists all categories
func (m *Manager) ListCategories(ctx context.Context) ([]Category, error) {
	categories, err := m.storage.ListCategories(ctx)
	if err != nil {
		return nil, wrapStorage("list_categories", "カテゴリ一覧取得に失敗しました", err)
	}
	return categories, nil
}

// CreateWarehouse registers a new warehouse
// 倉庫を新規登録
func (m *Manager) CreateWarehouse(ctx context.Context, warehouse *Warehouse) error {
	if err := ValidateWarehouse(warehouse); err != nil {
		return err
	}
	if warehouse.ID == "" {
		warehouse.ID = NewID()
	}
	now := time.Now()
	warehouse.Name = strings.TrimSpace(warehouse.Name)
	warehouse.CreatedAt = now
	warehouse.UpdatedAt = now

	if err := m.storage.CreateWarehouse(ctx, warehouse); err != nil {
		return wrapStorage("create_warehouse", "倉庫作成に失敗しました", err)
	}
	m.logger.Info("倉庫作成完了", zap.String("warehouse_id", warehouse.ID), zap.String("name", warehouse.Name))
	return nil
}

// GetWarehouse retrieves warehouse information
// 倉庫情報を取得
func (m *Manager) GetWarehouse(ctx context.Context, id string) (*Warehouse, error) {
	warehouse, err := m.storage.GetWarehouse(ctx, id)
	if err != nil {
		return nil, wrapStorage("get_warehouse", "倉庫取得に失敗しました", err)
	}
	return warehouse, nil
}

// UpdateWarehouse updates warehouse information
// 倉庫情報を更新
func (m *Manager) UpdateWarehouse(ctx context.Context, warehouse *Warehouse) error {
	if err := ValidateWarehouse(warehouse); err != nil {
		return err
	}
	existing, err := m.GetWarehouse(ctx, warehouse.ID)
	if err != nil {
		return err
	}
	warehouse.CreatedAt = existing.CreatedAt
	warehouse.UpdatedAt = time.Now()

	if err := m.storage.UpdateWarehouse(ctx, warehouse); err != nil {
		return wrapStorage("update_warehouse", "倉庫更新に失敗しました", err)
	}
	m.logger.Info("倉庫更新完了", zap.String("warehouse_id", warehouse.ID), zap.Bool("is_active", warehouse.IsActive))
	return nil
}

// DeleteWarehouse removes a warehouse. Warehouses still holding stock
// cannot be deleted.
// 倉庫を削除（在庫が残っている場合は不可）
func (m *Manager) DeleteWarehouse(ctx context.Context, id string) error {
	stocks, err := m.storage.ListStockByWarehouse(ctx, id)
	if err != nil {
		return wrapStorage("list_stock", "在庫一覧取得に失敗しました", err)
	}
	for _, s := range stocks {
		if s.Quantity > 0 {
			return ErrInUse
		}
	}
	if err := m.storage.DeleteWarehouse(ctx, id); err != nil {
		return wrapStorage("delete_warehouse", "倉庫削除に失敗しました", err)
	}
	m.logger.Info("倉庫削除完了", zap.String("warehouse_id", id))
	return nil
}

// ListWarehouses lists all warehouses
func (m *Manager) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	warehouses, err := m.storage.ListWarehouses(ctx)
	if err != nil {
		return nil, wrapStorage("list_warehouses", "倉庫一覧取得に失敗しました", err)
	}
	return warehouses, nil
}

// CreateProduct registers a new product
// 商品を新規登録
func (m *Manager) CreateProduct(ctx context.Context, product *Product) error {
	if err := ValidateProduct(product); err != nil {
		return err
	}
	if err := m.checkProductReferences(ctx, product); err != nil {
		return err
	}
	if product.ID == "" {
		product.ID = NewID()
	}
	now := time.Now()
	product.Name = strings.TrimSpace(product.Name)
	product.CreatedAt = now
	product.UpdatedAt = now

	if err := m.storage.CreateProduct(ctx, product); err != nil {
		return wrapStorage("create_product", "商品作成に失敗しました", err)
	}
	m.logger.Info("商品作成完了", zap.String("product_id", product.ID), zap.String("name", product.Name))
	return nil
}

// GetProduct retrieves product information
// 商品情報を取得
func (m *Manager) GetProduct(ctx context.Context, id string) (*Product, error) {
	product, err := m.storage.GetProduct(ctx, id)
	if err != nil {
		return nil, wrapStorage("get_product", "商品取得に失敗しました", err)
	}
	return product, nil
}

// UpdateProduct updates product information
// 商品情報を更新
func (m *Manager) UpdateProduct(ctx context.Context, product *Product) error {
	if err := ValidateProduct(product); err != nil {
		return err
	}
	existing, err := m.GetProduct(ctx, product.ID)
	if err != nil {
		return err
	}
	if err := m.checkProductReferences(ctx, product); err != nil {
		return err
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now()
	if product.ManualKey == "" {
		product.ManualKey = existing.ManualKey
	}

	if err := m.storage.UpdateProduct(ctx, product); err != nil {
		return wrapStorage("update_product", "商品更新に失敗しました", err)
	}
	m.logger.Info("商品更新完了", zap.String("product_id", product.ID))
	return nil
}

// DeleteProduct removes a product. Products with stock on hand cannot be deleted.
// 商品を削除（在庫がある場合は不可）
func (m *Manager) DeleteProduct(ctx context.Context, id string) error {
	total, err := m.GetTotalStock(ctx, id)
	if err != nil {
		return err
	}
	if total > 0 {
		return ErrInUse
	}
	if err := m.storage.DeleteProduct(ctx, id); err != nil {
		return wrapStorage("delete_product", "商品削除に失敗しました", err)
	}
	m.logger.Info("商品削除完了", zap.String("product_id", id))
	return nil
}

// ListProducts lists products matching the filter
// 条件に合う商品一覧を取得
func (m *Manager) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 1000
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	products, err := m.storage.ListProducts(ctx, filter)
	if err != nil {
		return nil, wrapStorage("list_products", "商品一覧取得に失敗しました", err)
	}
	return products, nil
}

// SetProductManual records the blob key of the product's manual document
// 商品マニュアル文書のBlobキーを設定
func (m *Manager) SetProductManual(ctx context.Context, productID, key string) (*Product, error) {
	product, err := m.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	product.ManualKey = key
	product.UpdatedAt = time.Now()
	if err := m.storage.UpdateProduct(ctx, product); err != nil {
		return nil, wrapStorage("update_product", "商品更新に失敗しました", err)
	}
	return product, nil
}

func (m *Manager) checkProductReferences(ctx context.Context, product *Product) error {
	if _, err := m.GetCategory(ctx, product.CategoryID); err != nil {
		return err
	}
	if _, err := m.GetSupplier(ctx, product.SupplierID); err != nil {
		return err
	}
	return nil
}
