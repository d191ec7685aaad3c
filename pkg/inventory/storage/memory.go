package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
	"github.com/nemonet1337/zaiWarehouse/pkg/purchasing"
)

// MemoryStorage keeps everything in process memory. Transactions run one
// at a time against a private copy of the state which replaces the shared
// state only on commit, so a failed transaction leaves no trace.
// プロセス内メモリを使用したストレージ実装（開発・テスト用）
type MemoryStorage struct {
	mu     sync.Mutex
	state  *memoryState
	logger *zap.Logger
}

var (
	_ inventory.Storage  = (*MemoryStorage)(nil)
	_ purchasing.Storage = (*MemoryStorage)(nil)
)

type pairKey struct {
	productID   string
	warehouseID string
}

type memoryState struct {
	suppliers  map[string]inventory.Supplier
	categories map[string]inventory.Category
	warehouses map[string]inventory.Warehouse
	products   map[string]inventory.Product
	stocks     map[pairKey]inventory.WarehouseStock
	movements  []inventory.StockMovement
	orders     map[string]purchasing.Order
}

func newMemoryState() *memoryState {
	return &memoryState{
		suppliers:  map[string]inventory.Supplier{},
		categories: map[string]inventory.Category{},
		warehouses: map[string]inventory.Warehouse{},
		products:   map[string]inventory.Product{},
		stocks:     map[pairKey]inventory.WarehouseStock{},
		orders:     map[string]purchasing.Order{},
	}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		suppliers:  make(map[string]inventory.Supplier, len(s.suppliers)),
		categories: make(map[string]inventory.Category, len(s.categories)),
		warehouses: make(map[string]inventory.Warehouse, len(s.warehouses)),
		products:   make(map[string]inventory.Product, len(s.products)),
		stocks:     make(map[pairKey]inventory.WarehouseStock, len(s.stocks)),
		movements:  append([]inventory.StockMovement(nil), s.movements...),
		orders:     make(map[string]purchasing.Order, len(s.orders)),
	}
	for k, v := range s.suppliers {
		c.suppliers[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.warehouses {
		c.warehouses[k] = v
	}
	for k, v := range s.products {
		c.products[k] = copyProduct(v)
	}
	for k, v := range s.stocks {
		c.stocks[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	return c
}

func copyProduct(p inventory.Product) inventory.Product {
	p.Specifications = append([]inventory.Specification(nil), p.Specifications...)
	return p
}

func copyOrder(o purchasing.Order) purchasing.Order {
	o.Items = append([]purchasing.Item(nil), o.Items...)
	if o.ClosedAt != nil {
		t := *o.ClosedAt
		o.ClosedAt = &t
	}
	return o
}

// NewMemoryStorage creates an empty in-memory storage
// 新しいメモリストレージを作成
func NewMemoryStorage(logger *zap.Logger) *MemoryStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStorage{state: newMemoryState(), logger: logger}
}

// WithTx runs fn against a copy of the state and commits it when fn succeeds
// トランザクション内で処理を実行
func (s *MemoryStorage) WithTx(ctx context.Context, fn func(ctx context.Context, tx inventory.Tx) error) error {
	return s.run(ctx, func(ctx context.Context, tx *memoryTx) error { return fn(ctx, tx) })
}

// WithOrderTx runs fn in a transaction that also covers purchase orders
// 発注書を含むトランザクション内で処理を実行
func (s *MemoryStorage) WithOrderTx(ctx context.Context, fn func(ctx context.Context, tx purchasing.Tx) error) error {
	return s.run(ctx, func(ctx context.Context, tx *memoryTx) error { return fn(ctx, tx) })
}

func (s *MemoryStorage) run(ctx context.Context, fn func(ctx context.Context, tx *memoryTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &memoryTx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// read runs fn under the lock against the committed state
func (s *MemoryStorage) read(fn func(st *memoryState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// write mutates the committed state under the lock
func (s *MemoryStorage) write(fn func(st *memoryState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// Ping always succeeds
func (s *MemoryStorage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *MemoryStorage) Close() error {
	return nil
}

// CreateSupplier creates a new supplier
func (s *MemoryStorage) CreateSupplier(ctx context.Context, supplier *inventory.Supplier) error {
	return s.write(func(st *memoryState) error {
		if _, ok := st.suppliers[supplier.ID]; ok {
			return inventory.ErrDuplicate
		}
		for _, existing := range st.suppliers {
			if strings.EqualFold(existing.Name, supplier.Name) {
				return inventory.ErrDuplicate
			}
		}
		st.suppliers[supplier.ID] = *supplier
		return nil
	})
}

// GetSupplier retrieves a supplier
func (s *MemoryStorage) GetSupplier(ctx context.Context, id string) (*inventory.Supplier, error) {
	var (
		out *inventory.Supplier
		err error
	)
	s.read(func(st *memoryState) { out, err = getSupplier(st, id) })
	return out, err
}

// UpdateSupplier updates a supplier
func (s *MemoryStorage) UpdateSupplier(ctx context.Context, supplier *inventory.Supplier) error {
	return s.write(func(st *memoryState) error {
		if _, ok := st.suppliers[supplier.ID]; !ok {
			return inventory.ErrSupplierNotFound
		}
		for id, existing := range st.suppliers {
			if id != supplier.ID && strings.EqualFold(existing.Name, supplier.Name) {
				return inventory.ErrDuplicate
			}
		}
		st.suppliers[supplier.ID] = *supplier
		return nil
	})
}

// DeleteSupplier deletes a supplier not referenced by products or orders
func (s *MemoryStorage) DeleteSupplier(ctx context.Context, id string) error {
	return s.write(func(st *memoryState) error {
		if _, ok := st.suppliers[id]; !ok {
			return inventory.ErrSupplierNotFound
		}
		for _, p := range st.products {
			if p.SupplierID == id {
				return inventory.ErrInUse
			}
		}
		for _, o := range st.orders {
			if o.SupplierID == id {
				return inventory.ErrInUse
			}
		}
		delete(st.suppliers, id)
		return nil
	})
}

// ListSuppliers lists suppliers by name
func (s *MemoryStorage) ListSuppliers(ctx context.Context) ([]inventory.Supplier, error) {
	out := []inventory.Supplier{}
	s.read(func(st *memoryState) {
		for _, v := range st.suppliers {
			out = append(out, v)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateCategory creates a new category
func (s *MemoryStorage) CreateCategory(ctx context.Context, category *inventory.Category) error {
	return s.write(func(st *memoryState) error {
		if _, ok := st.categories[category.ID]; ok {
			return inventory.ErrDuplicate
		}
		for _, existing := range st.categories {
			if strings.EqualFold(existing.Name, category.Name) {
				return inventory.ErrDuplicate
			}
		}
		st.categories[category.ID] = *category
		return nil
	})
}

// GetCategory retrieves a category
func (s *MemoryStorage) GetCategory(ctx context.Context, id string) (*inventory.Category, error) {
	var (
		out *inventory.Category
		err error
	)
	s.read(func(st *memoryState) {
		v, ok := st.categories[id]
		if !ok {
			err = inventory.ErrCategoryNotFound
			return
		}
		out = &v
	})
	return out, err
}

// UpdateCategory updates a category
func (s *MemoryStorage) UpdateCategory(ctx context.Context, category *inventory.Category) error {
	return s.write(func(st *memoryState) error {
		if _, ok := st.categories[category.ID]; !ok {
			return inventory.ErrCategoryNotFound
		}
		for id, existing := range st.categories {
			if id != category.ID && strings.EqualFold(existing.Name, category.Name) {
				return inventory.ErrDuplicate
			}
		}
		st.categories[category.ID] = *category
		return nil
	})
}

// DeleteCategory deletes a category not referenced by products
func (s *MemoryStorage) DeleteCategory(ctx context.Context, id string) error {
	return s.write(func(st *memoryState) error {
		if _, ok := st.categories[id]; !ok {
			return inventory.ErrCategoryNotFound
		}
		for _, p := range st.products {
			if p.CategoryID == id {
				return inventory.ErrInUse
			}
		}
		delete(st.categories, id)
		return nil
	})
}

// ListCategories lists categories by name
func (s *MemoryStorage) ListCategories(ctx context.Context) ([]inventory.Category, error) {
	out := []inventory.Category{}
	s.read(func(st *memoryState) {
		for _, v := range st.categories {
			out = append(out, v)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateWarehouse creates a new warehouse
func (s *MemoryStorage) CreateWarehouse(ctx context.Context, warehouse *inventory.Warehouse) error {
	return s.write(func(st *memoryState) error {
		if _, ok := st.warehouses[warehouse.ID]; ok {
			return inventory.ErrDuplicate
		}
		for _, existing := range st.warehouses {
			if strings.EqualFold(existing.Name, warehouse.Name) {
				return inventory.ErrDuplicate
			}
		}
		st.warehouses[warehouse.ID] = *warehouse
		return nil
	})
}

// GetWarehouse retrieves a warehouse
func (s *MemoryStorage) GetWarehouse(ctx context.Context, id string) (*inventory.Warehouse, error) {
	var (
		out *inventory.Warehouse
		err error
	)
	s.read(func(st *memoryState) { out, err = getWarehouse(st, id) })
	return out, err
}

// UpdateWarehouse updates a warehouse
func (s *MemoryStorage) UpdateWarehouse(ctx context.Context, warehouse *inventory.Warehouse) error {
	return s.write(func(st *memoryState) error {
		if _, ok := st.warehouses[warehouse.ID]; !ok {
			return inventory.ErrWarehouseNotFound
		}
		for id, existing := range st.warehouses {
			if id != warehouse.ID && strings.EqualFold(existing.Name, warehouse.Name) {
				return inventory.ErrDuplicate
			}
		}
		st.warehouses[warehouse.ID] = *warehouse
		return nil
	})
}

// DeleteWarehouse deletes a warehouse without movement history
func (s *MemoryStorage) DeleteWarehouse(ctx context.Context, id string) error {
	return s.write(func(st *memoryState) error {
		if _, ok := st.warehouses[id]; !ok {
			return inventory.ErrWarehouseNotFound
		}
		for _, mv := range st.movements {
			if mv.WarehouseID == id {
				return inventory.ErrInUse
			}
		}
		for k := range st.stocks {
			if k.warehouseID == id {
				delete(st.stocks, k)
			}
		}
		delete(st.warehouses, id)
		return nil
	})
}

// ListWarehouses lists warehouses by name
func (s *MemoryStorage) ListWarehouses(ctx context.Context) ([]inventory.Warehouse, error) {
	out := []inventory.Warehouse{}
	s.read(func(st *memoryState) {
		for _, v := range st.warehouses {
			out = append(out, v)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateProduct creates a new product
func (s *MemoryStorage) CreateProduct(ctx context.Context, product *inventory.Product) error {
	return s.write(func(st *memoryState) error {
		if _, ok := st.products[product.ID]; ok {
			return inventory.ErrDuplicate
		}
		for _, existing := range st.products {
			if strings.EqualFold(existing.Name, product.Name) {
				return inventory.ErrDuplicate
			}
		}
		st.products[product.ID] = copyProduct(*product)
		return nil
	})
}

// GetProduct retrieves a product
func (s *MemoryStorage) GetProduct(ctx context.Context, id string) (*inventory.Product, error) {
	var (
		out *inventory.Product
		err error
	)
	s.read(func(st *memoryState) { out, err = getProduct(st, id) })
	return out, err
}

// UpdateProduct updates a product
func (s *MemoryStorage) UpdateProduct(ctx context.Context, product *inventory.Product) error {
	return s.write(func(st *memoryState) error {
		if _, ok := st.products[product.ID]; !ok {
			return inventory.ErrProductNotFound
		}
		for id, existing := range st.products {
			if id != product.ID && strings.EqualFold(existing.Name, product.Name) {
				return inventory.ErrDuplicate
			}
		}
		st.products[product.ID] = copyProduct(*product)
		return nil
	})
}

// DeleteProduct deletes a product without movements or order lines
func (s *MemoryStorage) DeleteProduct(ctx context.Context, id string) error {
	return s.write(func(st *memoryState) error {
		if _, ok := st.products[id]; !ok {
			return inventory.ErrProductNotFound
		}
		for _, mv := range st.movements {
			if mv.ProductID == id {
				return inventory.ErrInUse
			}
		}
		for _, o := range st.orders {
			for _, item := range o.Items {
				if item.ProductID == id {
					return inventory.ErrInUse
				}
			}
		}
		for k := range st.stocks {
			if k.productID == id {
				delete(st.stocks, k)
			}
		}
		delete(st.products, id)
		return nil
	})
}

// ListProducts lists products matching the filter by name
func (s *MemoryStorage) ListProducts(ctx context.Context, filter inventory.ProductFilter) ([]inventory.Product, error) {
	out := []inventory.Product{}
	s.read(func(st *memoryState) {
		for _, p := range st.products {
			if filter.SupplierID != "" && p.SupplierID != filter.SupplierID {
				continue
			}
			if filter.CategoryID != "" && p.CategoryID != filter.CategoryID {
				continue
			}
			if filter.ActiveOnly && !p.IsActive {
				continue
			}
			out = append(out, copyProduct(p))
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return paginate(out, filter.Offset, filter.Limit), nil
}

// GetStock retrieves the ledger row for a pair
func (s *MemoryStorage) GetStock(ctx context.Context, productID, warehouseID string) (*inventory.WarehouseStock, error) {
	var (
		out *inventory.WarehouseStock
		err error
	)
	s.read(func(st *memoryState) {
		v, ok := st.stocks[pairKey{productID, warehouseID}]
		if !ok {
			err = inventory.ErrStockNotFound
			return
		}
		out = &v
	})
	return out, err
}

// ListStockByProduct lists a product's rows ordered by warehouse
func (s *MemoryStorage) ListStockByProduct(ctx context.Context, productID string) ([]inventory.WarehouseStock, error) {
	return s.listStock(func(k pairKey) bool { return k.productID == productID }), nil
}

// ListStockByWarehouse lists a warehouse's rows ordered by product
func (s *MemoryStorage) ListStockByWarehouse(ctx context.Context, warehouseID string) ([]inventory.WarehouseStock, error) {
	return s.listStock(func(k pairKey) bool { return k.warehouseID == warehouseID }), nil
}

// ListAllStock lists every ledger row
func (s *MemoryStorage) ListAllStock(ctx context.Context) ([]inventory.WarehouseStock, error) {
	return s.listStock(func(pairKey) bool { return true }), nil
}

func (s *MemoryStorage) listStock(match func(pairKey) bool) []inventory.WarehouseStock {
	out := []inventory.WarehouseStock{}
	s.read(func(st *memoryState) {
		for k, v := range st.stocks {
			if match(k) {
				out = append(out, v)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].WarehouseID < out[j].WarehouseID
	})
	return out
}

// ListMovements lists movements newest first
func (s *MemoryStorage) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.StockMovement, error) {
	out := []inventory.StockMovement{}
	s.read(func(st *memoryState) {
		for i := len(st.movements) - 1; i >= 0; i-- {
			mv := st.movements[i]
			if filter.ProductID != "" && mv.ProductID != filter.ProductID {
				continue
			}
			if filter.WarehouseID != "" && mv.WarehouseID != filter.WarehouseID {
				continue
			}
			if filter.Reason != "" && mv.Reason != filter.Reason {
				continue
			}
			if filter.CorrelationID != "" && mv.CorrelationID != filter.CorrelationID {
				continue
			}
			if filter.From != nil && mv.CreatedAt.Before(*filter.From) {
				continue
			}
			if filter.To != nil && mv.CreatedAt.After(*filter.To) {
				continue
			}
			out = append(out, mv)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
	})
	return out, nil
}

// GetOrder retrieves a purchase order with items
func (s *MemoryStorage) GetOrder(ctx context.Context, id string) (*purchasing.Order, error) {
	var (
		out *purchasing.Order
		err error
	)
	s.read(func(st *memoryState) {
		o, ok := st.orders[id]
		if !ok {
			err = purchasing.ErrOrderNotFound
			return
		}
		c := copyOrder(o)
		out = &c
	})
	return out, err
}

// ListOrders lists orders newest first
func (s *MemoryStorage) ListOrders(ctx context.Context, filter purchasing.Filter) ([]purchasing.Order, error) {
	out := []purchasing.Order{}
	s.read(func(st *memoryState) {
		for _, o := range st.orders {
			if filter.Status != "" && o.Status != filter.Status {
				continue
			}
			if filter.SupplierID != "" && o.SupplierID != filter.SupplierID {
				continue
			}
			out = append(out, copyOrder(o))
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Offset, filter.Limit), nil
}

// CountOrdersByStatus counts orders per status
func (s *MemoryStorage) CountOrdersByStatus(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	s.read(func(st *memoryState) {
		for _, o := range st.orders {
			counts[string(o.Status)]++
		}
	})
	return counts, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func getSupplier(st *memoryState, id string) (*inventory.Supplier, error) {
	v, ok := st.suppliers[id]
	if !ok {
		return nil, inventory.ErrSupplierNotFound
	}
	return &v, nil
}

func getWarehouse(st *memoryState, id string) (*inventory.Warehouse, error) {
	v, ok := st.warehouses[id]
	if !ok {
		return nil, inventory.ErrWarehouseNotFound
	}
	return &v, nil
}

func getProduct(st *memoryState, id string) (*inventory.Product, error) {
	v, ok := st.products[id]
	if !ok {
		return nil, inventory.ErrProductNotFound
	}
	p := copyProduct(v)
	return &p, nil
}

// memoryTx operates on the transaction's private copy of the state
type memoryTx struct {
	state *memoryState
}

var _ purchasing.Tx = (*memoryTx)(nil)

func (t *memoryTx) GetProduct(ctx context.Context, id string) (*inventory.Product, error) {
	return getProduct(t.state, id)
}

func (t *memoryTx) GetWarehouse(ctx context.Context, id string) (*inventory.Warehouse, error) {
	return getWarehouse(t.state, id)
}

func (t *memoryTx) GetSupplier(ctx context.Context, id string) (*inventory.Supplier, error) {
	return getSupplier(t.state, id)
}

func (t *memoryTx) LockStock(ctx context.Context, productID, warehouseID string) (*inventory.WarehouseStock, error) {
	v, ok := t.state.stocks[pairKey{productID, warehouseID}]
	if !ok {
		return nil, inventory.ErrStockNotFound
	}
	return &v, nil
}

func (t *memoryTx) EnsureStock(ctx context.Context, productID, warehouseID string) error {
	k := pairKey{productID, warehouseID}
	if _, ok := t.state.stocks[k]; !ok {
		t.state.stocks[k] = inventory.WarehouseStock{ProductID: productID, WarehouseID: warehouseID}
	}
	return nil
}

func (t *memoryTx) UpdateStock(ctx context.Context, stock *inventory.WarehouseStock) error {
	if stock.Quantity < 0 {
		return inventory.ErrInsufficientStock
	}
	k := pairKey{stock.ProductID, stock.WarehouseID}
	if _, ok := t.state.stocks[k]; !ok {
		return inventory.ErrStockNotFound
	}
	t.state.stocks[k] = *stock
	return nil
}

func (t *memoryTx) CreateMovement(ctx context.Context, movement *inventory.StockMovement) error {
	t.state.movements = append(t.state.movements, *movement)
	return nil
}

func (t *memoryTx) LockOrder(ctx context.Context, id string) (*purchasing.Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return nil, purchasing.ErrOrderNotFound
	}
	c := copyOrder(o)
	return &c, nil
}

func (t *memoryTx) CreateOrder(ctx context.Context, order *purchasing.Order) error {
	if _, ok := t.state.orders[order.ID]; ok {
		return inventory.ErrDuplicate
	}
	t.state.orders[order.ID] = copyOrder(*order)
	return nil
}

func (t *memoryTx) UpdateOrder(ctx context.Context, order *purchasing.Order) error {
	existing, ok := t.state.orders[order.ID]
	if !ok {
		return purchasing.ErrOrderNotFound
	}
	updated := copyOrder(*order)
	updated.Items = existing.Items
	t.state.orders[order.ID] = updated
	return nil
}

func (t *memoryTx) ReplaceItems(ctx context.Context, orderID string, items []purchasing.Item) error {
	existing, ok := t.state.orders[orderID]
	if !ok {
		return purchasing.ErrOrderNotFound
	}
	existing.Items = append([]purchasing.Item(nil), items...)
	t.state.orders[orderID] = existing
	return nil
}
