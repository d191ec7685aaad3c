package export

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
	"github.com/nemonet1337/zaiWarehouse/pkg/purchasing"
)

// Source builds export rows from the inventory and purchasing stores
// 在庫・発注ストアからエクスポート行を組み立てる
type Source struct {
	inventory inventory.Storage
	orders    purchasing.Storage
}

var _ RowSource = (*Source)(nil)

// NewSource creates a row source
func NewSource(inv inventory.Storage, orders purchasing.Storage) *Source {
	return &Source{inventory: inv, orders: orders}
}

// lookups holds display names resolved once per export
type lookups struct {
	products   map[string]inventory.Product
	categories map[string]string
	suppliers  map[string]string
	warehouses map[string]string
}

// Rows implements RowSource
func (s *Source) Rows(ctx context.Context, entity Entity, fields []string) ([][]any, error) {
	names, err := s.lookups(ctx)
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	switch entity {
	case EntityProducts:
		records, err = s.productRecords(ctx, names)
	case EntityPurchaseOrders:
		records, err = s.orderRecords(ctx, names)
	case EntityStockMovements:
		records, err = s.movementRecords(ctx, names)
	default:
		return nil, fmt.Errorf("エクスポートできないエンティティです: %s", entity)
	}
	if err != nil {
		return nil, err
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		row := make([]any, len(fields))
		for i, f := range fields {
			row[i] = rec[f]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Source) lookups(ctx context.Context) (*lookups, error) {
	products, err := s.inventory.ListProducts(ctx, inventory.ProductFilter{})
	if err != nil {
		return nil, err
	}
	categories, err := s.inventory.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	suppliers, err := s.inventory.ListSuppliers(ctx)
	if err != nil {
		return nil, err
	}
	warehouses, err := s.inventory.ListWarehouses(ctx)
	if err != nil {
		return nil, err
	}

	l := &lookups{
		products:   make(map[string]inventory.Product, len(products)),
		categories: make(map[string]string, len(categories)),
		suppliers:  make(map[string]string, len(suppliers)),
		warehouses: make(map[string]string, len(warehouses)),
	}
	for _, p := range products {
		l.products[p.ID] = p
	}
	for _, c := range categories {
		l.categories[c.ID] = c.Name
	}
	for _, sp := range suppliers {
		l.suppliers[sp.ID] = sp.Name
	}
	for _, w := range warehouses {
		l.warehouses[w.ID] = w.Name
	}
	return l, nil
}

func (s *Source) productRecords(ctx context.Context, l *lookups) ([]map[string]any, error) {
	stocks, err := s.inventory.ListAllStock(ctx)
	if err != nil {
		return nil, err
	}
	totals := map[string]int64{}
	located := map[string][]string{}
	for _, st := range stocks {
		totals[st.ProductID] += st.Quantity
		if st.Quantity > 0 {
			located[st.ProductID] = append(located[st.ProductID], l.warehouses[st.WarehouseID])
		}
	}

	products := make([]inventory.Product, 0, len(l.products))
	for _, p := range l.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })

	records := make([]map[string]any, 0, len(products))
	for _, p := range products {
		whs := located[p.ID]
		sort.Strings(whs)
		records = append(records, map[string]any{
			"name":           p.Name,
			"price":          p.Price,
			"total_stock":    totals[p.ID],
			"category":       l.categories[p.CategoryID],
			"supplier":       l.suppliers[p.SupplierID],
			"warehouse":      strings.Join(whs, ", "),
			"specifications": formatSpecifications(p.Specifications),
			"is_active":      p.IsActive,
		})
	}
	return records, nil
}

// orderRecords returns one row per order line
func (s *Source) orderRecords(ctx context.Context, l *lookups) ([]map[string]any, error) {
	orders, err := s.orders.ListOrders(ctx, purchasing.Filter{})
	if err != nil {
		return nil, err
	}
	var records []map[string]any
	for _, o := range orders {
		for _, item := range o.Items {
			p := l.products[item.ProductID]
			records = append(records, map[string]any{
				"product":    p.Name,
				"category":   l.categories[p.CategoryID],
				"supplier":   l.suppliers[o.SupplierID],
				"price":      item.UnitPrice,
				"quantity":   item.Quantity,
				"status":     string(o.Status),
				"order_date": o.OrderDate,
			})
		}
	}
	return records, nil
}

func (s *Source) movementRecords(ctx context.Context, l *lookups) ([]map[string]any, error) {
	movements, err := s.inventory.ListMovements(ctx, inventory.MovementFilter{})
	if err != nil {
		return nil, err
	}
	records := make([]map[string]any, 0, len(movements))
	for _, m := range movements {
		records = append(records, map[string]any{
			"product":    l.products[m.ProductID].Name,
			"warehouse":  l.warehouses[m.WarehouseID],
			"type":       string(m.Type),
			"reason":     string(m.Reason),
			"quantity":   m.Quantity,
			"notes":      m.Notes,
			"created_at": m.CreatedAt,
		})
	}
	return records, nil
}

func formatSpecifications(specs []inventory.Specification) string {
	parts := make([]string, 0, len(specs))
	for _, sp := range specs {
		parts = append(parts, sp.Title+": "+sp.Value)
	}
	return strings.Join(parts, "; ")
}
