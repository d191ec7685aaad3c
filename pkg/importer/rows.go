package importer

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
	"github.com/nemonet1337/zaiWarehouse/pkg/tabular"
)

// rowFunc applies one record and reports whether it created a new entity
type rowFunc func(ctx context.Context, r *run, rec tabular.Record) (bool, error)

var importers = map[Entity]rowFunc{
	EntityProducts:   importProduct,
	EntityCategories: importCategory,
	EntitySuppliers:  importSupplier,
	EntityWarehouses: importWarehouse,
}

// run caches name lookups for the duration of one import
type run struct {
	catalog    inventory.CatalogManager
	categories map[string]string
	suppliers  map[string]string
	warehouses map[string]string
	products   map[string]string
}

func newRun(catalog inventory.CatalogManager) *run {
	return &run{
		catalog:    catalog,
		categories: map[string]string{},
		suppliers:  map[string]string{},
		warehouses: map[string]string{},
		products:   map[string]string{},
	}
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *run) load(ctx context.Context) error {
	categories, err := r.catalog.ListCategories(ctx)
	if err != nil {
		return err
	}
	for _, c := range categories {
		r.categories[nameKey(c.Name)] = c.ID
	}
	suppliers, err := r.catalog.ListSuppliers(ctx)
	if err != nil {
		return err
	}
	for _, s := range suppliers {
		r.suppliers[nameKey(s.Name)] = s.ID
	}
	warehouses, err := r.catalog.ListWarehouses(ctx)
	if err != nil {
		return err
	}
	for _, w := range warehouses {
		r.warehouses[nameKey(w.Name)] = w.ID
	}
	products, err := r.catalog.ListProducts(ctx, inventory.ProductFilter{})
	if err != nil {
		return err
	}
	for _, p := range products {
		r.products[nameKey(p.Name)] = p.ID
	}
	return nil
}

// match resolves the target of an upsert: the id column when present,
// otherwise an existing entity with the same name
func match(rec tabular.Record, byName map[string]string) string {
	if id := rec.Get("id"); id != "" {
		return id
	}
	return byName[nameKey(rec.Get("name"))]
}

// reference resolves a column holding either an id or a name
func reference(value string, byName map[string]string) string {
	if id, ok := byName[nameKey(value)]; ok {
		return id
	}
	return strings.TrimSpace(value)
}

func importCategory(ctx context.Context, r *run, rec tabular.Record) (bool, error) {
	category := &inventory.Category{
		Name:        rec.Get("name"),
		Description: rec.Get("description"),
	}
	id := match(rec, r.categories)
	if id != "" {
		if _, err := r.catalog.GetCategory(ctx, id); err == nil {
			category.ID = id
			if err := r.catalog.UpdateCategory(ctx, category); err != nil {
				return false, err
			}
			r.categories[nameKey(category.Name)] = id
			return false, nil
		}
		category.ID = rec.Get("id")
	}
	if err := r.catalog.CreateCategory(ctx, category); err != nil {
		return false, err
	}
	r.categories[nameKey(category.Name)] = category.ID
	return true, nil
}

func importSupplier(ctx context.Context, r *run, rec tabular.Record) (bool, error) {
	supplier := &inventory.Supplier{
		Name:        rec.Get("name"),
		ContactName: rec.Get("contact_name"),
		Email:       rec.Get("email"),
		Phone:       rec.Get("phone"),
		Address:     rec.Get("address"),
	}
	id := match(rec, r.suppliers)
	if id != "" {
		if _, err := r.catalog.GetSupplier(ctx, id); err == nil {
			supplier.ID = id
			if err := r.catalog.UpdateSupplier(ctx, supplier); err != nil {
				return false, err
			}
			r.suppliers[nameKey(supplier.Name)] = id
			return false, nil
		}
		supplier.ID = rec.Get("id")
	}
	if err := r.catalog.CreateSupplier(ctx, supplier); err != nil {
		return false, err
	}
	r.suppliers[nameKey(supplier.Name)] = supplier.ID
	return true, nil
}

func importWarehouse(ctx context.Context, r *run, rec tabular.Record) (bool, error) {
	active, err := parseBool("is_active", rec.Get("is_active"), true)
	if err != nil {
		return false, err
	}
	warehouse := &inventory.Warehouse{
		Name:     rec.Get("name"),
		Address:  rec.Get("address"),
		Phone:    rec.Get("phone"),
		Email:    rec.Get("email"),
		IsActive: active,
	}
	id := match(rec, r.warehouses)
	if id != "" {
		if _, err := r.catalog.GetWarehouse(ctx, id); err == nil {
			warehouse.ID = id
			if err := r.catalog.UpdateWarehouse(ctx, warehouse); err != nil {
				return false, err
			}
			r.warehouses[nameKey(warehouse.Name)] = id
			return false, nil
		}
		warehouse.ID = rec.Get("id")
	}
	if err := r.catalog.CreateWarehouse(ctx, warehouse); err != nil {
		return false, err
	}
	r.warehouses[nameKey(warehouse.Name)] = warehouse.ID
	return true, nil
}

func importProduct(ctx context.Context, r *run, rec tabular.Record) (bool, error) {
	price, err := parsePrice(rec.Get("price"))
	if err != nil {
		return false, err
	}
	active, err := parseBool("is_active", rec.Get("is_active"), true)
	if err != nil {
		return false, err
	}
	specs, err := parseSpecifications(rec.Get("specifications"))
	if err != nil {
		return false, err
	}
	product := &inventory.Product{
		Name:           rec.Get("name"),
		CategoryID:     reference(rec.Get("category"), r.categories),
		SupplierID:     reference(rec.Get("supplier"), r.suppliers),
		Price:          price,
		Specifications: specs,
		IsActive:       active,
	}

	id := match(rec, r.products)
	if id != "" {
		if existing, err := r.catalog.GetProduct(ctx, id); err == nil {
			product.ID = id
			product.ManualKey = existing.ManualKey
			if err := r.catalog.UpdateProduct(ctx, product); err != nil {
				return false, err
			}
			r.products[nameKey(product.Name)] = id
			return false, nil
		}
		product.ID = rec.Get("id")
	}
	if err := r.catalog.CreateProduct(ctx, product); err != nil {
		return false, err
	}
	r.products[nameKey(product.Name)] = product.ID
	return true, nil
}

func parsePrice(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, nil
	}
	price, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, inventory.NewValidationError("price", "価格の形式が不正です", s)
	}
	return price, nil
}

func parseBool(field, s string, fallback bool) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return fallback, nil
	case "true", "1", "yes", "y", "はい", "有効":
		return true, nil
	case "false", "0", "no", "n", "いいえ", "無効":
		return false, nil
	}
	return false, inventory.NewValidationError(field, "真偽値の形式が不正です", s)
}

// parseSpecifications reads "Title: Value; Title: Value", the same layout
// the product export writes
func parseSpecifications(s string) ([]inventory.Specification, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var specs []inventory.Specification
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		title, value, ok := strings.Cut(part, ":")
		if !ok {
			return nil, inventory.NewValidationError("specifications", "仕様は「項目: 値」の形式で指定してください", part)
		}
		specs = append(specs, inventory.Specification{
			Title: strings.TrimSpace(title),
			Value: strings.TrimSpace(value),
		})
	}
	return specs, nil
}
