package main

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiWarehouse/pkg/blob"
	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
)

// SupplierRequest represents a supplier create/update request
// 仕入先の作成・更新リクエスト
type SupplierRequest struct {
	Name        string `json:"name" validate:"required,max=500"`
	ContactName string `json:"contact_name" validate:"max=200"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone" validate:"max=50"`
	Address     string `json:"address" validate:"max=1000"`
}

func (req SupplierRequest) model(id string) *inventory.Supplier {
	return &inventory.Supplier{
		ID:          id,
		Name:        req.Name,
		ContactName: req.ContactName,
		Email:       req.Email,
		Phone:       req.Phone,
		Address:     req.Address,
	}
}

// CategoryRequest represents a category create/update request
type CategoryRequest struct {
	Name        string `json:"name" validate:"required,max=500"`
	Description string `json:"description" validate:"max=2000"`
}

// WarehouseRequest represents a warehouse create/update request
// 倉庫の作成・更新リクエスト
type WarehouseRequest struct {
	Name     string `json:"name" validate:"required,max=500"`
	Address  string `json:"address" validate:"max=1000"`
	Phone    string `json:"phone" validate:"max=50"`
	Email    string `json:"email" validate:"omitempty,email"`
	IsActive *bool  `json:"is_active"`
}

func (req WarehouseRequest) model(id string) *inventory.Warehouse {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return &inventory.Warehouse{
		ID:       id,
		Name:     req.Name,
		Address:  req.Address,
		Phone:    req.Phone,
		Email:    req.Email,
		IsActive: active,
	}
}

// SpecificationRequest is one titled product attribute
type SpecificationRequest struct {
	Title string `json:"title" validate:"required,max=200"`
	Value string `json:"value" validate:"max=1000"`
}

// ProductRequest represents a product create/update request
// 商品の作成・更新リクエスト
type ProductRequest struct {
	Name           string                 `json:"name" validate:"required,max=500"`
	CategoryID     string                 `json:"category_id" validate:"required"`
	SupplierID     string                 `json:"supplier_id" validate:"required"`
	Price          decimal.Decimal        `json:"price"`
	Specifications []SpecificationRequest `json:"specifications" validate:"dive"`
	IsActive       *bool                  `json:"is_active"`
}

func (req ProductRequest) model(id string) *inventory.Product {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	specs := make([]inventory.Specification, 0, len(req.Specifications))
	for _, s := range req.Specifications {
		specs = append(specs, inventory.Specification{Title: s.Title, Value: s.Value})
	}
	return &inventory.Product{
		ID:             id,
		Name:           req.Name,
		CategoryID:     req.CategoryID,
		SupplierID:     req.SupplierID,
		Price:          req.Price,
		Specifications: specs,
		IsActive:       active,
	}
}

// 仕入先

// CreateSupplier handles supplier creation
// 仕入先作成リクエストを処理
func (h *Handlers) CreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req SupplierRequest
	if !h.decode(w, r, &req) {
		return
	}
	supplier := req.model("")
	if err := h.manager.CreateSupplier(r.Context(), supplier); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendCreated(w, supplier)
}

// ListSuppliers handles supplier listing
func (h *Handlers) ListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.manager.ListSuppliers(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, suppliers)
}

// GetSupplier handles supplier lookup
func (h *Handlers) GetSupplier(w http.ResponseWriter, r *http.Request) {
	supplier, err := h.manager.GetSupplier(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, supplier)
}

// UpdateSupplier handles supplier updates
func (h *Handlers) UpdateSupplier(w http.ResponseWriter, r *http.Request) {
	var req SupplierRequest
	if !h.decode(w, r, &req) {
		return
	}
	supplier := req.model(mux.Vars(r)["id"])
	if err := h.manager.UpdateSupplier(r.Context(), supplier); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, supplier)
}

// DeleteSupplier handles supplier deletion
func (h *Handlers) DeleteSupplier(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteSupplier(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]string{"message": "仕入先を削除しました"})
}

// カテゴリ

// CreateCategory handles category creation
// カテゴリ作成リクエストを処理
func (h *Handlers) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	category := &inventory.Category{Name: req.Name, Description: req.Description}
	if err := h.manager.CreateCategory(r.Context(), category); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendCreated(w, category)
}

// ListCategories handles category listing
func (h *Handlers) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.manager.ListCategories(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, categories)
}

// GetCategory handles category lookup
func (h *Handlers) GetCategory(w http.ResponseWriter, r *http.Request) {
	category, err := h.manager.GetCategory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, category)
}

// UpdateCategory handles category updates
func (h *Handlers) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	category := &inventory.Category{ID: mux.Vars(r)["id"], Name: req.Name, Description: req.Description}
	if err := h.manager.UpdateCategory(r.Context(), category); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, category)
}

// DeleteCategory handles category deletion
func (h *Handlers) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteCategory(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]string{"message": "カテゴリを削除しました"})
}

// 倉庫

// CreateWarehouse handles warehouse creation
// 倉庫作成リクエストを処理
func (h *Handlers) CreateWarehouse(w http.ResponseWriter, r *http.Request) {
	var req WarehouseRequest
	if !h.decode(w, r, &req) {
		return
	}
	warehouse := req.model("")
	if err := h.manager.CreateWarehouse(r.Context(), warehouse); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendCreated(w, warehouse)
}

// ListWarehouses handles warehouse listing
func (h *Handlers) ListWarehouses(w http.ResponseWriter, r *http.Request) {
	warehouses, err := h.manager.ListWarehouses(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, warehouses)
}

// GetWarehouse handles warehouse lookup
func (h *Handlers) GetWarehouse(w http.ResponseWriter, r *http.Request) {
	warehouse, err := h.manager.GetWarehouse(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, warehouse)
}

// UpdateWarehouse handles warehouse updates
func (h *Handlers) UpdateWarehouse(w http.ResponseWriter, r *http.Request) {
	var req WarehouseRequest
	if !h.decode(w, r, &req) {
		return
	}
	warehouse := req.model(mux.Vars(r)["id"])
	if err := h.manager.UpdateWarehouse(r.Context(), warehouse); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, warehouse)
}

// DeleteWarehouse handles warehouse deletion
func (h *Handlers) DeleteWarehouse(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteWarehouse(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]string{"message": "倉庫を削除しました"})
}

// 商品

// CreateProduct handles product creation
// 商品作成リクエストを処理
func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	product := req.model("")
	if err := h.manager.CreateProduct(r.Context(), product); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendCreated(w, product)
}

// ListProducts handles product listing with filters
// 商品一覧リクエストを処理
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	activeOnly, _ := strconv.ParseBool(q.Get("active"))

	products, err := h.manager.ListProducts(r.Context(), inventory.ProductFilter{
		SupplierID: q.Get("supplier_id"),
		CategoryID: q.Get("category_id"),
		ActiveOnly: activeOnly,
		Offset:     offset,
		Limit:      limit,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, products)
}

// GetProduct handles product lookup
func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.manager.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, product)
}

// UpdateProduct handles product updates
func (h *Handlers) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	existing, err := h.manager.GetProduct(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	product := req.model(id)
	product.ManualKey = existing.ManualKey
	if err := h.manager.UpdateProduct(r.Context(), product); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, product)
}

// DeleteProduct handles product deletion
func (h *Handlers) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteProduct(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]string{"message": "商品を削除しました"})
}

// UploadManual stores a manual document for a product from the "file"
// multipart field
// 商品マニュアルをアップロード
func (h *Handlers) UploadManual(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.manager.GetProduct(r.Context(), id); err != nil {
		h.handleError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "ファイルを指定してください")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	key := blob.Key("manuals", id, name)
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}
	if err := h.blobs.Put(r.Context(), key, file, header.Size, contentType); err != nil {
		h.handleError(w, r, err)
		return
	}

	product, err := h.manager.SetProductManual(r.Context(), id, key)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, product)
}

// DownloadManual streams the product's manual document
// 商品マニュアルをダウンロード
func (h *Handlers) DownloadManual(w http.ResponseWriter, r *http.Request) {
	product, err := h.manager.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if product.ManualKey == "" {
		h.sendError(w, http.StatusNotFound, "マニュアルが登録されていません")
		return
	}

	rc, obj, err := h.blobs.Get(r.Context(), product.ManualKey)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	defer rc.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(product.ManualKey)))
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("マニュアル送信に失敗しました")
	}
}
