package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiWarehouse/pkg/purchasing"
)

// OrderItemRequest is one requested order line
type OrderItemRequest struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  int64           `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderRequest represents a purchase order create request
// 発注書作成リクエスト
type OrderRequest struct {
	SupplierID string             `json:"supplier_id" validate:"required"`
	OrderDate  time.Time          `json:"order_date"`
	Status     string             `json:"status" validate:"omitempty,oneof=draft confirmed"`
	Notes      string             `json:"notes" validate:"max=2000"`
	Items      []OrderItemRequest `json:"items" validate:"min=1,dive"`
}

// OrderUpdateRequest represents a purchase order update request
// 発注書更新リクエスト
type OrderUpdateRequest struct {
	OrderDate time.Time          `json:"order_date"`
	Status    string             `json:"status" validate:"omitempty,oneof=draft confirmed"`
	Notes     string             `json:"notes" validate:"max=2000"`
	Items     []OrderItemRequest `json:"items" validate:"min=1,dive"`
}

// ConfirmRequest closes an order
// 発注書の確定（入荷または取消）
type ConfirmRequest struct {
	Status      string `json:"status" validate:"required,oneof=completed cancelled"`
	WarehouseID string `json:"warehouse_id"`
	Notes       string `json:"notes" validate:"max=2000"`
}

func itemInputs(items []OrderItemRequest) []purchasing.ItemInput {
	out := make([]purchasing.ItemInput, 0, len(items))
	for _, it := range items {
		out = append(out, purchasing.ItemInput{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return out
}

// CreateOrder handles purchase order creation
// 発注書作成リクエストを処理
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.workflow.Create(r.Context(), purchasing.CreateInput{
		SupplierID: req.SupplierID,
		OrderDate:  req.OrderDate,
		Status:     purchasing.Status(req.Status),
		Notes:      req.Notes,
		Items:      itemInputs(req.Items),
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendCreated(w, order)
}

// ListOrders handles purchase order listing
// 発注書一覧リクエストを処理
func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
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
	orders, err := h.workflow.List(r.Context(), purchasing.Filter{
		Status:     purchasing.Status(q.Get("status")),
		SupplierID: q.Get("supplier_id"),
		Offset:     offset,
		Limit:      limit,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, orders)
}

// GetOrder handles purchase order lookup
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.workflow.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, order)
}

// UpdateOrder handles edits to a non-terminal order
// 発注書更新リクエストを処理
func (h *Handlers) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.workflow.Update(r.Context(), mux.Vars(r)["id"], purchasing.UpdateInput{
		OrderDate: req.OrderDate,
		Status:    purchasing.Status(req.Status),
		Notes:     req.Notes,
		Items:     itemInputs(req.Items),
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, order)
}

// ConfirmOrder completes or cancels an order
// 発注書確定リクエストを処理
func (h *Handlers) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.workflow.Confirm(r.Context(), mux.Vars(r)["id"], purchasing.ConfirmInput{
		Status:      purchasing.Status(req.Status),
		WarehouseID: req.WarehouseID,
		Notes:       req.Notes,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, order)
}
