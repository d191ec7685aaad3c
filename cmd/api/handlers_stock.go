package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
)

// AdjustmentRequest represents a single stock movement
// 入出庫リクエストを表現
type AdjustmentRequest struct {
	ProductID   string `json:"product_id" validate:"required"`
	WarehouseID string `json:"warehouse_id" validate:"required"`
	Type        string `json:"type" validate:"omitempty,oneof=in out"`
	Reason      string `json:"reason" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"gt=0"`
	Notes       string `json:"notes" validate:"max=1000"`
	Reference   string `json:"reference" validate:"max=255"`
}

// TransferRequest represents a move between warehouses
// 倉庫間移動リクエストを表現
type TransferRequest struct {
	ProductID         string `json:"product_id" validate:"required"`
	SourceWarehouseID string `json:"source_warehouse_id" validate:"required"`
	DestWarehouseID   string `json:"dest_warehouse_id" validate:"required"`
	Quantity          int64  `json:"quantity" validate:"gt=0"`
	Notes             string `json:"notes" validate:"max=1000"`
}

// RecordAdjustment handles stock movement requests
// 入出庫リクエストを処理
func (h *Handlers) RecordAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	movement, err := h.manager.RecordAdjustment(r.Context(), inventory.AdjustmentInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Type:        inventory.MovementType(req.Type),
		Reason:      inventory.MovementReason(req.Reason),
		Quantity:    req.Quantity,
		Notes:       req.Notes,
		Reference:   req.Reference,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendCreated(w, movement)
}

// RecordTransfer handles warehouse transfer requests
// 倉庫間移動リクエストを処理
func (h *Handlers) RecordTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.manager.RecordTransfer(r.Context(), inventory.TransferInput{
		ProductID:         req.ProductID,
		SourceWarehouseID: req.SourceWarehouseID,
		DestWarehouseID:   req.DestWarehouseID,
		Quantity:          req.Quantity,
		Notes:             req.Notes,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendCreated(w, result)
}

// GetTransfer returns both legs of a transfer
func (h *Handlers) GetTransfer(w http.ResponseWriter, r *http.Request) {
	result, err := h.manager.GetTransfer(r.Context(), mux.Vars(r)["correlationId"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, result)
}

// GetStock handles per-pair stock lookups
// 在庫照会リクエストを処理
func (h *Handlers) GetStock(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	stock, err := h.manager.GetStock(r.Context(), vars["productId"], vars["warehouseId"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, stock)
}

// GetProductStock returns per-warehouse rows and the total for a product
// 商品別在庫照会
func (h *Handlers) GetProductStock(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	stocks, err := h.manager.GetStockByProduct(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	total, err := h.manager.GetTotalStock(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, map[string]interface{}{
		"product_id": id,
		"total":      total,
		"warehouses": stocks,
	})
}

// GetWarehouseStock returns every row held in a warehouse
// 倉庫別在庫照会
func (h *Handlers) GetWarehouseStock(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.manager.GetStockByWarehouse(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, stocks)
}

// GetHistory handles movement history queries
// 入出庫履歴リクエストを処理
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	from, err := queryTime(r, "from")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	movements, err := h.manager.GetHistory(r.Context(), inventory.MovementFilter{
		ProductID:     q.Get("product_id"),
		WarehouseID:   q.Get("warehouse_id"),
		Reason:        inventory.MovementReason(q.Get("reason")),
		CorrelationID: q.Get("correlation_id"),
		From:          from,
		To:            to,
		Limit:         limit,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, movements)
}

// Dashboard returns summary figures
// ダッシュボード集計を返す
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := h.dashboard.Summary(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.sendSuccess(w, summary)
}
