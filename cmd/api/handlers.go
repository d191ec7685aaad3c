package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiWarehouse/internal/app"
	"github.com/nemonet1337/zaiWarehouse/pkg/blob"
	"github.com/nemonet1337/zaiWarehouse/pkg/export"
	"github.com/nemonet1337/zaiWarehouse/pkg/importer"
	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
	"github.com/nemonet1337/zaiWarehouse/pkg/purchasing"
)

// Handlers holds HTTP handlers for the warehouse API
// 倉庫管理API用のHTTPハンドラーを保持
type Handlers struct {
	app       *app.App
	manager   *inventory.Manager
	workflow  *purchasing.Workflow
	dashboard *inventory.Dashboard
	exports   *export.Coordinator
	imports   *importer.Coordinator
	blobs     blob.Store
	validate  *validator.Validate
	maxUpload int64
	logger    *zap.Logger
}

// NewHandlers creates new HTTP handlers
// 新しいHTTPハンドラーを作成
func NewHandlers(a *app.App) *Handlers {
	v := validator.New()
	// エラーのフィールド名はJSONタグを使う
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handlers{
		app:       a,
		manager:   a.Manager,
		workflow:  a.Workflow,
		dashboard: a.Dashboard,
		exports:   a.Exports,
		imports:   a.Imports,
		blobs:     a.Blobs,
		validate:  v,
		maxUpload: a.Config.API.MaxUploadSize,
		logger:    a.Logger,
	}
}

// APIResponse represents standard API response format
// 標準的なAPIレスポンス形式を表現
type APIResponse struct {
	Success bool                       `json:"success"`
	Data    interface{}                `json:"data,omitempty"`
	Error   string                     `json:"error,omitempty"`
	Details *inventory.ValidationError `json:"details,omitempty"`
}

// HealthCheck handles health check requests
// ヘルスチェックリクエストを処理
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.app.Ping(r.Context()); err != nil {
		h.logger.Warn("ヘルスチェックに失敗しました", zap.Error(err))
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	h.sendJSON(w, code, APIResponse{
		Success: code == http.StatusOK,
		Data: map[string]interface{}{
			"status":    status,
			"timestamp": time.Now(),
			"service":   "zaiWarehouse",
		},
	})
}

// decode reads a JSON body and validates it with struct tags
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			h.sendValidation(w, inventory.NewValidationError(fieldPath(fe), validationMessage(fe), fmtValue(fe.Value())))
			return false
		}
		h.sendError(w, http.StatusBadRequest, "無効なリクエストです")
		return false
	}
	return true
}

// fieldPath drops the struct name prefix from the namespace
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "必須項目です"
	case "email":
		return "メールアドレスの形式が不正です"
	case "gt":
		return "0より大きい値を指定してください"
	case "min":
		return fe.Param() + "件以上指定してください"
	case "max":
		return "長すぎます（上限 " + fe.Param() + "）"
	case "oneof":
		return "次のいずれかを指定してください: " + fe.Param()
	}
	return "値が不正です"
}

func fmtValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	}
	return ""
}

// handleError maps domain errors to HTTP status codes
// ドメインエラーをHTTPステータスに変換
func (h *Handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *inventory.ValidationError
	switch {
	case errors.As(err, &verr):
		h.sendValidation(w, verr)
	case errors.Is(err, inventory.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		h.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, inventory.ErrInsufficientStock), errors.Is(err, inventory.ErrUnknownLocation):
		h.sendError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, purchasing.ErrInvalidState),
		errors.Is(err, export.ErrNotReady),
		errors.Is(err, export.ErrFailed),
		errors.Is(err, inventory.ErrDuplicate),
		errors.Is(err, inventory.ErrInUse):
		h.sendError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("リクエスト処理に失敗しました",
			zap.String("method", r.Method),
			zap.String("url", r.URL.Path),
			zap.Error(err),
		)
		h.sendError(w, http.StatusInternalServerError, "内部エラーが発生しました")
	}
}

// ヘルパーメソッド

// sendSuccess sends a successful API response
// 成功APIレスポンスを送信
func (h *Handlers) sendSuccess(w http.ResponseWriter, data interface{}) {
	h.sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

// sendCreated sends a 201 response
func (h *Handlers) sendCreated(w http.ResponseWriter, data interface{}) {
	h.sendJSON(w, http.StatusCreated, APIResponse{Success: true, Data: data})
}

// sendAccepted sends a 202 response for queued work
func (h *Handlers) sendAccepted(w http.ResponseWriter, data interface{}) {
	h.sendJSON(w, http.StatusAccepted, APIResponse{Success: true, Data: data})
}

// sendError sends an error API response
// エラーAPIレスポンスを送信
func (h *Handlers) sendError(w http.ResponseWriter, statusCode int, message string) {
	h.sendJSON(w, statusCode, APIResponse{Success: false, Error: message})
}

func (h *Handlers) sendValidation(w http.ResponseWriter, verr *inventory.ValidationError) {
	h.sendJSON(w, http.StatusBadRequest, APIResponse{Success: false, Error: verr.Error(), Details: verr})
}

func (h *Handlers) sendJSON(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("レスポンス送信に失敗しました", zap.Error(err))
	}
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, inventory.NewValidationError(name, "0以上の整数を指定してください", s)
	}
	return n, nil
}

// queryTime parses an optional RFC3339 or YYYY-MM-DD query parameter
func queryTime(r *http.Request, name string) (*time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, inventory.NewValidationError(name, "日時の形式が不正です（RFC3339またはYYYY-MM-DD）", s)
}
