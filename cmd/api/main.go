package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiWarehouse/internal/app"
	"github.com/nemonet1337/zaiWarehouse/internal/config"
	"github.com/nemonet1337/zaiWarehouse/internal/logging"
	"github.com/nemonet1337/zaiWarehouse/internal/metrics"
	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
)

// 役割
const (
	RoleAdministrator = "administrator"
	RoleManager       = "manager"
	RoleStaff         = "staff"
)

func main() {
	configPath := flag.String("config", "", "設定ファイルのパス")
	flag.Parse()

	// 設定読み込み
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}

	// ログ設定
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("アプリケーション初期化に失敗しました", zap.Error(err))
	}
	defer a.Close()

	if a.Local() {
		go a.RunLocalSweep(ctx, time.Minute)
	}

	// HTTPハンドラー設定
	handlers := NewHandlers(a)
	router := setupRouter(handlers, a.Metrics, cfg.API)

	// HTTPサーバー設定
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	// グレースフルシャットダウン設定
	go func() {
		logger.Info("倉庫管理APIサーバーを開始します",
			zap.Int("port", cfg.API.Port),
			zap.Bool("local_mode", a.Local()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("サーバー開始に失敗しました", zap.Error(err))
		}
	}()

	// シャットダウンシグナル待機
	<-ctx.Done()

	logger.Info("サーバーをシャットダウンしています...")

	// グレースフルシャットダウン
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("サーバーシャットダウンに失敗しました", zap.Error(err))
	}
	a.Wait()

	logger.Info("サーバーが正常に停止しました")
}

// setupRouter sets up HTTP routes
// HTTPルートを設定
func setupRouter(handlers *Handlers, m *metrics.Metrics, cfg config.APIConfig) *mux.Router {
	router := mux.NewRouter()

	// ヘルスチェック
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	if cfg.EnableMetrics {
		router.Handle("/metrics", m.Handler()).Methods("GET")
	}

	// API v1ルート
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(userMiddleware)

	catalog := requireRole(handlers, RoleAdministrator, RoleManager)
	operations := requireRole(handlers, RoleAdministrator, RoleManager, RoleStaff)

	// 仕入先
	api.HandleFunc("/suppliers", handlers.ListSuppliers).Methods("GET")
	api.Handle("/suppliers", catalog(handlers.CreateSupplier)).Methods("POST")
	api.HandleFunc("/suppliers/{id}", handlers.GetSupplier).Methods("GET")
	api.Handle("/suppliers/{id}", catalog(handlers.UpdateSupplier)).Methods("PUT")
	api.Handle("/suppliers/{id}", catalog(handlers.DeleteSupplier)).Methods("DELETE")

	// カテゴリ
	api.HandleFunc("/categories", handlers.ListCategories).Methods("GET")
	api.Handle("/categories", catalog(handlers.CreateCategory)).Methods("POST")
	api.HandleFunc("/categories/{id}", handlers.GetCategory).Methods("GET")
	api.Handle("/categories/{id}", catalog(handlers.UpdateCategory)).Methods("PUT")
	api.Handle("/categories/{id}", catalog(handlers.DeleteCategory)).Methods("DELETE")

	// 倉庫
	api.HandleFunc("/warehouses", handlers.ListWarehouses).Methods("GET")
	api.Handle("/warehouses", catalog(handlers.CreateWarehouse)).Methods("POST")
	api.HandleFunc("/warehouses/{id}", handlers.GetWarehouse).Methods("GET")
	api.Handle("/warehouses/{id}", catalog(handlers.UpdateWarehouse)).Methods("PUT")
	api.Handle("/warehouses/{id}", catalog(handlers.DeleteWarehouse)).Methods("DELETE")
	api.HandleFunc("/warehouses/{id}/stock", handlers.GetWarehouseStock).Methods("GET")

	// 商品
	api.HandleFunc("/products", handlers.ListProducts).Methods("GET")
	api.Handle("/products", catalog(handlers.CreateProduct)).Methods("POST")
	api.HandleFunc("/products/{id}", handlers.GetProduct).Methods("GET")
	api.Handle("/products/{id}", catalog(handlers.UpdateProduct)).Methods("PUT")
	api.Handle("/products/{id}", catalog(handlers.DeleteProduct)).Methods("DELETE")
	api.HandleFunc("/products/{id}/stock", handlers.GetProductStock).Methods("GET")
	api.Handle("/products/{id}/manual", catalog(handlers.UploadManual)).Methods("PUT")
	api.HandleFunc("/products/{id}/manual", handlers.DownloadManual).Methods("GET")

	// 在庫操作
	api.Handle("/stock/adjustments", operations(handlers.RecordAdjustment)).Methods("POST")
	api.Handle("/stock/transfers", operations(handlers.RecordTransfer)).Methods("POST")
	api.HandleFunc("/stock/transfers/{correlationId}", handlers.GetTransfer).Methods("GET")
	api.HandleFunc("/stock/movements", handlers.GetHistory).Methods("GET")
	api.HandleFunc("/stock/{productId}/{warehouseId}", handlers.GetStock).Methods("GET")

	// 発注書
	api.HandleFunc("/orders", handlers.ListOrders).Methods("GET")
	api.Handle("/orders", operations(handlers.CreateOrder)).Methods("POST")
	api.HandleFunc("/orders/{id}", handlers.GetOrder).Methods("GET")
	api.Handle("/orders/{id}", operations(handlers.UpdateOrder)).Methods("PUT")
	api.Handle("/orders/{id}/confirm", operations(handlers.ConfirmOrder)).Methods("POST")

	// エクスポート・取込
	api.Handle("/exports", operations(handlers.StartExport)).Methods("POST")
	api.HandleFunc("/exports/{token}", handlers.ExportStatus).Methods("GET")
	api.Handle("/exports/{token}/download", operations(handlers.DownloadExport)).Methods("GET")
	api.Handle("/imports", catalog(handlers.StartImport)).Methods("POST")
	api.HandleFunc("/imports/{id}", handlers.ImportStatus).Methods("GET")

	// ダッシュボード
	api.HandleFunc("/dashboard", handlers.Dashboard).Methods("GET")

	// CORS設定
	if cfg.EnableCORS {
		router.Use(corsMiddleware)
	}
	router.Use(m.Middleware)

	// ログ機能
	router.Use(loggingMiddleware(handlers.logger))

	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, X-User-Role")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
// HTTPリクエストをログ出力するミドルウェア
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &metrics.StatusRecorder{ResponseWriter: w, Status: http.StatusOK}

			// リクエスト処理
			next.ServeHTTP(recorder, r)

			// ログ出力
			logger.Info("HTTPリクエスト",
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
				zap.Int("status", recorder.Status),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user", r.Header.Get("X-User-ID")),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// userMiddleware puts the caller's id into the request context
// 呼び出し元ユーザーをコンテキストに設定
func userMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.Header.Get("X-User-ID"); user != "" {
			r = r.WithContext(inventory.WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// requireRole allows the request only when X-User-Role is one of roles.
// The header is trusted; authentication happens in front of the API.
// 役割による操作制限
func requireRole(h *Handlers, roles ...string) func(http.HandlerFunc) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.HandlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed[r.Header.Get("X-User-Role")] {
				h.sendError(w, http.StatusForbidden, "この操作を行う権限がありません")
				return
			}
			next(w, r)
		})
	}
}
