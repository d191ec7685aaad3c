package inventory

import (
	"context"

	"go.uber.org/zap"
)

// Manager bundles movement recording, stock queries and catalog
// management over one storage.
// 入出庫記録・在庫照会・マスタ管理をまとめた在庫マネージャー
type Manager struct {
	storage   Storage        // ストレージ層
	ledger    *Ledger        // 在庫台帳
	publisher EventPublisher // イベント発行者
	logger    *zap.Logger    // ログ
	config    *Config        // 設定
}

// すべてのインターフェースを実装することを明示
var (
	_ MovementRecorder = (*Manager)(nil)
	_ StockQuery       = (*Manager)(nil)
	_ CatalogManager   = (*Manager)(nil)
)

// Config holds configuration for the inventory manager
// 在庫マネージャーの設定を保持
type Config struct {
	LowStockThreshold   int64 `yaml:"low_stock_threshold"`   // 低在庫閾値（0で無効）
	DefaultHistoryLimit int   `yaml:"default_history_limit"` // 履歴取得の既定件数
	MaxHistoryLimit     int   `yaml:"max_history_limit"`     // 履歴取得の上限件数
}

// DefaultConfig returns the manager defaults
func DefaultConfig() *Config {
	return &Config{
		LowStockThreshold:   10,
		DefaultHistoryLimit: 100,
		MaxHistoryLimit:     1000,
	}
}

// NewManager creates a new inventory manager
// 新しい在庫マネージャーを作成
func NewManager(storage Storage, publisher EventPublisher, logger *zap.Logger, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		storage:   storage,
		ledger:    NewLedger(storage, logger),
		publisher: publisher,
		logger:    logger,
		config:    config,
	}
}

// Ledger returns the stock ledger the manager writes through
func (m *Manager) Ledger() *Ledger {
	return m.ledger
}

// Storage returns the underlying storage
func (m *Manager) Storage() Storage {
	return m.storage
}

// Ping checks the storage connection
func (m *Manager) Ping(ctx context.Context) error {
	return m.storage.Ping(ctx)
}
