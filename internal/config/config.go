package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
// アプリケーション設定を保持
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	Inventory InventoryConfig `yaml:"inventory"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Blob      BlobConfig      `yaml:"blob"`
	Export    ExportConfig    `yaml:"export"`
	Import    ImportConfig    `yaml:"import"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds database configuration
// データベース設定を保持
type DatabaseConfig struct {
	Driver       string        `yaml:"driver" envconfig:"DB_DRIVER"` // postgres, memory
	Host         string        `yaml:"host" envconfig:"DB_HOST"`
	Port         int           `yaml:"port" envconfig:"DB_PORT"`
	User         string        `yaml:"user" envconfig:"DB_USER"`
	Password     string        `yaml:"password" envconfig:"DB_PASSWORD"`
	DBName       string        `yaml:"dbname" envconfig:"DB_NAME"`
	SSLMode      string        `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxOpenConns int           `yaml:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns int           `yaml:"max_idle_conns" envconfig:"DB_MAX_IDLE_CONNS"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" envconfig:"DB_CONN_LIFETIME"`
}

// APIConfig holds API server configuration
// APIサーバー設定を保持
type APIConfig struct {
	Port          int           `yaml:"port" envconfig:"API_PORT"`
	ReadTimeout   time.Duration `yaml:"read_timeout" envconfig:"API_READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" envconfig:"API_WRITE_TIMEOUT"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" envconfig:"API_IDLE_TIMEOUT"`
	EnableCORS    bool          `yaml:"enable_cors" envconfig:"API_ENABLE_CORS"`
	EnableMetrics bool          `yaml:"enable_metrics" envconfig:"API_ENABLE_METRICS"`
	MaxUploadSize int64         `yaml:"max_upload_size" envconfig:"API_MAX_UPLOAD_SIZE"`
}

// InventoryConfig holds inventory-specific configuration
// 在庫固有の設定を保持
type InventoryConfig struct {
	LowStockThreshold   int64 `yaml:"low_stock_threshold" envconfig:"INVENTORY_LOW_STOCK_THRESHOLD"`
	DefaultHistoryLimit int   `yaml:"default_history_limit" envconfig:"INVENTORY_DEFAULT_HISTORY_LIMIT"`
	MaxHistoryLimit     int   `yaml:"max_history_limit" envconfig:"INVENTORY_MAX_HISTORY_LIMIT"`
}

// RedisConfig holds the Redis connection used by the queue, job store and events
// Redis接続設定
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

// QueueConfig selects the background job backend
// ジョブキュー設定
type QueueConfig struct {
	Driver      string        `yaml:"driver" envconfig:"QUEUE_DRIVER"` // asynq, local
	Concurrency int           `yaml:"concurrency" envconfig:"QUEUE_CONCURRENCY"`
	MaxRetry    int           `yaml:"max_retry" envconfig:"QUEUE_MAX_RETRY"`
	TaskTimeout time.Duration `yaml:"task_timeout" envconfig:"QUEUE_TASK_TIMEOUT"`
	SweepCron   string        `yaml:"sweep_cron" envconfig:"QUEUE_SWEEP_CRON"`
}

// BlobConfig selects where export artifacts, uploads and manuals are stored
// ファイル保存先の設定
type BlobConfig struct {
	Driver    string `yaml:"driver" envconfig:"BLOB_DRIVER"` // local, minio, s3
	LocalDir  string `yaml:"local_dir" envconfig:"BLOB_LOCAL_DIR"`
	Endpoint  string `yaml:"endpoint" envconfig:"BLOB_ENDPOINT"`
	Region    string `yaml:"region" envconfig:"BLOB_REGION"`
	Bucket    string `yaml:"bucket" envconfig:"BLOB_BUCKET"`
	AccessKey string `yaml:"access_key" envconfig:"BLOB_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"BLOB_SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"BLOB_USE_SSL"`
}

// ExportConfig holds export job settings
type ExportConfig struct {
	TTL    time.Duration `yaml:"ttl" envconfig:"EXPORT_TTL"`
	Format string        `yaml:"format" envconfig:"EXPORT_FORMAT"`
}

// ImportConfig holds import job settings
type ImportConfig struct {
	TTL     time.Duration `yaml:"ttl" envconfig:"IMPORT_TTL"`
	MaxSize int64         `yaml:"max_size" envconfig:"IMPORT_MAX_SIZE"`
}

// LoggingConfig holds logging configuration
// ログ設定を保持
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"` // json, console
	Output string `yaml:"output" envconfig:"LOG_OUTPUT"` // stdout, stderr, ファイルパス
}

// Default returns the built-in configuration
// 既定の設定を返す
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       "postgres",
			Host:         "localhost",
			Port:         5432,
			User:         "warehouse",
			Password:     "password",
			DBName:       "warehouse_db",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			ConnLifetime: 5 * time.Minute,
		},
		API: APIConfig{
			Port:          8080,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			IdleTimeout:   60 * time.Second,
			EnableCORS:    true,
			EnableMetrics: true,
			MaxUploadSize: 10 << 20,
		},
		Inventory: InventoryConfig{
			LowStockThreshold:   10,
			DefaultHistoryLimit: 100,
			MaxHistoryLimit:     1000,
		},
		Redis: RedisConfig{Addr: "127.0.0.1:6379"},
		Queue: QueueConfig{
			Driver:      "asynq",
			Concurrency: 5,
			MaxRetry:    3,
			TaskTimeout: 5 * time.Minute,
			SweepCron:   "*/10 * * * *",
		},
		Blob: BlobConfig{
			Driver:   "local",
			LocalDir: "./data/blobs",
			Region:   "us-east-1",
			Bucket:   "zaiwarehouse",
		},
		Export: ExportConfig{TTL: time.Hour, Format: "xlsx"},
		Import: ImportConfig{TTL: 24 * time.Hour, MaxSize: 10 << 20},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in that order of precedence
// 既定値 → YAMLファイル → 環境変数の順に設定を読み込み
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗しました: %w", err)
	}

	// バリデーション
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定バリデーションに失敗しました: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗しました (%s): %w", path, err)
	}
	return nil
}

// loadEnv applies environment overrides section by section so variable
// names stay unprefixed (DB_HOST, API_PORT ...)
func (c *Config) loadEnv() error {
	sections := []any{
		&c.Database, &c.API, &c.Inventory, &c.Redis, &c.Queue,
		&c.Blob, &c.Export, &c.Import, &c.Logging,
	}
	for _, s := range sections {
		if err := envconfig.Process("", s); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
// 設定をバリデーション
func (c *Config) Validate() error {
	// データベース設定チェック
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			return errors.New("データベースホストが指定されていません")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("無効なデータベースポート: %d", c.Database.Port)
		}
		if c.Database.User == "" {
			return errors.New("データベースユーザーが指定されていません")
		}
		if c.Database.DBName == "" {
			return errors.New("データベース名が指定されていません")
		}
	default:
		return fmt.Errorf("無効なデータベースドライバー: %s", c.Database.Driver)
	}

	// API設定チェック
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("無効なAPIポート: %d", c.API.Port)
	}

	// 在庫設定チェック
	if c.Inventory.LowStockThreshold < 0 {
		return errors.New("低在庫閾値は0以上である必要があります")
	}
	if c.Inventory.DefaultHistoryLimit <= 0 || c.Inventory.MaxHistoryLimit < c.Inventory.DefaultHistoryLimit {
		return fmt.Errorf("履歴件数の設定が不正です: default=%d max=%d", c.Inventory.DefaultHistoryLimit, c.Inventory.MaxHistoryLimit)
	}

	switch c.Queue.Driver {
	case "local":
	case "asynq":
		if c.Redis.Addr == "" {
			return errors.New("asynqキューにはRedisアドレスが必要です")
		}
	default:
		return fmt.Errorf("無効なキュードライバー: %s", c.Queue.Driver)
	}

	switch c.Blob.Driver {
	case "local":
		if c.Blob.LocalDir == "" {
			return errors.New("ローカル保存先ディレクトリが指定されていません")
		}
	case "minio", "s3":
		if c.Blob.Bucket == "" {
			return errors.New("バケット名が指定されていません")
		}
		if c.Blob.Driver == "minio" && c.Blob.Endpoint == "" {
			return errors.New("MinIOエンドポイントが指定されていません")
		}
	default:
		return fmt.Errorf("無効なファイル保存ドライバー: %s", c.Blob.Driver)
	}

	if c.Export.TTL <= 0 || c.Import.TTL <= 0 {
		return errors.New("ジョブの有効期間は正の値である必要があります")
	}
	if c.Export.Format != "xlsx" && c.Export.Format != "csv" {
		return fmt.Errorf("無効なエクスポート形式: %s", c.Export.Format)
	}

	// ログ設定チェック
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("無効なログレベル: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("無効なログフォーマット: %s", c.Logging.Format)
	}

	return nil
}

// DSN generates PostgreSQL Data Source Name
// PostgreSQLデータソース名を生成
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// LocalMode reports whether the API runs with no external services
func (c *Config) LocalMode() bool {
	return c.Database.Driver == "memory" && c.Queue.Driver == "local" && c.Blob.Driver == "local"
}
