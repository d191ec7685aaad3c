package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, int64(10), cfg.Inventory.LowStockThreshold)
	assert.Equal(t, time.Hour, cfg.Export.TTL)
	assert.False(t, cfg.LocalMode())
	assert.Equal(t, "host=localhost port=5432 user=warehouse password=password dbname=warehouse_db sslmode=disable", cfg.DSN())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlData := `
database:
  driver: memory
api:
  port: 9000
queue:
  driver: local
blob:
  driver: local
  local_dir: /tmp/blobs
export:
  ttl: 30m
  format: csv
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o644))

	t.Setenv("API_PORT", "9100")
	t.Setenv("INVENTORY_LOW_STOCK_THRESHOLD", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	// 環境変数がファイルより優先される
	assert.Equal(t, 9100, cfg.API.Port)
	assert.Equal(t, int64(3), cfg.Inventory.LowStockThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Export.TTL)
	assert.Equal(t, "csv", cfg.Export.Format)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// ファイルに無い項目は既定値のまま
	assert.Equal(t, 30*time.Second, cfg.API.ReadTimeout)
	assert.True(t, cfg.LocalMode())
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"データベースドライバー", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"データベースホスト", func(c *Config) { c.Database.Host = "" }},
		{"APIポート", func(c *Config) { c.API.Port = 70000 }},
		{"低在庫閾値", func(c *Config) { c.Inventory.LowStockThreshold = -1 }},
		{"履歴件数", func(c *Config) { c.Inventory.MaxHistoryLimit = 1 }},
		{"キュードライバー", func(c *Config) { c.Queue.Driver = "kafka" }},
		{"Redisアドレス", func(c *Config) { c.Redis.Addr = "" }},
		{"MinIOエンドポイント", func(c *Config) { c.Blob.Driver = "minio" }},
		{"エクスポート形式", func(c *Config) { c.Export.Format = "pdf" }},
		{"ログレベル", func(c *Config) { c.Logging.Level = "verbose" }},
		{"ログフォーマット", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
