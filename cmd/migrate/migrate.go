package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// Migrator applies SQL files from a directory in filename order and
// records each in schema_migrations
// マイグレーションファイルをファイル名順に適用
type Migrator struct {
	db     *sql.DB
	dir    string
	logger *zap.Logger
}

// NewMigrator creates a migrator over dir
func NewMigrator(db *sql.DB, dir string, logger *zap.Logger) *Migrator {
	return &Migrator{db: db, dir: dir, logger: logger}
}

// createMigrationTable マイグレーション履歴テーブルを作成
func (m *Migrator) createMigrationTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			filename VARCHAR(255) NOT NULL UNIQUE,
			executed_at TIMESTAMP NOT NULL DEFAULT NOW(),
			checksum VARCHAR(64) NOT NULL
		)`

	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("マイグレーション履歴テーブル作成エラー: %w", err)
	}
	return nil
}

// Run applies every pending migration and returns the applied filenames.
// A changed checksum of an applied file is logged and left alone.
// 未実行のマイグレーションを実行
func (m *Migrator) Run(ctx context.Context) ([]string, error) {
	if err := m.createMigrationTable(ctx); err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(m.dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("マイグレーションファイル検索エラー: %w", err)
	}
	if len(files) == 0 {
		m.logger.Warn("マイグレーションファイルが見つかりません", zap.String("dir", m.dir))
		return nil, nil
	}
	sort.Strings(files)

	executed, err := m.executedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("実行済みマイグレーション取得エラー: %w", err)
	}

	var applied []string
	for _, file := range files {
		filename := filepath.Base(file)

		content, err := os.ReadFile(file)
		if err != nil {
			return applied, fmt.Errorf("ファイル読み込みエラー %s: %w", filename, err)
		}
		checksum := calculateChecksum(content)

		if previous, ok := executed[filename]; ok {
			if previous != checksum {
				m.logger.Warn("実行済みマイグレーションが変更されています",
					zap.String("file", filename),
					zap.String("recorded", previous),
					zap.String("current", checksum),
				)
			}
			m.logger.Debug("スキップ (実行済み)", zap.String("file", filename))
			continue
		}

		if err := m.apply(ctx, filename, string(content), checksum); err != nil {
			return applied, err
		}
		m.logger.Info("マイグレーションを適用しました", zap.String("file", filename))
		applied = append(applied, filename)
	}
	return applied, nil
}

func (m *Migrator) apply(ctx context.Context, filename, content, checksum string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始エラー %s: %w", filename, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, content); err != nil {
		return fmt.Errorf("マイグレーション実行エラー %s: %w", filename, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)",
		filename, checksum,
	); err != nil {
		return fmt.Errorf("マイグレーション履歴記録エラー %s: %w", filename, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションコミットエラー %s: %w", filename, err)
	}
	return nil
}

// executedMigrations returns recorded checksums keyed by filename
func (m *Migrator) executedMigrations(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT filename, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	executed := make(map[string]string)
	for rows.Next() {
		var filename, checksum string
		if err := rows.Scan(&filename, &checksum); err != nil {
			return nil, err
		}
		executed[filename] = checksum
	}
	return executed, rows.Err()
}

// calculateChecksum returns the hex SHA-256 of the file content
func calculateChecksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
