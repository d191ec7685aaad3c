package main

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func writeMigration(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestMigrator_AppliesPendingInOrder(t *testing.T) {
	dir := t.TempDir()
	first := "CREATE TABLE a (id int);"
	second := "CREATE TABLE b (id int);"
	writeMigration(t, dir, "0002_b.sql", second)
	writeMigration(t, dir, "0001_a.sql", first)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT filename, checksum FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"filename", "checksum"}).AddRow("0001_a.sql", calculateChecksum([]byte(first))))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(second)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs("0002_b.sql", calculateChecksum([]byte(second))).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := NewMigrator(db, dir, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_b.sql"}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_ChangedChecksumIsReported(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "0001_a.sql", "CREATE TABLE a (id int, name text);")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT filename, checksum FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"filename", "checksum"}).AddRow("0001_a.sql", "stale"))

	core, logs := observer.New(zapcore.WarnLevel)
	applied, err := NewMigrator(db, dir, zap.New(core)).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Equal(t, 1, logs.FilterMessage("実行済みマイグレーションが変更されています").Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_FailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "0001_a.sql", "CREATE TABLE broken")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT filename, checksum FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"filename", "checksum"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE broken").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	applied, err := NewMigrator(db, dir, zap.NewNop()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_a.sql")
	assert.Empty(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCalculateChecksum(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		calculateChecksum(nil),
	)
}
