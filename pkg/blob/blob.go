// Package blob stores opaque files (export results, import uploads and
// product manuals) by key. Backends: MinIO, any S3-compatible service, or
// the local filesystem.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when no object exists under the key
// オブジェクトが存在しない場合のエラー
var ErrNotFound = errors.New("オブジェクトが見つかりません")

// Object describes a stored file
// 保存済みオブジェクトの情報
type Object struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	ModTime     time.Time `json:"mod_time"`
}

// Store persists files by key
// ファイル保存インターフェース
type Store interface {
	// Put stores size bytes from r under key. size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get opens the object. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Object, error)
}

// ValidateKey rejects empty keys and keys escaping their prefix
// キーの形式を検証
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("キーが空です")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("不正なキーです: %s", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("不正なキーです: %s", key)
		}
	}
	return nil
}

// Key joins path segments into an object key
func Key(parts ...string) string {
	return path.Join(parts...)
}
