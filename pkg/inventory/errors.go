package inventory

import (
	"errors"
	"fmt"
)

// Common inventory errors
// 共通の在庫エラー定義

var (
	// ErrNotFound is the root of every not-found error in the package
	// 参照先が存在しない場合の共通エラー
	ErrNotFound = errors.New("対象が見つかりません")

	// ErrProductNotFound is returned when a product doesn't exist
	// 商品が存在しない場合のエラー
	ErrProductNotFound = fmt.Errorf("商品: %w", ErrNotFound)

	// ErrWarehouseNotFound is returned when a warehouse doesn't exist
	// 倉庫が存在しない場合のエラー
	ErrWarehouseNotFound = fmt.Errorf("倉庫: %w", ErrNotFound)

	// ErrSupplierNotFound is returned when a supplier doesn't exist
	// 仕入先が存在しない場合のエラー
	ErrSupplierNotFound = fmt.Errorf("仕入先: %w", ErrNotFound)

	// ErrCategoryNotFound is returned when a category doesn't exist
	// カテゴリが存在しない場合のエラー
	ErrCategoryNotFound = fmt.Errorf("カテゴリ: %w", ErrNotFound)

	// ErrStockNotFound is returned when no ledger row exists for a pair
	// 在庫台帳行が存在しない場合のエラー
	ErrStockNotFound = fmt.Errorf("在庫記録: %w", ErrNotFound)

	// ErrInsufficientStock is returned when a withdrawal would drive stock negative
	// 在庫不足の場合のエラー
	ErrInsufficientStock = errors.New("在庫が不足しています")

	// ErrUnknownLocation is returned when withdrawing from a pair that has no ledger row
	// 在庫記録のない倉庫から出庫しようとした場合のエラー
	ErrUnknownLocation = errors.New("この倉庫には当該商品の在庫記録がありません")

	// ErrDuplicate is returned when a unique constraint is violated
	// 一意制約違反の場合のエラー
	ErrDuplicate = errors.New("既に存在します")

	// ErrInUse is returned when deleting an entity still referenced elsewhere
	// 他から参照されているため削除できない場合のエラー
	ErrInUse = errors.New("参照されているため削除できません")
)

// ValidationError represents a validation error with details
// 詳細付きバリデーションエラーを表現
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("バリデーションエラー [%s]: %s (値: %s)", e.Field, e.Message, e.Value)
}

// StorageError represents a storage layer error
// ストレージ層のエラーを表現
type StorageError struct {
	Operation string `json:"operation"` // 操作名
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"cause"`     // 原因エラー
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ストレージエラー [%s]: %s (原因: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("ストレージエラー [%s]: %s", e.Operation, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
// 新しいバリデーションエラーを作成
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewStorageError creates a new storage error
// 新しいストレージエラーを作成
func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// IsValidationError reports whether err carries a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// wrapStorage keeps domain sentinels visible to callers while tagging
// infrastructure failures with the operation name.
func wrapStorage(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrUnknownLocation) ||
		errors.Is(err, ErrInUse) || IsValidationError(err) {
		return err
	}
	return NewStorageError(operation, message, err)
}
