package inventory

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxMovementQuantity caps a single movement
const MaxMovementQuantity int64 = 999999999

var (
	idPattern    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// ValidateID IDの形式をバリデーション
func ValidateID(field, id string) error {
	if id == "" {
		return NewValidationError(field, "IDが空です", id)
	}
	if len(id) > 255 {
		return NewValidationError(field, "IDが長すぎます", id)
	}
	// 英数字、ハイフン、アンダースコアのみ許可
	if !idPattern.MatchString(id) {
		return NewValidationError(field, "IDに無効な文字が含まれています", id)
	}
	return nil
}

// ValidateName 名称をバリデーション
func ValidateName(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError(field, "名称が空です", name)
	}
	if len(name) > 500 {
		return NewValidationError(field, "名称が長すぎます", name)
	}
	return nil
}

// ValidateMovementQuantity 入出庫数量をバリデーション
func ValidateMovementQuantity(quantity int64) error {
	if quantity <= 0 {
		return NewValidationError("quantity", "数量は正の整数である必要があります", fmt.Sprintf("%d", quantity))
	}
	if quantity > MaxMovementQuantity {
		return NewValidationError("quantity", "数量が有効範囲を超えています", fmt.Sprintf("%d", quantity))
	}
	return nil
}

// ValidateReason 理由コードをバリデーション
func ValidateReason(reason MovementReason) error {
	switch reason {
	case ReasonPurchase, ReasonSale, ReasonReturn, ReasonTransfer, ReasonAdjustment, ReasonDamage:
		return nil
	}
	return NewValidationError("reason", "無効な理由です", string(reason))
}

// ResolveMovementType applies the reason/type coupling for a direct
// adjustment and returns the effective type.
// sale and damage are always withdrawals; transfer is reserved for
// RecordTransfer.
// 理由と入出庫区分の組み合わせを検証し、確定した区分を返す
func ResolveMovementType(reason MovementReason, requested MovementType) (MovementType, error) {
	if err := ValidateReason(reason); err != nil {
		return "", err
	}

	switch reason {
	case ReasonTransfer:
		return "", NewValidationError("reason", "transferは倉庫間移動でのみ使用できます", string(reason))
	case ReasonSale, ReasonDamage:
		if requested != "" && requested != MovementOut {
			return "", NewValidationError("type", fmt.Sprintf("理由 %s は出庫のみ指定できます", reason), string(requested))
		}
		return MovementOut, nil
	}

	switch requested {
	case MovementIn, MovementOut:
		return requested, nil
	case "":
		return "", NewValidationError("type", "入出庫区分を指定してください", "")
	}
	return "", NewValidationError("type", "無効な入出庫区分です", string(requested))
}

// ValidatePrice 価格をバリデーション
func ValidatePrice(field string, price decimal.Decimal) error {
	if price.IsNegative() {
		return NewValidationError(field, "価格は0以上である必要があります", price.String())
	}
	return nil
}

// ValidateSpecifications 商品仕様をバリデーション
func ValidateSpecifications(specs []Specification) error {
	for i, spec := range specs {
		if strings.TrimSpace(spec.Title) == "" {
			return NewValidationError(fmt.Sprintf("specifications[%d].title", i), "仕様の項目名が空です", spec.Title)
		}
	}
	return nil
}

// ValidateSupplier 仕入先をバリデーション
func ValidateSupplier(supplier *Supplier) error {
	if supplier == nil {
		return NewValidationError("supplier", "仕入先がnilです", "")
	}
	if err := ValidateName("name", supplier.Name); err != nil {
		return err
	}
	if supplier.Email != "" && !IsValidEmail(supplier.Email) {
		return NewValidationError("email", "メールアドレスの形式が不正です", supplier.Email)
	}
	return nil
}

// ValidateCategory カテゴリをバリデーション
func ValidateCategory(category *Category) error {
	if category == nil {
		return NewValidationError("category", "カテゴリがnilです", "")
	}
	if err := ValidateName("name", category.Name); err != nil {
		return err
	}
	if len(category.Description) > 2000 {
		return NewValidationError("description", "説明が長すぎます", "")
	}
	return nil
}

// ValidateWarehouse 倉庫をバリデーション
func ValidateWarehouse(warehouse *Warehouse) error {
	if warehouse == nil {
		return NewValidationError("warehouse", "倉庫がnilです", "")
	}
	if err := ValidateName("name", warehouse.Name); err != nil {
		return err
	}
	if warehouse.Email != "" && !IsValidEmail(warehouse.Email) {
		return NewValidationError("email", "メールアドレスの形式が不正です", warehouse.Email)
	}
	return nil
}

// ValidateProduct 商品をバリデーション
func ValidateProduct(product *Product) error {
	if product == nil {
		return NewValidationError("product", "商品がnilです", "")
	}
	if err := ValidateName("name", product.Name); err != nil {
		return err
	}
	if err := ValidateID("category_id", product.CategoryID); err != nil {
		return err
	}
	if err := ValidateID("supplier_id", product.SupplierID); err != nil {
		return err
	}
	if err := ValidatePrice("price", product.Price); err != nil {
		return err
	}
	return ValidateSpecifications(product.Specifications)
}

// IsValidEmail メールアドレスの形式をチェック
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}
