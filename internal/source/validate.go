package source

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/dealmoa/internal/model"
)

// Validator はコネクタ境界でDealRecordを検証する。
type Validator struct {
	validate *validator.Validate
}

// NewValidator はValidatorを生成する。
func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(),
	}
}

// ValidateRecord はDealRecordのタグに基づいて検証する。
// 空白のみのタイトルも不正として扱う。
func (v *Validator) ValidateRecord(rec *model.DealRecord) error {
	if err := v.validate.Struct(rec); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if strings.TrimSpace(rec.Title) == "" {
		return fmt.Errorf("validation failed: title is blank")
	}
	return nil
}
