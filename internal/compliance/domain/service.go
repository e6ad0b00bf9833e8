package domain

import (
	"context"
	"errors"
)

type Service interface {
	AddRule(ctx context.Context, req RuleRequest) (*Rule, error)
	SetRuleActive(ctx context.Context, code string, active bool, caller string) error

	Check(ctx context.Context, req CheckRequest) (*Check, error)
	BatchCheck(ctx context.Context, req BatchCheckRequest) ([]Check, error)

	RulesForProductType(ctx context.Context, productType string) ([]Rule, error)
	ProductCompliance(ctx context.Context, productID int64) (*ComplianceReport, error)
}

type RuleRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	ProductType string `json:"product_type"`
	Requirement string `json:"requirement"`
	Caller      string `json:"-"`
}

type CheckRequest struct {
	ProductID int64  `json:"product_id,string"`
	RuleCode  string `json:"rule_code"`
	Passed    bool   `json:"passed"`
	Evidence  string `json:"evidence"`
	Caller    string `json:"-"`
}

// BatchCheckRequest carries parallel arrays of verdicts for one product. All
// three slices must be the same length.
type BatchCheckRequest struct {
	ProductID int64    `json:"product_id,string"`
	RuleCodes []string `json:"rule_codes"`
	Passed    []bool   `json:"passed"`
	Evidence  []string `json:"evidence"`
	Caller    string   `json:"-"`
}

type ComplianceReport struct {
	ProductID   int64   `json:"product_id,string"`
	Compliant   bool    `json:"compliant"`
	EvaluatedAt string  `json:"evaluated_at,omitempty"`
	Checks      []Check `json:"checks"`
}

var (
	ErrNotFound      = errors.New("not_found")
	ErrRuleNotFound  = errors.New("rule_not_found")
	ErrDuplicateRule = errors.New("duplicate_rule")
	ErrEmptyField    = errors.New("empty_field")
	ErrArityMismatch = errors.New("arity_mismatch")
	ErrRuleInactive  = errors.New("rule_inactive")
	ErrTypeMismatch  = errors.New("rule_product_type_mismatch")
	ErrInvalidID     = errors.New("invalid_id")
	ErrEmptyBatch    = errors.New("empty_batch")
)
