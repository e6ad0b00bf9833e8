package domain

import "time"

// Rule is a named requirement applied to every product of a product type.
// Rules are never deleted; retiring one flips Active off so its historical
// checks keep their meaning.
type Rule struct {
	Code        string    `json:"code" gorm:"primaryKey;type:text"`
	Name        string    `json:"name" gorm:"type:text;not null"`
	ProductType string    `json:"product_type" gorm:"type:text;not null;index"`
	Requirement string    `json:"requirement" gorm:"type:text;not null"`
	Active      bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Rule) TableName() string { return "compliance_rules" }

// Check is one auditor verdict against one rule. Append-only; the latest check
// per rule decides the derived status.
type Check struct {
	ID        int64     `json:"id,string" gorm:"primaryKey"`
	ProductID int64     `json:"product_id,string" gorm:"not null;index"`
	RuleCode  string    `json:"rule_code" gorm:"type:text;not null"`
	Passed    bool      `json:"passed" gorm:"not null"`
	Evidence  string    `json:"evidence" gorm:"type:text"`
	Auditor   string    `json:"auditor" gorm:"type:text;not null"`
	CheckedAt time.Time `json:"checked_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Check) TableName() string { return "compliance_checks" }

// Status is the derived projection: compliant iff the latest check of every
// active rule matching the product's type passed, with no rule unchecked.
type Status struct {
	ProductID   int64     `json:"product_id,string" gorm:"primaryKey;autoIncrement:false"`
	Compliant   bool      `json:"compliant" gorm:"not null"`
	EvaluatedAt time.Time `json:"evaluated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Status) TableName() string { return "compliance_status" }
