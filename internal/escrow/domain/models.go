package domain

import "time"

// Account tracks a participant's balance in minor currency units. Available
// funds move into Held when a payment is created and out again on settlement.
type Account struct {
	Address   string    `json:"address" gorm:"primaryKey;type:text"`
	Available int64     `json:"available" gorm:"not null;default:0"`
	Held      int64     `json:"held" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "escrow_accounts" }

// Payment is one escrow agreement. Completed is terminal; Disputed freezes
// release until an arbitrator resolves.
type Payment struct {
	ID         int64      `json:"id,string" gorm:"primaryKey"`
	Payer      string     `json:"payer" gorm:"type:text;not null;index"`
	Payee      string     `json:"payee" gorm:"type:text;not null;index"`
	Amount     int64      `json:"amount" gorm:"not null"`
	Fee        int64      `json:"fee" gorm:"not null"`
	ProductID  int64      `json:"product_id,string" gorm:"not null"`
	Kind       string     `json:"kind" gorm:"type:text;not null"`
	Conditions string     `json:"conditions" gorm:"type:text"`
	Completed  bool       `json:"completed" gorm:"not null;default:false"`
	Disputed   bool       `json:"disputed" gorm:"not null;default:false"`
	CreatedAt  time.Time  `json:"created_at" gorm:"not null"`
	DueAt      *time.Time `json:"due_at,omitempty"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "escrow_payments" }

// Dispute is the single challenge allowed per payment.
type Dispute struct {
	ID         int64      `json:"id,string" gorm:"primaryKey"`
	PaymentID  int64      `json:"payment_id,string" gorm:"not null;uniqueIndex:ux_escrow_disputes_payment"`
	Initiator  string     `json:"initiator" gorm:"type:text;not null"`
	Reason     string     `json:"reason" gorm:"type:text;not null"`
	Resolved   bool       `json:"resolved" gorm:"not null;default:false"`
	FavorPayer bool       `json:"favor_payer" gorm:"not null;default:false"`
	Arbitrator string     `json:"arbitrator" gorm:"type:text"`
	CreatedAt  time.Time  `json:"created_at" gorm:"not null"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// TableName sets the database table name.
func (Dispute) TableName() string { return "escrow_disputes" }

// KindStandard is the default payment kind.
const KindStandard = "standard"
