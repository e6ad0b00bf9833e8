package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Deposit(ctx context.Context, addr string, amount int64, caller string) (*Account, error)
	CreateEscrow(ctx context.Context, req CreateRequest) (*Payment, error)
	Release(ctx context.Context, paymentID int64, caller string) error
	InitiateDispute(ctx context.Context, req DisputeRequest) (*Dispute, error)
	ResolveDispute(ctx context.Context, disputeID int64, favorPayer bool, caller string) error
	SetPlatformFee(ctx context.Context, bps int64, caller string) error

	Account(ctx context.Context, addr string) (*Account, error)
	Payment(ctx context.Context, id int64) (*Payment, error)
	PlatformFeeBps() int64
	VerifySolvency(ctx context.Context) error
}

type CreateRequest struct {
	Payee      string     `json:"payee"`
	Amount     int64      `json:"amount"`
	ProductID  int64      `json:"product_id,string"`
	Kind       string     `json:"kind"`
	Conditions string     `json:"conditions"`
	DueAt      *time.Time `json:"due_at"`
	Caller     string     `json:"-"`
}

type DisputeRequest struct {
	PaymentID int64  `json:"-"`
	Reason    string `json:"reason"`
	Caller    string `json:"-"`
}

var (
	ErrNotFound             = errors.New("not_found")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidAddress       = errors.New("invalid_address")
	ErrInvalidID            = errors.New("invalid_id")
	ErrInsufficientFunds    = errors.New("insufficient_funds")
	ErrAlreadyCompleted     = errors.New("already_completed")
	ErrDisputed             = errors.New("payment_disputed")
	ErrAlreadyDisputed      = errors.New("already_disputed")
	ErrAlreadyResolved      = errors.New("already_resolved")
	ErrHoldPeriodNotElapsed = errors.New("hold_period_not_elapsed")
	ErrFeeTooHigh           = errors.New("fee_too_high")
	ErrSelfPayment          = errors.New("self_payment")
	ErrEmptyField           = errors.New("empty_field")
	ErrBusy                 = errors.New("operation_in_progress")
	ErrInvariantViolation   = errors.New("invariant_violation")
)
