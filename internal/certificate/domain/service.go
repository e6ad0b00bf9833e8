package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Mint(ctx context.Context, req MintRequest) (*Certificate, error)
	Invalidate(ctx context.Context, id int64, caller string) error

	Get(ctx context.Context, id int64) (*Certificate, error)
	Verify(ctx context.Context, id int64) (*Verification, error)
	VerifyByCode(ctx context.Context, code string) (*Verification, error)
}

type MintRequest struct {
	ProductID        int64     `json:"product_id,string"`
	Holder           string    `json:"holder"`
	CertType         string    `json:"cert_type"`
	Standards        []string  `json:"standards"`
	VerificationCode string    `json:"verification_code"`
	ExpiresAt        time.Time `json:"expires_at"`
	MetadataRef      *string   `json:"metadata_ref"`
	Caller           string    `json:"-"`
}

// Verification is the outcome of a validity query. Reason is one of
// ReasonValid, ReasonInvalidated or ReasonExpired.
type Verification struct {
	CertificateID int64  `json:"certificate_id,string"`
	Valid         bool   `json:"valid"`
	Reason        string `json:"reason"`
}

var (
	ErrNotFound         = errors.New("not_found")
	ErrAlreadyCertified = errors.New("already_certified")
	ErrDuplicateCode    = errors.New("duplicate_code")
	ErrEmptyField       = errors.New("empty_field")
	ErrInvalidExpiry    = errors.New("invalid_expiry")
	ErrInvalidID        = errors.New("invalid_id")
)
