package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/provenance/internal/accessguard"
	auditdomain "github.com/smallbiznis/provenance/internal/audit/domain"
	certificatedomain "github.com/smallbiznis/provenance/internal/certificate/domain"
	compliancedomain "github.com/smallbiznis/provenance/internal/compliance/domain"
	escrowdomain "github.com/smallbiznis/provenance/internal/escrow/domain"
	productdomain "github.com/smallbiznis/provenance/internal/product/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrMissingActor   = errors.New("missing_actor")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrMissingActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "caller identity required",
		}
	case errors.Is(err, accessguard.ErrUnauthorized):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, accessguard.ErrSystemPaused):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "system_paused",
			Message: "system is paused",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, escrowdomain.ErrInvariantViolation):
		return http.StatusInternalServerError, errorPayload{
			Type:    "invariant_violation",
			Message: "internal accounting error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, productdomain.ErrEmptyField),
		errors.Is(err, productdomain.ErrInvalidTimestamps),
		errors.Is(err, productdomain.ErrInvalidAddress),
		errors.Is(err, productdomain.ErrInvalidID),
		errors.Is(err, certificatedomain.ErrEmptyField),
		errors.Is(err, certificatedomain.ErrInvalidExpiry),
		errors.Is(err, certificatedomain.ErrInvalidID),
		errors.Is(err, compliancedomain.ErrEmptyField),
		errors.Is(err, compliancedomain.ErrArityMismatch),
		errors.Is(err, compliancedomain.ErrEmptyBatch),
		errors.Is(err, compliancedomain.ErrRuleInactive),
		errors.Is(err, compliancedomain.ErrTypeMismatch),
		errors.Is(err, compliancedomain.ErrInvalidID),
		errors.Is(err, escrowdomain.ErrInvalidAmount),
		errors.Is(err, escrowdomain.ErrInvalidAddress),
		errors.Is(err, escrowdomain.ErrInvalidID),
		errors.Is(err, escrowdomain.ErrSelfPayment),
		errors.Is(err, escrowdomain.ErrFeeTooHigh),
		errors.Is(err, escrowdomain.ErrEmptyField),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, productdomain.ErrNotFound),
		errors.Is(err, certificatedomain.ErrNotFound),
		errors.Is(err, compliancedomain.ErrNotFound),
		errors.Is(err, compliancedomain.ErrRuleNotFound),
		errors.Is(err, escrowdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, productdomain.ErrDuplicateBatch),
		errors.Is(err, productdomain.ErrAlreadyStakeholder),
		errors.Is(err, productdomain.ErrInactive),
		errors.Is(err, certificatedomain.ErrAlreadyCertified),
		errors.Is(err, certificatedomain.ErrDuplicateCode),
		errors.Is(err, compliancedomain.ErrDuplicateRule),
		errors.Is(err, escrowdomain.ErrInsufficientFunds),
		errors.Is(err, escrowdomain.ErrAlreadyCompleted),
		errors.Is(err, escrowdomain.ErrDisputed),
		errors.Is(err, escrowdomain.ErrAlreadyDisputed),
		errors.Is(err, escrowdomain.ErrAlreadyResolved),
		errors.Is(err, escrowdomain.ErrHoldPeriodNotElapsed),
		errors.Is(err, escrowdomain.ErrBusy):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

// classifyErrorForLog feeds the request logger's error fields.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", payload.Type
	case status >= http.StatusBadRequest:
		return "client_error", payload.Type
	default:
		return "", ""
	}
}
