package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/viralforge/hui-ledger/internal/domain"
)

// ledgerCodes gives each ledger rejection a stable machine-readable code.
// Order matters only where one sentinel wraps another.
var ledgerCodes = []struct {
	err  error
	code string
}{
	{domain.ErrWrongPhase, "WRONG_PHASE"},
	{domain.ErrNotMember, "NOT_MEMBER"},
	{domain.ErrAlreadyMember, "ALREADY_MEMBER"},
	{domain.ErrAlreadyWon, "ALREADY_WON"},
	{domain.ErrAlreadyPaid, "ALREADY_PAID"},
	{domain.ErrIsReceiver, "IS_RECEIVER"},
	{domain.ErrPoolFull, "POOL_FULL"},
	{domain.ErrPoolEnded, "POOL_ENDED"},
	{domain.ErrPoolNotEnded, "POOL_NOT_ENDED"},
	{domain.ErrNoBidsPlaced, "NO_BIDS_PLACED"},
	{domain.ErrIncompleteCollection, "INCOMPLETE_COLLECTION"},
	{domain.ErrMemberDefaulted, "MEMBER_DEFAULTED"},
	{domain.ErrUnauthorized, "NOT_POOL_OWNER"},
	{domain.ErrInsufficientDeposit, "INSUFFICIENT_DEPOSIT"},
	{domain.ErrWrongAmount, "WRONG_AMOUNT"},
	{domain.ErrInvalidBidAmount, "INVALID_BID_AMOUNT"},
}

func ledgerCode(err error, fallback string) string {
	for _, c := range ledgerCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return fallback
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "UNAUTHENTICATED", "invalid or missing credentials"
	case errors.Is(err, domain.ErrAuthorizationViolation):
		return http.StatusForbidden, ledgerCode(err, "FORBIDDEN"), err.Error()
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, ledgerCode(err, "INSUFFICIENT_FUNDS"), err.Error()
	case errors.Is(err, domain.ErrPreconditionViolation):
		return http.StatusConflict, ledgerCode(err, "PRECONDITION_VIOLATION"), err.Error()
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsupportedEventType):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrNotDeployed):
		return http.StatusNotFound, "POOL_NOT_DEPLOYED", "pool not deployed"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, domain.ErrAlreadyDeployed):
		return http.StatusConflict, "ALREADY_DEPLOYED", "pool already deployed"
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return http.StatusConflict, "IDEMPOTENCY_CONFLICT", "idempotency key reused with a different request"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT", "concurrent update, retry"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "request timed out"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}

func writeMappedError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	status, code, msg := mapDomainError(err)
	logHTTPOperationError(ctx, operation, status, code, msg, err)
	writeError(w, status, code, msg, requestIDFromContext(ctx))
}

func writeValidationError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	code := "VALIDATION_ERROR"
	msg := err.Error()
	logHTTPOperationError(ctx, operation, http.StatusBadRequest, code, msg, err)
	writeError(w, http.StatusBadRequest, code, msg, requestIDFromContext(ctx))
}
