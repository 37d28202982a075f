package domain

import (
	"errors"
	"fmt"
)

// Rejection categories. Every ledger rejection wraps exactly one of them so
// adapters can map a whole class with errors.Is.
var (
	ErrPreconditionViolation  = errors.New("precondition violation")
	ErrAuthorizationViolation = errors.New("authorization violation")
	ErrInsufficientFunds      = errors.New("insufficient funds")
)

var (
	ErrWrongPhase           = fmt.Errorf("%w: wrong phase", ErrPreconditionViolation)
	ErrNotMember            = fmt.Errorf("%w: caller is not a member", ErrPreconditionViolation)
	ErrAlreadyMember        = fmt.Errorf("%w: caller is already a member", ErrPreconditionViolation)
	ErrAlreadyWon           = fmt.Errorf("%w: member already received a payout", ErrPreconditionViolation)
	ErrAlreadyPaid          = fmt.Errorf("%w: contribution already paid this period", ErrPreconditionViolation)
	ErrIsReceiver           = fmt.Errorf("%w: receiver does not pay in its own period", ErrPreconditionViolation)
	ErrPoolFull             = fmt.Errorf("%w: pool is full", ErrPreconditionViolation)
	ErrPoolEnded            = fmt.Errorf("%w: pool has ended", ErrPreconditionViolation)
	ErrPoolNotEnded         = fmt.Errorf("%w: pool has not ended", ErrPreconditionViolation)
	ErrNoBidsPlaced         = fmt.Errorf("%w: no bids placed", ErrPreconditionViolation)
	ErrIncompleteCollection = fmt.Errorf("%w: collection incomplete", ErrPreconditionViolation)
	ErrMemberDefaulted      = fmt.Errorf("%w: member has defaulted", ErrPreconditionViolation)

	ErrUnauthorized = fmt.Errorf("%w: caller is not the pool owner", ErrAuthorizationViolation)

	ErrInsufficientDeposit = fmt.Errorf("%w: deposit below minimum", ErrInsufficientFunds)
	ErrWrongAmount         = fmt.Errorf("%w: wrong payment amount", ErrInsufficientFunds)
	ErrInvalidBidAmount    = fmt.Errorf("%w: invalid bid amount", ErrInsufficientFunds)
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidAddress       = fmt.Errorf("%w: invalid address", ErrInvalidInput)
	ErrInvalidParams        = fmt.Errorf("%w: invalid pool parameters", ErrInvalidInput)
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrNotDeployed          = errors.New("pool not deployed")
	ErrAlreadyDeployed      = errors.New("pool already deployed")
	ErrIdempotencyConflict  = errors.New("idempotency conflict")
	ErrUnsupportedEventType = errors.New("unsupported event type")
	// ErrHistoryCorrupted is returned by audits when the stored history does
	// not reproduce the stored state or its hash chain is broken.
	ErrHistoryCorrupted = errors.New("history corrupted")
)
