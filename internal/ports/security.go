package ports

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type CallerClaims struct {
	Address   common.Address
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenVerifier resolves a bearer token to the calling account.
type TokenVerifier interface {
	ParseAndValidate(token string) (CallerClaims, error)
}
