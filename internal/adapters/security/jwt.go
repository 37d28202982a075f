package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/ports"
)

var errInvalidToken = fmt.Errorf("%w: invalid token", domain.ErrUnauthenticated)

// JWTVerifier resolves bearer tokens to wallet addresses. Tokens are issued
// by the wallet-login service after it has checked a signed challenge; the
// ledger only trusts the address claim.
type JWTVerifier struct {
	method    jwt.SigningMethod
	hmacKey   []byte
	publicKey *rsa.PublicKey
	issuer    string
}

// NewHMACVerifier accepts HS256 tokens signed with secret.
func NewHMACVerifier(secret, issuer string) (*JWTVerifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt hmac secret must be at least 32 bytes")
	}
	return &JWTVerifier{method: jwt.SigningMethodHS256, hmacKey: []byte(secret), issuer: issuer}, nil
}

// NewRSAVerifier accepts RS256 tokens verifiable with the given public key.
func NewRSAVerifier(publicKeyPEM, issuer string) (*JWTVerifier, error) {
	pub, err := parseRSAPublic(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &JWTVerifier{method: jwt.SigningMethodRS256, publicKey: pub, issuer: issuer}, nil
}

type callerJWTClaims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

func (v *JWTVerifier) ParseAndValidate(raw string) (ports.CallerClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.method.Alg()}),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(raw, &callerJWTClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != v.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		if v.publicKey != nil {
			return v.publicKey, nil
		}
		return v.hmacKey, nil
	}, opts...)
	if err != nil {
		return ports.CallerClaims{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*callerJWTClaims)
	if !ok || !parsed.Valid {
		return ports.CallerClaims{}, errInvalidToken
	}
	subject := claims.Address
	if subject == "" {
		subject = claims.Subject
	}
	addr, err := ParseAddress(subject)
	if err != nil {
		return ports.CallerClaims{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	out := ports.CallerClaims{Address: addr}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}

// SignHMAC issues an HS256 token for addr. Operators use it for local
// testing; production tokens come from the wallet-login service.
func SignHMAC(secret, issuer string, addr common.Address, ttl time.Duration, now time.Time) (string, error) {
	claims := callerJWTClaims{
		Address: addr.Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   addr.Hex(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// DevVerifier treats the bearer token itself as the caller's address. It is
// only wired when auth.mode is "dev".
type DevVerifier struct{}

func (DevVerifier) ParseAndValidate(raw string) (ports.CallerClaims, error) {
	addr, err := ParseAddress(raw)
	if err != nil {
		return ports.CallerClaims{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	return ports.CallerClaims{Address: addr}, nil
}

// ParseAddress accepts a 0x-prefixed hex address. Mixed-case input must carry
// a valid EIP-55 checksum.
func ParseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) || (!strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X")) {
		return common.Address{}, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, raw)
	}
	addr := common.HexToAddress(raw)
	body := raw[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && addr.Hex() != raw {
		return common.Address{}, fmt.Errorf("%w: bad checksum %q", domain.ErrInvalidAddress, raw)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", domain.ErrInvalidAddress)
	}
	return addr, nil
}

func parseRSAPublic(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid public PEM")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
