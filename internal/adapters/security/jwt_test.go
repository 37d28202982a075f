package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/viralforge/hui-ledger/internal/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestHMACVerifierRoundTrip(t *testing.T) {
	addr := common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	token, err := SignHMAC(testSecret, "hui-login", addr, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("SignHMAC: %v", err)
	}
	v, err := NewHMACVerifier(testSecret, "hui-login")
	if err != nil {
		t.Fatalf("NewHMACVerifier: %v", err)
	}
	claims, err := v.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Address != addr {
		t.Fatalf("address = %s, want %s", claims.Address.Hex(), addr.Hex())
	}
}

func TestHMACVerifierRejects(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	v, _ := NewHMACVerifier(testSecret, "hui-login")
	expired, _ := SignHMAC(testSecret, "hui-login", addr, time.Minute, time.Now().Add(-time.Hour))
	wrongIssuer, _ := SignHMAC(testSecret, "someone-else", addr, time.Hour, time.Now())
	wrongKey, _ := SignHMAC(strings.Repeat("x", 32), "hui-login", addr, time.Hour, time.Now())
	for name, token := range map[string]string{"expired": expired, "issuer": wrongIssuer, "key": wrongKey, "garbage": "not-a-jwt"} {
		if _, err := v.ParseAndValidate(token); !errors.Is(err, domain.ErrUnauthenticated) {
			t.Fatalf("%s: expected ErrUnauthenticated, got %v", name, err)
		}
	}
	if _, err := NewHMACVerifier("short", ""); err == nil {
		t.Fatalf("short secrets must be refused")
	}
}

func TestParseAddress(t *testing.T) {
	valid := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"0X5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED",
	}
	for _, raw := range valid {
		if _, err := ParseAddress(raw); err != nil {
			t.Fatalf("ParseAddress(%q): %v", raw, err)
		}
	}
	invalid := []string{
		"",
		"5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD",
		"0x0000000000000000000000000000000000000000",
		"0x1234",
	}
	for _, raw := range invalid {
		if _, err := ParseAddress(raw); !errors.Is(err, domain.ErrInvalidAddress) {
			t.Fatalf("ParseAddress(%q): expected ErrInvalidAddress, got %v", raw, err)
		}
	}
}

func TestDevVerifier(t *testing.T) {
	claims, err := DevVerifier{}.ParseAndValidate("0x00000000000000000000000000000000000000aa")
	if err != nil || claims.Address != common.HexToAddress("0xaa") {
		t.Fatalf("unexpected dev claims %+v %v", claims, err)
	}
	if _, err := (DevVerifier{}).ParseAndValidate("bob"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}
