// Package units converts between human-readable decimal amounts and the
// integer base unit the ledger stores. Conversions are exact: input that
// cannot be represented in the base unit is rejected, never rounded.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of base-unit digits in one ether.
const EtherDecimals = 18

var (
	ErrMalformedAmount = errors.New("malformed amount")
	ErrNegativeAmount  = errors.New("negative amount")
	ErrTooPrecise      = errors.New("amount has more fraction digits than the unit allows")
)

// ParseEther parses a decimal ether amount such as "2.5" into wei.
func ParseEther(raw string) (*big.Int, error) {
	return ParseUnits(raw, EtherDecimals)
}

// FormatEther renders wei as a canonical decimal ether string.
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, EtherDecimals)
}

func ParseUnits(raw string, decimals int32) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedAmount)
	}
	if strings.ContainsAny(raw, "eE") {
		return nil, fmt.Errorf("%w: exponent notation not accepted", ErrMalformedAmount)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
	}
	if d.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q", ErrTooPrecise, raw)
	}
	return shifted.BigInt(), nil
}

func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ParseWei parses an integer base-unit amount.
func ParseWei(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	out, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
	}
	if out.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	return out, nil
}
