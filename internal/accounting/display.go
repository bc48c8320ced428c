package accounting

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of decimals of the native currency.
const EtherDecimals = 18

// FormatWei renders a wei amount as a decimal string with the given number
// of decimals, trimmed of trailing zeros ("1.5" for 1.5e18 wei).
func FormatWei(wei *big.Int, decimals int32) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -decimals).String()
}

// FormatEther renders wei as ether.
func FormatEther(wei *big.Int) string {
	return FormatWei(wei, EtherDecimals)
}

// ParseEther converts a decimal ether amount ("2.5") to wei. More than 18
// fractional digits is rejected rather than silently truncated.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("accounting: parse ether %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativeAmount, s)
	}
	wei := d.Shift(EtherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("accounting: parse ether %q: more than %d decimals", s, EtherDecimals)
	}
	return wei.BigInt(), nil
}

// ParseAmount accepts either a plain wei integer ("1000") or an ether amount
// with an "eth" suffix ("1.5eth").
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if strings.HasSuffix(s, "eth") {
		return ParseEther(strings.TrimSpace(strings.TrimSuffix(s, "eth")))
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("accounting: parse amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativeAmount, s)
	}
	return v, nil
}
