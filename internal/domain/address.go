package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress validates a 20-byte account identifier and returns its
// canonical EIP-55 checksummed hex form.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", NewRuleError(RuleInvalidArgument, "normalize_address", 0, "invalid address "+addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
