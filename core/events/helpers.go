package events

import (
	"strings"

	"github.com/holiman/uint256"

	"cdpchain/crypto"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func formatAmount(amount *uint256.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.Dec()
}

func setAddress(attrs map[string]string, key string, addr crypto.Address) {
	if addr.IsZero() {
		return
	}
	attrs[key] = addr.String()
}
