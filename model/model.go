package model

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes,
// e.g. "order_<uuid>" or "lock_<uuid>".
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// NormalizeVariant maps an absent variant id to the canonical "default" key so
// carts and stored line items compare under the same key space.
func NormalizeVariant(variantID string) string {
	if variantID == "" {
		return "default"
	}
	return variantID
}

// ItemKey is the identity under which line-item quantities are aggregated when
// two orders are compared for functional equality.
func ItemKey(productID, variantID string) string {
	return productID + ":" + NormalizeVariant(variantID)
}
