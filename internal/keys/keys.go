// Package keys holds the naming convention for wishlist cache keys and tags.
//
// Stores without a tag index rely on this convention: Convention maps a tag
// back to the keys (and, for the local tier, key prefixes) that are written
// under it. Keys written outside these helpers cannot be found that way.
package keys

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	listPrefix     = "wishlist_"
	customerPrefix = "wishlist_customer_"

	// PricePrefix starts every cached price batch key.
	PricePrefix = "wishlist_prices_"

	listTagPrefix     = "wishlist-"
	customerTagPrefix = "wishlist-customer-"
	productTagPrefix  = "product-"

	// PricesTag is attached to every cached price batch.
	PricesTag = "wishlist-prices"
)

// ListKey is the key of a single wishlist aggregate.
func ListKey(listID string) string {
	return listPrefix + listID
}

// ListItemsKey is the key of the item collection of a wishlist.
func ListItemsKey(listID string) string {
	return listPrefix + listID + "_items"
}

// CustomerListsKey is the key of all wishlists owned by a customer.
func CustomerListsKey(customerID string) string {
	return customerPrefix + customerID + "_lists"
}

// CustomerDefaultKey is the key of a customer's default wishlist.
func CustomerDefaultKey(customerID string) string {
	return customerPrefix + customerID + "_default"
}

// PriceBatchKey derives the key of one price batch. ids must already be
// sorted; the key changes with any id or with the pricing fingerprint. Ids
// are length-prefixed, so ids containing separators cannot collide.
func PriceBatchKey(ids []string, fingerprint string) string {
	d := xxhash.New()
	for _, id := range ids {
		_, _ = d.WriteString(strconv.Itoa(len(id)))
		_, _ = d.WriteString(":")
		_, _ = d.WriteString(id)
	}
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(fingerprint)

	return PricePrefix + strconv.Itoa(len(ids)) + "_" + strconv.FormatUint(d.Sum64(), 16)
}

// ListTag groups every entry derived from one wishlist.
func ListTag(listID string) string {
	return listTagPrefix + listID
}

// CustomerTag groups every entry derived from one customer.
func CustomerTag(customerID string) string {
	return customerTagPrefix + customerID
}

// ProductTag groups every price batch containing the product.
func ProductTag(productID string) string {
	return productTagPrefix + productID
}

// Fallback lists what a tag conventionally covers.
type Fallback struct {
	// Keys are exact keys written under the tag.
	Keys []string
	// Prefixes cover key families that cannot be enumerated exactly, such
	// as hashed price batch keys. Only stores that can list their own keys
	// can use them.
	Prefixes []string
	// Complete is false when Keys alone does not cover the tag.
	Complete bool
}

// Convention maps tag to the keys written under it by this package.
func Convention(tag string) Fallback {
	switch {
	case tag == PricesTag:
		return Fallback{Prefixes: []string{PricePrefix}}
	case strings.HasPrefix(tag, productTagPrefix):
		return Fallback{Prefixes: []string{PricePrefix}}
	case strings.HasPrefix(tag, customerTagPrefix):
		id := strings.TrimPrefix(tag, customerTagPrefix)
		return Fallback{
			Keys:     []string{CustomerListsKey(id), CustomerDefaultKey(id)},
			Complete: true,
		}
	case strings.HasPrefix(tag, listTagPrefix):
		id := strings.TrimPrefix(tag, listTagPrefix)
		return Fallback{
			Keys:     []string{ListKey(id), ListItemsKey(id)},
			Complete: true,
		}
	default:
		return Fallback{}
	}
}
