// Package pricing resolves prices for many products in one round trip.
//
// A Resolver splits the requested product ids into bounded chunks, serves
// each chunk from the cache when the same ids were resolved under the same
// Context before, and otherwise runs one batched query per chunk. A chunk
// whose batched query fails is resolved item by item instead; ids that still
// cannot be priced are left out of the result.
package pricing

import (
	"slices"
	"strings"
	"time"
)

// Context is the tuple a price is valid for. Records computed under one
// Context are never served for another.
type Context struct {
	CurrencyID string
	RuleIDs    []string
	VersionID  string
}

// Fingerprint identifies the context in cache keys. Rule order does not
// matter.
func (c Context) Fingerprint() string {
	rules := slices.Clone(c.RuleIDs)
	slices.Sort(rules)
	rules = slices.Compact(rules)
	return c.CurrencyID + "|" + strings.Join(rules, ",") + "|" + c.VersionID
}

// HasRule reports whether ruleID applies in c.
func (c Context) HasRule(ruleID string) bool {
	return slices.Contains(c.RuleIDs, ruleID)
}

// Row is one candidate price row from the system of record.
type Row struct {
	ID        string
	ProductID string
	// RuleID is empty for the product's base price.
	RuleID string
	// Scope is how many customers or products the rule covers; smaller is
	// narrower. Ignored for rows without a rule.
	Scope    int
	Priority int
	// QuantityStart and QuantityEnd bound the quantity tier. QuantityEnd 0
	// means open-ended.
	QuantityStart int
	QuantityEnd   int

	Net        float64
	Gross      float64
	CurrencyID string
	Stock      int
	Available  bool
}

// Record is the resolved price of one product.
type Record struct {
	ProductID    string    `json:"product_id"`
	NetPrice     float64   `json:"net_price"`
	GrossPrice   float64   `json:"gross_price"`
	CurrencyID   string    `json:"currency_id"`
	Stock        int       `json:"stock"`
	Available    bool      `json:"available"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// NewRecord builds the record for row. Negative stock is reported as 0.
func NewRecord(row Row, at time.Time) Record {
	return Record{
		ProductID:    row.ProductID,
		NetPrice:     row.Net,
		GrossPrice:   row.Gross,
		CurrencyID:   row.CurrencyID,
		Stock:        max(row.Stock, 0),
		Available:    row.Available,
		CalculatedAt: at.UTC(),
	}
}
