package pricing

import (
	"cmp"
	"math"
)

// Applies reports whether row can price its product under pc for a single
// unit: the currency must match, the rule (if any) must be active in pc and
// the quantity tier must contain 1.
func Applies(row Row, pc Context) bool {
	if row.CurrencyID != pc.CurrencyID {
		return false
	}
	if row.RuleID != "" && !pc.HasRule(row.RuleID) {
		return false
	}
	if max(row.QuantityStart, 1) > 1 {
		return false
	}
	return row.QuantityEnd == 0 || row.QuantityEnd >= 1
}

// Rank orders two candidate rows of the same product. It returns a negative
// number when a is preferred over b. The order is:
//
//  1. narrower rule scope (rows without a rule are the broadest)
//  2. higher priority
//  3. narrower quantity tier (open-ended tiers are the widest)
//  4. higher quantity start
//  5. lower row id, so the result never depends on row order
func Rank(a, b Row) int {
	return cmp.Or(
		cmp.Compare(breadth(a), breadth(b)),
		cmp.Compare(b.Priority, a.Priority),
		cmp.Compare(tierWidth(a), tierWidth(b)),
		cmp.Compare(b.QuantityStart, a.QuantityStart),
		cmp.Compare(a.ID, b.ID),
	)
}

func breadth(r Row) int {
	if r.RuleID == "" {
		return math.MaxInt
	}
	return r.Scope
}

func tierWidth(r Row) int {
	if r.QuantityEnd == 0 {
		return math.MaxInt
	}
	return r.QuantityEnd - max(r.QuantityStart, 1)
}

// SelectBest returns the preferred applicable row per product id.
func SelectBest(rows []Row, pc Context) map[string]Row {
	best := make(map[string]Row, len(rows))
	for _, r := range rows {
		if !Applies(r, pc) {
			continue
		}
		if cur, ok := best[r.ProductID]; !ok || Rank(r, cur) < 0 {
			best[r.ProductID] = r
		}
	}
	return best
}
