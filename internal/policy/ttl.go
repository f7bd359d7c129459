// Package policy maps cache keys to time-to-live values.
//
// A Policy is an ordered list of rules. Rules are evaluated top to bottom and
// the first rule whose matcher accepts the key decides the TTL, so more
// specific rules must be listed before broader ones. Keys no rule accepts get
// the fallback TTL.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FallbackRule is the rule name reported when no rule matched.
const FallbackRule = "fallback"

// MatchKind selects how a Matcher compares its pattern against a key.
type MatchKind string

const (
	// MatchContains accepts keys containing the pattern anywhere.
	MatchContains MatchKind = "contains"
	// MatchPrefix accepts keys starting with the pattern.
	MatchPrefix MatchKind = "prefix"
)

var (
	ErrEmptyPattern   = errors.New("matcher pattern must not be empty")
	ErrUnknownMatch   = errors.New("unknown match kind")
	ErrNonPositiveTTL = errors.New("ttl must be positive")
)

// Matcher decides whether a rule applies to a key.
type Matcher struct {
	Kind    MatchKind
	Pattern string
}

// Contains returns a matcher accepting keys that contain pattern.
func Contains(pattern string) Matcher {
	return Matcher{Kind: MatchContains, Pattern: pattern}
}

// Prefix returns a matcher accepting keys that start with pattern.
func Prefix(pattern string) Matcher {
	return Matcher{Kind: MatchPrefix, Pattern: pattern}
}

// Matches reports whether key is accepted by m.
func (m Matcher) Matches(key string) bool {
	switch m.Kind {
	case MatchPrefix:
		return strings.HasPrefix(key, m.Pattern)
	case MatchContains:
		return strings.Contains(key, m.Pattern)
	default:
		return false
	}
}

// Rule pairs a matcher with the TTL it assigns.
type Rule struct {
	Name  string
	Match Matcher
	TTL   time.Duration
}

// Policy is an ordered rule list plus the TTL used when nothing matches.
type Policy struct {
	Rules    []Rule
	Fallback time.Duration
}

// Default returns the wishlist key policy. Price batches are checked first
// because their keys also carry the generic wishlist prefix.
func Default() Policy {
	return Policy{
		Rules: []Rule{
			{Name: "prices", Match: Contains("_prices_"), TTL: 5 * time.Minute},
			{Name: "default", Match: Contains("_default"), TTL: 10 * time.Minute},
			{Name: "customer", Match: Contains("_customer_"), TTL: 30 * time.Minute},
			{Name: "list", Match: Prefix("wishlist_"), TTL: time.Hour},
		},
		Fallback: 15 * time.Minute,
	}
}

// Resolve returns the TTL for key and the name of the rule that produced it.
func (p Policy) Resolve(key string) (time.Duration, string) {
	for _, r := range p.Rules {
		if r.Match.Matches(key) {
			return r.TTL, r.Name
		}
	}
	return p.Fallback, FallbackRule
}

// TTL is Resolve without the rule name.
func (p Policy) TTL(key string) time.Duration {
	ttl, _ := p.Resolve(key)
	return ttl
}

// Validate checks every rule and the fallback.
func (p Policy) Validate() error {
	for i, r := range p.Rules {
		if r.Match.Pattern == "" {
			return fmt.Errorf("rule %d (%s): %w", i, r.Name, ErrEmptyPattern)
		}
		if r.Match.Kind != MatchContains && r.Match.Kind != MatchPrefix {
			return fmt.Errorf("rule %d (%s): %w: %q", i, r.Name, ErrUnknownMatch, r.Match.Kind)
		}
		if r.TTL <= 0 {
			return fmt.Errorf("rule %d (%s): %w", i, r.Name, ErrNonPositiveTTL)
		}
	}
	if p.Fallback <= 0 {
		return fmt.Errorf("fallback: %w", ErrNonPositiveTTL)
	}
	return nil
}
