package config

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-yaml"

	"goflare.io/wishcache/internal/policy"
)

// ErrInvalidPolicy wraps every policy loading or validation failure.
var ErrInvalidPolicy = errors.New("invalid ttl policy")

type policyFile struct {
	Rules []struct {
		Name     string `yaml:"name"`
		Contains string `yaml:"contains"`
		Prefix   string `yaml:"prefix"`
		TTL      string `yaml:"ttl"`
	} `yaml:"rules"`
	Fallback string `yaml:"fallback"`
}

// LoadPolicy reads an ordered TTL policy from YAML:
//
//	rules:
//	  - name: prices
//	    contains: _prices_
//	    ttl: 5m
//	  - name: list
//	    prefix: wishlist_
//	    ttl: 1h
//	fallback: 15m
//
// Rule order in the document is evaluation order.
func LoadPolicy(r io.Reader) (policy.Policy, error) {
	var doc policyFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return policy.Policy{}, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}

	p := policy.Policy{Rules: make([]policy.Rule, 0, len(doc.Rules))}
	for i, raw := range doc.Rules {
		var m policy.Matcher
		switch {
		case raw.Contains != "" && raw.Prefix != "":
			return policy.Policy{}, fmt.Errorf("%w: rule %d sets both contains and prefix", ErrInvalidPolicy, i)
		case raw.Prefix != "":
			m = policy.Prefix(raw.Prefix)
		default:
			m = policy.Contains(raw.Contains)
		}

		ttl, err := time.ParseDuration(raw.TTL)
		if err != nil {
			return policy.Policy{}, fmt.Errorf("%w: rule %d ttl: %w", ErrInvalidPolicy, i, err)
		}
		p.Rules = append(p.Rules, policy.Rule{Name: raw.Name, Match: m, TTL: ttl})
	}

	fallback, err := time.ParseDuration(doc.Fallback)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("%w: fallback: %w", ErrInvalidPolicy, err)
	}
	p.Fallback = fallback

	if err := p.Validate(); err != nil {
		return policy.Policy{}, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	return p, nil
}
