package server

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	x402 "github.com/mark3labs/x402-market"
)

// PriceRule prices one route pattern. Patterns use gin-style segments:
// literals, ":param" placeholders and a trailing "*" wildcard.
type PriceRule struct {
	Method      string
	Pattern     string
	Price       string // dollar string, e.g. "$0.05"
	Network     string // empty means the resolver default
	Description string
}

type segmentKind int

const (
	segLiteral segmentKind = iota
	segParam
	segWildcard
)

type segment struct {
	kind  segmentKind
	value string // literal text or param name
}

type compiledRule struct {
	method      string
	pattern     string
	segments    []segment
	amount      decimal.Decimal
	network     string
	description string
}

// specificity orders rules so that exact paths beat parameterized ones and
// parameterized ones beat wildcards. Higher wins.
func (r compiledRule) specificity() int {
	score := 0
	for _, s := range r.segments {
		switch s.kind {
		case segLiteral:
			score += 3
		case segParam:
			score += 2
		case segWildcard:
			score += 1
		}
	}
	return score
}

// Resolver maps incoming requests to payment requirements. Rules are compiled
// and ordered once at construction; Resolve does no pattern parsing.
type Resolver struct {
	rules          []compiledRule
	payTo          string
	defaultNetwork string
	timeoutSeconds int
}

// NewResolver compiles the given rules for the payee address. Invalid patterns
// or prices fail construction rather than surfacing per request.
func NewResolver(payTo, defaultNetwork string, rules []PriceRule) (*Resolver, error) {
	if payTo == "" {
		return nil, fmt.Errorf("payment recipient address is required")
	}
	if defaultNetwork == "" {
		defaultNetwork = "base"
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		c, err := compileRule(rule)
		if err != nil {
			return nil, fmt.Errorf("rule %q %q: %w", rule.Method, rule.Pattern, err)
		}
		compiled = append(compiled, c)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].specificity() > compiled[j].specificity()
	})

	return &Resolver{
		rules:          compiled,
		payTo:          payTo,
		defaultNetwork: defaultNetwork,
		timeoutSeconds: int(x402.DefaultChallengeTimeout.Seconds()),
	}, nil
}

func compileRule(rule PriceRule) (compiledRule, error) {
	if rule.Method == "" {
		return compiledRule{}, fmt.Errorf("method is required")
	}
	if !strings.HasPrefix(rule.Pattern, "/") {
		return compiledRule{}, fmt.Errorf("pattern must start with /")
	}

	amount, err := ParsePrice(rule.Price)
	if err != nil {
		return compiledRule{}, err
	}

	parts := strings.Split(strings.Trim(rule.Pattern, "/"), "/")
	segments := make([]segment, 0, len(parts))
	for i, part := range parts {
		switch {
		case part == "*":
			if i != len(parts)-1 {
				return compiledRule{}, fmt.Errorf("wildcard must be the last segment")
			}
			segments = append(segments, segment{kind: segWildcard})
		case strings.HasPrefix(part, ":"):
			if len(part) == 1 {
				return compiledRule{}, fmt.Errorf("empty parameter name")
			}
			segments = append(segments, segment{kind: segParam, value: part[1:]})
		default:
			segments = append(segments, segment{kind: segLiteral, value: part})
		}
	}

	return compiledRule{
		method:      strings.ToUpper(rule.Method),
		pattern:     rule.Pattern,
		segments:    segments,
		amount:      amount,
		network:     rule.Network,
		description: rule.Description,
	}, nil
}

// ParsePrice converts a dollar price string ("$0.05") into a decimal amount.
func ParsePrice(price string) (decimal.Decimal, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(price), "$")
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty price", x402.ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", x402.ErrInvalidAmount, price)
	}
	if d.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: price must be positive", x402.ErrInvalidAmount)
	}
	return d, nil
}

// Resolve returns the payment requirement for a request, plus any pattern
// parameters captured from the path. A nil requirement means the route is
// free.
func (r *Resolver) Resolve(method, path string) (*x402.PaymentRequirement, map[string]string) {
	method = strings.ToUpper(method)
	parts := strings.Split(strings.Trim(path, "/"), "/")

	for _, rule := range r.rules {
		if rule.method != method {
			continue
		}
		params, ok := matchSegments(rule.segments, parts)
		if !ok {
			continue
		}
		return r.requirement(rule, method, path), params
	}
	return nil, nil
}

func matchSegments(segments []segment, parts []string) (map[string]string, bool) {
	var params map[string]string
	for i, seg := range segments {
		if seg.kind == segWildcard {
			// Matches the rest of the path, including nothing.
			return params, true
		}
		if i >= len(parts) {
			return nil, false
		}
		switch seg.kind {
		case segLiteral:
			if parts[i] != seg.value {
				return nil, false
			}
		case segParam:
			if parts[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[seg.value] = parts[i]
		}
	}
	if len(parts) != len(segments) {
		return nil, false
	}
	return params, true
}

func (r *Resolver) requirement(rule compiledRule, method, path string) *x402.PaymentRequirement {
	network := rule.network
	if network == "" {
		network = r.defaultNetwork
	}

	description := rule.description
	if description == "" {
		description = fmt.Sprintf("Payment required for %s %s", method, path)
	}

	return &x402.PaymentRequirement{
		Scheme:            "exact",
		Network:           network,
		Amount:            rule.amount.String(),
		Asset:             x402.USDCAddress(network),
		PayTo:             r.payTo,
		Resource:          method + " " + path,
		Description:       description,
		MaxTimeoutSeconds: r.timeoutSeconds,
		Extra: map[string]string{
			"name":     "USD Coin",
			"version":  "2",
			"decimals": "6",
		},
	}
}

// ApplyOverride replaces the requirement's amount (and optionally network and
// asset) with an agent's own pricing. The payee never changes.
func (r *Resolver) ApplyOverride(req *x402.PaymentRequirement, pricing *x402.AgentPricing) error {
	if pricing == nil {
		return nil
	}

	amount, err := ParsePrice(pricing.Price)
	if err != nil {
		return err
	}
	req.Amount = amount.String()

	if pricing.Network != "" && pricing.Network != req.Network {
		req.Network = pricing.Network
		req.Asset = x402.USDCAddress(pricing.Network)
	}
	return nil
}

// DefaultRules is the marketplace price table: tiered invocation endpoints,
// per-agent invocation and paid deployment.
func DefaultRules() []PriceRule {
	return []PriceRule{
		{Method: "POST", Pattern: "/api/agents/basic/invoke", Price: "$0.05", Description: "Basic agent invocation"},
		{Method: "POST", Pattern: "/api/agents/advanced/invoke", Price: "$0.10", Description: "Advanced agent invocation"},
		{Method: "POST", Pattern: "/api/agents/premium/invoke", Price: "$0.25", Description: "Premium agent invocation"},
		{Method: "POST", Pattern: "/api/agents/deploy", Price: "$1.00", Description: "Custom agent deployment"},
		{Method: "POST", Pattern: "/api/agents/:id/invoke", Price: "$0.10", Description: "Agent invocation"},
	}
}
