package stock

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Matcher resolves free-text product names from the order feed to stock products.
// Names are compared after NFKC normalization, case folding and whitespace collapsing.
// An exact match wins; otherwise a single product whose name tokens are all
// contained in the query (or vice versa) is accepted. Anything else is no match.
type Matcher struct {
	byName map[string][]Product
	tokens []matcherEntry
}

type matcherEntry struct {
	product Product
	tokens  map[string]struct{}
}

// NewMatcher indexes the given products
func NewMatcher(products []Product) *Matcher {
	m := &Matcher{byName: make(map[string][]Product, len(products))}
	for _, p := range products {
		key := normalizeName(p.Name)
		if key == "" {
			continue
		}
		m.byName[key] = append(m.byName[key], p)
		m.tokens = append(m.tokens, matcherEntry{product: p, tokens: tokenSet(key)})
	}
	return m
}

// MatchResult describes how a name was resolved
type MatchResult int

const (
	MatchNone MatchResult = iota
	MatchExact
	MatchPartial
	MatchAmbiguous
)

func (r MatchResult) String() string {
	switch r {
	case MatchExact:
		return "exact"
	case MatchPartial:
		return "partial"
	case MatchAmbiguous:
		return "ambiguous"
	}
	return "none"
}

// Match returns the product for name when it resolves uniquely
func (m *Matcher) Match(name string) (Product, MatchResult) {
	key := normalizeName(name)
	if key == "" {
		return Product{}, MatchNone
	}

	if exact := m.byName[key]; len(exact) > 0 {
		if len(exact) > 1 {
			return Product{}, MatchAmbiguous
		}
		return exact[0], MatchExact
	}

	query := tokenSet(key)
	var found []Product
	for _, e := range m.tokens {
		if subset(e.tokens, query) || subset(query, e.tokens) {
			found = append(found, e.product)
		}
	}
	switch len(found) {
	case 0:
		return Product{}, MatchNone
	case 1:
		return found[0], MatchPartial
	}
	return Product{}, MatchAmbiguous
}

func normalizeName(s string) string {
	s = norm.NFKC.String(s)
	// Casers carry state and are not shared between goroutines
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

func tokenSet(key string) map[string]struct{} {
	fields := strings.Fields(key)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// subset reports whether every token in a is in b
func subset(a, b map[string]struct{}) bool {
	if len(a) == 0 || len(a) > len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
