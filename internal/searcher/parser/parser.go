// Package parser turns a normalized query into groups of terms. Tokens are
// separated by whitespace; a token whose terms are joined by "&" is a
// conjunctive group, any other token is a single disjunctive term.
package parser

import (
	"strings"

	"github.com/BScong/text-indexing/internal/indexer/tokenizer"
)

// Group is one query token.
type Group struct {
	Terms []string `json:"terms"`
}

// Conjunctive reports whether every term of the group must match.
func (g Group) Conjunctive() bool {
	return len(g.Terms) > 1
}

// String renders the group the way it was written.
func (g Group) String() string {
	return strings.Join(g.Terms, tokenizer.ConjunctionSeparator)
}

// QueryPlan is a parsed query.
type QueryPlan struct {
	Groups   []Group `json:"groups"`
	RawQuery string  `json:"raw_query"`
}

// Empty reports whether the plan has nothing to evaluate.
func (p *QueryPlan) Empty() bool {
	return len(p.Groups) == 0
}

// Parse splits a query that has already been through the text pipeline.
// Empty parts around a separator are ignored.
func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Groups:   make([]Group, 0),
		RawQuery: query,
	}
	for _, tok := range strings.Fields(query) {
		var terms []string
		for _, part := range strings.Split(tok, tokenizer.ConjunctionSeparator) {
			if part != "" {
				terms = append(terms, part)
			}
		}
		if len(terms) > 0 {
			plan.Groups = append(plan.Groups, Group{Terms: terms})
		}
	}
	return plan
}
