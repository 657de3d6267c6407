// Package suppress decides which diagnostics from failed external commands
// are known to be benign and should not be reported.
package suppress

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultRules holds the substrings suppressed when no rules are configured.
// "make clean" in a directory whose Makefile has no clean target fails this way.
var DefaultRules = []string{"no rule to make target"}

// Policy matches captured diagnostic text against a set of substrings.
// Matching is case-insensitive and insensitive to Unicode normalization form.
type Policy struct {
	rules []string
	fold  cases.Caser
}

// New compiles a Policy. Blank rules are dropped.
func New(rules []string) *Policy {
	p := &Policy{fold: cases.Fold()}
	for _, r := range rules {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		p.rules = append(p.rules, p.normalize(r))
	}
	return p
}

// Default returns a Policy built from DefaultRules.
func Default() *Policy {
	return New(DefaultRules)
}

func (p *Policy) normalize(s string) string {
	return p.fold.String(norm.NFC.String(s))
}

// Rules returns the normalized rule set.
func (p *Policy) Rules() []string {
	return append([]string(nil), p.rules...)
}

// Suppressed reports whether text contains any rule.
func (p *Policy) Suppressed(text string) bool {
	if p == nil || len(p.rules) == 0 || text == "" {
		return false
	}
	text = p.normalize(text)
	for _, r := range p.rules {
		if strings.Contains(text, r) {
			return true
		}
	}
	return false
}
