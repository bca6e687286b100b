// Package models defines the shared data types that flow through the
// analysis pipeline: extracted parameters, plans, compiled traces,
// analysis artifacts and verification results.
package models

import (
	"regexp"
	"sort"
)

// datePattern matches a single ISO calendar date.
var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Parameters is the structured output of the extraction step.
type Parameters struct {
	// TimeFrame is a single ISO date (YYYY-MM-DD) or empty. Ranges are
	// normalised to their start day before this struct is populated.
	TimeFrame string `json:"time_frame,omitempty"`

	// Domain is one of the configured allowed domains, or empty.
	Domain string `json:"domain,omitempty"`

	// QueryKeys is a unique, ordered list of snake_case search tokens.
	QueryKeys []string `json:"query_keys"`
}

// ValidTimeFrame reports whether TimeFrame is empty or a YYYY-MM-DD date.
func (p *Parameters) ValidTimeFrame() bool {
	return p.TimeFrame == "" || datePattern.MatchString(p.TimeFrame)
}

// Sanitize enforces the parameter invariants in place:
//   - query_keys restricted to allowed minus excluded, duplicates dropped,
//     original order preserved
//   - domain cleared unless it appears in allowedDomains
//   - time_frame cleared unless it is a single calendar date
//
// The LLM is not trusted to respect the allow-lists; this is the firewall.
func (p *Parameters) Sanitize(allowedKeys, excludedKeys, allowedDomains []string) {
	allowed := make(map[string]bool, len(allowedKeys))
	for _, k := range allowedKeys {
		allowed[k] = true
	}
	for _, k := range excludedKeys {
		delete(allowed, k)
	}

	seen := make(map[string]bool, len(p.QueryKeys))
	keys := p.QueryKeys[:0]
	for _, k := range p.QueryKeys {
		if allowed[k] && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	p.QueryKeys = keys
	if p.QueryKeys == nil {
		p.QueryKeys = []string{}
	}

	domainOK := false
	for _, d := range allowedDomains {
		if p.Domain == d {
			domainOK = true
			break
		}
	}
	if !domainOK {
		p.Domain = ""
	}

	if !datePattern.MatchString(p.TimeFrame) {
		p.TimeFrame = ""
	}
}

// SortedQueryKeys returns a sorted copy of QueryKeys. Used where a
// deterministic order independent of extraction order is needed.
func (p *Parameters) SortedQueryKeys() []string {
	out := make([]string, len(p.QueryKeys))
	copy(out, p.QueryKeys)
	sort.Strings(out)
	return out
}
