// Package traceid extracts request-trace identifiers from raw log lines
// using an ordered list of patterns.
package traceid

import "regexp"

// minIDLength rejects values too short to be a real correlation identifier.
const minIDLength = 8

// placeholders are values that look like identifiers but never are.
var placeholders = map[string]bool{
	"null":      true,
	"0":         true,
	"-":         true,
	"undefined": true,
}

// Pattern is one named extraction rule. The regexp must have exactly one
// capture group holding the identifier.
type Pattern struct {
	Name string
	re   *regexp.Regexp
}

// NewPattern compiles a pattern. Panics on an invalid expression; patterns
// are program constants.
func NewPattern(name, expr string) Pattern {
	return Pattern{Name: name, re: regexp.MustCompile(expr)}
}

// DefaultPatterns is the built-in rule list, most specific first. Per line,
// the first pattern that matches wins; later patterns are not consulted for
// that line.
func DefaultPatterns() []Pattern {
	return []Pattern{
		NewPattern("trace_id_kv", `(?i)trace[_-]?id["':\s=]+([A-Za-z0-9-]+)`),
		NewPattern("request_id_kv", `(?i)(?:x-)?request[_-]?id["':\s=]+([A-Za-z0-9-]+)`),
		NewPattern("correlation_id_kv", `(?i)correlation[_-]?id["':\s=]+([A-Za-z0-9-]+)`),
		NewPattern("bracketed_id", `\[([A-Fa-f0-9]{16,64})\]`),
		NewPattern("uuid", `\b([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})\b`),
	}
}

// Extractor scans log lines for trace identifiers.
type Extractor struct {
	patterns []Pattern
}

// New creates an extractor with the given ordered pattern list. An empty
// list falls back to DefaultPatterns.
func New(patterns []Pattern) *Extractor {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	return &Extractor{patterns: patterns}
}

// Extract returns the unique trace identifiers found in lines, ordered by
// first occurrence. Per line the first matching pattern contributes all of
// its matches; duplicates across the input collapse into one entry. Output
// is deterministic for identical input bytes and pattern lists.
func (e *Extractor) Extract(lines []string) []string {
	seen := make(map[string]bool)
	var ids []string

	for _, line := range lines {
		for _, p := range e.patterns {
			matches := p.re.FindAllStringSubmatch(line, -1)
			if len(matches) == 0 {
				continue
			}
			for _, m := range matches {
				id := m[1]
				if !Valid(id) || seen[id] {
					continue
				}
				seen[id] = true
				ids = append(ids, id)
			}
			break // first matching pattern wins for this line
		}
	}
	return ids
}

// Valid reports whether id is an acceptable trace identifier: non-empty,
// not an obvious placeholder, and at least minIDLength characters.
func Valid(id string) bool {
	if len(id) < minIDLength {
		return false
	}
	return !placeholders[id]
}
