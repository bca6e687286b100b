package agents

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/logsleuth/logsleuth/pkg/configstore"
)

// placeholderPattern matches {name} substitution slots. JSON braces in the
// templates never match because the pattern requires a bare identifier.
var placeholderPattern = regexp.MustCompile(`\{[a-z_]+\}`)

// renderPrompt substitutes the prompt's declared variables into its
// template. Every declared variable must be supplied and no unresolved
// placeholder may remain; a template asking for a value the caller cannot
// provide is a configuration error, not something to paper over.
func renderPrompt(p configstore.Prompt, vars map[string]string) (string, error) {
	for _, name := range p.Variables {
		if _, ok := vars[name]; !ok {
			return "", fmt.Errorf("prompt %q: missing variable %q", p.Name, name)
		}
	}

	out := p.Template
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}

	if leftover := placeholderPattern.FindString(out); leftover != "" {
		return "", fmt.Errorf("prompt %q: unresolved placeholder %s", p.Name, leftover)
	}
	return out, nil
}
