package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/logsleuth/logsleuth/pkg/configstore"
	"github.com/logsleuth/logsleuth/pkg/models"
)

// ParameterAgent turns a natural-language incident query into structured
// search parameters. The model's output is sanitized against the
// configured allow-lists before anything downstream sees it.
type ParameterAgent struct {
	base
}

// NewParameterAgent creates the extraction agent.
func NewParameterAgent(deps Deps) *ParameterAgent {
	return &ParameterAgent{base{deps: deps}}
}

// Extract produces sanitized parameters for the query.
func (a *ParameterAgent) Extract(ctx context.Context, query string) (models.Parameters, error) {
	store := a.deps.Store
	allowedKeys := store.GetSettingStringList(ctx, configstore.CategorySearch, "allowed_keys", nil)
	excludedKeys := store.GetSettingStringList(ctx, configstore.CategorySearch, "excluded_keys", nil)
	allowedDomains := store.GetSettingStringList(ctx, configstore.CategorySearch, "allowed_domains", nil)

	prompt, err := store.GetPrompt(ctx, configstore.PromptParameterExtraction)
	if err != nil {
		return models.Parameters{}, fmt.Errorf("parameter extraction prompt: %w", err)
	}

	rendered, err := renderPrompt(prompt, map[string]string{
		"today":           time.Now().UTC().Format("2006-01-02"),
		"allowed_domains": strings.Join(allowedDomains, ", "),
		"allowed_keys":    strings.Join(allowedKeys, ", "),
		"excluded_keys":   strings.Join(excludedKeys, ", "),
		"query":           query,
	})
	if err != nil {
		return models.Parameters{}, err
	}

	var params models.Parameters
	if err := a.completeJSON(ctx, callTypeExtract, rendered, extractTTL, &params); err != nil {
		return models.Parameters{}, err
	}

	params.Sanitize(allowedKeys, excludedKeys, allowedDomains)
	return params, nil
}
