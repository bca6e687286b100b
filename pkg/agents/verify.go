package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/logsleuth/logsleuth/pkg/configstore"
	"github.com/logsleuth/logsleuth/pkg/models"
)

// VerifyAgent checks the analyzed traces against the user's query and the
// configured context rules, producing the final verdict of a run.
type VerifyAgent struct {
	base
}

// NewVerifyAgent creates the verification agent.
func NewVerifyAgent(deps Deps) *VerifyAgent {
	return &VerifyAgent{base{deps: deps}}
}

// Verify scores the run's artifacts. With no artifacts it still runs so
// the result can explain that no candidates matched.
func (a *VerifyAgent) Verify(ctx context.Context, query string, params models.Parameters, artifacts []models.AnalysisArtifact) (models.VerificationResult, error) {
	rules := a.deps.Store.ContextRules(ctx)

	prompt, err := a.deps.Store.GetPrompt(ctx, configstore.PromptVerify)
	if err != nil {
		return models.VerificationResult{}, fmt.Errorf("verify prompt: %w", err)
	}

	paramJSON, err := json.Marshal(params)
	if err != nil {
		return models.VerificationResult{}, fmt.Errorf("encode parameters: %w", err)
	}

	rendered, err := renderPrompt(prompt, map[string]string{
		"query":         query,
		"parameters":    string(paramJSON),
		"context_rules": formatRules(rules),
		"summaries":     formatSummaries(artifacts),
	})
	if err != nil {
		return models.VerificationResult{}, err
	}

	var result models.VerificationResult
	if err := a.completeJSON(ctx, callTypeVerify, rendered, verifyTTL, &result); err != nil {
		return models.VerificationResult{}, err
	}

	for i := range result.Traces {
		result.Traces[i].RelevanceScore = clampScore(result.Traces[i].RelevanceScore)
		result.Traces[i].Recommendation = normalizeRecommendation(result.Traces[i].Recommendation)
	}
	if result.Traces == nil {
		result.Traces = []models.TraceVerification{}
	}
	return result, nil
}

func formatRules(rules []string) string {
	if len(rules) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, r := range rules {
		b.WriteString("- ignore lines containing: " + r + "\n")
	}
	return b.String()
}

func formatSummaries(artifacts []models.AnalysisArtifact) string {
	if len(artifacts) == 0 {
		return "(no traces were compiled)"
	}
	var b strings.Builder
	for _, art := range artifacts {
		if art.Error != "" {
			fmt.Fprintf(&b, "trace %s: analysis failed: %s\n", art.TraceID, art.Error)
			continue
		}
		fmt.Fprintf(&b, "trace %s: score=%d confidence=%s recommendation=%s quality=%d findings=%s\n",
			art.TraceID,
			art.Findings.RelevanceScore,
			art.Findings.Confidence,
			art.Findings.Recommendation,
			art.QualityScore,
			strings.Join(art.Findings.KeyFindings, "; "))
	}
	return b.String()
}
