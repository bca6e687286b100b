package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/logsleuth/logsleuth/pkg/configstore"
	"github.com/logsleuth/logsleuth/pkg/models"
)

// AnalyzeAgent scores one compiled trace: a forensic pass over the trace
// lines, a per-entry summary for single-line traces, and a self-assessment
// of the produced findings.
type AnalyzeAgent struct {
	base

	// maxContextLines caps how many trace lines one prompt carries.
	maxContextLines int
}

// NewAnalyzeAgent creates the analysis agent.
func NewAnalyzeAgent(deps Deps, maxContextLines int) *AnalyzeAgent {
	return &AnalyzeAgent{base: base{deps: deps}, maxContextLines: maxContextLines}
}

// qualityReply is the analyze_quality schema.
type qualityReply struct {
	QualityScore int `json:"quality_score"`
}

// Analyze produces the findings and quality score for one trace. The
// returned artifact has no filename; the orchestrator assigns it when the
// artifact is written.
func (a *AnalyzeAgent) Analyze(ctx context.Context, query string, trace models.CompiledTrace) (models.AnalysisArtifact, error) {
	artifact := models.AnalysisArtifact{TraceID: trace.TraceID, Truncated: trace.Truncated}

	lines := a.formatLines(trace.Lines)
	findings, err := a.analyzeTrace(ctx, query, trace, lines)
	if err != nil {
		return artifact, err
	}
	findings.RelevanceScore = clampScore(findings.RelevanceScore)
	findings.Recommendation = normalizeRecommendation(findings.Recommendation)

	if len(trace.Lines) == 1 {
		if summary, err := a.summarizeEntry(ctx, trace.Lines[0].Raw); err == nil && summary != "" {
			findings.KeyFindings = append([]string{summary}, findings.KeyFindings...)
		}
	}
	artifact.Findings = findings

	quality, err := a.assessQuality(ctx, lines, findings)
	if err != nil {
		// A missing self-assessment does not invalidate the findings.
		quality = 0
	}
	artifact.QualityScore = clampScore(quality)
	return artifact, nil
}

func (a *AnalyzeAgent) analyzeTrace(ctx context.Context, query string, trace models.CompiledTrace, lines string) (models.Findings, error) {
	prompt, err := a.deps.Store.GetPrompt(ctx, configstore.PromptAnalyzeTrace)
	if err != nil {
		return models.Findings{}, fmt.Errorf("analyze prompt: %w", err)
	}

	rendered, err := renderPrompt(prompt, map[string]string{
		"query":      query,
		"trace_id":   trace.TraceID,
		"line_count": fmt.Sprintf("%d", len(trace.Lines)),
		"sources":    strings.Join(trace.Sources, ", "),
		"lines":      lines,
	})
	if err != nil {
		return models.Findings{}, err
	}

	var findings models.Findings
	if err := a.completeJSON(ctx, callTypeAnalyze, rendered, analyzeTTL, &findings); err != nil {
		return models.Findings{}, err
	}
	return findings, nil
}

// summarizeEntry renders the per-entry prompt. The reply is a plain
// sentence, not JSON.
func (a *AnalyzeAgent) summarizeEntry(ctx context.Context, line string) (string, error) {
	prompt, err := a.deps.Store.GetPrompt(ctx, configstore.PromptAnalyzeEntry)
	if err != nil {
		return "", err
	}
	rendered, err := renderPrompt(prompt, map[string]string{"line": line})
	if err != nil {
		return "", err
	}
	out, _, err := a.complete(ctx, callTypeAnalyze, rendered, analyzeTTL, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (a *AnalyzeAgent) assessQuality(ctx context.Context, lines string, findings models.Findings) (int, error) {
	prompt, err := a.deps.Store.GetPrompt(ctx, configstore.PromptAnalyzeQuality)
	if err != nil {
		return 0, err
	}
	findingsJSON, err := json.Marshal(findings)
	if err != nil {
		return 0, err
	}
	rendered, err := renderPrompt(prompt, map[string]string{
		"lines":    lines,
		"findings": string(findingsJSON),
	})
	if err != nil {
		return 0, err
	}

	var reply qualityReply
	if err := a.completeJSON(ctx, callTypeAnalyze, rendered, analyzeTTL, &reply); err != nil {
		return 0, err
	}
	return reply.QualityScore, nil
}

// formatLines renders trace lines for a prompt, capped at maxContextLines.
func (a *AnalyzeAgent) formatLines(lines []models.Line) string {
	var b strings.Builder
	shown := len(lines)
	if a.maxContextLines > 0 && shown > a.maxContextLines {
		shown = a.maxContextLines
	}
	for _, l := range lines[:shown] {
		if !l.Timestamp.IsZero() {
			b.WriteString(l.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"))
			b.WriteByte(' ')
		}
		if l.Source != "" {
			b.WriteString("[" + l.Source + "] ")
		}
		b.WriteString(l.Raw)
		b.WriteByte('\n')
	}
	if shown < len(lines) {
		fmt.Fprintf(&b, "... %d more lines omitted\n", len(lines)-shown)
	}
	return b.String()
}

// normalizeRecommendation maps loose model output onto the enum, falling
// back to REVIEW for anything unrecognised.
func normalizeRecommendation(r models.Recommendation) models.Recommendation {
	switch models.Recommendation(strings.ToUpper(string(r))) {
	case models.RecommendationInclude:
		return models.RecommendationInclude
	case models.RecommendationExclude:
		return models.RecommendationExclude
	case models.RecommendationReview:
		return models.RecommendationReview
	default:
		return models.RecommendationReview
	}
}
