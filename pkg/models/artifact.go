package models

// Recommendation is the verification verdict for a trace.
type Recommendation string

const (
	RecommendationInclude Recommendation = "INCLUDE"
	RecommendationExclude Recommendation = "EXCLUDE"
	RecommendationReview  Recommendation = "REVIEW"
)

// Findings is the structured output of a single-trace analysis.
type Findings struct {
	RelevanceScore int            `json:"relevance_score"` // 0-100
	Confidence     string         `json:"confidence"`      // low, medium, high
	KeyFindings    []string       `json:"key_findings"`
	Recommendation Recommendation `json:"recommendation"`
}

// AnalysisArtifact is one analyzed trace written to the analysis directory.
type AnalysisArtifact struct {
	TraceID  string   `json:"trace_id"`
	Filename string   `json:"filename"`
	Findings Findings `json:"findings"`

	// QualityScore is the analyze agent's self-assessment, 0-100.
	QualityScore int `json:"quality_score"`

	// Truncated records that the trace payload was cut at the byte cap
	// before analysis.
	Truncated bool `json:"truncated,omitempty"`

	// Error holds a per-trace analysis failure. Non-fatal for the run.
	Error string `json:"error,omitempty"`
}

// TraceVerification is the verification agent's per-trace result.
type TraceVerification struct {
	TraceID        string         `json:"trace_id"`
	RelevanceScore int            `json:"relevance_score"`
	Reasoning      string         `json:"reasoning"`
	Recommendation Recommendation `json:"recommendation"`
}

// VerificationResult aggregates per-trace verification with a run summary.
type VerificationResult struct {
	Traces  []TraceVerification `json:"traces"`
	Summary string              `json:"summary"`
}
