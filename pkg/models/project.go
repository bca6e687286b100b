package models

// LogSourceType selects which backend adapter serves a project.
type LogSourceType string

const (
	LogSourceFile   LogSourceType = "file"
	LogSourceRemote LogSourceType = "remote"
)

// Project is a routed analysis target.
type Project struct {
	Code          string        `json:"project_code"`
	Name          string        `json:"project_name"`
	LogSourceType LogSourceType `json:"log_source_type"`
}

// ProjectEnv holds the backend parameters for one (project, environment)
// pair: the base log path for file projects, the query namespace for
// remote projects.
type ProjectEnv struct {
	ProjectCode string `json:"project_code"`
	Environment string `json:"environment"`
	Namespace   string `json:"namespace,omitempty"`
	BaseLogPath string `json:"base_log_path,omitempty"`
}

// RunContext carries the state of one pipeline run. It is owned exclusively
// by the orchestrator task for that run and is never shared across runs.
type RunContext struct {
	SessionID string
	Text      string
	Project   string
	Env       string
	Domain    string

	Parameters *Parameters
	Plan       *Plan

	TraceIDs     []string
	Traces       []CompiledTrace
	Artifacts    []AnalysisArtifact
	CreatedFiles []string
	Verification *VerificationResult
}
