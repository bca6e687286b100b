package configstore

import "github.com/logsleuth/logsleuth/pkg/models"

// Prompt names used by the agents.
const (
	PromptParameterExtraction = "parameter_extraction"
	PromptPlanning            = "planning"
	PromptAnalyzeTrace        = "analyze_trace"
	PromptAnalyzeEntry        = "analyze_entry"
	PromptAnalyzeQuality      = "analyze_quality"
	PromptVerify              = "verify"
)

// defaultParameterExtraction instructs the model to act as a strict
// slot-filling extractor. The JSON decode into models.Parameters is the
// final firewall: hallucinated fields are dropped, invalid values cleared.
const defaultParameterExtraction = `You are a structured data extraction tool for a log forensics system.
Your ONLY job is to extract search parameters from a natural language incident query.

You MUST respond with ONLY a valid JSON object. No explanations, no markdown, no extra text.

The JSON object must use ONLY these fields (use null / [] when a field cannot be determined):
{
  "time_frame": "YYYY-MM-DD or null",
  "domain": "one of the allowed domains or null",
  "query_keys": ["snake_case", "tokens"]
}

Rules:
- "time_frame" is a single calendar date. Reduce ranges ("last week", "between the 3rd and the 5th") to the range's FIRST day. Resolve relative dates against today: {today}.
- "domain" must be one of: {allowed_domains}. Anything else is null.
- "query_keys" must only contain tokens from this allow-list: {allowed_keys}.
- NEVER include these excluded keys: {excluded_keys}.
- NEVER invent values not grounded in the input.

User query:
{query}`

const defaultPlanning = `You are an incident investigation planner for a log forensics system.
Given the extracted search parameters and the target project, produce an ordered step plan.

Respond with ONLY a valid JSON object:
{
  "steps": [{"name": "...", "description": "..."}],
  "blocking_questions": ["..."]
}

Rules:
- Steps describe how logs will be searched, traces collected, compiled, analyzed and verified.
- Add a blocking question ONLY when a required input is genuinely missing or ambiguous
  (for example no domain and no query keys at all). An empty list means the pipeline proceeds.
- Do not ask questions the parameters already answer.

Project: {project} ({log_source_type} logs, environment {env})
Extracted parameters:
{parameters}`

const defaultAnalyzeTrace = `You are an expert log forensics analyst investigating a software incident.
Below are all log lines sharing one request trace, in order, gathered across services.

Analyze the trace and respond with ONLY a valid JSON object:
{
  "relevance_score": 0-100,
  "confidence": "low" | "medium" | "high",
  "key_findings": ["..."],
  "recommendation": "INCLUDE" | "EXCLUDE" | "REVIEW"
}

Rules:
- relevance_score measures how strongly this trace relates to the user's query.
- key_findings are concrete observations: errors, timeouts, status transitions, amounts, parties.
- INCLUDE when the trace clearly matches the incident, EXCLUDE when it clearly does not,
  REVIEW when a human should decide.

User query: {query}
Trace {trace_id} ({line_count} lines from {sources}):
{lines}`

const defaultAnalyzeEntry = `You are an expert log forensics analyst.
Summarize the single log entry below in one factual sentence for an incident report.
Preserve identifiers, amounts, status codes and timestamps exactly. Respond with ONLY the sentence.

Entry:
{line}`

const defaultAnalyzeQuality = `You assess the quality of a log trace analysis.
Given the trace and the produced findings, respond with ONLY a valid JSON object:
{"quality_score": 0-100}

Score high when findings are concrete and grounded in the shown lines, low when generic or speculative.

Trace excerpt:
{lines}

Findings:
{findings}`

const defaultVerify = `You verify whether analyzed request traces answer the user's incident query.
Apply the context rules below; lines matched by an ignore rule must not count as evidence.

Respond with ONLY a valid JSON object:
{
  "traces": [{"trace_id": "...", "relevance_score": 0-100, "reasoning": "...", "recommendation": "INCLUDE" | "EXCLUDE" | "REVIEW"}],
  "summary": "..."
}

If there are no traces, return an empty traces list and a summary explaining that no candidates matched.

User query: {query}
Extracted parameters: {parameters}
Context rules:
{context_rules}
Per-trace summaries:
{summaries}`

// defaultPrompts is the compiled-in fallback registry, used when
// USE_DB_PROMPTS is off, the database has no active version for a name, or
// the database cannot be reached.
var defaultPrompts = map[string]Prompt{
	PromptParameterExtraction: {
		Name: PromptParameterExtraction, Version: 0, Template: defaultParameterExtraction,
		Variables: []string{"today", "allowed_domains", "allowed_keys", "excluded_keys", "query"},
	},
	PromptPlanning: {
		Name: PromptPlanning, Version: 0, Template: defaultPlanning,
		Variables: []string{"project", "log_source_type", "env", "parameters"},
	},
	PromptAnalyzeTrace: {
		Name: PromptAnalyzeTrace, Version: 0, Template: defaultAnalyzeTrace,
		Variables: []string{"query", "trace_id", "line_count", "sources", "lines"},
	},
	PromptAnalyzeEntry: {
		Name: PromptAnalyzeEntry, Version: 0, Template: defaultAnalyzeEntry,
		Variables: []string{"line"},
	},
	PromptAnalyzeQuality: {
		Name: PromptAnalyzeQuality, Version: 0, Template: defaultAnalyzeQuality,
		Variables: []string{"lines", "findings"},
	},
	PromptVerify: {
		Name: PromptVerify, Version: 0, Template: defaultVerify,
		Variables: []string{"query", "parameters", "context_rules", "summaries"},
	},
}

// Built-in settings, authoritative when USE_DB_SETTINGS is off.
const (
	CategorySearch       = "search"
	CategoryAnalysis     = "analysis"
	CategoryContextRules = "context_rules"
)

var defaultSettings = map[string]map[string]settingRecord{
	CategorySearch: {
		"allowed_keys":    {Value: `["transaction_id","account_no","npsb","beftn","rtgs","card_no","batch_id","channel","status","amount"]`, ValueType: "json-list"},
		"excluded_keys":   {Value: `["password","pin","otp","cvv"]`, ValueType: "json-list"},
		"allowed_domains": {Value: `["transactions","payments","accounts","cards","auth"]`, ValueType: "json-list"},
	},
	CategoryAnalysis: {
		"analyze_concurrency": {Value: "4", ValueType: "int"},
		"min_quality_score":   {Value: "40", ValueType: "int"},
	},
	CategoryContextRules: {
		"ignore_lines": {Value: `["health check","heartbeat","connection pool stats"]`, ValueType: "json-list"},
	},
}

// Built-in projects, authoritative when USE_DB_PROJECTS is off and the
// fallback when the database has no record for one of these codes.
var defaultProjects = map[string]projectSnapshot{
	"FILE_A": {
		Project: models.Project{Code: "FILE_A", Name: "Core Banking Switch", LogSourceType: models.LogSourceFile},
		Envs: map[string]models.ProjectEnv{
			"prod": {ProjectCode: "FILE_A", Environment: "prod", BaseLogPath: "/var/log/file_a/prod"},
			"uat":  {ProjectCode: "FILE_A", Environment: "uat", BaseLogPath: "/var/log/file_a/uat"},
		},
	},
	"FILE_B": {
		Project: models.Project{Code: "FILE_B", Name: "Card Management", LogSourceType: models.LogSourceFile},
		Envs: map[string]models.ProjectEnv{
			"prod": {ProjectCode: "FILE_B", Environment: "prod", BaseLogPath: "/var/log/file_b/prod"},
		},
	},
	"REMOTE_A": {
		Project: models.Project{Code: "REMOTE_A", Name: "Internet Banking", LogSourceType: models.LogSourceRemote},
		Envs: map[string]models.ProjectEnv{
			"prod": {ProjectCode: "REMOTE_A", Environment: "prod", Namespace: "ibank-prod"},
			"uat":  {ProjectCode: "REMOTE_A", Environment: "uat", Namespace: "ibank-uat"},
		},
	},
	"REMOTE_B": {
		Project: models.Project{Code: "REMOTE_B", Name: "Mobile Banking", LogSourceType: models.LogSourceRemote},
		Envs: map[string]models.ProjectEnv{
			"prod": {ProjectCode: "REMOTE_B", Environment: "prod", Namespace: "mbank-prod"},
		},
	},
}
