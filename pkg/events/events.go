// Package events defines the SSE event vocabulary of the analysis stream:
// the event names clients subscribe to and the typed payloads serialized
// into each event's data field.
package events

import "github.com/logsleuth/logsleuth/pkg/models"

// Event names, in typical pipeline order. The names are part of the client
// contract and are sent verbatim in the SSE event field.
const (
	NameExtractedParameters = "Extracted Parameters"
	NamePlannedSteps        = "Planned Steps"
	NameNeedClarification   = "Need Clarification"
	NameFoundRelevantFiles  = "Found relevant files"
	NameDownloadedLogs      = "Downloaded logs in file"
	NameFoundTraceIDs       = "Found trace id(s)"
	NameCompiledTraces      = "Compiled Request Traces"
	NameCompiledSummary     = "Compiled Summary"
	NameVerificationResults = "Verification Results"
	NameDone                = "done"
	NameError               = "error"
)

// Terminal statuses carried by the done event.
const (
	StatusComplete   = "complete"
	StatusNeedsInput = "needs_input"
	StatusError      = "error"
)

// Event is one entry in a session's stream: a name from the constants above
// and a JSON-serializable payload.
type Event struct {
	Name string
	Data any
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool {
	return e.Name == NameDone || e.Name == NameError
}

// ExtractedParametersPayload carries the sanitized extraction result.
type ExtractedParametersPayload struct {
	Parameters models.Parameters `json:"parameters"`
}

// PlannedStepsPayload carries the planning result.
type PlannedStepsPayload struct {
	Plan models.Plan `json:"plan"`
}

// NeedClarificationPayload carries the blocking questions alongside the
// plan that raised them.
type NeedClarificationPayload struct {
	Questions []string    `json:"questions"`
	Plan      models.Plan `json:"plan"`
}

// FoundRelevantFilesPayload reports the file-backend search outcome.
type FoundRelevantFilesPayload struct {
	TotalFiles int `json:"total_files"`
}

// DownloadedLogsPayload is empty on the wire; the event itself signals that
// the remote backend finished its download.
type DownloadedLogsPayload struct{}

// FoundTraceIDsPayload reports how many distinct trace IDs were extracted.
type FoundTraceIDsPayload struct {
	Count int `json:"count"`
}

// CompiledTracesPayload reports how many traces were assembled.
type CompiledTracesPayload struct {
	TracesCompiled int `json:"traces_compiled"`
}

// CompiledSummaryPayload lists the analysis artifacts written for this run.
type CompiledSummaryPayload struct {
	CreatedFiles []string `json:"created_files"`
}

// VerificationResultsPayload carries the final verification verdict,
// including any non-fatal failures recorded during the run.
type VerificationResultsPayload struct {
	Result models.VerificationResult `json:"result"`
}

// DonePayload is the successful terminal event.
type DonePayload struct {
	Status string `json:"status"`
}

// ErrorPayload is the failing terminal event. Error is "<KIND>: <message>".
type ErrorPayload struct {
	Error string `json:"error"`
}

// Done builds the terminal done event.
func Done(status string) Event {
	return Event{Name: NameDone, Data: DonePayload{Status: status}}
}

// Error builds the terminal error event.
func Error(message string) Event {
	return Event{Name: NameError, Data: ErrorPayload{Error: message}}
}
