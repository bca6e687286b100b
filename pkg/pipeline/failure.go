package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/logsleuth/logsleuth/pkg/agents"
	"github.com/logsleuth/logsleuth/pkg/logbackend"
)

// Kind classifies a run failure. The kind is the first token of the error
// event's message.
type Kind string

const (
	KindParamExtractionFailed Kind = "PARAM_EXTRACTION_FAILED"
	KindPlanFailed            Kind = "PLAN_FAILED"
	KindBackendUnavailable    Kind = "BACKEND_UNAVAILABLE"
	KindInputTooLarge         Kind = "INPUT_TOO_LARGE"
	KindLLMTimeout            Kind = "LLM_TIMEOUT"
	KindLLMParseError         Kind = "LLM_PARSE_ERROR"
	KindDBUnavailable         Kind = "DB_UNAVAILABLE"
	KindTimeout               Kind = "TIMEOUT"
	KindCancelled             Kind = "CANCELLED"
	KindInternal              Kind = "INTERNAL_ERROR"
)

// Failure is a classified run error. Cancellation is the one kind that is
// never emitted to the client.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// fail wraps err under the given kind, preserving an existing
// classification.
func fail(kind Kind, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: kind, Err: err}
}

// sessionFailure reports session-level termination: CANCELLED on client
// disconnect, TIMEOUT on the absolute session deadline. Nil while the
// session context is live.
func sessionFailure(sessCtx context.Context) *Failure {
	switch sessCtx.Err() {
	case context.Canceled:
		return fail(KindCancelled, context.Cause(sessCtx))
	case context.DeadlineExceeded:
		return fail(KindTimeout, sessCtx.Err())
	default:
		return nil
	}
}

// classifyAgent maps an agent error: parse failures to the step-specific
// kind, a blown step budget to LLM_TIMEOUT.
func classifyAgent(err error, parseKind Kind) *Failure {
	switch {
	case errors.Is(err, agents.ErrParse):
		return fail(parseKind, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fail(KindLLMTimeout, err)
	default:
		return fail(KindInternal, err)
	}
}

// classifyBackend maps a log backend error. A backend that cannot answer
// within its budget is reported as unavailable, not as a generic timeout.
func classifyBackend(err error) *Failure {
	if errors.Is(err, logbackend.ErrTooLarge) {
		return fail(KindInputTooLarge, err)
	}
	return fail(KindBackendUnavailable, err)
}
