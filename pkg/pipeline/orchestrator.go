// Package pipeline runs the staged analysis state machine for one session:
// parameter extraction, planning, log search, trace collection, compilation,
// bounded-concurrency analysis and verification, emitting one SSE event per
// completed step.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/logsleuth/logsleuth/pkg/agents"
	"github.com/logsleuth/logsleuth/pkg/configstore"
	"github.com/logsleuth/logsleuth/pkg/events"
	"github.com/logsleuth/logsleuth/pkg/logbackend"
	"github.com/logsleuth/logsleuth/pkg/models"
	"github.com/logsleuth/logsleuth/pkg/session"
	"github.com/logsleuth/logsleuth/pkg/traceid"
)

// Budgets are the per-step wall-clock limits. Zero fields take defaults.
type Budgets struct {
	Extract       time.Duration
	Plan          time.Duration
	Search        time.Duration
	CollectTraces time.Duration
	Compile       time.Duration
	AnalyzeTrace  time.Duration
	Verify        time.Duration
}

func (b Budgets) withDefaults() Budgets {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&b.Extract, 20*time.Second)
	def(&b.Plan, 10*time.Second)
	def(&b.Search, 60*time.Second)
	def(&b.CollectTraces, 30*time.Second)
	def(&b.Compile, 120*time.Second)
	def(&b.AnalyzeTrace, 60*time.Second)
	def(&b.Verify, 60*time.Second)
	return b
}

// defaultAnalyzeConcurrency bounds the per-session analysis fan-out when
// the setting is absent.
const defaultAnalyzeConcurrency = 4

// Config wires an Orchestrator.
type Config struct {
	Store     *configstore.Store
	Backends  *logbackend.Factory
	Extractor *traceid.Extractor

	Parameters *agents.ParameterAgent
	Planner    *agents.PlanningAgent
	Analyzer   *agents.AnalyzeAgent
	Verifier   *agents.VerifyAgent

	AnalysisDir string
	MaxLogBytes int64
	Budgets     Budgets
}

// Orchestrator executes analysis runs.
type Orchestrator struct {
	cfg Config
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	cfg.Budgets = cfg.Budgets.withDefaults()
	if cfg.Extractor == nil {
		cfg.Extractor = traceid.New(nil)
	}
	return &Orchestrator{cfg: cfg}
}

// Run executes one analysis run to its terminal event. It is launched as a
// goroutine by the HTTP layer; all errors terminate through the session's
// event stream, never through a return value.
func (o *Orchestrator) Run(sess *session.Session, run *models.RunContext) {
	log := slog.With("session_id", sess.ID, "project", run.Project)
	start := time.Now()

	if f := o.execute(sess, run, log); f != nil {
		if f.Kind == KindCancelled {
			log.Info("Run cancelled", "elapsed", time.Since(start))
			return
		}
		log.Error("Run failed", "kind", f.Kind, "error", f.Err, "elapsed", time.Since(start))
		if err := sess.Send(events.Error(f.Error())); err != nil {
			log.Warn("Could not deliver error event", "error", err)
		}
		return
	}
	log.Info("Run complete", "elapsed", time.Since(start))
}

// execute walks the state machine. A nil return means the terminal done
// event was already sent.
func (o *Orchestrator) execute(sess *session.Session, run *models.RunContext, log *slog.Logger) *Failure {
	ctx := sess.Context()

	// EXTRACT
	params, f := o.extract(ctx, run)
	if f != nil {
		return f
	}
	run.Parameters = &params
	if f := o.emit(sess, events.Event{Name: events.NameExtractedParameters, Data: events.ExtractedParametersPayload{Parameters: params}}); f != nil {
		return f
	}

	project, err := o.cfg.Store.GetProject(ctx, run.Project)
	if err != nil {
		return fail(KindDBUnavailable, fmt.Errorf("project %s: %w", run.Project, err))
	}
	env, err := o.cfg.Store.GetProjectEnv(ctx, run.Project, run.Env)
	if err != nil {
		return fail(KindDBUnavailable, fmt.Errorf("project %s env %s: %w", run.Project, run.Env, err))
	}

	// PLAN
	plan, f := o.plan(ctx, run, params, project)
	if f != nil {
		return f
	}
	run.Plan = &plan
	if f := o.emit(sess, events.Event{Name: events.NamePlannedSteps, Data: events.PlannedStepsPayload{Plan: plan}}); f != nil {
		return f
	}

	// CLARIFY
	if plan.NeedsClarification() {
		if f := o.emit(sess, events.Event{Name: events.NameNeedClarification, Data: events.NeedClarificationPayload{
			Questions: plan.BlockingQuestions,
			Plan:      plan,
		}}); f != nil {
			return f
		}
		return o.emit(sess, events.Done(events.StatusNeedsInput))
	}

	backend, err := o.cfg.Backends.ForProject(ctx, run.Project)
	if err != nil {
		return fail(KindInternal, err)
	}

	// SEARCH
	result, f := o.search(ctx, backend, params, env)
	if f != nil {
		return f
	}
	searchEvent := events.Event{Name: events.NameFoundRelevantFiles, Data: events.FoundRelevantFilesPayload{TotalFiles: len(result.Files)}}
	if backend.Kind() == models.LogSourceRemote {
		searchEvent = events.Event{Name: events.NameDownloadedLogs, Data: events.DownloadedLogsPayload{}}
	}
	if f := o.emit(sess, searchEvent); f != nil {
		return f
	}

	// Trace discovery over the matched lines; discovery order is the
	// artifact order for the rest of the run.
	raw := make([]string, 0, len(result.Lines))
	for _, l := range result.Lines {
		raw = append(raw, l.Raw)
	}
	ids := o.cfg.Extractor.Extract(raw)
	run.TraceIDs = ids
	if f := o.emit(sess, events.Event{Name: events.NameFoundTraceIDs, Data: events.FoundTraceIDsPayload{Count: len(ids)}}); f != nil {
		return f
	}

	if len(ids) == 0 {
		// Nothing to collect or analyze; verification still runs so the
		// result explains the empty outcome.
		return o.verifyAndFinish(ctx, sess, run, params)
	}

	// COLLECT_TRACES
	byID, f := o.collect(ctx, backend, ids, env)
	if f != nil {
		return f
	}

	// COMPILE
	traces, f := o.compile(ctx, run, ids, byID)
	if f != nil {
		return f
	}
	run.Traces = traces
	if f := o.emit(sess, events.Event{Name: events.NameCompiledTraces, Data: events.CompiledTracesPayload{TracesCompiled: len(traces)}}); f != nil {
		return f
	}

	// ANALYZE
	artifacts, created, f := o.analyze(ctx, run, traces)
	if f != nil {
		return f
	}
	run.Artifacts = artifacts
	if f := o.emit(sess, events.Event{Name: events.NameCompiledSummary, Data: events.CompiledSummaryPayload{CreatedFiles: created}}); f != nil {
		return f
	}

	// VERIFY
	return o.verifyAndFinish(ctx, sess, run, params)
}

func (o *Orchestrator) extract(ctx context.Context, run *models.RunContext) (models.Parameters, *Failure) {
	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.Budgets.Extract)
	defer cancel()

	params, err := o.cfg.Parameters.Extract(stepCtx, run.Text)
	if err != nil {
		if f := sessionFailure(ctx); f != nil {
			return models.Parameters{}, f
		}
		return models.Parameters{}, classifyAgent(err, KindParamExtractionFailed)
	}
	return params, nil
}

func (o *Orchestrator) plan(ctx context.Context, run *models.RunContext, params models.Parameters, project models.Project) (models.Plan, *Failure) {
	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.Budgets.Plan)
	defer cancel()

	plan, err := o.cfg.Planner.Plan(stepCtx, params, project, run.Env)
	if err != nil {
		if f := sessionFailure(ctx); f != nil {
			return models.Plan{}, f
		}
		return models.Plan{}, classifyAgent(err, KindPlanFailed)
	}
	return plan, nil
}

func (o *Orchestrator) search(ctx context.Context, backend logbackend.Backend, params models.Parameters, env models.ProjectEnv) (*logbackend.SearchResult, *Failure) {
	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.Budgets.Search)
	defer cancel()

	result, err := backend.FindCandidates(stepCtx, params, env)
	if err != nil {
		if f := sessionFailure(ctx); f != nil {
			return nil, f
		}
		return nil, classifyBackend(err)
	}
	return result, nil
}

func (o *Orchestrator) collect(ctx context.Context, backend logbackend.Backend, ids []string, env models.ProjectEnv) (map[string][]models.Line, *Failure) {
	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.Budgets.CollectTraces)
	defer cancel()

	byID, err := backend.FetchByTraceIDs(stepCtx, ids, env)
	if err != nil {
		if f := sessionFailure(ctx); f != nil {
			return nil, f
		}
		return nil, classifyBackend(err)
	}
	return byID, nil
}

// compile builds each discovered trace and writes its text form beneath
// the analysis directory. IDs with no fetched lines are dropped.
func (o *Orchestrator) compile(ctx context.Context, run *models.RunContext, ids []string, byID map[string][]models.Line) ([]models.CompiledTrace, *Failure) {
	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.Budgets.Compile)
	defer cancel()

	var traces []models.CompiledTrace
	for _, id := range ids {
		if err := stepCtx.Err(); err != nil {
			if f := sessionFailure(ctx); f != nil {
				return nil, f
			}
			return nil, fail(KindTimeout, fmt.Errorf("compile: %w", err))
		}
		lines := byID[id]
		if len(lines) == 0 {
			continue
		}
		trace := compileTrace(id, lines, o.cfg.MaxLogBytes)
		path, err := writeFileAtomic(o.cfg.AnalysisDir, traceFileName(len(traces), id), renderTrace(trace))
		if err != nil {
			return nil, fail(KindInternal, fmt.Errorf("write trace file: %w", err))
		}
		run.CreatedFiles = append(run.CreatedFiles, path)
		traces = append(traces, trace)
	}
	return traces, nil
}

// analyze fans the compiled traces out to the analyze agent, bounded by
// the configured concurrency. Artifact filenames follow discovery order
// regardless of completion order; per-trace failures are recorded on the
// artifact and do not abort the run.
func (o *Orchestrator) analyze(ctx context.Context, run *models.RunContext, traces []models.CompiledTrace) ([]models.AnalysisArtifact, []string, *Failure) {
	bound := o.cfg.Store.GetSettingInt(ctx, configstore.CategoryAnalysis, "analyze_concurrency", defaultAnalyzeConcurrency)
	if bound < 1 {
		bound = 1
	}
	ignoreRules := o.cfg.Store.ContextRules(ctx)

	sem := semaphore.NewWeighted(int64(bound))
	artifacts := make([]models.AnalysisArtifact, len(traces))

	for i, trace := range traces {
		if err := sem.Acquire(ctx, 1); err != nil {
			if f := sessionFailure(ctx); f != nil {
				return nil, nil, f
			}
			return nil, nil, fail(KindCancelled, err)
		}
		go func(i int, trace models.CompiledTrace) {
			defer sem.Release(1)
			artifacts[i] = o.analyzeOne(ctx, run.Text, i, trace, ignoreRules)
		}(i, trace)
	}
	if err := sem.Acquire(ctx, int64(bound)); err != nil {
		if f := sessionFailure(ctx); f != nil {
			return nil, nil, f
		}
		return nil, nil, fail(KindCancelled, err)
	}
	sem.Release(int64(bound))

	// The summary event carries bare filenames; full paths stay on the
	// run for cleanup and the download endpoint resolves names itself.
	var created []string
	for i := range artifacts {
		if artifacts[i].Error != "" {
			continue
		}
		data, err := json.MarshalIndent(artifacts[i], "", "  ")
		if err != nil {
			return nil, nil, fail(KindInternal, err)
		}
		path, err := writeFileAtomic(o.cfg.AnalysisDir, artifacts[i].Filename, data)
		if err != nil {
			return nil, nil, fail(KindInternal, fmt.Errorf("write artifact: %w", err))
		}
		run.CreatedFiles = append(run.CreatedFiles, path)
		created = append(created, artifacts[i].Filename)
	}
	return artifacts, created, nil
}

func (o *Orchestrator) analyzeOne(ctx context.Context, query string, index int, trace models.CompiledTrace, ignoreRules []string) models.AnalysisArtifact {
	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.Budgets.AnalyzeTrace)
	defer cancel()

	artifact, err := o.cfg.Analyzer.Analyze(stepCtx, query, trace)
	artifact.TraceID = trace.TraceID
	artifact.Filename = artifactFileName(index, trace.TraceID)
	if err != nil {
		artifact.Error = err.Error()
		return artifact
	}

	// A trace made up entirely of ignore-listed lines is noise; keep the
	// analysis but default the recommendation to EXCLUDE.
	if allIgnored(trace.Lines, ignoreRules) {
		artifact.Findings.Recommendation = models.RecommendationExclude
	}
	return artifact
}

func (o *Orchestrator) verifyAndFinish(ctx context.Context, sess *session.Session, run *models.RunContext, params models.Parameters) *Failure {
	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.Budgets.Verify)
	defer cancel()

	result, err := o.cfg.Verifier.Verify(stepCtx, run.Text, params, run.Artifacts)
	if err != nil {
		if f := sessionFailure(ctx); f != nil {
			return f
		}
		return classifyAgent(err, KindLLMParseError)
	}
	run.Verification = &result

	if f := o.emit(sess, events.Event{Name: events.NameVerificationResults, Data: events.VerificationResultsPayload{Result: result}}); f != nil {
		return f
	}
	return o.emit(sess, events.Done(events.StatusComplete))
}

// emit sends one event, converting queue failure into a run failure. A
// slow client surfaces as CANCELLED here because the session layer already
// terminated the stream.
func (o *Orchestrator) emit(sess *session.Session, ev events.Event) *Failure {
	if err := sess.Send(ev); err != nil {
		return fail(KindCancelled, err)
	}
	return nil
}

func allIgnored(lines []models.Line, rules []string) bool {
	if len(rules) == 0 || len(lines) == 0 {
		return false
	}
	for _, l := range lines {
		lower := strings.ToLower(l.Raw)
		matched := false
		for _, r := range rules {
			if strings.Contains(lower, strings.ToLower(r)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
