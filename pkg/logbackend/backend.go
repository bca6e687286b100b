// Package logbackend provides the uniform log retrieval boundary of the
// pipeline and its two concrete adapters: a filesystem scanner and a remote
// log-aggregation HTTP client. The orchestrator never branches on project
// codes; it asks the factory for a backend and uses the interface.
package logbackend

import (
	"context"
	"errors"
	"fmt"

	"github.com/logsleuth/logsleuth/pkg/models"
)

// ErrTooLarge reports that a search exceeded the configured byte cap.
// Mapped to the INPUT_TOO_LARGE failure kind by the orchestrator.
var ErrTooLarge = errors.New("log payload exceeds byte cap")

// SearchResult is the outcome of a candidate search.
type SearchResult struct {
	Lines []models.Line

	// Files names the sources that contributed lines: matched log files
	// for the file backend, downloaded raw-response files for the remote
	// backend.
	Files []string
}

// Backend is the uniform query surface over heterogeneous log sources.
// Implementations must honour context cancellation on every call.
type Backend interface {
	// Kind identifies the adapter.
	Kind() models.LogSourceType

	// FindCandidates returns log lines matching the extracted parameters
	// for one project environment.
	FindCandidates(ctx context.Context, params models.Parameters, env models.ProjectEnv) (*SearchResult, error)

	// FetchByTraceIDs gathers all lines for each trace ID, keyed by ID.
	// IDs with no lines are absent from the result.
	FetchByTraceIDs(ctx context.Context, ids []string, env models.ProjectEnv) (map[string][]models.Line, error)
}

// Router selects a backend per project. Implemented by configstore.Store.
type Router interface {
	IsFileBased(ctx context.Context, code string) bool
	IsRemoteBased(ctx context.Context, code string) bool
}

// Factory hands out the adapter for a project based on its routing record.
type Factory struct {
	router Router
	file   Backend
	remote Backend
}

// NewFactory creates a backend factory.
func NewFactory(router Router, file, remote Backend) *Factory {
	return &Factory{router: router, file: file, remote: remote}
}

// ForProject returns the backend serving the given project code.
func (f *Factory) ForProject(ctx context.Context, code string) (Backend, error) {
	switch {
	case f.router.IsFileBased(ctx, code):
		return f.file, nil
	case f.router.IsRemoteBased(ctx, code):
		return f.remote, nil
	default:
		return nil, fmt.Errorf("project %q has no routable log source", code)
	}
}
