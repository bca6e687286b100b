// Package configstore serves prompts, settings, and project routing records
// from PostgreSQL with per-bucket in-process TTL caches and compiled-in
// fallback defaults. Feature flags decide per bucket whether the database is
// consulted at all.
package configstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/logsleuth/logsleuth/pkg/config"
	"github.com/logsleuth/logsleuth/pkg/models"
)

// Cache TTLs per bucket.
const (
	promptTTL   = 5 * time.Minute
	settingsTTL = 10 * time.Minute
	projectTTL  = 10 * time.Minute
)

// Bucket names an invalidatable cache.
type Bucket string

const (
	BucketPrompts  Bucket = "prompts"
	BucketSettings Bucket = "settings"
	BucketProjects Bucket = "projects"
)

// Querier is the pgx query surface the store needs. Satisfied by
// *pgxpool.Pool and by pgx transactions in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Prompt is one versioned prompt template.
type Prompt struct {
	Name      string
	Version   int
	Template  string
	Variables []string
}

// settingRecord is one settings row; the value is decoded on read.
type settingRecord struct {
	Value     string
	ValueType string
}

// projectSnapshot caches a project with its environments.
type projectSnapshot struct {
	Project models.Project
	Envs    map[string]models.ProjectEnv
}

// Store is the dynamic configuration layer.
type Store struct {
	db    Querier // nil when every DB flag is off
	flags config.FeatureFlags

	prompts  *ttlCache[Prompt]
	settings *ttlCache[map[string]settingRecord] // keyed by category
	projects *ttlCache[projectSnapshot]
}

// New creates a Store. db may be nil when all feature flags are off.
func New(db *pgxpool.Pool, flags config.FeatureFlags) *Store {
	var q Querier
	if db != nil {
		q = db
	}
	return NewWithQuerier(q, flags)
}

// NewWithQuerier is like New but accepts any Querier. Used by tests.
func NewWithQuerier(db Querier, flags config.FeatureFlags) *Store {
	return &Store{
		db:       db,
		flags:    flags,
		prompts:  newTTLCache[Prompt](promptTTL),
		settings: newTTLCache[map[string]settingRecord](settingsTTL),
		projects: newTTLCache[projectSnapshot](projectTTL),
	}
}

// Invalidate clears the named bucket's cache.
func (s *Store) Invalidate(bucket Bucket) {
	switch bucket {
	case BucketPrompts:
		s.prompts.clear()
	case BucketSettings:
		s.settings.clear()
	case BucketProjects:
		s.projects.clear()
	}
}
