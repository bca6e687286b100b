//go:build integration

package configstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsleuth/logsleuth/pkg/config"
	"github.com/logsleuth/logsleuth/pkg/models"
	testdb "github.com/logsleuth/logsleuth/test/database"
)

func TestStoreAgainstPostgres(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	_, err := client.Pool.Exec(ctx,
		`INSERT INTO prompts (name, version, template, variables, active)
		 VALUES ($1, 1, 'v1 {query}', '["query"]', false),
		        ($1, 2, 'v2 {query}', '["query"]', true)`,
		PromptPlanning)
	require.NoError(t, err)

	_, err = client.Pool.Exec(ctx,
		`INSERT INTO settings (category, key, value, value_type)
		 VALUES ('analysis', 'analyze_concurrency', '8', 'int'),
		        ('analysis', 'broken_int', 'not-a-number', 'int')`)
	require.NoError(t, err)

	_, err = client.Pool.Exec(ctx,
		`INSERT INTO projects (project_code, project_name, log_source_type)
		 VALUES ('DBPROJ', 'DB Project', 'remote')`)
	require.NoError(t, err)
	_, err = client.Pool.Exec(ctx,
		`INSERT INTO project_environments (project_code, environment, namespace)
		 VALUES ('DBPROJ', 'prod', 'dbproj-prod')`)
	require.NoError(t, err)

	flags := config.FeatureFlags{UseDBPrompts: true, UseDBSettings: true, UseDBProjects: true}
	s := New(client.Pool, flags)

	// Only the active prompt version is served.
	p, err := s.GetPrompt(ctx, PromptPlanning)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Version)
	assert.Equal(t, "v2 {query}", p.Template)

	// Names with no DB record fall back to the compiled-in default.
	p, err = s.GetPrompt(ctx, PromptVerify)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Version)

	// DB value overrides the default; malformed values fall through.
	assert.Equal(t, 8, s.GetSettingInt(ctx, CategoryAnalysis, "analyze_concurrency", 4))
	assert.Equal(t, 7, s.GetSettingInt(ctx, CategoryAnalysis, "broken_int", 7))

	// DB project routing plus built-in fallback.
	proj, err := s.GetProject(ctx, "DBPROJ")
	require.NoError(t, err)
	assert.Equal(t, models.LogSourceRemote, proj.LogSourceType)
	pe, err := s.GetProjectEnv(ctx, "DBPROJ", "prod")
	require.NoError(t, err)
	assert.Equal(t, "dbproj-prod", pe.Namespace)
	assert.True(t, s.IsFileBased(ctx, "FILE_A"))

	// Invalidation forces a re-read.
	_, err = client.Pool.Exec(ctx,
		`UPDATE prompts SET active = false WHERE name = $1`, PromptPlanning)
	require.NoError(t, err)
	_, err = client.Pool.Exec(ctx,
		`UPDATE prompts SET active = true WHERE name = $1 AND version = 1`, PromptPlanning)
	require.NoError(t, err)
	s.Invalidate(BucketPrompts)
	p, err = s.GetPrompt(ctx, PromptPlanning)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version)
}
