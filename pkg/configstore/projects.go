package configstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/logsleuth/logsleuth/pkg/models"
)

// GetProject returns the project record for code, consulting the database
// when enabled and falling back to the built-in projects.
func (s *Store) GetProject(ctx context.Context, code string) (models.Project, error) {
	snap, err := s.getProjectSnapshot(ctx, code)
	if err != nil {
		return models.Project{}, err
	}
	return snap.Project, nil
}

// GetProjectEnv returns the backend parameters for (code, env).
func (s *Store) GetProjectEnv(ctx context.Context, code, env string) (models.ProjectEnv, error) {
	snap, err := s.getProjectSnapshot(ctx, code)
	if err != nil {
		return models.ProjectEnv{}, err
	}
	pe, ok := snap.Envs[env]
	if !ok {
		return models.ProjectEnv{}, fmt.Errorf("project %s has no environment %q", code, env)
	}
	return pe, nil
}

// IsFileBased reports whether the project's logs come from the filesystem.
// Unknown projects are not file based.
func (s *Store) IsFileBased(ctx context.Context, code string) bool {
	p, err := s.GetProject(ctx, code)
	return err == nil && p.LogSourceType == models.LogSourceFile
}

// IsRemoteBased reports whether the project's logs come from the remote
// aggregation backend.
func (s *Store) IsRemoteBased(ctx context.Context, code string) bool {
	p, err := s.GetProject(ctx, code)
	return err == nil && p.LogSourceType == models.LogSourceRemote
}

func (s *Store) getProjectSnapshot(ctx context.Context, code string) (projectSnapshot, error) {
	if !s.flags.UseDBProjects || s.db == nil {
		return s.fallbackProject(code)
	}

	if snap, ok := s.projects.get(code); ok {
		return snap, nil
	}

	snap, err := s.queryProject(ctx, code)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			slog.Warn("Project lookup failed, using built-in projects", "code", code, "error", err)
		}
		return s.fallbackProject(code)
	}

	s.projects.set(code, snap)
	return snap, nil
}

// queryProject loads the project row and all its environments in one pass.
func (s *Store) queryProject(ctx context.Context, code string) (projectSnapshot, error) {
	var snap projectSnapshot
	err := s.db.QueryRow(ctx,
		`SELECT project_code, project_name, log_source_type FROM projects WHERE project_code = $1`,
		code,
	).Scan(&snap.Project.Code, &snap.Project.Name, &snap.Project.LogSourceType)
	if err != nil {
		return projectSnapshot{}, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT environment, namespace, base_log_path FROM project_environments WHERE project_code = $1`,
		code)
	if err != nil {
		return projectSnapshot{}, err
	}
	defer rows.Close()

	snap.Envs = make(map[string]models.ProjectEnv)
	for rows.Next() {
		pe := models.ProjectEnv{ProjectCode: code}
		if err := rows.Scan(&pe.Environment, &pe.Namespace, &pe.BaseLogPath); err != nil {
			return projectSnapshot{}, err
		}
		snap.Envs[pe.Environment] = pe
	}
	return snap, rows.Err()
}

func (s *Store) fallbackProject(code string) (projectSnapshot, error) {
	if snap, ok := defaultProjects[code]; ok {
		return snap, nil
	}
	return projectSnapshot{}, fmt.Errorf("unknown project %q", code)
}
