package configstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// GetPrompt returns the active version of the named prompt, falling back to
// the compiled-in default when DB prompts are disabled, the name has no
// active version, or the database cannot be reached.
func (s *Store) GetPrompt(ctx context.Context, name string) (Prompt, error) {
	if !s.flags.UseDBPrompts || s.db == nil {
		return s.fallbackPrompt(name)
	}

	if p, ok := s.prompts.get(name); ok {
		return p, nil
	}

	p, err := s.queryActivePrompt(ctx, name)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			slog.Warn("Prompt lookup failed, using compiled-in default", "name", name, "error", err)
		}
		return s.fallbackPrompt(name)
	}

	s.prompts.set(name, p)
	return p, nil
}

func (s *Store) queryActivePrompt(ctx context.Context, name string) (Prompt, error) {
	var p Prompt
	var variables []string
	err := s.db.QueryRow(ctx,
		`SELECT name, version, template, variables FROM prompts WHERE name = $1 AND active`,
		name,
	).Scan(&p.Name, &p.Version, &p.Template, &variables)
	if err != nil {
		return Prompt{}, err
	}
	p.Variables = variables
	return p, nil
}

func (s *Store) fallbackPrompt(name string) (Prompt, error) {
	if p, ok := defaultPrompts[name]; ok {
		return p, nil
	}
	return Prompt{}, fmt.Errorf("no prompt named %q and no compiled-in default", name)
}
