package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/logsleuth/logsleuth/pkg/configstore"
	"github.com/logsleuth/logsleuth/pkg/models"
)

// PlanningAgent turns parameters plus project metadata into an ordered
// investigation plan, possibly with blocking questions.
type PlanningAgent struct {
	base
}

// NewPlanningAgent creates the planning agent.
func NewPlanningAgent(deps Deps) *PlanningAgent {
	return &PlanningAgent{base{deps: deps}}
}

// Plan produces the step plan for one run.
func (a *PlanningAgent) Plan(ctx context.Context, params models.Parameters, project models.Project, env string) (models.Plan, error) {
	prompt, err := a.deps.Store.GetPrompt(ctx, configstore.PromptPlanning)
	if err != nil {
		return models.Plan{}, fmt.Errorf("planning prompt: %w", err)
	}

	paramJSON, err := json.Marshal(params)
	if err != nil {
		return models.Plan{}, fmt.Errorf("encode parameters: %w", err)
	}

	rendered, err := renderPrompt(prompt, map[string]string{
		"project":         project.Code,
		"log_source_type": string(project.LogSourceType),
		"env":             env,
		"parameters":      string(paramJSON),
	})
	if err != nil {
		return models.Plan{}, err
	}

	var plan models.Plan
	if err := a.completeJSON(ctx, callTypePlan, rendered, planTTL, &plan); err != nil {
		return models.Plan{}, err
	}
	return plan, nil
}
