package models

// PlanStep is one ordered step descriptor produced by the planning agent.
type PlanStep struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Plan is the planning agent's output: the ordered steps the pipeline will
// take, plus any blocking questions that must be answered before searching.
type Plan struct {
	Steps             []PlanStep `json:"steps"`
	BlockingQuestions []string   `json:"blocking_questions,omitempty"`
}

// NeedsClarification reports whether the plan contains blocking questions.
// When true the pipeline halts before SEARCH with status needs_input.
func (p *Plan) NeedsClarification() bool {
	return len(p.BlockingQuestions) > 0
}
