// Package evaluator holds the assessment prompt, the scorecard schema and the
// helpers shared by the model-backed evaluators.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/daily-papers/internal/papers"
)

// ToolName is the function the model must call to return its assessment.
const ToolName = "return_assessment"

// SystemPrompt frames the reviewer role.
const SystemPrompt = `You are a senior AI research analyst. You assess how far the research work in a paper
could be automated by current or near-future AI systems. Be systematic, cite evidence from the paper,
stay realistic about present capability limits and justify every score.`

// AssessmentPrompt asks for the scored assessment.
const AssessmentPrompt = `Assess the attached paper on these dimensions, scoring each from 0 to 4:
task_formalization, data_resource_availability, input_output_complexity, real_world_interaction,
existing_ai_coverage, human_originality, safety_ethics, technical_maturity_needed and
overall_automatability. Also estimate three_year_feasibility_pct, the probability (0-100) that the
work is fully automated within three years. Return an executive_summary, a per-dimension analysis
under dimensions, the numeric scorecard, recommendations and limitations_uncertainties as one JSON object.`

// ScorecardFields lists the numeric scorecard keys.
var ScorecardFields = []string{
	"task_formalization",
	"data_resource_availability",
	"input_output_complexity",
	"real_world_interaction",
	"existing_ai_coverage",
	"human_originality",
	"safety_ethics",
	"technical_maturity_needed",
	"three_year_feasibility_pct",
	"overall_automatability",
}

// AssessmentSchema is the JSON schema of the assessment object.
func AssessmentSchema() map[string]any {
	scoreProps := make(map[string]any, len(ScorecardFields))
	for _, f := range ScorecardFields {
		scoreProps[f] = map[string]any{"type": "number"}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"executive_summary": map[string]any{"type": "string"},
			"dimensions":        map[string]any{"type": "object"},
			"scorecard": map[string]any{
				"type":       "object",
				"properties": scoreProps,
				"required":   ScorecardFields,
			},
			"recommendations": map[string]any{"type": "object"},
			"limitations_uncertainties": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"executive_summary", "dimensions", "scorecard"},
	}
}

// Metadata is stamped onto every stored assessment.
type Metadata struct {
	AssessedAt time.Time `json:"assessed_at"`
	Model      string    `json:"model"`
	PaperPath  string    `json:"paper_path"`
}

// Finalize attaches metadata to a raw assessment object and splits out its
// scorecard. Non-object payloads are rejected.
func Finalize(raw string, meta Metadata) (papers.EvaluationResult, error) {
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return papers.EvaluationResult{}, fmt.Errorf("%w: assessment is not a JSON object", papers.ErrEvaluation)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return papers.EvaluationResult{}, fmt.Errorf("%w: decode assessment: %w", papers.ErrEvaluation, err)
	}
	doc["metadata"] = meta
	content, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return papers.EvaluationResult{}, fmt.Errorf("%w: encode assessment: %w", papers.ErrEvaluation, err)
	}
	result := papers.EvaluationResult{Content: string(content)}
	if card := gjson.Get(raw, "scorecard"); card.IsObject() {
		result.Scorecard = []byte(card.Raw)
	}
	return result, nil
}

// Disabled rejects every request. It is used when no provider is configured.
type Disabled struct{}

// Evaluate always fails.
func (Disabled) Evaluate(_ context.Context, req papers.EvaluationRequest) (papers.EvaluationResult, error) {
	return papers.EvaluationResult{}, fmt.Errorf("%w: no evaluator configured for %s", papers.ErrEvaluation, req.ArxivID)
}
