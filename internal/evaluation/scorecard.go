package evaluation

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/daily-papers/internal/papers"
)

// scoreDimensions are the scorecard fields averaged by PaperScore.
var scoreDimensions = []string{
	"task_formalization",
	"data_resource_availability",
	"input_output_complexity",
	"real_world_interaction",
	"existing_ai_coverage",
	"human_originality",
	"safety_ethics",
	"technical_maturity_needed",
}

// Summary is what a scorecard contributes to the stored evaluation.
type Summary struct {
	Score        *float64
	OverallScore *float64
	Tags         string
}

// ScorecardOf returns the scorecard object carried by result, either the
// structured Scorecard or the "scorecard" key of a JSON Content.
func ScorecardOf(result papers.EvaluationResult) gjson.Result {
	if len(result.Scorecard) > 0 && gjson.ValidBytes(result.Scorecard) {
		card := gjson.ParseBytes(result.Scorecard)
		if card.IsObject() {
			return card
		}
	}
	if gjson.Valid(result.Content) {
		card := gjson.Get(result.Content, "scorecard")
		if card.IsObject() {
			return card
		}
	}
	return gjson.Result{}
}

// Summarize extracts score and tags from a scorecard. Missing fields leave the
// corresponding values unset.
func Summarize(card gjson.Result) Summary {
	var sum Summary
	if !card.IsObject() {
		return sum
	}
	if v := card.Get("overall_automatability"); v.Exists() && v.Type == gjson.Number {
		score := v.Float()
		overall := score
		sum.Score = &score
		sum.OverallScore = &overall
	}
	var tags []string
	if v := card.Get("three_year_feasibility_pct"); v.Exists() {
		tags = append(tags, "3yr_feasibility:"+scalar(v)+"%")
	}
	if v := card.Get("task_formalization"); v.Exists() {
		tags = append(tags, "task_formalization:"+scalar(v)+"/4")
	}
	if v := card.Get("data_resource_availability"); v.Exists() {
		tags = append(tags, "data_availability:"+scalar(v)+"/4")
	}
	sum.Tags = strings.Join(tags, ",")
	return sum
}

func scalar(v gjson.Result) string {
	if v.Type == gjson.Number {
		return v.Raw
	}
	return v.String()
}

// PaperScore averages the positive scorecard dimensions stored in content.
// The feasibility percentage is scaled to the 0-4 range. The second return
// is false when content carries no scorecard object.
func PaperScore(content string) (float64, bool) {
	if !gjson.Valid(content) {
		return 0, false
	}
	card := gjson.Get(content, "scorecard")
	if !card.IsObject() {
		return 0, false
	}
	var values []float64
	for _, key := range scoreDimensions {
		if v := card.Get(key); v.Type == gjson.Number && v.Float() > 0 {
			values = append(values, v.Float())
		}
	}
	if v := card.Get("three_year_feasibility_pct"); v.Type == gjson.Number && v.Float() > 0 {
		values = append(values, v.Float()/25)
	}
	if v := card.Get("overall_automatability"); v.Type == gjson.Number && v.Float() > 0 {
		values = append(values, v.Float())
	}
	if len(values) == 0 {
		return 0, true
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values)), true
}
