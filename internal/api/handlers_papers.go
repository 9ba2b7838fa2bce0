package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/daily-papers/internal/evaluation"
	"github.com/JakeFAU/daily-papers/internal/papers"
)

const (
	recentEvaluations = 10
	defaultSearchSize = 20
	maxSearchSize     = 100
)

type evalSummary struct {
	ArxivID         string     `json:"arxiv_id"`
	Title           string     `json:"title"`
	Authors         string     `json:"authors,omitempty"`
	EvaluationDate  *time.Time `json:"evaluation_date,omitempty"`
	EvaluationScore *float64   `json:"evaluation_score,omitempty"`
	EvaluationTags  string     `json:"evaluation_tags,omitempty"`
}

func summarize(p papers.Paper) evalSummary {
	return evalSummary{
		ArxivID:         p.ArxivID,
		Title:           p.Title,
		Authors:         p.Authors,
		EvaluationDate:  p.EvaluationDate,
		EvaluationScore: p.EvaluationScore,
		EvaluationTags:  p.EvaluationTags,
	}
}

func (s *Server) paper(w http.ResponseWriter, r *http.Request) (papers.Paper, bool) {
	id := chi.URLParam(r, "arxiv_id")
	p, ok, err := s.papers.GetPaper(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return papers.Paper{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "paper not found")
		return papers.Paper{}, false
	}
	return p, true
}

func (s *Server) paperDetails(w http.ResponseWriter, r *http.Request) {
	p, ok := s.paper(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"arxiv_id":        p.ArxivID,
		"title":           p.Title,
		"authors":         p.Authors,
		"abstract":        p.Abstract,
		"categories":      p.Categories,
		"published_date":  p.PublishedDate,
		"is_evaluated":    p.IsEvaluated,
		"evaluation_date": p.EvaluationDate,
		"created_at":      p.CreatedAt,
		"updated_at":      p.UpdatedAt,
	})
}

func (s *Server) insertPaper(w http.ResponseWriter, r *http.Request) {
	var in papers.PaperInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	required := []struct{ field, value string }{
		{"arxiv_id", in.ArxivID},
		{"title", in.Title},
		{"authors", in.Authors},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			writeError(w, http.StatusBadRequest, "missing required field: "+f.field)
			return
		}
	}
	if err := s.papers.UpsertPaper(r.Context(), in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"message":  "Paper " + in.ArxivID + " inserted successfully",
		"arxiv_id": in.ArxivID,
	})
}

func (s *Server) papersStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.papers.CountsByStatus(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	evaluated, err := s.papers.ListEvaluatedPapers(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if len(evaluated) > recentEvaluations {
		evaluated = evaluated[:recentEvaluations]
	}
	recent := make([]evalSummary, 0, len(evaluated))
	for _, p := range evaluated {
		recent = append(recent, summarize(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"papers_count":       counts,
		"recent_evaluations": recent,
	})
}

func (s *Server) searchPapers(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit := defaultSearchSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSearchSize)
	}
	found, err := s.papers.SearchPapers(r.Context(), query, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "count": len(found), "items": found})
}

func (s *Server) hasEval(w http.ResponseWriter, r *http.Request) {
	p, ok, err := s.papers.GetPaper(r.Context(), chi.URLParam(r, "arxiv_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": ok && p.IsEvaluated})
}

func (s *Server) paperScore(w http.ResponseWriter, r *http.Request) {
	p, ok, err := s.papers.GetPaper(r.Context(), chi.URLParam(r, "arxiv_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !ok || !p.IsEvaluated {
		writeJSON(w, http.StatusOK, map[string]bool{"has_score": false})
		return
	}
	var score *float64
	if v, ok := evaluation.PaperScore(p.EvaluationContent); ok {
		score = &v
	} else if p.OverallScore != nil {
		score = p.OverallScore
	} else {
		score = p.EvaluationScore
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"has_score":       true,
		"score":           score,
		"evaluation_date": p.EvaluationDate,
	})
}

func (s *Server) listEvals(w http.ResponseWriter, r *http.Request) {
	evaluated, err := s.papers.ListEvaluatedPapers(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items := make([]evalSummary, 0, len(evaluated))
	for _, p := range evaluated {
		items = append(items, summarize(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

func (s *Server) getEval(w http.ResponseWriter, r *http.Request) {
	p, ok, err := s.papers.GetPaper(r.Context(), chi.URLParam(r, "arxiv_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !ok || !p.IsEvaluated {
		writeError(w, http.StatusNotFound, "evaluation not found")
		return
	}
	if json.Valid([]byte(p.EvaluationContent)) {
		writeJSON(w, http.StatusOK, json.RawMessage(p.EvaluationContent))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"evaluation_content": p.EvaluationContent,
		"arxiv_id":           p.ArxivID,
		"evaluation_date":    p.EvaluationDate,
		"evaluation_score":   p.EvaluationScore,
		"evaluation_tags":    p.EvaluationTags,
	})
}
