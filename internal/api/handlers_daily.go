package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/daily-papers/internal/papers"
)

func (s *Server) getDaily(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := q.Get("date")
	if date == "" {
		date = q.Get("date_str")
	}
	dir, err := papers.ParseDirection(q.Get("direction"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.daily.GetDaily(r.Context(), date, dir)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) availableDates(w http.ResponseWriter, r *http.Request) {
	dates, err := s.daily.AvailableDates(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available_dates": dates, "count": len(dates)})
}

func (s *Server) cacheStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.daily.CacheStatus(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.daily.ClearCache(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Cache cleared successfully", "deleted": n})
}

func (s *Server) refreshCache(w http.ResponseWriter, r *http.Request) {
	res, err := s.daily.Refresh(r.Context(), chi.URLParam(r, "date"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Cache refreshed for " + res.Date,
		"date":        res.Date,
		"cards_count": res.CardsCount,
	})
}
