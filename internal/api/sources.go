package api

import (
	"fmt"
	"net/http"
	"newsq/internal/domain"
	"strings"

	"github.com/go-chi/chi/v5"
)

type createSourceReq struct {
	Name                 string `json:"name"`
	ListingURL           string `json:"listing_url"`
	URLPattern           string `json:"url_pattern"`
	FetchIntervalMinutes int    `json:"fetch_interval_minutes"`
	IsActive             *bool  `json:"is_active"`
}

func (s *Server) createSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceReq
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.fail(w, r, fmt.Errorf("%w: name is required", domain.ErrInvalidInput))
		return
	}
	if err := domain.ValidateSourceURL(req.ListingURL); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.FetchIntervalMinutes < 0 {
		s.fail(w, r, fmt.Errorf("%w: fetch_interval_minutes must be positive", domain.ErrInvalidInput))
		return
	}

	src := &domain.Source{
		Name:                 strings.TrimSpace(req.Name),
		ListingURL:           strings.TrimSpace(req.ListingURL),
		URLPattern:           req.URLPattern,
		FetchIntervalMinutes: req.FetchIntervalMinutes,
		IsActive:             req.IsActive == nil || *req.IsActive,
	}
	if err := s.deps.Sources.CreateSource(r.Context(), src); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.deps.Sources.ListSources(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sources == nil {
		sources = []domain.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.deps.Sources.GetSource(r.Context(), chi.URLParam(r, "sourceID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) updateSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sourceID")
	var body map[string]any
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	updates, err := sourceUpdates(body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Sources.UpdateSource(r.Context(), id, updates); err != nil {
		s.fail(w, r, err)
		return
	}
	s.getSource(w, r)
}

// sourceUpdates checks the types of a PATCH body.
func sourceUpdates(body map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(body))
	for k, v := range body {
		switch k {
		case "name", "url_pattern":
			str, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a string", domain.ErrInvalidInput, k)
			}
			out[k] = str
		case "listing_url":
			str, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: listing_url must be a string", domain.ErrInvalidInput)
			}
			if err := domain.ValidateSourceURL(str); err != nil {
				return nil, err
			}
			out[k] = strings.TrimSpace(str)
		case "fetch_interval_minutes":
			f, ok := v.(float64)
			if !ok || f < 1 || f != float64(int(f)) {
				return nil, fmt.Errorf("%w: fetch_interval_minutes must be a positive integer", domain.ErrInvalidInput)
			}
			out[k] = int(f)
		case "is_active":
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: is_active must be a boolean", domain.ErrInvalidInput)
			}
			out[k] = b
		default:
			return nil, fmt.Errorf("%w: field %q cannot be updated", domain.ErrInvalidInput, k)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", domain.ErrInvalidInput)
	}
	return out, nil
}

func (s *Server) deleteSource(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sources.DeleteSource(r.Context(), chi.URLParam(r, "sourceID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sourceID")
	active, err := s.deps.Sources.ToggleSource(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": active})
}
