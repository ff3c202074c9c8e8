package api

import (
	"fmt"
	"io"
	"net/http"
	"newsq/internal/domain"
	"newsq/internal/infra/webhook"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

var articleStatuses = []domain.ArticleStatus{
	domain.ArticleDiscovered, domain.ArticleQueued, domain.ArticleProcessed, domain.ArticleApproved,
	domain.ArticleRejected, domain.ArticleDuplicated, domain.ArticleFailed,
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	p := pageParams(r, 100)
	status := r.URL.Query().Get("status")
	if status != "" && !slices.Contains(articleStatuses, domain.ArticleStatus(status)) {
		s.fail(w, r, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status))
		return
	}
	articles, err := s.deps.Articles.ListArticles(r.Context(), status, p.Offset, p.Limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if articles == nil {
		articles = []domain.Article{}
	}
	writeJSON(w, http.StatusOK, articles)
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Articles.GetArticle(r.Context(), chi.URLParam(r, "articleID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) setArticleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "articleID")
	var req struct {
		Status domain.ArticleStatus `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Articles.SetArticleStatus(r.Context(), id, req.Status); err != nil {
		s.fail(w, r, err)
		return
	}
	s.getArticle(w, r)
}

// storeResult receives the webhook this service sends for completed jobs
// and archives the workflow output.
func (s *Server) storeResult(w http.ResponseWriter, r *http.Request) {
	if s.deps.Articles == nil {
		writeError(w, http.StatusNotFound, "archive not configured")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 16<<20))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	if !webhook.Verify(s.deps.WebhookSecret, body, r.Header, time.Now()) {
		log.Ctx(r.Context()).Warn().Msg("webhook signature rejected")
		writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	var p webhook.Payload
	if err := jsonUnmarshal(body, &p); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := domain.ValidateSourceURL(p.SourceURL); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(p.Data) == 0 || string(p.Data) == "null" {
		s.fail(w, r, fmt.Errorf("%w: data is required", domain.ErrInvalidInput))
		return
	}
	if err := s.deps.Articles.StoreResult(r.Context(), p.SourceURL, p.Data, ""); err != nil {
		s.fail(w, r, err)
		return
	}
	log.Ctx(r.Context()).Info().Str("job_id", p.JobID).Str("source_url", p.SourceURL).Msg("result archived")
	writeJSON(w, http.StatusOK, genericResp{Status: "success", Message: "Result stored", ID: p.JobID})
}
