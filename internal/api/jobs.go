package api

import (
	"errors"
	"net/http"
	"newsq/internal/domain"
	"newsq/internal/usecase"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type submitReq struct {
	SourceURL  string `json:"source_url"`
	MaxRetries *int   `json:"max_retries"`
}

type submitResp struct {
	JobID         string          `json:"job_id"`
	Status        domain.JobState `json:"status"`
	QueuePosition int64           `json:"queue_position"`
	Message       string          `json:"message"`
}

type queueInfo struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type queueStatusResp struct {
	Status          string    `json:"status"`
	MainQueue       queueInfo `json:"main_queue"`
	DeadLetterQueue queueInfo `json:"dead_letter_queue"`
	Delayed         int64     `json:"delayed"`
	Processing      int64     `json:"processing"`
}

type listResp struct {
	Items  []*domain.Job `json:"items"`
	Total  int64         `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
}

type genericResp struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req submitReq
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	rec, err := s.deps.Enqueuer.Now(r.Context(), usecase.Submission{
		SourceURL:      strings.TrimSpace(req.SourceURL),
		MaxRetries:     req.MaxRetries,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			log.Ctx(r.Context()).Info().Str("source_url", req.SourceURL).Msg("duplicate submission rejected")
		}
		s.fail(w, r, err)
		return
	}

	if rec.Replayed {
		writeJSON(w, http.StatusOK, submitResp{
			JobID:   rec.Job.ID,
			Status:  rec.Job.State,
			Message: "Job already submitted with this idempotency key",
		})
		return
	}
	writeJSON(w, http.StatusCreated, submitResp{
		JobID:         rec.Job.ID,
		Status:        rec.Job.State,
		QueuePosition: rec.Position,
		Message:       "Job successfully queued",
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.deps.Lifecycle.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) queueStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Lifecycle.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queueStatusResp{
		Status:          "ok",
		MainQueue:       queueInfo{Name: "main", Count: st.Main + st.Delayed},
		DeadLetterQueue: queueInfo{Name: "dlq", Count: st.DLQ},
		Delayed:         st.Delayed,
		Processing:      st.Processing,
	})
}

func (s *Server) listMain(w http.ResponseWriter, r *http.Request) {
	p := pageParams(r, 50)
	items, total, err := s.deps.Lifecycle.ListMain(r.Context(), p.Offset, p.Limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResp{Items: items, Total: total, Offset: p.Offset, Limit: p.Limit})
}

func (s *Server) listDLQ(w http.ResponseWriter, r *http.Request) {
	p := pageParams(r, 50)
	items, total, err := s.deps.Lifecycle.ListDLQ(r.Context(), p.Offset, p.Limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResp{Items: items, Total: total, Offset: p.Offset, Limit: p.Limit})
}

func (s *Server) requeue(w http.ResponseWriter, r *http.Request) {
	j, err := s.deps.Lifecycle.Requeue(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, genericResp{Status: "success", Message: "Job requeued", ID: j.ID})
}

func (s *Server) requeueAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Lifecycle.RequeueAll(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "requeued": n})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "healthy", "redis": "connected", "database": "disabled"}
	status := http.StatusOK

	if err := s.deps.Lifecycle.Q.Ping(r.Context()); err != nil {
		resp["status"] = "unhealthy"
		resp["redis"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if s.deps.Database != nil {
		resp["database"] = "connected"
		if err := s.deps.Database.Ping(r.Context()); err != nil {
			resp["database"] = "unavailable"
			if status == http.StatusOK {
				resp["status"] = "degraded"
			}
		}
	}
	writeJSON(w, status, resp)
}
