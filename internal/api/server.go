package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/config"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/errs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/jobs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/ratelimit"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/store"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/telemetry"
)

// Server wires HTTP handlers for the review front end.
type Server struct {
	jobs    *jobs.Service
	limiter *ratelimit.TokenBucket
	auth    *ownerAuth
	log     zerolog.Logger
}

// New constructs the API server. limiter may be nil to disable the
// submission rate limit.
func New(cfg config.Config, svc *jobs.Service, limiter *ratelimit.TokenBucket, log *zerolog.Logger) *Server {
	s := &Server{
		jobs:    svc,
		limiter: limiter,
		auth:    newOwnerAuth(cfg.JWTSecret),
		log:     zerolog.Nop(),
	}
	if log != nil {
		s.log = log.With().Str("component", "api").Logger()
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.auth.middleware)
		r.Post("/jobs", s.handleSubmit)
		r.Get("/jobs", s.handleList)
		r.Get("/jobs/{id}", s.handleView)
		r.Patch("/jobs/{id}/overrides", s.handleOverrides)
		r.Post("/jobs/{id}/approve", s.handleApprove)
	})
	return r
}

type submitRequest struct {
	FileName string `json:"file_name"`
	Subject  string `json:"subject"`
}

type submitResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	owner := ownerFrom(r.Context())
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), owner)
		if err != nil {
			s.log.Error().Err(err).Msg("rate limiter")
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	id, err := s.jobs.SubmitJob(r.Context(), req.FileName, req.Subject, owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{ID: id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.jobs.List(r.Context(), ownerFrom(r.Context()), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []models.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	view, err := s.jobs.GetJobView(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleOverrides(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	var overrides models.Overrides
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.jobs.ApplyOverrides(r.Context(), id, overrides); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	if err := s.jobs.Approve(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusReady})
}

// ownedJob resolves the {id} parameter and hides jobs of other owners.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.Job(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return "", false
	}
	if job.OwnerID != ownerFrom(r.Context()) {
		s.writeError(w, errs.NewNotFoundError("job", id))
		return "", false
	}
	return id, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, jobs.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, jobs.ErrNotStarted), errors.Is(err, jobs.ErrStillProcessing):
		code = http.StatusAccepted
	case errors.Is(err, jobs.ErrProcessingFailed):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, jobs.ErrNotEditable), errors.Is(err, store.ErrJobLocked), errors.Is(err, store.ErrStatusConflict):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
