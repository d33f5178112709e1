package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/me/os3/internal/config"
	"github.com/me/os3/internal/kernel"
	"github.com/me/os3/pkg/model"
)

// maxConsoleBytes bounds the application output returned by POST /runs.
const maxConsoleBytes = 64 << 10

type createRunRequest struct {
	Apps []config.AppSpec `json:"apps"`
}

type createRunResponse struct {
	Run             *model.Run    `json:"run"`
	Events          []model.Event `json:"events"`
	Output          string        `json:"output"`
	OutputTruncated bool          `json:"output_truncated,omitempty"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts := model.DefaultListOptions()
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid query",
				model.FieldError{Field: "limit", Message: "expected integer"}))
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid query",
				model.FieldError{Field: "offset", Message: "expected integer"}))
			return
		}
		opts.Offset = n
	}
	opts.State = model.RunState(q.Get("state"))
	if apiErr := opts.Validate(); apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	opts.Clamp()

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		s.respondInternal(w, reqID, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	respondList(w, reqID, runs, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.respondInternal(w, reqID, "failed to get run", err)
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("Run", id))
		return
	}
	respondOK(w, reqID, run)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if !s.runExists(w, r, reqID, id) {
		return
	}
	events, err := s.store.ListEvents(r.Context(), id)
	if err != nil {
		s.respondInternal(w, reqID, "failed to list events", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	respondOK(w, reqID, events)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if !s.runExists(w, r, reqID, id) {
		return
	}
	tasks, err := s.store.ListTasks(r.Context(), id)
	if err != nil {
		s.respondInternal(w, reqID, "failed to list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []model.TaskSnapshot{}
	}
	respondOK(w, reqID, tasks)
}

// runExists writes the error response and returns false when id names no run.
func (s *Server) runExists(w http.ResponseWriter, r *http.Request, reqID, id string) bool {
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.respondInternal(w, reqID, "failed to get run", err)
		return false
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("Run", id))
		return false
	}
	return true
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req createRunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}

	cfg := config.DefaultKernelConfig()
	cfg.Apps = req.Apps
	if apiErr := s.validateRun(cfg); apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	select {
	case s.runs <- struct{}{}:
		defer func() { <-s.runs }()
	default:
		respondError(w, reqID, http.StatusConflict, &model.APIError{
			Code:    model.ErrConflict,
			Message: "another run is in progress",
		})
		return
	}

	console := &cappedBuffer{limit: maxConsoleBytes}
	k, err := kernel.New(cfg, kernel.Deps{
		Store:    s.store,
		Tracer:   s.tracer,
		Registry: s.registry,
		Console:  console,
		Logger:   s.logger.With("request_id", reqID),
	})
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RunTimeout)
	defer cancel()
	report, err := k.Run(ctx)
	if report == nil {
		s.respondInternal(w, reqID, "failed to run kernel", err)
		return
	}
	if err != nil {
		s.logger.Warn("run aborted", "run_id", report.RunID, "error", err, "request_id", reqID)
	}

	out, truncated := console.result()
	respondCreated(w, reqID, createRunResponse{
		Run:             report.Run(),
		Events:          report.Events,
		Output:          out,
		OutputTruncated: truncated,
	})
}

func (s *Server) validateRun(cfg config.KernelConfig) *model.APIError {
	if len(cfg.Apps) == 0 {
		return model.NewValidationError("no applications",
			model.FieldError{Field: "apps", Message: "at least one application is required"})
	}
	if len(cfg.Apps) > model.MaxAppNum {
		return model.NewValidationError("too many applications",
			model.FieldError{Field: "apps", Message: "at most " + strconv.Itoa(model.MaxAppNum) + " applications"})
	}
	var details []model.FieldError
	for i, app := range cfg.Apps {
		if app.ScriptFile != "" && !s.config.AllowScriptFiles {
			details = append(details, model.FieldError{
				Field:   "apps[" + strconv.Itoa(i) + "].script_file",
				Message: "script files are disabled on this server",
			})
		}
	}
	if err := cfg.Validate(); err != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				details = append(details, model.FieldError{Message: e.Error()})
			}
		} else {
			details = append(details, model.FieldError{Message: err.Error()})
		}
	}
	if len(details) > 0 {
		return model.NewValidationError("invalid application list", details...)
	}
	return nil
}

// cappedBuffer keeps the first limit bytes written to it and drops the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - b.buf.Len()
	if room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) result() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String(), b.truncated
}
