package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"remotedev/internal/api"
	"remotedev/internal/config"
	"remotedev/internal/logging"
	"remotedev/internal/services"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil
	}
	srv := &apiServer{bind: bind, logger: logger, daemon: d}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.API.Token),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, s.authorize(token, h))
	}
	handle("GET /api/status", s.handleStatus)
	handle("POST /api/event/ingest", s.handleIngest)
	handle("POST /api/event/clarify", s.handleClarify)
	handle("GET /api/pending", s.handlePending)
	handle("POST /api/pending/{id}/respond", s.handleRespond)
	handle("POST /api/pending/{id}/approve", s.handleApprove)
	handle("GET /api/queues", s.handleQueues)
	handle("GET /api/tasks/{id}", s.handleTask)
	handle("POST /api/prwait", s.handleRegisterPR)
	handle("GET /api/workflows", s.handleWorkflows)
	handle("POST /api/workitem", s.handleCreateWorkItem)
	handle("GET /api/workitems", s.handleListWorkItems)
	handle("GET /api/workitem/{id}", s.handleGetWorkItem)
	handle("DELETE /api/workitem/{id}", s.handleDeleteWorkItem)
	handle("POST /api/workitem/{id}/approve", s.handleWorkItemApproval)
	handle("POST /api/workflow/event", s.handleWorkflowEvent)
	return mux
}

// authorize requires "Authorization: Bearer <token>" when token is set.
func (s *apiServer) authorize(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	want := []byte(token)
	return func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized", "validation")
			return
		}
		next(w, r)
	}
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req api.IngestRequest
	if !s.decode(w, r, &req) {
		return
	}
	env, err := s.daemon.Ingest(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "queued",
		"event_id": env.ID,
		"queue":    "queue:" + env.Task.CurrentStage,
	})
}

type clarifyRequest struct {
	EventID  string `json:"event_id"`
	Response string `json:"response"`
}

func (s *apiServer) handleClarify(w http.ResponseWriter, r *http.Request) {
	var req clarifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.resumeClarification(w, r, req.EventID, req.Response)
}

func (s *apiServer) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req api.ClarificationRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.resumeClarification(w, r, r.PathValue("id"), req.Response)
}

func (s *apiServer) resumeClarification(w http.ResponseWriter, r *http.Request, id, response string) {
	env, err := s.daemon.ResumeClarification(r.Context(), id, response)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromEnvelope(env))
}

func (s *apiServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req api.ApprovalRequest
	if !s.decode(w, r, &req) {
		return
	}
	env, err := s.daemon.ResumeApproval(r.Context(), r.PathValue("id"), req.Approved, req.Comment)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromEnvelope(env))
}

func (s *apiServer) handlePending(w http.ResponseWriter, r *http.Request) {
	items, err := s.daemon.Pending(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pending_items": items, "counts": api.CountPending(items)})
}

func (s *apiServer) handleQueues(w http.ResponseWriter, r *http.Request) {
	head, _ := strconv.Atoi(r.URL.Query().Get("head"))
	queues, err := s.daemon.ListQueues(r.Context(), head)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"queues": queues})
}

func (s *apiServer) handleTask(w http.ResponseWriter, r *http.Request) {
	found, err := s.daemon.Show(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, found)
}

func (s *apiServer) handleRegisterPR(w http.ResponseWriter, r *http.Request) {
	var req api.PRWaitRequest
	if !s.decode(w, r, &req) {
		return
	}
	reg, err := s.daemon.RegisterPRWait(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.PendingFromRegistration(reg))
}

func (s *apiServer) handleWorkflows(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"workflows": s.daemon.Workflows()})
}

func (s *apiServer) handleCreateWorkItem(w http.ResponseWriter, r *http.Request) {
	var req api.CreateWorkItemRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.daemon.CreateWorkItem(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *apiServer) handleListWorkItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.daemon.ListWorkItems(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"work_items": api.FromWorkItems(items)})
}

func (s *apiServer) handleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.daemon.GetWorkItem(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *apiServer) handleDeleteWorkItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed, err := s.daemon.DeleteWorkItem(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if !removed {
		s.writeError(w, http.StatusNotFound, "work item "+id+" not found", "not_found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleWorkItemApproval(w http.ResponseWriter, r *http.Request) {
	var req api.ApprovalRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.daemon.SubmitApproval(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleWorkflowEvent(w http.ResponseWriter, r *http.Request) {
	var req api.WorkflowEventRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.daemon.HandleEvent(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "validation")
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch services.Kind(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "transition":
		return http.StatusConflict
	case "external_service", "external_timeout":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log().Error("api request failed", logging.Error(err))
	}
	s.writeError(w, status, err.Error(), services.Kind(err))
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message, kind string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: kind})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}
