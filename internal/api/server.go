package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"postforge/internal/logging"
	"postforge/internal/pipeline"
	"postforge/internal/services"
	"postforge/internal/workflow"
)

// StatusSource reports workflow state; *workflow.Manager satisfies it.
type StatusSource interface {
	Status(ctx context.Context) workflow.StatusSummary
}

// QuarantineService lists and restores failure records; *pipeline.Quarantine
// satisfies it.
type QuarantineService interface {
	List(ctx context.Context, st *pipeline.Stage) ([]pipeline.Record, error)
	Requeue(ctx context.Context, st *pipeline.Stage, recordKey string) (string, error)
}

// Options configures a Server.
type Options struct {
	Bind       string
	Status     StatusSource
	Quarantine QuarantineService
	Stages     []*pipeline.Stage
	Logger     *slog.Logger
}

// Server is the operator HTTP endpoint.
type Server struct {
	bind       string
	status     StatusSource
	quarantine QuarantineService
	stages     map[string]*pipeline.Stage
	logger     *slog.Logger

	router   *mux.Router
	listener net.Listener
	server   *http.Server
}

// New builds the server and its routes.
func New(opts Options) (*Server, error) {
	if opts.Status == nil || opts.Quarantine == nil {
		return nil, errors.New("api requires a status source and a quarantine service")
	}
	s := &Server{
		bind:       strings.TrimSpace(opts.Bind),
		status:     opts.Status,
		quarantine: opts.Quarantine,
		stages:     make(map[string]*pipeline.Stage, len(opts.Stages)),
		logger:     logging.NewComponentLogger(opts.Logger, "api"),
	}
	for _, st := range opts.Stages {
		s.stages[st.ID] = st
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/stages/{stage}/quarantine", s.handleQuarantineList).Methods(http.MethodGet)
	r.HandleFunc("/api/stages/{stage}/quarantine/requeue", s.handleRequeue).Methods(http.MethodPost)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router = r
	s.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "api_listening"),
	)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, FromStatusSummary(s.status.Status(r.Context())))
}

func (s *Server) handleQuarantineList(w http.ResponseWriter, r *http.Request) {
	st, ok := s.stageFor(w, r)
	if !ok {
		return
	}
	records, err := s.quarantine.List(r.Context(), st)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	resp := QuarantineListResponse{Stage: st.ID, Records: make([]QuarantineRecord, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, FromRecord(rec))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	st, ok := s.stageFor(w, r)
	if !ok {
		return
	}
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		s.writeError(w, http.StatusBadRequest, "key query parameter is required")
		return
	}
	restored, err := s.quarantine.Requeue(r.Context(), st, key)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrCorrupted):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case restored == "":
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	default:
		s.logger.Warn("requeue left the record behind", logging.String("record_key", key), logging.Error(err))
	}
	s.logger.Info("quarantined item requeued via api",
		logging.String(logging.FieldStage, st.ID),
		logging.String(logging.FieldKey, restored),
		logging.String(logging.FieldEventType, "item_requeued"),
	)
	s.writeJSON(w, http.StatusOK, RequeueResponse{Stage: st.ID, RecordKey: key, Restored: restored})
}

func (s *Server) stageFor(w http.ResponseWriter, r *http.Request) (*pipeline.Stage, bool) {
	id := mux.Vars(r)["stage"]
	st, ok := s.stages[id]
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("stage %q not configured", id))
		return nil, false
	}
	return st, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("write response failed", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
