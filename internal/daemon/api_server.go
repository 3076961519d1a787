package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"tonearm/internal/api"
	"tonearm/internal/apikeys"
	"tonearm/internal/audio"
	"tonearm/internal/config"
	"tonearm/internal/gateway"
	"tonearm/internal/logging"
	"tonearm/internal/queue"
)

const maxRequestBody = 64 << 10

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// convertRequest accepts youtube_url as an alias of url.
type convertRequest struct {
	URL        string `json:"url"`
	YouTubeURL string `json:"youtube_url"`
	Format     string `json:"format"`
}

type createKeyRequest struct {
	Label string `json:"label"`
}

type keyView struct {
	Key       string `json:"key"`
	Label     string `json:"label,omitempty"`
	CreatedAt string `json:"createdAt"`
	ExpiresAt string `json:"expiresAt"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}
	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(cfg *config.Config) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/convert", s.handleConvert).Methods(http.MethodPost)
	router.HandleFunc("/status/{id}", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/files/{token}", s.handleFile).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/jobs", authMiddleware(cfg.Paths.APIToken, s.handleJobs)).Methods(http.MethodGet)
	router.HandleFunc("/api/jobs/{id}/history", authMiddleware(cfg.Paths.APIToken, s.handleHistory)).Methods(http.MethodGet)
	router.HandleFunc("/api/notifications/test", authMiddleware(cfg.Paths.APIToken, s.handleTestNotification)).Methods(http.MethodPost)

	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(basicAuth(cfg.Admin.Username, cfg.Admin.Password))
	admin.HandleFunc("/keys", s.handleListKeys).Methods(http.MethodGet)
	admin.HandleFunc("/keys", s.handleCreateKey).Methods(http.MethodPost)
	admin.HandleFunc("/keys/{key}", s.handleRevokeKey).Methods(http.MethodDelete)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return router
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
	s.listener = nil
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sub := api.Submission{URL: req.URL, Format: req.Format}
	if strings.TrimSpace(sub.URL) == "" {
		sub.URL = req.YouTubeURL
	}
	if strings.TrimSpace(sub.Format) == "" {
		sub.Format = string(audio.MP3)
	}

	handle, err := s.daemon.gateway.Submit(r.Context(), credential(r), sub)
	if err != nil {
		switch gateway.ReasonOf(err) {
		case gateway.ReasonUnauthorized:
			writeJSONError(w, http.StatusUnauthorized, err.Error())
		case gateway.ReasonInvalidURL, gateway.ReasonUnsupportedFormat:
			writeJSONError(w, http.StatusBadRequest, err.Error())
		default:
			s.log().Error("submit failed", logging.Error(err), logging.String(logging.FieldEventType, "submit_failed"))
			writeJSONError(w, http.StatusInternalServerError, "failed to enqueue job")
		}
		return
	}
	if handle.StatusURL == "" {
		handle.StatusURL = "/status/" + handle.ID
	}
	w.Header().Set("Location", handle.StatusURL)
	s.writeJSON(w, http.StatusAccepted, handle)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.daemon.service.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, api.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: view})
}

func (s *apiServer) handleFile(w http.ResponseWriter, r *http.Request) {
	if s.daemon.files == nil {
		writeJSONError(w, http.StatusNotFound, "file downloads are not served by this instance")
		return
	}
	s.daemon.files.ServeFile(w, r, mux.Vars(r)["token"])
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	deps := make([]api.DependencyStatus, len(status.Dependencies))
	for i, dep := range status.Dependencies {
		deps[i] = api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Dependencies: deps,
	}
	code := http.StatusOK
	if !status.Running {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, payload)
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		status, ok := queue.ParseStatus(trimmed)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", trimmed))
			return
		}
		statuses = append(statuses, status)
	}

	jobs, err := s.daemon.service.List(r.Context(), statuses...)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.SortJobsNewestFirst(jobs)})
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.daemon.service.History(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, api.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"transitions": history})
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	sent, message, err := s.daemon.TestNotification(r.Context())
	if err != nil {
		logging.WarnWithContext(s.log(), "test notification failed", "notification_test_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
		)
		writeJSONError(w, http.StatusBadGateway, message)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sent": sent, "message": message})
}

func (s *apiServer) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.daemon.keys.List(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]keyView, 0, len(keys))
	for _, key := range keys {
		views = append(views, toKeyView(key))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"keys": views})
}

func (s *apiServer) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	key, err := s.daemon.keys.Create(r.Context(), req.Label)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log().Info("api key issued",
		logging.String("label", key.Label),
		logging.String("expires_at", key.ExpiresAt.Format(time.RFC3339)),
		logging.String(logging.FieldEventType, "api_key_created"),
	)
	s.writeJSON(w, http.StatusCreated, toKeyView(key))
}

func (s *apiServer) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	err := s.daemon.keys.Revoke(r.Context(), mux.Vars(r)["key"])
	if errors.Is(err, apikeys.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "api key not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log().Info("api key revoked", logging.String(logging.FieldEventType, "api_key_revoked"))
	w.WriteHeader(http.StatusNoContent)
}

func toKeyView(key apikeys.Key) keyView {
	return keyView{
		Key:       key.Key,
		Label:     key.Label,
		CreatedAt: key.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt: key.ExpiresAt.UTC().Format(time.RFC3339),
	}
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

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	return logging.NewComponentLogger(s.logger, "api-server")
}
