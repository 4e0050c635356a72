package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/gitea-relay/internal/auth"
	"github.com/mattjoyce/gitea-relay/internal/delivery"
	"github.com/mattjoyce/gitea-relay/internal/events"
	"github.com/mattjoyce/gitea-relay/internal/monitor"
)

const maxRequestBody = 64 << 10

// Config holds admin API server configuration.
type Config struct {
	Listen string
	// Token is the full-access bearer token.
	Token string
	// Tokens are optional scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Server is the admin HTTP API.
type Server struct {
	config    Config
	service   *Service
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

func NewServer(config Config, service *Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		config:    config,
		service:   service,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("admin server starting", "listen", s.config.Listen, "scoped_tokens", len(s.config.Tokens))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("admin server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("admin server error: %w", err)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeMonitorsRead)).Get("/monitors", s.handleList)
		r.With(s.requireScopes(auth.ScopeMonitorsWrite)).Post("/monitors", s.handleAdd)
		r.With(s.requireScopes(auth.ScopeMonitorsWrite)).Delete("/monitors", s.handleRemove)
		r.With(s.requireScopes(auth.ScopeMonitorsRead)).Get("/info", s.handleInfo)
		r.With(s.requireScopes(auth.ScopeDeliveriesRead)).Get("/deliveries", s.handleDeliveries)
		if s.service.hub != nil {
			r.With(s.requireScopes(auth.ScopeDeliveriesRead)).Get("/events", events.Handler(s.service.hub))
		}
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		principal, ok := auth.Authenticate(token, s.config.Token, s.config.Tokens)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !auth.HasAnyScope(principal, scopes...) {
				writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Monitors:      s.service.store.Len(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list := s.service.List()
	writeJSON(w, http.StatusOK, ListResponse{Monitors: list, Count: len(list)})
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RepoURL == "" || req.Secret == "" || req.Group == "" {
		writeError(w, http.StatusBadRequest, "repo_url, secret and group_id are required")
		return
	}

	summary, err := s.service.Add(req.RepoURL, req.Secret, req.Group)
	s.writeMutation(w, r, "add", http.StatusCreated, summary, err)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	repoURL := r.URL.Query().Get("repo_url")
	if repoURL == "" {
		writeError(w, http.StatusBadRequest, "repo_url query parameter is required")
		return
	}

	summary, err := s.service.Remove(repoURL)
	s.writeMutation(w, r, "remove", http.StatusOK, summary, err)
}

func (s *Server) writeMutation(w http.ResponseWriter, r *http.Request, op string, okStatus int, summary Summary, err error) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	switch {
	case err == nil:
		s.logger.Info("monitor "+op, "repo_path", summary.RepoPath, "group", summary.Group, "principal", principal.Name)
		writeJSON(w, okStatus, MonitorResponse{Monitor: summary})
	case errors.Is(err, monitor.ErrPersist):
		// applied in memory, so the caller must know it is live
		s.logger.Error("monitor "+op+" not persisted", "repo_path", summary.RepoPath, "error", err)
		writeJSON(w, http.StatusInternalServerError, MonitorResponse{
			Monitor: summary,
			Warning: "change is active but could not be saved; it will be lost on restart",
		})
	case errors.Is(err, monitor.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, monitor.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, monitor.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("monitor "+op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Info())
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := delivery.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.service.Deliveries(r.Context(), limit)
	if errors.Is(err, ErrDeliveriesDisabled) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to read deliveries", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read deliveries")
		return
	}
	if records == nil {
		records = []delivery.Record{}
	}
	writeJSON(w, http.StatusOK, DeliveriesResponse{Deliveries: records, Count: len(records)})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
