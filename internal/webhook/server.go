package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const minShutdownTimeout = 5 * time.Second

// Server represents the webhook HTTP server.
type Server struct {
	config   Config
	handler  *Handler
	monitors Monitors
	limiter  *RateLimiter
	logger   *slog.Logger
	server   *http.Server
	started  time.Time
}

// New creates a new webhook server instance.
func New(config Config, handler *Handler, monitors Monitors, logger *slog.Logger) *Server {
	config = config.withDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		config:   config,
		handler:  handler,
		monitors: monitors,
		logger:   logger,
		started:  time.Now(),
	}
	if config.RateLimitPerMin > 0 {
		s.limiter = NewRateLimiter(config.RateLimitPerMin)
	}
	return s
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      s.config.DispatchTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "path", s.config.Path, "monitors", s.monitors.Len())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// shutdownTimeout leaves in-flight deliveries their full dispatch budget.
func (s *Server) shutdownTimeout() time.Duration {
	return max(minShutdownTimeout, s.config.DispatchTimeout+time.Second)
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if s.config.TrustProxy {
		// forwarded headers rewrite RemoteAddr, which the rate limiter keys on
		r.Use(middleware.RealIP)
	}
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Post(s.config.Path, s.handleWebhook)
	})

	return r
}

// loggingMiddleware logs HTTP requests (excludes sensitive payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Monitors:      s.monitors.Len(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

// handleWebhook handles incoming Gitea deliveries.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodySize+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	eventType := r.Header.Get(s.config.EventHeader)
	if eventType == "" {
		respondError(w, http.StatusBadRequest, "missing "+s.config.EventHeader+" header")
		return
	}

	res := s.handler.Process(r.Context(), Inbound{
		EventType:  eventType,
		DeliveryID: r.Header.Get(s.config.DeliveryHeader),
		Signature:  r.Header.Get(s.config.SignatureHeader),
		Body:       body,
	})

	switch res.Outcome {
	case OutcomeDelivered, OutcomeIgnored:
		respondJSON(w, http.StatusOK, DeliveryResponse{Status: string(res.Outcome), DeliveryID: res.DeliveryID})
	case OutcomeDispatchFailed:
		// accepted: Gitea must not redeliver because the chat side failed
		respondJSON(w, http.StatusAccepted, DeliveryResponse{Status: string(res.Outcome), DeliveryID: res.DeliveryID})
	case OutcomeRejected:
		respondError(w, http.StatusUnauthorized, "unauthorized")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
