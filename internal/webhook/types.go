package webhook

import (
	"context"
	"time"

	"github.com/mattjoyce/gitea-relay/internal/delivery"
	"github.com/mattjoyce/gitea-relay/internal/monitor"
)

// Monitors is the read side of the monitor store.
type Monitors interface {
	Lookup(repoURL string) (monitor.Entry, bool)
	Len() int
}

// Recorder persists delivery outcomes.
type Recorder interface {
	Record(ctx context.Context, rec delivery.Record) error
}

// Publisher receives delivery outcomes for live subscribers.
type Publisher interface {
	Publish(eventType string, data any)
}

// Config holds webhook server configuration.
type Config struct {
	Listen          string
	Path            string
	EventHeader     string
	SignatureHeader string
	DeliveryHeader  string
	MaxBodySize     int64
	DispatchTimeout time.Duration
	// NotifyUnknownEvents sends a short notice for unsupported event types
	// instead of ignoring them.
	NotifyUnknownEvents bool
	RateLimitPerMin     int
	TrustProxy          bool
}

// DeliveryResponse is the JSON body for accepted deliveries.
type DeliveryResponse struct {
	Status     string `json:"status"`
	DeliveryID string `json:"delivery_id"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON body of GET /healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	Monitors      int    `json:"monitors"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Default values
const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultDispatchTimeout = 10 * time.Second
	DefaultPath            = "/webhook"
	DefaultEventHeader     = "X-Gitea-Event"
	DefaultSignatureHeader = "X-Gitea-Signature"
	DefaultDeliveryHeader  = "X-Gitea-Delivery"
)
