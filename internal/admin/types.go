package admin

import (
	"time"

	"github.com/mattjoyce/gitea-relay/internal/delivery"
)

// Summary is a monitor without its secret.
type Summary struct {
	RepoURL   string    `json:"repo_url"`
	RepoPath  string    `json:"repo_path"`
	Group     string    `json:"group_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AddRequest is the body of POST /monitors.
type AddRequest struct {
	RepoURL string `json:"repo_url"`
	Secret  string `json:"secret"`
	Group   string `json:"group_id"`
}

// MonitorResponse is returned by POST and DELETE /monitors. Warning is set
// when the change is live but could not be saved.
type MonitorResponse struct {
	Monitor Summary `json:"monitor"`
	Warning string  `json:"warning,omitempty"`
}

// ListResponse is the body of GET /monitors.
type ListResponse struct {
	Monitors []Summary `json:"monitors"`
	Count    int       `json:"count"`
}

// DeliveriesResponse is the body of GET /deliveries.
type DeliveriesResponse struct {
	Deliveries []delivery.Record `json:"deliveries"`
	Count      int               `json:"count"`
}

// Info is the body of GET /info.
type Info struct {
	WebhookURL  string    `json:"webhook_url"`
	Monitors    int       `json:"monitors"`
	Steps       []string  `json:"steps"`
	Commands    []string  `json:"commands"`
	Notes       []string  `json:"notes"`
	GeneratedAt time.Time `json:"generated_at"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	Monitors      int    `json:"monitors"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error string `json:"error"`
}
