// Package admin manages the monitor set at runtime: add, remove, list, and
// setup help, plus a read view of recent deliveries. Server exposes it over
// a bearer-token HTTP API and Client is what the CLI talks to.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mattjoyce/gitea-relay/internal/delivery"
	"github.com/mattjoyce/gitea-relay/internal/events"
	"github.com/mattjoyce/gitea-relay/internal/monitor"
)

// ErrDeliveriesDisabled is returned by Deliveries when no delivery log is
// configured.
var ErrDeliveriesDisabled = errors.New("delivery log disabled")

// MonitorStore is the write side of the monitor store.
type MonitorStore interface {
	Add(repoURL, secret, group string) (monitor.Entry, error)
	Remove(repoURL string) (monitor.Entry, error)
	List() []monitor.Entry
	Len() int
}

// DeliveryLister reads the delivery log.
type DeliveryLister interface {
	Recent(ctx context.Context, limit int) ([]delivery.Record, error)
}

// WebhookInfo describes where Gitea should send deliveries.
type WebhookInfo struct {
	Listen string
	Path   string
}

// Service implements the admin operations. Secrets never leave it.
type Service struct {
	store      MonitorStore
	deliveries DeliveryLister
	webhook    WebhookInfo
	hub        *events.Hub
}

type ServiceOption func(*Service)

// WithEvents publishes monitor changes to hub and enables GET /events.
func WithEvents(hub *events.Hub) ServiceOption {
	return func(s *Service) { s.hub = hub }
}

// NewService builds a Service. deliveries may be nil.
func NewService(store MonitorStore, deliveries DeliveryLister, webhook WebhookInfo, opts ...ServiceOption) *Service {
	s := &Service{store: store, deliveries: deliveries, webhook: webhook}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) publish(eventType string, sum Summary) {
	if s.hub != nil {
		s.hub.Publish(eventType, sum)
	}
}

func summarize(e monitor.Entry) Summary {
	return Summary{
		RepoURL:   e.RepoURL,
		RepoPath:  e.Path(),
		Group:     e.Group,
		CreatedAt: e.CreatedAt,
	}
}

// Add registers a repository. On monitor.ErrPersist the returned Summary is
// valid: the monitor is live but was not written to disk.
func (s *Service) Add(repoURL, secret, group string) (Summary, error) {
	e, err := s.store.Add(repoURL, secret, group)
	if err != nil && !errors.Is(err, monitor.ErrPersist) {
		return Summary{}, err
	}
	sum := summarize(e)
	s.publish(events.TypeMonitorAdded, sum)
	return sum, err
}

// Remove unregisters a repository. As with Add, a monitor.ErrPersist error
// comes with a valid Summary of the removed entry.
func (s *Service) Remove(repoURL string) (Summary, error) {
	e, err := s.store.Remove(repoURL)
	if err != nil && !errors.Is(err, monitor.ErrPersist) {
		return Summary{}, err
	}
	sum := summarize(e)
	s.publish(events.TypeMonitorRemoved, sum)
	return sum, err
}

func (s *Service) List() []Summary {
	entries := s.store.List()
	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, summarize(e))
	}
	return out
}

// Deliveries returns the most recent delivery outcomes, newest first.
func (s *Service) Deliveries(ctx context.Context, limit int) ([]delivery.Record, error) {
	if s.deliveries == nil {
		return nil, ErrDeliveriesDisabled
	}
	return s.deliveries.Recent(ctx, limit)
}

// Info returns setup help for configuring a Gitea webhook.
func (s *Service) Info() Info {
	port := "8765"
	if _, p, err := net.SplitHostPort(s.webhook.Listen); err == nil && p != "" {
		port = p
	}
	path := s.webhook.Path
	if path == "" {
		path = "/webhook"
	}

	return Info{
		WebhookURL: fmt.Sprintf("http://<server-address>:%s%s", port, path),
		Monitors:   s.store.Len(),
		Steps: []string{
			"Open the repository settings in Gitea and go to Webhooks",
			"Add a new Gitea webhook",
			"Set the target URL to the webhook URL above",
			"Set the secret to the one registered with 'monitor add'",
			"Select the Push, Pull Request and Issues events",
			"Save the webhook",
		},
		Commands: []string{
			"gitea-relay monitor add <repo_url> <secret> <group_id>",
			"gitea-relay monitor list",
			"gitea-relay monitor remove <repo_url>",
			"gitea-relay monitor info",
			"gitea-relay delivery list",
		},
		Notes: []string{
			fmt.Sprintf("Port %s must be reachable from the Gitea server", port),
			"The secret must match the one in the Gitea webhook settings",
			"group_id is the numeric id of the target chat group",
		},
		GeneratedAt: time.Now().UTC(),
	}
}
