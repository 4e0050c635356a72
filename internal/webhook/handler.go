package webhook

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/gitea-relay/internal/delivery"
	"github.com/mattjoyce/gitea-relay/internal/event"
	"github.com/mattjoyce/gitea-relay/internal/events"
	"github.com/mattjoyce/gitea-relay/internal/format"
	"github.com/mattjoyce/gitea-relay/internal/log"
	"github.com/mattjoyce/gitea-relay/internal/monitor"
	"github.com/mattjoyce/gitea-relay/internal/notify"
)

// Outcome is the terminal state of one delivery.
type Outcome string

const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeDispatchFailed Outcome = "dispatch_failed"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeRejected       Outcome = "rejected"
)

var (
	errNotMonitored   = errors.New("repository not monitored")
	errBadSignature   = errors.New("signature verification failed")
	errUnknownIgnored = errors.New("unsupported event ignored")
)

// Inbound is one webhook request as received.
type Inbound struct {
	EventType  string
	DeliveryID string
	Signature  string
	Body       []byte
}

// Result describes how a delivery ended. Err carries the reason for
// rejected, ignored and dispatch_failed outcomes; it is for logs only and
// must not reach the HTTP response.
type Result struct {
	Outcome    Outcome
	DeliveryID string
	RepoPath   string
	Group      string
	Kind       event.Kind
	Err        error
}

// Handler runs the per-request pipeline: match repository, verify
// signature, parse, format, dispatch. It holds no per-request state and is
// safe for concurrent use.
type Handler struct {
	monitors        Monitors
	sender          notify.Sender
	recorder        Recorder
	publisher       Publisher
	logger          *slog.Logger
	dispatchTimeout time.Duration
	notifyUnknown   bool
}

type HandlerOption func(*Handler)

// WithRecorder stores every outcome in the delivery log.
func WithRecorder(r Recorder) HandlerOption {
	return func(h *Handler) { h.recorder = r }
}

// WithPublisher announces every outcome as an events.TypeDelivery event.
func WithPublisher(p Publisher) HandlerOption {
	return func(h *Handler) { h.publisher = p }
}

func WithDispatchTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.dispatchTimeout = d
		}
	}
}

// WithNotifyUnknown makes unsupported events produce a short notice.
func WithNotifyUnknown(enabled bool) HandlerOption {
	return func(h *Handler) { h.notifyUnknown = enabled }
}

func NewHandler(monitors Monitors, sender notify.Sender, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Handler{
		monitors:        monitors,
		sender:          sender,
		logger:          logger,
		dispatchTimeout: DefaultDispatchTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Process runs one delivery to completion.
//
// The repository is resolved from the payload before the signature can be
// checked, because the secret is per repository. Unknown repository and bad
// signature both end as OutcomeRejected.
//
// Dispatch is detached from ctx cancellation so a dropped Gitea connection
// does not abort an accepted delivery, but it is still bounded by the
// dispatch timeout.
func (h *Handler) Process(ctx context.Context, in Inbound) Result {
	if in.DeliveryID == "" {
		in.DeliveryID = uuid.NewString()
	}
	eventType := strings.ToLower(strings.TrimSpace(in.EventType))
	logger := log.WithDelivery(h.logger, in.DeliveryID).With("event", eventType)

	res := Result{DeliveryID: in.DeliveryID}

	claimed := event.ParseRepository(in.Body).URL()
	res.RepoPath, _ = monitor.RepoPath(claimed)

	entry, ok := h.monitors.Lookup(claimed)
	if !ok {
		res.Outcome, res.Err = OutcomeRejected, errNotMonitored
		logger.Warn("webhook rejected", "reason", "not_monitored", "repo_path", res.RepoPath)
		h.record(ctx, eventType, res)
		return res
	}
	res.Group = entry.Group

	if !VerifySignature(in.Body, in.Signature, entry.Secret) {
		res.Outcome, res.Err = OutcomeRejected, errBadSignature
		logger.Warn("webhook rejected",
			"reason", "bad_signature",
			"repo_path", res.RepoPath,
			"signature_present", in.Signature != "",
		)
		h.record(ctx, eventType, res)
		return res
	}

	ev := event.Parse(eventType, in.Body)
	res.Kind = ev.Kind
	if ev.Kind == event.KindUnknown && !h.notifyUnknown {
		res.Outcome, res.Err = OutcomeIgnored, errUnknownIgnored
		logger.Info("webhook ignored", "repo_path", res.RepoPath, "kind", ev.Kind.String())
		h.record(ctx, eventType, res)
		return res
	}

	text := format.Format(ev)

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.dispatchTimeout)
	defer cancel()

	start := time.Now()
	if err := h.sender.Send(dctx, entry.Group, text); err != nil {
		res.Outcome, res.Err = OutcomeDispatchFailed, err
		logger.Error("notification dispatch failed",
			"repo_path", res.RepoPath,
			"group", entry.Group,
			"kind", ev.Kind.String(),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		h.record(ctx, eventType, res)
		return res
	}

	res.Outcome = OutcomeDelivered
	logger.Info("notification delivered",
		"repo_path", res.RepoPath,
		"group", entry.Group,
		"kind", ev.Kind.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	h.record(ctx, eventType, res)
	return res
}

func (h *Handler) record(ctx context.Context, eventType string, res Result) {
	if h.recorder == nil && h.publisher == nil {
		return
	}

	rec := delivery.Record{
		DeliveryID: res.DeliveryID,
		Event:      eventType,
		RepoPath:   res.RepoPath,
		Group:      res.Group,
		Status:     delivery.Status(res.Outcome),
		ReceivedAt: time.Now().UTC(),
	}
	if res.Err != nil {
		rec.Detail = res.Err.Error()
	}

	if h.publisher != nil {
		h.publisher.Publish(events.TypeDelivery, rec)
	}
	if h.recorder == nil {
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := h.recorder.Record(rctx, rec); err != nil {
		h.logger.Warn("failed to record delivery", "delivery_id", res.DeliveryID, "error", err)
	}
}
