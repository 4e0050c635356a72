// Package notify delivers formatted messages to chat groups.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mattjoyce/gitea-relay/internal/config"
)

//go:generate mockgen -destination=mocks/mock_sender.go -package=mocks github.com/mattjoyce/gitea-relay/internal/notify Sender

// Sender posts text to a destination group.
type Sender interface {
	Send(ctx context.Context, group, text string) error
}

// ErrRejected marks a permanent failure: the platform refused the message
// and repeating it will not help.
var ErrRejected = errors.New("message rejected")

// New builds the sender described by cfg, wrapped in retries when
// cfg.MaxAttempts > 1.
func New(cfg config.SenderConfig, logger *slog.Logger) (Sender, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	client := &http.Client{Timeout: cfg.Timeout}

	var s Sender
	switch cfg.Kind {
	case config.SenderOneBot:
		s = NewOneBot(cfg.URL, cfg.Token, client)
	case config.SenderWebhook:
		s = NewWebhook(cfg.URL, cfg.Token, client)
	case config.SenderLog, "":
		return NewLog(logger), nil
	default:
		return nil, fmt.Errorf("unknown sender kind %q", cfg.Kind)
	}

	if cfg.MaxAttempts > 1 {
		s = NewRetrying(s, cfg.MaxAttempts, logger)
	}
	return s, nil
}
