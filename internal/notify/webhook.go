package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Webhook posts {"group": ..., "text": ...} to a generic HTTP endpoint.
type Webhook struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhook(url, token string, client *http.Client) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &Webhook{url: url, token: token, client: client}
}

type webhookMessage struct {
	Group string `json:"group"`
	Text  string `json:"text"`
}

func (w *Webhook) Send(ctx context.Context, group, text string) error {
	payload, err := json.Marshal(webhookMessage{Group: group, Text: text})
	if err != nil {
		return fmt.Errorf("marshal webhook message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build webhook request: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return statusError("webhook", resp.StatusCode)
}

// Log writes messages to the logger instead of a chat platform.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Send(ctx context.Context, group, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "notification", "group", group, "text", text)
	return nil
}
