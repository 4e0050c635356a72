package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// OneBot sends group messages through a OneBot v11 HTTP endpoint
// (go-cqhttp, NapCat, Lagrange and similar QQ bridges).
type OneBot struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewOneBot(baseURL, token string, client *http.Client) *OneBot {
	if client == nil {
		client = http.DefaultClient
	}
	return &OneBot{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

type oneBotRequest struct {
	GroupID int64  `json:"group_id"`
	Message string `json:"message"`
}

type oneBotResponse struct {
	Status  string `json:"status"`
	RetCode int    `json:"retcode"`
	Message string `json:"message"`
	Wording string `json:"wording"`
}

// Send posts to {baseURL}/send_group_msg. OneBot group ids are numeric;
// anything else is rejected without a network call.
func (o *OneBot) Send(ctx context.Context, group, text string) error {
	groupID, err := strconv.ParseInt(strings.TrimSpace(group), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: onebot group id %q is not numeric", ErrRejected, group)
	}

	payload, err := json.Marshal(oneBotRequest{GroupID: groupID, Message: text})
	if err != nil {
		return fmt.Errorf("marshal onebot request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/send_group_msg", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build onebot request: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("onebot request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read onebot response: %w", err)
	}
	if err := statusError("onebot", resp.StatusCode); err != nil {
		return err
	}

	var out oneBotResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decode onebot response: %w", err)
	}
	switch out.Status {
	case "ok", "async":
		return nil
	default:
		reason := out.Wording
		if reason == "" {
			reason = out.Message
		}
		return fmt.Errorf("%w: onebot status %q retcode %d: %s", ErrRejected, out.Status, out.RetCode, reason)
	}
}

// statusError maps HTTP status codes onto the retry policy: 5xx, 408 and 429
// are transient, other non-2xx codes are permanent.
func statusError(platform string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500, code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return fmt.Errorf("%s returned HTTP %d", platform, code)
	default:
		return fmt.Errorf("%w: %s returned HTTP %d", ErrRejected, platform, code)
	}
}
