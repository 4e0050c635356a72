package config

import "time"

// Config represents the complete gitea-relay configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Monitors   MonitorsConfig   `yaml:"monitors"`
	Deliveries DeliveriesConfig `yaml:"deliveries"`
	Sender     SenderConfig     `yaml:"sender"`
	Admin      AdminConfig      `yaml:"admin,omitempty"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// WebhookConfig defines the inbound Gitea listener.
type WebhookConfig struct {
	Listen          string `yaml:"listen"`
	Path            string `yaml:"path"`
	EventHeader     string `yaml:"event_header"`
	SignatureHeader string `yaml:"signature_header"`
	DeliveryHeader  string `yaml:"delivery_header"`
	// MaxBodySize accepts plain bytes or a KB/MB/GB suffix, e.g. "1MB".
	MaxBodySize         string        `yaml:"max_body_size"`
	DispatchTimeout     time.Duration `yaml:"dispatch_timeout"`
	NotifyUnknownEvents bool          `yaml:"notify_unknown_events"`
	// RateLimitPerMin caps requests per client IP. 0 disables the limiter.
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	// Enable only behind a reverse proxy that sets those headers.
	TrustProxy bool `yaml:"trust_proxy"`
}

// MonitorsConfig locates the monitored repository list.
type MonitorsConfig struct {
	Path string `yaml:"path"`
}

// DeliveriesConfig defines the delivery audit log.
type DeliveriesConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// SenderConfig selects and configures the chat platform adapter.
type SenderConfig struct {
	Kind        string        `yaml:"kind"` // onebot | webhook | log
	URL         string        `yaml:"url"`
	Token       string        `yaml:"token,omitempty"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// AdminConfig defines the administrative HTTP API.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// Token has every scope.
	Token string `yaml:"token"`
	// Tokens are additional scoped tokens, e.g. read-only for dashboards.
	Tokens []AdminToken `yaml:"tokens,omitempty"`
}

// AdminToken is a bearer token limited to Scopes.
type AdminToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Sender kinds.
const (
	SenderOneBot  = "onebot"
	SenderWebhook = "webhook"
	SenderLog     = "log"
)

// Defaults returns a Config with the documented defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "gitea-relay",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Webhook: WebhookConfig{
			Listen:          "0.0.0.0:8765",
			Path:            "/webhook",
			EventHeader:     "X-Gitea-Event",
			SignatureHeader: "X-Gitea-Signature",
			DeliveryHeader:  "X-Gitea-Delivery",
			MaxBodySize:     "1MB",
			DispatchTimeout: 10 * time.Second,
		},
		Monitors: MonitorsConfig{
			Path: "./data/monitors.json",
		},
		Deliveries: DeliveriesConfig{
			Enabled:   true,
			Path:      "./data/deliveries.db",
			Retention: 30 * 24 * time.Hour,
		},
		Sender: SenderConfig{
			Kind:        SenderLog,
			Timeout:     5 * time.Second,
			MaxAttempts: 3,
		},
		Admin: AdminConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8766",
		},
	}
}
