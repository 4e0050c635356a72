package webhook

import (
	"fmt"

	"github.com/mattjoyce/gitea-relay/internal/config"
)

// FromGlobalConfig converts config.WebhookConfig to webhook.Config.
func FromGlobalConfig(wc config.WebhookConfig) (Config, error) {
	maxBodySize := int64(DefaultMaxBodySize)
	if wc.MaxBodySize != "" {
		n, err := config.ParseSize(wc.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("invalid max_body_size %q: %w", wc.MaxBodySize, err)
		}
		maxBodySize = n
	}

	cfg := Config{
		Listen:              wc.Listen,
		Path:                wc.Path,
		EventHeader:         wc.EventHeader,
		SignatureHeader:     wc.SignatureHeader,
		DeliveryHeader:      wc.DeliveryHeader,
		MaxBodySize:         maxBodySize,
		DispatchTimeout:     wc.DispatchTimeout,
		NotifyUnknownEvents: wc.NotifyUnknownEvents,
		RateLimitPerMin:     wc.RateLimitPerMin,
		TrustProxy:          wc.TrustProxy,
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.EventHeader == "" {
		c.EventHeader = DefaultEventHeader
	}
	if c.SignatureHeader == "" {
		c.SignatureHeader = DefaultSignatureHeader
	}
	if c.DeliveryHeader == "" {
		c.DeliveryHeader = DefaultDeliveryHeader
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
	return c
}
