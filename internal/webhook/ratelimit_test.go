package webhook

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/gitea-relay/internal/config"
)

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(20) // burst 2

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	assert.True(t, rl.Allow("10.0.0.2"), "clients have independent buckets")
}

func TestRateLimiter_MinimumBurst(t *testing.T) {
	rl := NewRateLimiter(1)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := rl.Middleware(next)

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("192.0.2.1:1234").Code)

	// same host, different port
	rec := do("192.0.2.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())

	assert.Equal(t, http.StatusNoContent, do("192.0.2.2:1234").Code)
}

func TestFromGlobalConfig(t *testing.T) {
	cfg, err := FromGlobalConfig(config.WebhookConfig{
		Listen:          "127.0.0.1:9000",
		Path:            "/hooks",
		MaxBodySize:     "2MB",
		RateLimitPerMin: 60,
		TrustProxy:      true,
	})
	assert.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "/hooks", cfg.Path)
	assert.Equal(t, int64(2*1024*1024), cfg.MaxBodySize)
	assert.Equal(t, DefaultEventHeader, cfg.EventHeader)
	assert.Equal(t, DefaultDeliveryHeader, cfg.DeliveryHeader)
	assert.Equal(t, 60, cfg.RateLimitPerMin)
	assert.True(t, cfg.TrustProxy)

	_, err = FromGlobalConfig(config.WebhookConfig{MaxBodySize: "lots"})
	assert.Error(t, err)
}
