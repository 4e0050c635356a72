package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/gitea-relay/internal/monitor"
	"github.com/mattjoyce/gitea-relay/internal/notify"
	"github.com/mattjoyce/gitea-relay/internal/notify/mocks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(store *monitor.Store, sender notify.Sender, cfg Config) http.Handler {
	logger := testLogger()
	h := NewHandler(store, sender, logger)
	return New(cfg, h, store, logger).Handler()
}

func postWebhook(t *testing.T, h http.Handler, event string, body []byte, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if event != "" {
		req.Header.Set("X-Gitea-Event", event)
	}
	req.Header.Set("X-Gitea-Delivery", "delivery-1")
	if secret != "" {
		req.Header.Set("X-Gitea-Signature", Sign(body, secret))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// End-to-end scenarios A-D.
func TestServer_Scenarios(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := newStore(t)
	_, err := store.Add("http://internal:3000/alice/app", "s3cr3t", "111")
	require.NoError(t, err)

	sender := mocks.NewMockSender(ctrl)
	srv := newTestServer(store, sender, Config{})
	body := pushPayload("https://ext.example.com/alice/app", "alice/app")

	// A: valid push from the external host is delivered to the group
	sender.EXPECT().Send(gomock.Any(), "111", gomock.Any()).DoAndReturn(func(_ context.Context, _, text string) error {
		for _, want := range []string{"main", "alice", "Commits: 1", "fix bug"} {
			assert.Contains(t, text, want)
		}
		return nil
	}).Times(1)

	rec := postWebhook(t, srv, "push", body, "s3cr3t")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp DeliveryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "delivered", resp.Status)
	assert.Equal(t, "delivery-1", resp.DeliveryID)

	// B: wrong secret is rejected without dispatch
	rec = postWebhook(t, srv, "push", body, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rejectedBody := rec.Body.String()

	// C: unmonitored repository is rejected identically, set unchanged
	otherBody := pushPayload("https://ext.example.com/bob/other", "bob/other")
	rec = postWebhook(t, srv, "push", otherBody, "s3cr3t")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, rejectedBody, rec.Body.String(), "unknown repo and bad signature must look the same")
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
	assert.Equal(t, 1, store.Len())

	// D: after removal the same delivery is rejected
	_, err = store.Remove("http://internal:3000/alice/app")
	require.NoError(t, err)
	rec = postWebhook(t, srv, "push", body, "s3cr3t")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_DispatchFailureIsAccepted(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := newStore(t)
	_, err := store.Add("https://h/alice/app", "s", "111")
	require.NoError(t, err)

	sender := mocks.NewMockSender(ctrl)
	sender.EXPECT().Send(gomock.Any(), "111", gomock.Any()).Return(notify.ErrRejected)

	rec := postWebhook(t, newTestServer(store, sender, Config{}), "push", pushPayload("https://h/alice/app", "alice/app"), "s")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"dispatch_failed"`)
}

func TestServer_RequestValidation(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := newStore(t)
	sender := mocks.NewMockSender(ctrl)
	srv := newTestServer(store, sender, Config{MaxBodySize: 64})

	t.Run("missing event header", func(t *testing.T) {
		rec := postWebhook(t, srv, "", []byte(`{}`), "s")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("body too large", func(t *testing.T) {
		rec := postWebhook(t, srv, "push", []byte(strings.Repeat("x", 65)), "s")
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("unknown path", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/elsewhere", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_CustomPathAndHeaders(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := newStore(t)
	_, err := store.Add("https://h/alice/app", "s", "111")
	require.NoError(t, err)

	sender := mocks.NewMockSender(ctrl)
	sender.EXPECT().Send(gomock.Any(), "111", gomock.Any()).Return(nil)

	srv := newTestServer(store, sender, Config{Path: "/hooks/gitea", EventHeader: "X-Event", SignatureHeader: "X-Sig"})
	body := pushPayload("https://h/alice/app", "alice/app")

	req := httptest.NewRequest(http.MethodPost, "/hooks/gitea", bytes.NewReader(body))
	req.Header.Set("X-Event", "push")
	req.Header.Set("X-Sig", "sha256="+Sign(body, "s"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Health(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := newStore(t)
	_, err := store.Add("https://h/alice/app", "s", "111")
	require.NoError(t, err)

	srv := newTestServer(store, mocks.NewMockSender(ctrl), Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Monitors)
}

func TestServer_RateLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := newStore(t)
	sender := mocks.NewMockSender(ctrl)

	// 10/min gives a burst of one
	srv := newTestServer(store, sender, Config{RateLimitPerMin: 10})

	first := postWebhook(t, srv, "push", []byte(`{}`), "s")
	assert.Equal(t, http.StatusUnauthorized, first.Code)

	second := postWebhook(t, srv, "push", []byte(`{}`), "s")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// health is not limited
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RateLimitIgnoresForwardedFor(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := newStore(t)
	sender := mocks.NewMockSender(ctrl)

	post := func(h http.Handler, forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
		req.RemoteAddr = "198.51.100.7:4000"
		req.Header.Set("X-Gitea-Event", "push")
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	direct := newTestServer(store, sender, Config{RateLimitPerMin: 10})
	assert.Equal(t, http.StatusUnauthorized, post(direct, "203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, post(direct, "203.0.113.2"), "forwarded header must not reset the limit")

	proxied := newTestServer(store, sender, Config{RateLimitPerMin: 10, TrustProxy: true})
	assert.Equal(t, http.StatusUnauthorized, post(proxied, "203.0.113.1"))
	assert.Equal(t, http.StatusUnauthorized, post(proxied, "203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, post(proxied, "203.0.113.1"))
}

func TestServer_ShutdownCoversDispatch(t *testing.T) {
	short := New(Config{DispatchTimeout: time.Second}, nil, nil, nil)
	assert.Equal(t, minShutdownTimeout, short.shutdownTimeout())

	def := New(Config{}, nil, nil, nil)
	assert.Greater(t, def.shutdownTimeout(), DefaultDispatchTimeout)

	long := New(Config{DispatchTimeout: 30 * time.Second}, nil, nil, nil)
	assert.Equal(t, 31*time.Second, long.shutdownTimeout())
}

// N concurrent deliveries for N repositories produce exactly N dispatches.
func TestServer_ConcurrentDeliveries(t *testing.T) {
	const n = 32

	ctrl := gomock.NewController(t)
	store := newStore(t)
	for i := 0; i < n; i++ {
		_, err := store.Add(fmt.Sprintf("https://h/owner%d/repo", i), fmt.Sprintf("secret-%d", i), fmt.Sprintf("%d", 1000+i))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	sender := mocks.NewMockSender(ctrl)
	sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, group, _ string) error {
		mu.Lock()
		seen[group]++
		mu.Unlock()
		return nil
	}).Times(n)

	srv := newTestServer(store, sender, Config{})

	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := pushPayload(fmt.Sprintf("https://ext/owner%d/repo", i), fmt.Sprintf("owner%d/repo", i))
			req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
			req.Header.Set("X-Gitea-Event", "push")
			req.Header.Set("X-Gitea-Signature", Sign(body, fmt.Sprintf("secret-%d", i)))
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}(i)
	}

	// concurrent admin writes on unrelated paths
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			url := fmt.Sprintf("https://h/churn%d/repo", i)
			if _, err := store.Add(url, "x", "1"); err == nil {
				_, _ = store.Remove(url)
			}
		}
	}()
	wg.Wait()

	for i, code := range codes {
		assert.Equal(t, http.StatusOK, code, "delivery %d", i)
	}
	require.Len(t, seen, n)
	for group, count := range seen {
		assert.Equal(t, 1, count, "group %s", group)
	}
}

func TestFromGlobalConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultPath, cfg.Path)
	assert.Equal(t, int64(DefaultMaxBodySize), cfg.MaxBodySize)
	assert.Equal(t, DefaultDispatchTimeout, cfg.DispatchTimeout)
	assert.Equal(t, DefaultSignatureHeader, cfg.SignatureHeader)
}
