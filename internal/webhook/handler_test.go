package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/gitea-relay/internal/delivery"
	"github.com/mattjoyce/gitea-relay/internal/event"
	"github.com/mattjoyce/gitea-relay/internal/events"
	"github.com/mattjoyce/gitea-relay/internal/monitor"
	"github.com/mattjoyce/gitea-relay/internal/notify/mocks"
)

func pushPayload(repoURL, fullName string) []byte {
	return []byte(fmt.Sprintf(`{
  "ref": "refs/heads/main",
  "compare_url": "%[1]s/compare/a...b",
  "commits": [{"id": "b", "message": "fix bug"}],
  "repository": {"full_name": %[2]q, "html_url": %[1]q},
  "pusher": {"username": "alice"}
}`, repoURL, fullName))
}

func newStore(t *testing.T) *monitor.Store {
	t.Helper()
	s, err := monitor.Open(filepath.Join(t.TempDir(), "monitors.json"), nil)
	require.NoError(t, err)
	return s
}

type memRecorder struct {
	mu   sync.Mutex
	recs []delivery.Record
	err  error
}

func (m *memRecorder) Record(_ context.Context, rec delivery.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return m.err
}

func TestProcess_Delivered(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := newStore(t)
	_, err := store.Add("http://internal:3000/alice/app", "s3cr3t", "111")
	require.NoError(t, err)

	sender := mocks.NewMockSender(ctrl)
	var sent string
	sender.EXPECT().Send(gomock.Any(), "111", gomock.Any()).DoAndReturn(func(_ context.Context, _ string, text string) error {
		sent = text
		return nil
	})

	rec := &memRecorder{}
	h := NewHandler(store, sender, nil, WithRecorder(rec))

	body := pushPayload("https://ext.example.com/alice/app", "alice/app")
	res := h.Process(context.Background(), Inbound{
		EventType:  "push",
		DeliveryID: "d-1",
		Signature:  Sign(body, "s3cr3t"),
		Body:       body,
	})

	assert.Equal(t, OutcomeDelivered, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, "d-1", res.DeliveryID)
	assert.Equal(t, "alice/app", res.RepoPath)
	assert.Equal(t, "111", res.Group)
	assert.Equal(t, event.KindPush, res.Kind)

	for _, want := range []string{"main", "alice", "Commits: 1", "fix bug"} {
		assert.Contains(t, sent, want)
	}

	require.Len(t, rec.recs, 1)
	assert.Equal(t, delivery.StatusDelivered, rec.recs[0].Status)
	assert.Equal(t, "push", rec.recs[0].Event)
}

func TestProcess_RejectedOutcomes(t *testing.T) {
	store := newStore(t)
	_, err := store.Add("http://internal:3000/alice/app", "s3cr3t", "111")
	require.NoError(t, err)

	body := pushPayload("https://ext.example.com/alice/app", "alice/app")
	other := pushPayload("https://ext.example.com/bob/other", "bob/other")

	tests := []struct {
		name    string
		in      Inbound
		wantErr error
	}{
		{"wrong secret", Inbound{EventType: "push", Signature: Sign(body, "wrong"), Body: body}, errBadSignature},
		{"missing signature", Inbound{EventType: "push", Body: body}, errBadSignature},
		{"garbage signature", Inbound{EventType: "push", Signature: "zz", Body: body}, errBadSignature},
		{"unmonitored repo", Inbound{EventType: "push", Signature: Sign(other, "s3cr3t"), Body: other}, errNotMonitored},
		{"no repository block", Inbound{EventType: "push", Signature: Sign([]byte(`{}`), "s3cr3t"), Body: []byte(`{}`)}, errNotMonitored},
		{"malformed json", Inbound{EventType: "push", Signature: Sign([]byte(`{`), "s3cr3t"), Body: []byte(`{`)}, errNotMonitored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			sender := mocks.NewMockSender(ctrl)
			sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

			rec := &memRecorder{}
			res := NewHandler(store, sender, nil, WithRecorder(rec)).Process(context.Background(), tt.in)

			assert.Equal(t, OutcomeRejected, res.Outcome)
			assert.True(t, errors.Is(res.Err, tt.wantErr), "err = %v", res.Err)
			assert.NotEmpty(t, res.DeliveryID, "a delivery id is generated when Gitea omits one")
			require.Len(t, rec.recs, 1)
			assert.Equal(t, delivery.StatusRejected, rec.recs[0].Status)
		})
	}
	assert.Equal(t, 1, store.Len(), "rejections never change the monitor set")
}

func TestProcess_UnknownEvent(t *testing.T) {
	store := newStore(t)
	_, err := store.Add("https://h/alice/app", "s", "111")
	require.NoError(t, err)
	body := []byte(`{"action":"published","repository":{"full_name":"alice/app","html_url":"https://h/alice/app"}}`)

	t.Run("ignored by default", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		sender := mocks.NewMockSender(ctrl)

		res := NewHandler(store, sender, nil).Process(context.Background(), Inbound{EventType: "release", Signature: Sign(body, "s"), Body: body})
		assert.Equal(t, OutcomeIgnored, res.Outcome)
		assert.Equal(t, event.KindUnknown, res.Kind)
	})

	t.Run("notice when enabled", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		sender := mocks.NewMockSender(ctrl)
		sender.EXPECT().Send(gomock.Any(), "111", "❔ [alice/app] Received unsupported event: release").Return(nil)

		res := NewHandler(store, sender, nil, WithNotifyUnknown(true)).Process(context.Background(), Inbound{EventType: "release", Signature: Sign(body, "s"), Body: body})
		assert.Equal(t, OutcomeDelivered, res.Outcome)
	})
}

func TestProcess_DispatchFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := newStore(t)
	_, err := store.Add("https://h/alice/app", "s", "111")
	require.NoError(t, err)

	sender := mocks.NewMockSender(ctrl)
	sender.EXPECT().Send(gomock.Any(), "111", gomock.Any()).Return(errors.New("platform down"))

	rec := &memRecorder{err: errors.New("disk full")}
	body := pushPayload("https://h/alice/app", "alice/app")
	res := NewHandler(store, sender, nil, WithRecorder(rec)).Process(context.Background(), Inbound{EventType: "push", Signature: Sign(body, "s"), Body: body})

	assert.Equal(t, OutcomeDispatchFailed, res.Outcome)
	assert.EqualError(t, res.Err, "platform down")
	require.Len(t, rec.recs, 1, "recorder failures are logged, not fatal")
	assert.Equal(t, delivery.StatusDispatchFailed, rec.recs[0].Status)
	assert.Equal(t, "platform down", rec.recs[0].Detail)
}

func TestProcess_DispatchTimeoutDetachedFromRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := newStore(t)
	_, err := store.Add("https://h/alice/app", "s", "111")
	require.NoError(t, err)

	sender := mocks.NewMockSender(ctrl)
	sender.EXPECT().Send(gomock.Any(), "111", gomock.Any()).DoAndReturn(func(ctx context.Context, _, _ string) error {
		deadline, ok := ctx.Deadline()
		assert.True(t, ok, "dispatch must carry a deadline")
		assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)
		<-ctx.Done()
		return ctx.Err()
	})

	// request context already cancelled: dispatch still runs until its own timeout
	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()

	body := pushPayload("https://h/alice/app", "alice/app")
	start := time.Now()
	res := NewHandler(store, sender, nil, WithDispatchTimeout(50*time.Millisecond)).
		Process(reqCtx, Inbound{EventType: "push", Signature: Sign(body, "s"), Body: body})

	assert.Equal(t, OutcomeDispatchFailed, res.Outcome)
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestProcess_PublishesOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := newStore(t)
	_, err := store.Add("http://internal:3000/alice/app", "s3cr3t", "111")
	require.NoError(t, err)

	sender := mocks.NewMockSender(ctrl)
	sender.EXPECT().Send(gomock.Any(), "111", gomock.Any()).Return(nil)

	hub := events.NewHub(10)
	h := NewHandler(store, sender, nil, WithPublisher(hub))

	body := pushPayload("https://ext.example.com/alice/app", "alice/app")
	h.Process(context.Background(), Inbound{EventType: "push", DeliveryID: "d-1", Signature: Sign(body, "s3cr3t"), Body: body})
	h.Process(context.Background(), Inbound{EventType: "push", DeliveryID: "d-2", Signature: "bad", Body: body})

	snap := hub.SnapshotSince(0)
	require.Len(t, snap, 2)

	var first, second delivery.Record
	require.NoError(t, json.Unmarshal(snap[0].Data, &first))
	require.NoError(t, json.Unmarshal(snap[1].Data, &second))

	assert.Equal(t, events.TypeDelivery, snap[0].Type)
	assert.Equal(t, "d-1", first.DeliveryID)
	assert.Equal(t, delivery.StatusDelivered, first.Status)
	assert.Equal(t, delivery.StatusRejected, second.Status)
	assert.Equal(t, "signature verification failed", second.Detail)
	assert.NotContains(t, string(snap[1].Data), "s3cr3t")
}
