package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/types"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type countingSink struct {
	kind     string
	mu       sync.Mutex
	attempts int
	failFor  int // fail this many attempts before succeeding
}

func (s *countingSink) Kind() string { return s.kind }

func (s *countingSink) Deliver(_ context.Context, _ types.Alert, _ types.AlertRule, _ types.SinkConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failFor {
		return errors.New("delivery refused")
	}
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func ruleWith(actions ...types.SinkConfig) types.AlertRule {
	return types.AlertRule{
		ID:       "rule-1",
		Name:     "high cpu",
		Severity: types.SeverityHigh,
		Actions:  actions,
		Enabled:  true,
	}
}

func TestNotifyDeliversToEachActionSink(t *testing.T) {
	store := metrics.NewMemoryStore(clock.NewFake(testStart))
	n := New(store, 0, time.Millisecond)

	webhook := &countingSink{kind: "webhook"}
	email := &countingSink{kind: "email"}
	n.RegisterSink(webhook)
	n.RegisterSink(email)

	n.Notify(context.Background(), types.Alert{ID: "a1"}, ruleWith(
		types.SinkConfig{Kind: "webhook"},
		types.SinkConfig{Kind: "email"},
	))

	assert.Equal(t, 1, webhook.count())
	assert.Equal(t, 1, email.count())
	assert.Empty(t, store.Query(metrics.Filter{Name: "notification_failure_count"}))
}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	store := metrics.NewMemoryStore(clock.NewFake(testStart))
	n := New(store, 3, time.Millisecond)

	sink := &countingSink{kind: "webhook", failFor: 2}
	n.RegisterSink(sink)

	n.Notify(context.Background(), types.Alert{ID: "a1"}, ruleWith(types.SinkConfig{Kind: "webhook"}))

	assert.Equal(t, 3, sink.count())
	assert.Empty(t, store.Query(metrics.Filter{Name: "notification_failure_count"}))
}

func TestNotifyRecordsFinalFailure(t *testing.T) {
	store := metrics.NewMemoryStore(clock.NewFake(testStart))
	n := New(store, 1, time.Millisecond)

	sink := &countingSink{kind: "webhook", failFor: 99}
	n.RegisterSink(sink)

	n.Notify(context.Background(), types.Alert{ID: "a1"}, ruleWith(types.SinkConfig{Kind: "webhook"}))

	assert.Equal(t, 2, sink.count()) // first try + one retry
	failures := store.Query(metrics.Filter{Name: "notification_failure_count"})
	require.Len(t, failures, 1)
	assert.Equal(t, types.SystemOwner, failures[0].OwnerID)
	assert.Equal(t, "webhook", failures[0].Labels["sink"])
	assert.Equal(t, "high cpu", failures[0].Labels["rule"])
}

func TestNotifyIsolatesSinkFailures(t *testing.T) {
	store := metrics.NewMemoryStore(clock.NewFake(testStart))
	n := New(store, 0, time.Millisecond)

	broken := &countingSink{kind: "webhook", failFor: 99}
	healthy := &countingSink{kind: "email"}
	n.RegisterSink(broken)
	n.RegisterSink(healthy)

	n.Notify(context.Background(), types.Alert{ID: "a1"}, ruleWith(
		types.SinkConfig{Kind: "webhook"},
		types.SinkConfig{Kind: "email"},
	))

	assert.Equal(t, 1, healthy.count())
	assert.Len(t, store.Query(metrics.Filter{Name: "notification_failure_count"}), 1)
}

func TestNotifySkipsUnknownSinkKind(t *testing.T) {
	store := metrics.NewMemoryStore(clock.NewFake(testStart))
	n := New(store, 0, time.Millisecond)

	// No sink registered for "pager": no panic, no failure metric.
	n.Notify(context.Background(), types.Alert{ID: "a1"}, ruleWith(types.SinkConfig{Kind: "pager"}))
	assert.Empty(t, store.Query(metrics.Filter{Name: "notification_failure_count"}))
}

func TestWebhookSinkPostsPayload(t *testing.T) {
	var gotAuth string
	var payload webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(nil)
	err := sink.Deliver(context.Background(),
		types.Alert{ID: "a1", Value: 95},
		ruleWith(),
		types.SinkConfig{Kind: "webhook", Settings: map[string]string{
			"url":   srv.URL,
			"token": "hook-token",
		}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer hook-token", gotAuth)
	assert.Equal(t, "a1", payload.Alert.ID)
	assert.Equal(t, "high cpu", payload.Rule.Name)
}

func TestWebhookSinkErrors(t *testing.T) {
	sink := NewWebhookSink(nil)

	err := sink.Deliver(context.Background(), types.Alert{}, ruleWith(), types.SinkConfig{Kind: "webhook"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err = sink.Deliver(context.Background(), types.Alert{}, ruleWith(),
		types.SinkConfig{Kind: "webhook", Settings: map[string]string{"url": srv.URL}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
}
