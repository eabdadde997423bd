package usecase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"merchant_backend/internal/domain"
	"merchant_backend/internal/event"
	"merchant_backend/internal/repository"
	"merchant_backend/internal/signature"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receivedDelivery struct {
	body []byte
	sig  string
}

func newDispatcherRepo(t *testing.T) *repository.SQLiteRepo {
	t.Helper()
	repo, err := repository.NewSQLiteRepo(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleEvent() event.Event {
	return event.Event{
		Name:     domain.EventTransactionCreated,
		TenantID: "t1",
		Data:     map[string]any{"id": "tx-1", "amount": int64(1500)},
	}
}

func TestDispatcherSignsAndDelivers(t *testing.T) {
	repo := newDispatcherRepo(t)
	ctx := context.Background()

	received := make(chan receivedDelivery, 1)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- receivedDelivery{body: body, sig: r.Header.Get(SignatureHeader)}
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	require.NoError(t, repo.UpsertWebhookEndpoint(ctx, domain.WebhookEndpoint{
		ID:       "ep-1",
		TenantID: "t1",
		URL:      target.URL,
		Events:   []string{domain.EventTransactionCreated},
		Secret:   "whsec",
		Active:   true,
	}))

	d := NewWebhookDispatcher(repo, 5*time.Second, 8)
	d.Handle(ctx, sampleEvent())

	select {
	case got := <-received:
		assert.True(t, signature.Verify(string(got.body), "whsec", got.sig),
			"signature must cover the exact serialized body")

		var env struct {
			Event  string         `json:"event"`
			Data   map[string]any `json:"data"`
			SentAt time.Time      `json:"sentAt"`
		}
		require.NoError(t, json.Unmarshal(got.body, &env))
		assert.Equal(t, domain.EventTransactionCreated, env.Event)
		assert.Equal(t, "tx-1", env.Data["id"])
		assert.False(t, env.SentAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never arrived")
	}
}

func TestDispatcherFiltersEndpoints(t *testing.T) {
	repo := newDispatcherRepo(t)
	ctx := context.Background()

	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	require.NoError(t, repo.UpsertWebhookEndpoint(ctx, domain.WebhookEndpoint{
		ID: "inactive", TenantID: "t1", URL: target.URL,
		Events: []string{domain.EventTransactionCreated}, Secret: "s", Active: false,
	}))
	require.NoError(t, repo.UpsertWebhookEndpoint(ctx, domain.WebhookEndpoint{
		ID: "wrong-event", TenantID: "t1", URL: target.URL,
		Events: []string{domain.EventTransactionCancelled}, Secret: "s", Active: true,
	}))
	require.NoError(t, repo.UpsertWebhookEndpoint(ctx, domain.WebhookEndpoint{
		ID: "other-tenant", TenantID: "t2", URL: target.URL,
		Events: []string{domain.EventTransactionCreated}, Secret: "s", Active: true,
	}))

	d := NewWebhookDispatcher(repo, time.Second, 8)
	d.Handle(ctx, sampleEvent())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), hits.Load())
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	repo := newDispatcherRepo(t)
	ctx := context.Background()

	received := make(chan receivedDelivery, 1)
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- receivedDelivery{body: body, sig: r.Header.Get(SignatureHeader)}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	// Hangs past the delivery timeout.
	stalled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer stalled.Close()

	erroring := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer erroring.Close()

	for i, url := range []string{stalled.URL, erroring.URL, healthy.URL} {
		require.NoError(t, repo.UpsertWebhookEndpoint(ctx, domain.WebhookEndpoint{
			ID:       []string{"ep-stalled", "ep-erroring", "ep-healthy"}[i],
			TenantID: "t1",
			URL:      url,
			Events:   []string{domain.EventTransactionCreated},
			Secret:   "whsec",
			Active:   true,
		}))
	}

	d := NewWebhookDispatcher(repo, 200*time.Millisecond, 8)

	start := time.Now()
	d.Handle(ctx, sampleEvent())

	// Handle itself must not block on slow targets.
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	select {
	case <-received:
		// Healthy endpoint got its delivery despite the siblings failing.
	case <-time.After(2 * time.Second):
		t.Fatal("healthy endpoint starved by failing siblings")
	}
}

