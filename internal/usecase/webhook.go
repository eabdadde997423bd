package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"merchant_backend/internal/domain"
	"merchant_backend/internal/event"
	"merchant_backend/internal/metrics"
	"merchant_backend/internal/repository"
	"merchant_backend/internal/signature"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// SignatureHeader carries the hex HMAC-SHA256 of the exact request body,
// computed with the receiving endpoint's secret.
const SignatureHeader = "X-Webhook-Signature"

// WebhookDispatcher delivers lifecycle events to the tenant's subscribed
// endpoints. Deliveries run concurrently and independently: one endpoint
// failing or timing out never delays or fails another, and never reaches the
// transaction operation that emitted the event. Failures are logged and
// dropped; there is no retry queue.
type WebhookDispatcher struct {
	repo    *repository.SQLiteRepo
	client  *http.Client
	sem     *semaphore.Weighted
	timeout time.Duration
}

func NewWebhookDispatcher(repo *repository.SQLiteRepo, timeout time.Duration, maxConcurrent int64) *WebhookDispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &WebhookDispatcher{
		repo:    repo,
		client:  &http.Client{},
		sem:     semaphore.NewWeighted(maxConcurrent),
		timeout: timeout,
	}
}

type envelope struct {
	Event  string    `json:"event"`
	Data   any       `json:"data"`
	SentAt time.Time `json:"sentAt"`
}

// Handle is the bus subscription entry point.
func (d *WebhookDispatcher) Handle(ctx context.Context, ev event.Event) {
	endpoints, err := d.repo.ListWebhookEndpoints(ctx, ev.TenantID)
	if err != nil {
		log.Error().Err(err).
			Str("tenant_id", ev.TenantID).
			Str("event", ev.Name).
			Msg("load webhook endpoints failed")
		return
	}

	sentAt := time.Now().UTC()
	for _, ep := range endpoints {
		if !ep.Active || !ep.Subscribed(ev.Name) {
			continue
		}

		if err := d.sem.Acquire(ctx, 1); err != nil {
			log.Warn().Err(err).Str("url", ep.URL).Msg("webhook slot acquire failed")
			return
		}
		ep := ep
		go func() {
			defer d.sem.Release(1)
			d.deliver(ev, ep, sentAt)
		}()
	}
}

func (d *WebhookDispatcher) deliver(ev event.Event, ep domain.WebhookEndpoint, sentAt time.Time) {
	body, err := json.Marshal(envelope{Event: ev.Name, Data: ev.Data, SentAt: sentAt})
	if err != nil {
		log.Error().Err(err).Str("event", ev.Name).Msg("marshal webhook envelope")
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		return
	}

	sig := signature.Sign(string(body), ep.Secret)

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("url", ep.URL).Msg("build webhook request")
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sig)

	resp, err := d.client.Do(req)
	if err != nil {
		log.Warn().Err(err).
			Str("url", ep.URL).
			Str("event", ev.Name).
			Msg("webhook delivery failed, dropped")
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		log.Warn().
			Int("status", resp.StatusCode).
			Str("url", ep.URL).
			Str("event", ev.Name).
			Msg("webhook target rejected delivery, dropped")
		metrics.WebhookDeliveriesTotal.WithLabelValues("rejected").Inc()
		return
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
}
