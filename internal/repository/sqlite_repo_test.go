package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"merchant_backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	repo, err := NewSQLiteRepo(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestTx(id, tenantID, intentID string) *domain.Transaction {
	now := time.Now().UTC()
	return &domain.Transaction{
		ID:           id,
		TenantID:     tenantID,
		IntentID:     intentID,
		Ref:          "ORD-1",
		No:           1,
		AmountMinor:  1500,
		Status:       domain.StatusCreated,
		EMVCoPayload: "000201...",
		Signature:    "sig",
		ExpiresAt:    now.Add(time.Hour),
		CreatedAt:    now,
	}
}

func TestInsertTransactionDuplicateIntent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertTransaction(ctx, newTestTx("tx-1", "t1", "I1")))

	err := repo.InsertTransaction(ctx, newTestTx("tx-2", "t1", "I1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateIntent)

	// Same intent under another tenant is a different transaction.
	assert.NoError(t, repo.InsertTransaction(ctx, newTestTx("tx-3", "t2", "I1")))
}

func TestGetByIDNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetByIntentRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	in := newTestTx("tx-1", "t1", "I1")
	require.NoError(t, repo.InsertTransaction(ctx, in))

	out, err := repo.GetByIntent(ctx, "t1", "I1")
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.AmountMinor, out.AmountMinor)
	assert.Equal(t, domain.StatusCreated, out.Status)
	assert.Nil(t, out.CardID)
	assert.Nil(t, out.ConfirmedAt)
	assert.WithinDuration(t, in.ExpiresAt, out.ExpiresAt, time.Millisecond)
}

func TestUpdateStatusCAS(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertTransaction(ctx, newTestTx("tx-1", "t1", "I1")))

	cardID := "C1"
	now := time.Now().UTC()
	won, err := repo.UpdateStatus(ctx, "tx-1", domain.StatusCreated, domain.StatusConfirmed, StatusFields{
		CardID:      &cardID,
		ConfirmedAt: &now,
	})
	require.NoError(t, err)
	assert.True(t, won)

	// The stored status no longer equals CREATED, so the same transition loses.
	won, err = repo.UpdateStatus(ctx, "tx-1", domain.StatusCreated, domain.StatusConfirmed, StatusFields{})
	require.NoError(t, err)
	assert.False(t, won)

	out, err := repo.GetByID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, out.Status)
	require.NotNil(t, out.CardID)
	assert.Equal(t, "C1", *out.CardID)
	require.NotNil(t, out.ConfirmedAt)
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertTransaction(ctx, newTestTx("tx-1", "t1", "I1")))

	// CREATED -> PROCESSED skips CONFIRMED and must be refused before any SQL runs.
	won, err := repo.UpdateStatus(ctx, "tx-1", domain.StatusCreated, domain.StatusProcessed, StatusFields{})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.False(t, won)

	won, err = repo.UpdateStatus(ctx, "tx-1", domain.StatusExpired, domain.StatusCreated, StatusFields{})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.False(t, won)

	out, err := repo.GetByID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, out.Status)
}

func TestNextSequencePerTenant(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		no, err := repo.NextSequence(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, want, no)
	}

	no, err := repo.NextSequence(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), no)
}

func TestTenantRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.GetTenant(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.UpsertTenant(ctx, domain.Tenant{ID: "t1", Name: "Toko Kopi Senja", Active: true}))

	tenant, err := repo.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Toko Kopi Senja", tenant.Name)
	assert.True(t, tenant.Active)
}

func TestWebhookEndpointsRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertWebhookEndpoint(ctx, domain.WebhookEndpoint{
		ID:       "ep-1",
		TenantID: "t1",
		URL:      "https://example.com/hook",
		Events:   []string{domain.EventTransactionCreated, domain.EventTransactionConfirmed},
		Secret:   "whsec",
		Active:   true,
	}))
	require.NoError(t, repo.UpsertWebhookEndpoint(ctx, domain.WebhookEndpoint{
		ID:       "ep-2",
		TenantID: "t2",
		URL:      "https://other.example.com/hook",
		Events:   []string{domain.EventTransactionCreated},
		Secret:   "whsec2",
		Active:   false,
	}))

	eps, err := repo.ListWebhookEndpoints(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "ep-1", eps[0].ID)
	assert.True(t, eps[0].Active)
	assert.True(t, eps[0].Subscribed(domain.EventTransactionConfirmed))
	assert.False(t, eps[0].Subscribed(domain.EventTransactionCancelled))
}

func TestListTransactionsFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertTransaction(ctx, newTestTx("tx-1", "t1", "I1")))
	require.NoError(t, repo.InsertTransaction(ctx, newTestTx("tx-2", "t1", "I2")))
	require.NoError(t, repo.InsertTransaction(ctx, newTestTx("tx-3", "t2", "I1")))

	items, err := repo.ListTransactions(ctx, TxFilter{TenantID: "t1"}, 50, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = repo.ListTransactions(ctx, TxFilter{TenantID: "t1", IntentID: "I2"}, 50, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "tx-2", items[0].ID)

	items, err = repo.ListTransactions(ctx, TxFilter{Status: domain.StatusConfirmed}, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}
