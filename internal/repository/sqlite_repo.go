package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"merchant_backend/internal/domain"

	_ "modernc.org/sqlite"
)

type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(dsn string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA foreign_keys = ON;")
	db.Exec("PRAGMA journal_mode = WAL;")
	db.Exec("PRAGMA busy_timeout = 5000;")

	r := &SQLiteRepo{db: db}
	if err := r.migrate(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepo) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS transactions(
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			intent_id TEXT NOT NULL,
			ref TEXT NOT NULL,
			seq_no INTEGER NOT NULL,
			amount_minor INTEGER NOT NULL,
			status TEXT NOT NULL,
			emvco_payload TEXT NOT NULL,
			signature TEXT NOT NULL,
			card_id TEXT,
			expires_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			confirmed_at TEXT,
			processed_at TEXT,
			UNIQUE(tenant_id, intent_id)
		);

		CREATE INDEX IF NOT EXISTS idx_tx_tenant ON transactions(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_tx_status ON transactions(status);

		CREATE TABLE IF NOT EXISTS tenants(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS tenant_sequences(
			tenant_id TEXT PRIMARY KEY,
			next_no INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS webhook_endpoints(
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			url TEXT NOT NULL,
			events TEXT NOT NULL,
			secret TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_webhook_tenant ON webhook_endpoints(tenant_id);
	`
	_, err := r.db.Exec(schema)
	return err
}

// InsertTransaction persists a new CREATED transaction. A second insert with
// the same (tenant_id, intent_id) fails with domain.ErrDuplicateIntent; the
// caller is expected to read back the winner.
func (r *SQLiteRepo) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	q := `
		INSERT INTO transactions(
			id,
			tenant_id,
			intent_id,
			ref,
			seq_no,
			amount_minor,
			status,
			emvco_payload,
			signature,
			card_id,
			expires_at,
			created_at,
			confirmed_at,
			processed_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`

	_, err := r.db.ExecContext(
		ctx, q,
		t.ID,
		t.TenantID,
		t.IntentID,
		t.Ref,
		t.No,
		t.AmountMinor,
		string(t.Status),
		t.EMVCoPayload,
		t.Signature,
		t.CardID,
		t.ExpiresAt.UTC().Format(time.RFC3339Nano),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
		nil,
		nil,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return domain.ErrDuplicateIntent
	}

	return err
}

func (r *SQLiteRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, selectTx+` WHERE id = ?`, id)
	return scanTx(row)
}

func (r *SQLiteRepo) GetByIntent(ctx context.Context, tenantID, intentID string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, selectTx+` WHERE tenant_id = ? AND intent_id = ?`, tenantID, intentID)
	return scanTx(row)
}

// StatusFields are the columns optionally written alongside a transition.
type StatusFields struct {
	CardID      *string
	ConfirmedAt *time.Time
	ProcessedAt *time.Time
}

// UpdateStatus performs the conditional transition from -> to. It reports
// true only when this call moved the row; a false result means the stored
// status no longer equals from (a concurrent writer won). Pairs outside the
// lifecycle table never reach the database.
func (r *SQLiteRepo) UpdateStatus(ctx context.Context, id string, from, to domain.TxStatus, fields StatusFields) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("transition %s -> %s not allowed: %w", from, to, domain.ErrConflict)
	}

	q := `UPDATE transactions SET status = ?`
	args := []any{string(to)}

	if fields.CardID != nil {
		q += ", card_id = ?"
		args = append(args, *fields.CardID)
	}
	if fields.ConfirmedAt != nil {
		q += ", confirmed_at = ?"
		args = append(args, fields.ConfirmedAt.UTC().Format(time.RFC3339Nano))
	}
	if fields.ProcessedAt != nil {
		q += ", processed_at = ?"
		args = append(args, fields.ProcessedAt.UTC().Format(time.RFC3339Nano))
	}

	q += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(from))

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}

	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}

// NextSequence allocates the next tenant-scoped sequence number, starting at 1.
func (r *SQLiteRepo) NextSequence(ctx context.Context, tenantID string) (int64, error) {
	q := `
		INSERT INTO tenant_sequences(tenant_id, next_no) VALUES(?, 1)
		ON CONFLICT(tenant_id) DO UPDATE SET next_no = next_no + 1
		RETURNING next_no
	`
	var no int64
	if err := r.db.QueryRowContext(ctx, q, tenantID).Scan(&no); err != nil {
		return 0, err
	}
	return no, nil
}

func (r *SQLiteRepo) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	var active int
	err := r.db.QueryRowContext(ctx, `SELECT id, name, active FROM tenants WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Active = active == 1
	return &t, nil
}

// UpsertTenant exists for the external tenant-administration surface and tests.
func (r *SQLiteRepo) UpsertTenant(ctx context.Context, t domain.Tenant) error {
	q := `
		INSERT INTO tenants(id, name, active) VALUES(?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active
	`
	active := 0
	if t.Active {
		active = 1
	}
	_, err := r.db.ExecContext(ctx, q, t.ID, t.Name, active)
	return err
}

func (r *SQLiteRepo) ListWebhookEndpoints(ctx context.Context, tenantID string) ([]domain.WebhookEndpoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, url, events, secret, active FROM webhook_endpoints WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.WebhookEndpoint
	for rows.Next() {
		var ep domain.WebhookEndpoint
		var events string
		var active int
		if err := rows.Scan(&ep.ID, &ep.TenantID, &ep.URL, &events, &ep.Secret, &active); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(events), &ep.Events); err != nil {
			return nil, fmt.Errorf("parse endpoint events: %w", err)
		}
		ep.Active = active == 1
		res = append(res, ep)
	}

	return res, rows.Err()
}

// UpsertWebhookEndpoint exists for the external admin surface and tests.
func (r *SQLiteRepo) UpsertWebhookEndpoint(ctx context.Context, ep domain.WebhookEndpoint) error {
	events, err := json.Marshal(ep.Events)
	if err != nil {
		return err
	}
	active := 0
	if ep.Active {
		active = 1
	}
	q := `
		INSERT INTO webhook_endpoints(id, tenant_id, url, events, secret, active)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			events = excluded.events,
			secret = excluded.secret,
			active = excluded.active
	`
	_, err = r.db.ExecContext(ctx, q, ep.ID, ep.TenantID, ep.URL, string(events), ep.Secret, active)
	return err
}

type TxFilter struct {
	TenantID string
	IntentID string
	Status   domain.TxStatus
}

func (r *SQLiteRepo) ListTransactions(ctx context.Context, f TxFilter, limit, offset int) ([]domain.Transaction, error) {
	q := selectTx + ` WHERE 1 = 1`
	args := []any{}

	if f.TenantID != "" {
		q += " AND tenant_id = ?"
		args = append(args, f.TenantID)
	}

	if f.IntentID != "" {
		q += " AND intent_id = ?"
		args = append(args, f.IntentID)
	}

	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}

		res = append(res, *t)
	}

	return res, rows.Err()
}

const selectTx = `
	SELECT
		id,
		tenant_id,
		intent_id,
		ref,
		seq_no,
		amount_minor,
		status,
		emvco_payload,
		signature,
		card_id,
		expires_at,
		created_at,
		confirmed_at,
		processed_at
	FROM transactions`

func scanTx(scanner interface {
	Scan(dest ...any) error
}) (*domain.Transaction, error) {
	var t domain.Transaction
	var status string
	var expiresStr, createdStr string
	var confirmedStr, processedStr *string

	if err := scanner.Scan(
		&t.ID,
		&t.TenantID,
		&t.IntentID,
		&t.Ref,
		&t.No,
		&t.AmountMinor,
		&status,
		&t.EMVCoPayload,
		&t.Signature,
		&t.CardID,
		&expiresStr,
		&createdStr,
		&confirmedStr,
		&processedStr,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	t.Status = domain.TxStatus(status)

	var err error
	if t.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresStr); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if confirmedStr != nil {
		ts, err := time.Parse(time.RFC3339Nano, *confirmedStr)
		if err != nil {
			return nil, fmt.Errorf("parse confirmed_at: %w", err)
		}
		t.ConfirmedAt = &ts
	}
	if processedStr != nil {
		ts, err := time.Parse(time.RFC3339Nano, *processedStr)
		if err != nil {
			return nil, fmt.Errorf("parse processed_at: %w", err)
		}
		t.ProcessedAt = &ts
	}

	return &t, nil
}
