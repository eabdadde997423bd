package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"merchant_backend/internal/cards"
	"merchant_backend/internal/domain"
	"merchant_backend/internal/emvco"
	"merchant_backend/internal/event"
	"merchant_backend/internal/metrics"
	"merchant_backend/internal/repository"
	"merchant_backend/internal/signature"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	minTTLMinutes     = 1
	maxTTLMinutes     = 1440
	defaultTTLMinutes = 60
)

type TransactionUsecase struct {
	repo   *repository.SQLiteRepo
	cards  cards.Validator
	bus    *event.Bus
	secret string
	now    func() time.Time
}

func NewTransactionUsecase(repo *repository.SQLiteRepo, validator cards.Validator, bus *event.Bus, secret string) *TransactionUsecase {
	return &TransactionUsecase{
		repo:   repo,
		cards:  validator,
		bus:    bus,
		secret: secret,
		now:    time.Now,
	}
}

type CreateInput struct {
	TenantID    string
	IntentID    string
	Ref         string
	AmountMinor int64
	TTLMinutes  int
}

type CreateOutput struct {
	Transaction *domain.Transaction
	TenantName  string
}

// Create is idempotent on (tenantID, intentID): a retry, sequential or
// concurrent, returns the already-persisted transaction unchanged.
func (u *TransactionUsecase) Create(ctx context.Context, in CreateInput) (*CreateOutput, error) {
	if in.AmountMinor <= 0 {
		return nil, fmt.Errorf("amount must be > 0: %w", domain.ErrValidation)
	}
	if in.IntentID == "" {
		return nil, fmt.Errorf("intentId is required: %w", domain.ErrValidation)
	}
	if in.Ref == "" {
		return nil, fmt.Errorf("ref is required: %w", domain.ErrValidation)
	}

	tenant, err := u.repo.GetTenant(ctx, in.TenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("tenant %s: %w", in.TenantID, domain.ErrNotFound)
		}
		return nil, err
	}

	if existing, err := u.repo.GetByIntent(ctx, in.TenantID, in.IntentID); err == nil {
		return &CreateOutput{Transaction: existing, TenantName: tenant.Name}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	ttl := in.TTLMinutes
	if ttl == 0 {
		ttl = defaultTTLMinutes
	}
	if ttl < minTTLMinutes {
		ttl = minTTLMinutes
	}
	if ttl > maxTTLMinutes {
		ttl = maxTTLMinutes
	}

	no, err := u.repo.NextSequence(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}

	now := u.now().UTC()
	tx := &domain.Transaction{
		ID:          uuid.New().String(),
		TenantID:    in.TenantID,
		IntentID:    in.IntentID,
		Ref:         in.Ref,
		No:          no,
		AmountMinor: in.AmountMinor,
		Status:      domain.StatusCreated,
		ExpiresAt:   now.Add(time.Duration(ttl) * time.Minute),
		CreatedAt:   now,
	}

	payload, err := emvco.Encode(emvco.Payment{
		TransactionID: tx.ID,
		Ref:           tx.Ref,
		SequenceNo:    tx.No,
		MerchantName:  tenant.Name,
		AmountMinor:   tx.AmountMinor,
		ExpiresAt:     tx.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %v: %w", err, domain.ErrValidation)
	}
	tx.EMVCoPayload = payload
	tx.Signature = signature.Sign(tx.EMVCoPayload, u.secret)

	if err := u.repo.InsertTransaction(ctx, tx); err != nil {
		if errors.Is(err, domain.ErrDuplicateIntent) {
			// Lost the creation race; the winner's row is the transaction.
			winner, err := u.repo.GetByIntent(ctx, in.TenantID, in.IntentID)
			if err != nil {
				return nil, err
			}
			return &CreateOutput{Transaction: winner, TenantName: tenant.Name}, nil
		}
		return nil, err
	}

	metrics.TransactionsTotal.WithLabelValues(string(domain.StatusCreated)).Inc()
	u.publish(ctx, domain.EventTransactionCreated, tx)

	return &CreateOutput{Transaction: tx, TenantName: tenant.Name}, nil
}

// Confirm binds a card to a CREATED transaction. The supplied signature must
// match the one issued at creation; the CREATED->CONFIRMED write is
// conditional, so exactly one of two concurrent confirms wins.
func (u *TransactionUsecase) Confirm(ctx context.Context, id, cardID, sig string) (*domain.Transaction, error) {
	tx, err := u.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	tx = u.expireIfNeeded(ctx, tx)
	if tx.Status == domain.StatusExpired {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrExpired)
	}
	if tx.Status != domain.StatusCreated {
		return nil, fmt.Errorf("transaction %s is %s: %w", id, tx.Status, domain.ErrConflict)
	}

	if !signature.Verify(tx.EMVCoPayload, u.secret, sig) {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrSignatureMismatch)
	}

	if err := u.cards.Validate(ctx, tx.TenantID, cardID, tx.AmountMinor); err != nil {
		return nil, err
	}

	now := u.now().UTC()
	won, err := u.repo.UpdateStatus(ctx, id, domain.StatusCreated, domain.StatusConfirmed, repository.StatusFields{
		CardID:      &cardID,
		ConfirmedAt: &now,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("transaction %s already advanced: %w", id, domain.ErrConflict)
	}

	tx.Status = domain.StatusConfirmed
	tx.CardID = &cardID
	tx.ConfirmedAt = &now

	metrics.TransactionsTotal.WithLabelValues(string(domain.StatusConfirmed)).Inc()
	u.publish(ctx, domain.EventTransactionConfirmed, tx)

	return tx, nil
}

// Cancel is accepted only while the transaction is still CREATED.
func (u *TransactionUsecase) Cancel(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := u.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	tx = u.expireIfNeeded(ctx, tx)
	if tx.Status == domain.StatusExpired {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrExpired)
	}
	if tx.Status != domain.StatusCreated {
		return nil, fmt.Errorf("transaction %s is %s: %w", id, tx.Status, domain.ErrConflict)
	}

	won, err := u.repo.UpdateStatus(ctx, id, domain.StatusCreated, domain.StatusCancelled, repository.StatusFields{})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("transaction %s already advanced: %w", id, domain.ErrConflict)
	}

	tx.Status = domain.StatusCancelled
	metrics.TransactionsTotal.WithLabelValues(string(domain.StatusCancelled)).Inc()
	u.publish(ctx, domain.EventTransactionCancelled, tx)

	return tx, nil
}

// Settle records the settlement outcome reported by the external settlement
// callback: success -> PROCESSED, failure -> REJECTED. Valid only from
// CONFIRMED.
func (u *TransactionUsecase) Settle(ctx context.Context, id string, success bool) (*domain.Transaction, error) {
	tx, err := u.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if tx.Status != domain.StatusConfirmed {
		return nil, fmt.Errorf("transaction %s is %s: %w", id, tx.Status, domain.ErrConflict)
	}

	target := domain.StatusProcessed
	if !success {
		target = domain.StatusRejected
	}

	now := u.now().UTC()
	won, err := u.repo.UpdateStatus(ctx, id, domain.StatusConfirmed, target, repository.StatusFields{
		ProcessedAt: &now,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("transaction %s already settled: %w", id, domain.ErrConflict)
	}

	tx.Status = target
	tx.ProcessedAt = &now

	metrics.TransactionsTotal.WithLabelValues(string(target)).Inc()
	u.publish(ctx, domain.EventTransactionProcessed, tx)

	return tx, nil
}

func (u *TransactionUsecase) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := u.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.expireIfNeeded(ctx, tx), nil
}

func (u *TransactionUsecase) List(ctx context.Context, f repository.TxFilter, limit, offset int) ([]domain.Transaction, error) {
	items, err := u.repo.ListTransactions(ctx, f, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i] = *u.expireIfNeeded(ctx, &items[i])
	}
	return items, nil
}

// expireIfNeeded applies lazy expiry on read. The CREATED->EXPIRED write is
// conditional, so transaction.expired fires exactly once no matter how many
// readers race here.
func (u *TransactionUsecase) expireIfNeeded(ctx context.Context, tx *domain.Transaction) *domain.Transaction {
	if tx.Status != domain.StatusCreated || !u.now().After(tx.ExpiresAt) {
		return tx
	}

	won, err := u.repo.UpdateStatus(ctx, tx.ID, domain.StatusCreated, domain.StatusExpired, repository.StatusFields{})
	if err != nil {
		log.Error().Err(err).Str("transaction_id", tx.ID).Msg("expire transition failed")
		return tx
	}

	tx.Status = domain.StatusExpired
	if won {
		metrics.TransactionsTotal.WithLabelValues(string(domain.StatusExpired)).Inc()
		u.publish(ctx, domain.EventTransactionExpired, tx)
	}
	return tx
}

func (u *TransactionUsecase) publish(ctx context.Context, name string, tx *domain.Transaction) {
	u.bus.Publish(ctx, event.Event{
		Name:     name,
		TenantID: tx.TenantID,
		Data:     eventPayload(tx),
	})
}

// eventPayload is the transaction snapshot carried by lifecycle events. The
// signing secret never appears here; the signature itself was already handed
// to the client at creation.
func eventPayload(tx *domain.Transaction) map[string]any {
	p := map[string]any{
		"id":        tx.ID,
		"tenantId":  tx.TenantID,
		"intentId":  tx.IntentID,
		"ref":       tx.Ref,
		"no":        tx.No,
		"amount":    tx.AmountMinor,
		"status":    string(tx.Status),
		"expiresAt": tx.ExpiresAt,
		"createdAt": tx.CreatedAt,
	}
	if tx.CardID != nil {
		p["cardId"] = *tx.CardID
	}
	if tx.ConfirmedAt != nil {
		p["confirmedAt"] = *tx.ConfirmedAt
	}
	if tx.ProcessedAt != nil {
		p["processedAt"] = *tx.ProcessedAt
	}
	return p
}
