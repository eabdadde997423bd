package httpd

import (
	"time"

	"merchant_backend/internal/domain"
)

type CreateTransactionReq struct {
	IntentID   string `json:"intentId" validate:"required"`
	Ref        string `json:"ref" validate:"required,max=40"`
	Amount     int64  `json:"amount" validate:"required,gt=0"`
	TTLMinutes int    `json:"ttlMinutes" validate:"omitempty,min=1,max=1440"`
}

type ConfirmTransactionReq struct {
	CardID    string `json:"cardId" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

type SettlementReq struct {
	Outcome string `json:"outcome" validate:"required,oneof=success failure"`
}

type CreateTransactionResp struct {
	ID           string    `json:"id"`
	IntentID     string    `json:"intentId"`
	Ref          string    `json:"ref"`
	No           int64     `json:"no"`
	TenantName   string    `json:"tenantName"`
	Amount       int64     `json:"amount"`
	Status       string    `json:"status"`
	ExpiresAt    time.Time `json:"expiresAt"`
	EMVCoPayload string    `json:"emvcoPayload"`
	Signature    string    `json:"signature"`
}

type TxItem struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	IntentID    string     `json:"intentId"`
	Ref         string     `json:"ref"`
	No          int64      `json:"no"`
	Amount      int64      `json:"amount"`
	Status      string     `json:"status"`
	CardID      *string    `json:"cardId,omitempty"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

func toTxItem(t domain.Transaction) TxItem {
	return TxItem{
		ID:          t.ID,
		TenantID:    t.TenantID,
		IntentID:    t.IntentID,
		Ref:         t.Ref,
		No:          t.No,
		Amount:      t.AmountMinor,
		Status:      string(t.Status),
		CardID:      t.CardID,
		ExpiresAt:   t.ExpiresAt,
		CreatedAt:   t.CreatedAt,
		ConfirmedAt: t.ConfirmedAt,
		ProcessedAt: t.ProcessedAt,
	}
}
