package domain

import "time"

type TxStatus string

const (
	StatusCreated   TxStatus = "CREATED"
	StatusConfirmed TxStatus = "CONFIRMED"
	StatusProcessed TxStatus = "PROCESSED"
	StatusRejected  TxStatus = "REJECTED"
	StatusExpired   TxStatus = "EXPIRED"
	StatusCancelled TxStatus = "CANCELLED"
)

// transitions is the canonical allow-list. Everything not listed is terminal.
var transitions = map[TxStatus][]TxStatus{
	StatusCreated:   {StatusConfirmed, StatusExpired, StatusCancelled},
	StatusConfirmed: {StatusProcessed, StatusRejected},
}

func (s TxStatus) CanTransitionTo(next TxStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s TxStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

type Transaction struct {
	ID           string
	TenantID     string
	IntentID     string
	Ref          string
	No           int64
	AmountMinor  int64
	Status       TxStatus
	EMVCoPayload string
	Signature    string
	CardID       *string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	ConfirmedAt  *time.Time
	ProcessedAt  *time.Time
}

type Tenant struct {
	ID     string
	Name   string
	Active bool
}
