package domain

// Lifecycle event names double as routing keys on the broker and as the
// subscription keys on webhook endpoints.
const (
	EventTransactionCreated   = "transaction.created"
	EventTransactionConfirmed = "transaction.confirmed"
	EventTransactionProcessed = "transaction.processed"
	EventTransactionExpired   = "transaction.expired"
	EventTransactionCancelled = "transaction.cancelled"
)
