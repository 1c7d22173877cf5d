package model

import "time"

// Symbolic webhook event types emitted by the provider.
const (
	EventTypeAccountCreated     = "ACCOUNT_CREATED"
	EventTypeKYCCompleted       = "KYC_COMPLETED"
	EventTypeKYCRejected        = "KYC_REJECTED"
	EventTypeAdditionalInfo     = "ADDITIONAL_INFORMATION_REQUIRED"
	EventTypeTransactionSettled = "TRANSACTION_SETTLED"
	EventTypeUnknown            = "UNKNOWN"
)

// CategoryEventTypes maps the provider's legacy numeric category field to a
// symbolic event type. Unmapped codes resolve to UNKNOWN; the raw category is
// preserved on the stored event for offline reconciliation.
var CategoryEventTypes = map[int]string{
	10: EventTypeAccountCreated,
	21: EventTypeKYCCompleted,
	22: EventTypeKYCRejected,
	23: EventTypeAdditionalInfo,
	31: EventTypeTransactionSettled,
}

// EventTypeForCategory resolves a numeric category code, defaulting to
// UNKNOWN.
func EventTypeForCategory(category int) string {
	if eventType, ok := CategoryEventTypes[category]; ok {
		return eventType
	}
	return EventTypeUnknown
}

// Signature verification states stamped on ingested events.
const (
	SignatureVerified   = "VERIFIED"
	SignatureUnverified = "UNVERIFIED"
	SignatureInvalid    = "INVALID"
)

// WebhookEvent is the durable record of one provider delivery. Rows are
// keyed by the provider's event id, so a redelivery is a no-op insert and
// interpretation stays idempotent.
type WebhookEvent struct {
	ID              int64                  `json:"-"`
	EventID         string                 `json:"event_id"`
	EventType       string                 `json:"event_type"`
	Category        int                    `json:"category,omitempty"`
	WalletID        string                 `json:"wallet_id,omitempty"`
	TransactionRef  string                 `json:"transaction_ref,omitempty"`
	SignatureState  string                 `json:"signature_state"`
	RawPayload      []byte                 `json:"-"`
	Data            map[string]interface{} `json:"data,omitempty"`
	Processed       bool                   `json:"processed"`
	ProcessedAt     time.Time              `json:"processed_at,omitempty"`
	ProcessingError string                 `json:"processing_error,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// InboundWebhook is the wire shape of a provider delivery.
type InboundWebhook struct {
	EventID        string                 `json:"event_id"`
	EventType      string                 `json:"event_type"`
	Category       int                    `json:"category,omitempty"`
	Timestamp      string                 `json:"timestamp"`
	WalletID       string                 `json:"wallet_id"`
	TransactionRef string                 `json:"transaction_ref,omitempty"`
	Status         string                 `json:"status,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
	Signature      string                 `json:"signature,omitempty"`
}

// ResolveEventType picks the symbolic type, falling back to the legacy
// numeric category when the symbolic field is absent.
func (w *InboundWebhook) ResolveEventType() string {
	if w.EventType != "" {
		return w.EventType
	}
	return EventTypeForCategory(w.Category)
}
