package model

import "time"

// Account request statuses. The KYC phase values keep the provider's own
// wording ("Completo") because they are compared against provider payloads
// and surfaced to operators unchanged.
const (
	RequestStatusDraft         = "DRAFT"
	RequestStatusSubmitted     = "SUBMITTED"
	RequestStatusKYC1Completed = "KYC-1 Completo"
	RequestStatusPendingKYC    = "PENDING_KYC"
	RequestStatusKYC2Completed = "KYC-2 Completo"
	RequestStatusRejected      = "REJECTED"
)

// requestStatusRank orders statuses along the provisioning pipeline. A
// transition is legal only if it moves strictly forward or terminates at
// REJECTED; status never regresses.
var requestStatusRank = map[string]int{
	RequestStatusDraft:         0,
	RequestStatusSubmitted:     1,
	RequestStatusKYC1Completed: 2,
	RequestStatusPendingKYC:    3,
	RequestStatusKYC2Completed: 4,
	RequestStatusRejected:      4,
}

// AccountRequest tracks one wallet provisioning workflow at the external
// provider, from DRAFT through the two KYC phases.
type AccountRequest struct {
	ID              int64                  `json:"-"`
	RequestID       string                 `json:"request_id"`
	OwnerName       string                 `json:"owner_name"`
	OwnerDocument   string                 `json:"owner_document"`
	Currency        string                 `json:"currency"`
	Status          string                 `json:"status"`
	WalletID        string                 `json:"wallet_id,omitempty"`
	ResumptionRef   string                 `json:"resumption_ref,omitempty"`
	RejectionReason string                 `json:"rejection_reason,omitempty"`
	SubmittedAt     time.Time              `json:"submitted_at,omitempty"`
	KYC1CompletedAt time.Time              `json:"kyc_1_completed_at,omitempty"`
	KYCInitiatedAt  time.Time              `json:"kyc_initiated_at,omitempty"`
	CompletedAt     time.Time              `json:"completed_at,omitempty"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// CanTransitionTo reports whether moving from the request's current status to
// next respects the forward-only invariant.
func (r *AccountRequest) CanTransitionTo(next string) bool {
	currentRank, ok := requestStatusRank[r.Status]
	if !ok {
		return false
	}
	nextRank, ok := requestStatusRank[next]
	if !ok {
		return false
	}
	if r.IsTerminal() {
		return false
	}
	return nextRank > currentRank
}

// IsTerminal reports whether the request reached one of the two terminal
// states.
func (r *AccountRequest) IsTerminal() bool {
	return r.Status == RequestStatusKYC2Completed || r.Status == RequestStatusRejected
}

// ReadyForKYCPhase2 checks the phase-2 precondition: phase 1 finished and the
// provider handed back both the wallet id and the resumption reference.
func (r *AccountRequest) ReadyForKYCPhase2() bool {
	return r.Status == RequestStatusKYC1Completed && r.WalletID != "" && r.ResumptionRef != ""
}
