package model

import (
	"fmt"
	"time"
)

// Virtual account states. Accounts only transact while ACTIVE.
const (
	AccountStatePending  = "PENDING"
	AccountStateActive   = "ACTIVE"
	AccountStateInactive = "INACTIVE"
)

// Balance effects an operation type can apply to a bucket.
const (
	EffectCredit = "credit"
	EffectDebit  = "debit"
	EffectNone   = "none"
)

// VirtualAccount carries the double balance (available/blocked) for one
// provisioned wallet. Amounts are int64 minor units.
type VirtualAccount struct {
	ID               int64                  `json:"-"`
	AccountID        string                 `json:"account_id"`
	RequestID        string                 `json:"request_id"`
	Currency         string                 `json:"currency"`
	AvailableBalance int64                  `json:"available_balance"`
	BlockedBalance   int64                  `json:"blocked_balance"`
	State            string                 `json:"state"`
	MetaData         map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// OperationType configures how a movement code affects each balance bucket.
// Adjustment types are exempt from the non-negative invariant.
type OperationType struct {
	ID              int64     `json:"-"`
	Code            string    `json:"code"`
	Description     string    `json:"description"`
	Active          bool      `json:"active"`
	AvailableEffect string    `json:"available_effect"`
	BlockedEffect   string    `json:"blocked_effect"`
	Adjustment      bool      `json:"adjustment"`
	CreatedAt       time.Time `json:"created_at"`
}

// Movement is the immutable record of one balance change, including the
// resulting-balance snapshot taken inside the same transaction that updated
// the account.
type Movement struct {
	ID                 int64                  `json:"-"`
	MovementID         string                 `json:"movement_id"`
	AccountID          string                 `json:"account_id"`
	OperationCode      string                 `json:"operation_code"`
	Amount             int64                  `json:"amount"`
	ResultingAvailable int64                  `json:"resulting_available"`
	ResultingBlocked   int64                  `json:"resulting_blocked"`
	IdempotencyKey     string                 `json:"idempotency_key,omitempty"`
	Origin             string                 `json:"origin,omitempty"`
	MetaData           map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
}

func applyEffect(balance int64, effect string, amount int64) int64 {
	switch effect {
	case EffectCredit:
		return balance + amount
	case EffectDebit:
		return balance - amount
	default:
		return balance
	}
}

// ApplyOperation applies the operation type's signed rule independently to
// both buckets and enforces the non-negative invariant, except for types
// flagged as adjustments. The account is only mutated when every check
// passes.
func (account *VirtualAccount) ApplyOperation(opType *OperationType, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("movement amount must be positive, got %d", amount)
	}

	newAvailable := applyEffect(account.AvailableBalance, opType.AvailableEffect, amount)
	newBlocked := applyEffect(account.BlockedBalance, opType.BlockedEffect, amount)

	if !opType.Adjustment {
		if newAvailable < 0 {
			return fmt.Errorf("insufficient available balance on account %s: have %d, need %d", account.AccountID, account.AvailableBalance, amount)
		}
		if newBlocked < 0 {
			return fmt.Errorf("insufficient blocked balance on account %s: have %d, need %d", account.AccountID, account.BlockedBalance, amount)
		}
	}

	account.AvailableBalance = newAvailable
	account.BlockedBalance = newBlocked
	return nil
}

// Transactable reports whether the ledger accepts non-adjustment movements
// for the account.
func (account *VirtualAccount) Transactable() bool {
	return account.State == AccountStateActive
}
