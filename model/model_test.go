package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryBackoffSchedule(t *testing.T) {
	assert.Equal(t, time.Second, RetryBackoff(1))
	assert.Equal(t, 2*time.Second, RetryBackoff(2))
	assert.Equal(t, 4*time.Second, RetryBackoff(3))
	assert.Equal(t, 8*time.Second, RetryBackoff(4))
	// Defensive floor for uninitialized counters.
	assert.Equal(t, time.Second, RetryBackoff(0))
}

func TestScheduleRetry(t *testing.T) {
	failedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	item := &QueueItem{Status: QueueStatusProcessing, MaxRetries: 3}

	item.ScheduleRetry(failedAt, errors.New("connection reset"))
	assert.Equal(t, QueueStatusFailed, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	assert.Equal(t, failedAt.Add(time.Second), item.NextRetryAt)
	assert.Equal(t, "connection reset", item.LastError)

	item.ScheduleRetry(failedAt, nil)
	assert.Equal(t, failedAt.Add(2*time.Second), item.NextRetryAt)

	// Third failure exhausts max_retries: parked, no retry slot.
	item.ScheduleRetry(failedAt, errors.New("still down"))
	assert.Equal(t, QueueStatusFinalFailure, item.Status)
	assert.True(t, item.NextRetryAt.IsZero())
	assert.True(t, item.IsTerminal())
}

func TestAccountRequestTransitions(t *testing.T) {
	request := &AccountRequest{Status: RequestStatusDraft}
	assert.True(t, request.CanTransitionTo(RequestStatusSubmitted))
	assert.False(t, request.CanTransitionTo(RequestStatusDraft))

	request.Status = RequestStatusPendingKYC
	assert.True(t, request.CanTransitionTo(RequestStatusKYC2Completed))
	assert.True(t, request.CanTransitionTo(RequestStatusRejected))
	// Never regresses.
	assert.False(t, request.CanTransitionTo(RequestStatusSubmitted))

	request.Status = RequestStatusRejected
	assert.True(t, request.IsTerminal())
	assert.False(t, request.CanTransitionTo(RequestStatusKYC2Completed))
}

func TestReadyForKYCPhase2(t *testing.T) {
	request := &AccountRequest{Status: RequestStatusKYC1Completed}
	assert.False(t, request.ReadyForKYCPhase2())

	request.WalletID = "wlt_123"
	assert.False(t, request.ReadyForKYCPhase2())

	request.ResumptionRef = "res_456"
	assert.True(t, request.ReadyForKYCPhase2())

	request.Status = RequestStatusPendingKYC
	assert.False(t, request.ReadyForKYCPhase2())
}

func TestEventTypeForCategory(t *testing.T) {
	assert.Equal(t, EventTypeKYCCompleted, EventTypeForCategory(21))
	assert.Equal(t, EventTypeKYCRejected, EventTypeForCategory(22))
	assert.Equal(t, EventTypeUnknown, EventTypeForCategory(99))
}

func TestResolveEventTypePrefersSymbolic(t *testing.T) {
	hook := &InboundWebhook{EventType: EventTypeKYCCompleted, Category: 22}
	assert.Equal(t, EventTypeKYCCompleted, hook.ResolveEventType())

	hook = &InboundWebhook{Category: 22}
	assert.Equal(t, EventTypeKYCRejected, hook.ResolveEventType())
}

func TestApplyOperationDeposit(t *testing.T) {
	account := &VirtualAccount{AccountID: "vac_1", State: AccountStateActive}
	deposit := &OperationType{Code: "DEPOSIT", Active: true, AvailableEffect: EffectCredit, BlockedEffect: EffectNone}

	err := account.ApplyOperation(deposit, 100)
	assert.NoError(t, err)
	assert.Equal(t, int64(100), account.AvailableBalance)
	assert.Equal(t, int64(0), account.BlockedBalance)
}

func TestApplyOperationInsufficientBalance(t *testing.T) {
	account := &VirtualAccount{AccountID: "vac_1", AvailableBalance: 50}
	withdraw := &OperationType{Code: "WITHDRAW", Active: true, AvailableEffect: EffectDebit, BlockedEffect: EffectNone}

	err := account.ApplyOperation(withdraw, 100)
	assert.Error(t, err)
	// Aborted with no partial state change.
	assert.Equal(t, int64(50), account.AvailableBalance)
}

func TestApplyOperationAdjustmentBypassesInvariant(t *testing.T) {
	account := &VirtualAccount{AccountID: "vac_1", AvailableBalance: 50}
	correction := &OperationType{Code: "ADJ_DEBIT", Active: true, AvailableEffect: EffectDebit, BlockedEffect: EffectNone, Adjustment: true}

	err := account.ApplyOperation(correction, 100)
	assert.NoError(t, err)
	assert.Equal(t, int64(-50), account.AvailableBalance)
}

func TestApplyOperationBlockMovesBothBuckets(t *testing.T) {
	account := &VirtualAccount{AccountID: "vac_1", AvailableBalance: 200}
	block := &OperationType{Code: "BLOCK", Active: true, AvailableEffect: EffectDebit, BlockedEffect: EffectCredit}

	err := account.ApplyOperation(block, 80)
	assert.NoError(t, err)
	assert.Equal(t, int64(120), account.AvailableBalance)
	assert.Equal(t, int64(80), account.BlockedBalance)
}

func TestApplyOperationRejectsNonPositiveAmount(t *testing.T) {
	account := &VirtualAccount{AccountID: "vac_1"}
	deposit := &OperationType{Code: "DEPOSIT", Active: true, AvailableEffect: EffectCredit, BlockedEffect: EffectNone}

	assert.Error(t, account.ApplyOperation(deposit, 0))
	assert.Error(t, account.ApplyOperation(deposit, -5))
}

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("req")
	assert.Contains(t, id, "req_")
	assert.NotEqual(t, id, GenerateUUIDWithSuffix("req"))
}
