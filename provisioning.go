/*
Copyright 2025 Saldo Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package saldo

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/saldo-finance/saldo/internal/apierror"
	"github.com/saldo-finance/saldo/internal/notification"
	"github.com/saldo-finance/saldo/model"
)

// Operation tags stamped on queue items so completions route back to the
// provisioning workflow.
const (
	OperationAccountCreation = "account_creation"
	OperationKYCInitiation   = "kyc_initiation"
)

func accountResourceKey(requestID string) string {
	return fmt.Sprintf("account_request:%s", requestID)
}

// CreateAccountRequest opens a new provisioning workflow in DRAFT. Nothing
// is sent to the provider until the request is submitted.
func (s *Saldo) CreateAccountRequest(ctx context.Context, request *model.AccountRequest) (*model.AccountRequest, error) {
	if request.OwnerName == "" || request.OwnerDocument == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "owner_name and owner_document are required", nil)
	}
	if request.Currency == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "currency is required", nil)
	}
	return s.datasource.CreateAccountRequest(ctx, request)
}

// GetAccountRequest retrieves a provisioning request by ID.
func (s *Saldo) GetAccountRequest(ctx context.Context, id string) (*model.AccountRequest, error) {
	return s.datasource.GetAccountRequest(ctx, id)
}

// GetAllAccountRequests lists provisioning requests for operators.
func (s *Saldo) GetAllAccountRequests(ctx context.Context, limit, offset int) ([]*model.AccountRequest, error) {
	return s.datasource.GetAllAccountRequests(ctx, limit, offset)
}

// SubmitAccountRequest moves a DRAFT request to SUBMITTED and enqueues the
// phase-1 account creation call. The status move is a compare-and-swap, so a
// concurrent double submit loses the race and gets a conflict; when the
// enqueue itself fails the request is rolled back to DRAFT so the submit can
// be retried.
func (s *Saldo) SubmitAccountRequest(ctx context.Context, id, priority string) (*model.QueueItem, error) {
	ctx, span := tracer.Start(ctx, "Submitting account request")
	defer span.End()

	request, err := s.datasource.GetAccountRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !request.CanTransitionTo(model.RequestStatusSubmitted) {
		return nil, apierror.NewAPIError(apierror.ErrPreconditionFailed, fmt.Sprintf("request %s cannot be submitted from status %s", id, request.Status), nil)
	}

	moved, err := s.datasource.TransitionAccountRequest(ctx, id, model.RequestStatusDraft, model.RequestStatusSubmitted, func(r *model.AccountRequest) {
		r.SubmittedAt = time.Now()
	})
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("request %s was submitted concurrently", id), nil)
	}

	// account creation jumps the lane unless the caller says otherwise
	if priority == "" {
		priority = model.PriorityUrgent
	}

	item := &model.QueueItem{
		Priority:    priority,
		Endpoint:    "/wallets",
		Method:      "POST",
		ResourceKey: accountResourceKey(id),
		Payload: map[string]interface{}{
			"owner_name":     request.OwnerName,
			"owner_document": request.OwnerDocument,
			"currency":       request.Currency,
		},
		MetaData: map[string]interface{}{
			"operation":  OperationAccountCreation,
			"request_id": id,
		},
	}
	item, err = s.EnqueueRequest(ctx, item)
	if err != nil {
		if _, revertErr := s.datasource.TransitionAccountRequest(ctx, id, model.RequestStatusSubmitted, model.RequestStatusDraft, nil); revertErr != nil {
			logrus.Errorf("failed to revert request %s to DRAFT after enqueue failure: %v", id, revertErr)
		}
		return nil, err
	}

	if err := SendEvent("account_request.submitted", request); err != nil {
		logrus.Errorf("failed to emit submission event for %s: %v", id, err)
	}
	return item, nil
}

// HandleAccountCreationSuccess records the provider references returned by
// phase 1 and advances the request to KYC-1 Completo. Without both the
// wallet id and the resumption reference phase 2 can never start, so a
// response missing either is treated as a hard error.
func (s *Saldo) HandleAccountCreationSuccess(ctx context.Context, requestID string, body map[string]interface{}) error {
	walletID, _ := body["wallet_id"].(string)
	resumptionRef, _ := body["resumption_ref"].(string)
	if walletID == "" || resumptionRef == "" {
		err := apierror.NewAPIError(apierror.ErrPreconditionFailed, fmt.Sprintf("provider response for request %s is missing wallet_id or resumption_ref", requestID), body)
		notification.NotifyError(err)
		return err
	}

	if err := s.datasource.UpdateAccountRequestProviderRefs(ctx, requestID, walletID, resumptionRef); err != nil {
		return err
	}

	moved, err := s.datasource.TransitionAccountRequest(ctx, requestID, model.RequestStatusSubmitted, model.RequestStatusKYC1Completed, func(r *model.AccountRequest) {
		r.KYC1CompletedAt = time.Now()
	})
	if err != nil {
		return err
	}
	if !moved {
		// Retried completion after the transition already landed.
		logrus.Infof("request %s already past SUBMITTED, skipping phase-1 transition", requestID)
		return nil
	}
	return SendEvent("account_request.kyc1_completed", map[string]interface{}{
		"request_id": requestID,
		"wallet_id":  walletID,
	})
}

// InitiateKYCPhase2 enqueues the phase-2 KYC call for a request that
// finished phase 1 and moves it to PENDING_KYC, stamping the initiation
// time. The transition happens here, not on queue completion: the KYC
// verdict webhook can arrive before the phase-2 call is even dispatched, and
// its PENDING_KYC-conditioned transition must find the status already set.
// The enqueue runs first so an enqueue failure leaves the request in KYC-1
// Completo for a clean retry; a lost transition race cancels the item again.
func (s *Saldo) InitiateKYCPhase2(ctx context.Context, requestID, priority string) (*model.QueueItem, error) {
	ctx, span := tracer.Start(ctx, "Initiating KYC phase 2")
	defer span.End()

	request, err := s.datasource.GetAccountRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !request.ReadyForKYCPhase2() {
		return nil, apierror.NewAPIError(apierror.ErrPreconditionFailed, fmt.Sprintf("request %s is not ready for KYC phase 2 (status %s)", requestID, request.Status), nil)
	}

	item := &model.QueueItem{
		Priority:    priority,
		Endpoint:    fmt.Sprintf("/wallets/%s/kyc", request.WalletID),
		Method:      "POST",
		ResourceKey: accountResourceKey(requestID),
		Payload: map[string]interface{}{
			"resumption_ref": request.ResumptionRef,
		},
		MetaData: map[string]interface{}{
			"operation":  OperationKYCInitiation,
			"request_id": requestID,
		},
	}
	item, err = s.EnqueueRequest(ctx, item)
	if err != nil {
		return nil, err
	}

	moved, err := s.datasource.TransitionAccountRequest(ctx, requestID, model.RequestStatusKYC1Completed, model.RequestStatusPendingKYC, func(r *model.AccountRequest) {
		r.KYCInitiatedAt = time.Now()
	})
	if err != nil || !moved {
		if _, cancelErr := s.datasource.CancelQueueItem(ctx, item.QueueItemID); cancelErr != nil {
			logrus.Errorf("failed to cancel queue item %s after failed KYC initiation: %v", item.QueueItemID, cancelErr)
		}
		if err != nil {
			return nil, err
		}
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("KYC for request %s was initiated concurrently", requestID), nil)
	}

	if err := SendEvent("account_request.kyc_initiated", request); err != nil {
		logrus.Errorf("failed to emit KYC initiation event for %s: %v", requestID, err)
	}
	return item, nil
}

// HandleKYCApproved finishes the workflow for the wallet: the request moves
// to KYC-2 Completo, a virtual account is provisioned if none exists yet and
// every account under the request is activated.
func (s *Saldo) HandleKYCApproved(ctx context.Context, walletID string) error {
	ctx, span := tracer.Start(ctx, "Handling KYC approval")
	defer span.End()

	request, err := s.datasource.GetAccountRequestByWalletID(ctx, walletID)
	if err != nil {
		return err
	}

	moved, err := s.datasource.TransitionAccountRequest(ctx, request.RequestID, model.RequestStatusPendingKYC, model.RequestStatusKYC2Completed, func(r *model.AccountRequest) {
		r.CompletedAt = time.Now()
	})
	if err != nil {
		return err
	}
	if !moved {
		// Webhook redelivery after approval already landed.
		logrus.Infof("request %s already terminal, skipping approval transition", request.RequestID)
		return nil
	}

	accounts, err := s.datasource.GetVirtualAccountsByRequest(ctx, request.RequestID)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		_, err = s.datasource.CreateVirtualAccount(ctx, &model.VirtualAccount{
			RequestID: request.RequestID,
			Currency:  request.Currency,
			State:     model.AccountStatePending,
		})
		if err != nil {
			return err
		}
	}

	if _, err := s.datasource.SetVirtualAccountStateForRequest(ctx, request.RequestID, model.AccountStateActive); err != nil {
		return err
	}
	return SendEvent("account_request.approved", request)
}

// HandleKYCRejected terminates the workflow: the request moves to REJECTED
// with the provider's reason and every account under it is deactivated.
func (s *Saldo) HandleKYCRejected(ctx context.Context, walletID, reason string) error {
	ctx, span := tracer.Start(ctx, "Handling KYC rejection")
	defer span.End()

	request, err := s.datasource.GetAccountRequestByWalletID(ctx, walletID)
	if err != nil {
		return err
	}

	moved, err := s.datasource.TransitionAccountRequest(ctx, request.RequestID, model.RequestStatusPendingKYC, model.RequestStatusRejected, func(r *model.AccountRequest) {
		r.RejectionReason = reason
		r.CompletedAt = time.Now()
	})
	if err != nil {
		return err
	}
	if !moved {
		logrus.Infof("request %s already terminal, skipping rejection transition", request.RequestID)
		return nil
	}

	if _, err := s.datasource.SetVirtualAccountStateForRequest(ctx, request.RequestID, model.AccountStateInactive); err != nil {
		return err
	}
	return SendEvent("account_request.rejected", request)
}

// RecordAdditionalInformationRequired surfaces a provider request for more
// documents. The workflow status does not change; an operator has to act.
func (s *Saldo) RecordAdditionalInformationRequired(ctx context.Context, walletID string, data map[string]interface{}) error {
	request, err := s.datasource.GetAccountRequestByWalletID(ctx, walletID)
	if err != nil {
		return err
	}
	logrus.Warnf("provider requires additional information for request %s (wallet %s): %v", request.RequestID, walletID, data)
	notification.NotifyError(fmt.Errorf("additional information required for request %s (wallet %s)", request.RequestID, walletID))
	return SendEvent("account_request.additional_information_required", request)
}
