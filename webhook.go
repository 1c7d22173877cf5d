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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/saldo-finance/saldo/config"
	"github.com/saldo-finance/saldo/internal/apierror"
	"github.com/saldo-finance/saldo/model"
)

// ComputeWebhookSignature returns the hex HMAC-SHA256 of the raw delivery
// body under the shared secret.
func ComputeWebhookSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature classifies a delivery's signature. With no secret
// configured, or a secret but no signature header, the delivery is
// UNVERIFIED rather than INVALID: the provider's staging environment does
// not sign, and dropping its events would blind the workflow. A signature
// that is present but wrong is always INVALID. Comparison is constant time.
func VerifyWebhookSignature(secret, signature string, body []byte) string {
	if secret == "" || signature == "" {
		return model.SignatureUnverified
	}
	expected := ComputeWebhookSignature(secret, body)
	if hmac.Equal([]byte(expected), []byte(signature)) {
		return model.SignatureVerified
	}
	return model.SignatureInvalid
}

// IngestWebhook is the always-acknowledge ingestion path. It verifies the
// signature, durably stores the event and hands interpretation to the
// background workers. The only rejections are an invalid signature, a
// missing one when signatures are required, and a storage failure; the
// provider retries on anything but a 2xx, so failing to store must not be
// swallowed.
//
// A redelivery of an already-stored event id acknowledges without a second
// insert or a second interpretation task.
func (s *Saldo) IngestWebhook(ctx context.Context, body []byte, signature string) (*model.WebhookEvent, error) {
	ctx, span := tracer.Start(ctx, "Ingesting webhook")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	signatureState := VerifyWebhookSignature(cnf.Webhook.Secret, signature, body)
	if signatureState == model.SignatureInvalid {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "webhook signature verification failed", nil)
	}
	if cnf.Webhook.RequireSignature && signatureState != model.SignatureVerified {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "webhook signature is required", nil)
	}

	var inbound model.InboundWebhook
	if err := json.Unmarshal(body, &inbound); err != nil {
		// An unparseable delivery is still stored and acknowledged;
		// rejecting it only makes the provider redeliver the same broken
		// payload. The raw body stays available for offline review.
		logrus.Warnf("webhook payload is not valid JSON, storing raw: %v", err)
		inbound = model.InboundWebhook{}
	}
	if inbound.EventID == "" {
		// No provider id to deduplicate on; the payload hash stands in.
		inbound.EventID = fmt.Sprintf("evt_%s", model.HashPayload(body))
	}

	event := &model.WebhookEvent{
		EventID:        inbound.EventID,
		EventType:      inbound.ResolveEventType(),
		Category:       inbound.Category,
		WalletID:       inbound.WalletID,
		TransactionRef: inbound.TransactionRef,
		SignatureState: signatureState,
		RawPayload:     body,
		Data:           inbound.Data,
	}

	inserted, err := s.datasource.InsertWebhookEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	if !inserted {
		logrus.Infof("webhook event %s redelivered, acknowledging without reprocessing", event.EventID)
		return s.datasource.GetWebhookEvent(ctx, event.EventID)
	}

	if err := s.queueWebhookInterpretation(ctx, event.EventID); err != nil {
		// The event is stored; the sweep of unprocessed events picks it up.
		logrus.Errorf("failed to queue interpretation for %s: %v", event.EventID, err)
	}
	return event, nil
}

// ProcessWebhookEvent is the asynq handler that interprets one stored
// webhook event. Interpretation errors are recorded on the event and
// returned so asynq retries; a processed event is a no-op.
func (s *Saldo) ProcessWebhookEvent(ctx context.Context, task *asynq.Task) error {
	var eventID string
	if err := json.Unmarshal(task.Payload(), &eventID); err != nil {
		logrus.Errorf("error unmarshaling webhook task payload: %v", err)
		return err
	}

	event, err := s.datasource.GetWebhookEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Processed {
		return nil
	}

	// Only the raw body is durable; rebuild the parsed data for routing.
	if event.Data == nil && len(event.RawPayload) > 0 {
		var inbound model.InboundWebhook
		if err := json.Unmarshal(event.RawPayload, &inbound); err == nil {
			event.Data = inbound.Data
		}
	}

	if err := s.routeEvent(ctx, event); err != nil {
		if recordErr := s.datasource.RecordWebhookEventError(ctx, eventID, err.Error()); recordErr != nil {
			logrus.Errorf("failed to record processing error for %s: %v", eventID, recordErr)
		}
		return err
	}

	return s.datasource.MarkWebhookEventProcessed(ctx, eventID)
}

// SweepUnprocessedWebhookEvents re-enqueues interpretation for events whose
// original task was lost. Returns the number re-enqueued.
func (s *Saldo) SweepUnprocessedWebhookEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.datasource.GetUnprocessedWebhookEvents(ctx, limit)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, event := range events {
		if err := s.queueWebhookInterpretation(ctx, event.EventID); err != nil {
			logrus.Errorf("failed to re-queue event %s: %v", event.EventID, err)
			continue
		}
		queued++
	}
	return queued, nil
}

// routeEvent dispatches a stored event into the owning workflow. Event types
// that carry no workflow effect, including UNKNOWN, are acknowledged and
// left for offline review; failing them would just burn retries.
func (s *Saldo) routeEvent(ctx context.Context, event *model.WebhookEvent) error {
	switch event.EventType {
	case model.EventTypeAccountCreated:
		// Phase-1 completion is driven by the queue dispatch path; the
		// webhook is informational.
		logrus.Infof("provider confirmed account creation for wallet %s", event.WalletID)
		return nil
	case model.EventTypeKYCCompleted:
		return s.HandleKYCApproved(ctx, event.WalletID)
	case model.EventTypeKYCRejected:
		reason, _ := event.Data["reason"].(string)
		return s.HandleKYCRejected(ctx, event.WalletID, reason)
	case model.EventTypeAdditionalInfo:
		return s.RecordAdditionalInformationRequired(ctx, event.WalletID, event.Data)
	case model.EventTypeTransactionSettled:
		return s.settleTransaction(ctx, event)
	case model.EventTypeUnknown:
		logrus.Warnf("webhook event %s has unknown type (category %d), acknowledged without action", event.EventID, event.Category)
		return nil
	default:
		logrus.Warnf("webhook event %s has unhandled type %s, acknowledged without action", event.EventID, event.EventType)
		return nil
	}
}

type settlementData struct {
	AccountID     string  `mapstructure:"account_id"`
	OperationCode string  `mapstructure:"operation_code"`
	Amount        float64 `mapstructure:"amount"`
}

// settleTransaction records the ledger movement for a settled provider
// transaction. The event id doubles as the idempotency key, so interpreting
// the same settlement twice cannot double-post.
func (s *Saldo) settleTransaction(ctx context.Context, event *model.WebhookEvent) error {
	var settlement settlementData
	if err := mapstructure.Decode(event.Data, &settlement); err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("settlement event %s carries malformed data", event.EventID), err)
	}
	if settlement.AccountID == "" || settlement.OperationCode == "" || settlement.Amount <= 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("settlement event %s is missing account_id, operation_code or amount", event.EventID), event.Data)
	}

	_, err := s.RegisterMovement(ctx, &model.Movement{
		AccountID:      settlement.AccountID,
		OperationCode:  settlement.OperationCode,
		Amount:         int64(settlement.Amount),
		IdempotencyKey: fmt.Sprintf("settle:%s", event.EventID),
		Origin:         event.TransactionRef,
		MetaData: map[string]interface{}{
			"event_id": event.EventID,
		},
	})
	return err
}
