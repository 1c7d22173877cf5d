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
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"

	"github.com/saldo-finance/saldo/config"
	"github.com/saldo-finance/saldo/internal/apierror"
	"github.com/saldo-finance/saldo/model"
)

func webhookEventRows(event *model.WebhookEvent) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"event_id", "event_type", "category", "wallet_id", "transaction_ref",
		"signature_state", "raw_payload", "processed", "processed_at", "processing_error", "created_at",
	}).AddRow(event.EventID, event.EventType, event.Category, event.WalletID, event.TransactionRef,
		event.SignatureState, event.RawPayload, event.Processed, nil, nil, time.Now())
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event_id":"evt_1"}`)
	secret := "s3cret"

	tests := []struct {
		name      string
		secret    string
		signature string
		want      string
	}{
		{"valid signature", secret, ComputeWebhookSignature(secret, body), model.SignatureVerified},
		{"wrong signature", secret, "deadbeef", model.SignatureInvalid},
		{"no signature header", secret, "", model.SignatureUnverified},
		{"no secret configured", "", "anything", model.SignatureUnverified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyWebhookSignature(tt.secret, tt.signature, body))
		})
	}
}

func TestIngestWebhook(t *testing.T) {
	s, mock, mr := newTestSaldo(t)
	config.MockConfig(&config.Configuration{
		Redis:   config.RedisConfig{Dns: mr.Addr()},
		Webhook: config.WebhookConfig{Secret: "s3cret"},
	})

	body := []byte(`{"event_id":"evt_1","category":21,"wallet_id":"wlt_1"}`)
	signature := ComputeWebhookSignature("s3cret", body)

	mock.ExpectExec("INSERT INTO webhook_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	event, err := s.IngestWebhook(context.Background(), body, signature)
	assert.NoError(t, err)
	assert.Equal(t, "evt_1", event.EventID)
	assert.Equal(t, model.EventTypeKYCCompleted, event.EventType)
	assert.Equal(t, model.SignatureVerified, event.SignatureState)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestIngestWebhookInvalidSignature(t *testing.T) {
	s, _, mr := newTestSaldo(t)
	config.MockConfig(&config.Configuration{
		Redis:   config.RedisConfig{Dns: mr.Addr()},
		Webhook: config.WebhookConfig{Secret: "s3cret"},
	})

	body := []byte(`{"event_id":"evt_1","category":21}`)

	_, err := s.IngestWebhook(context.Background(), body, "deadbeef")
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrBadRequest))
}

func TestIngestWebhookUnverifiedWithoutSecret(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	body := []byte(`{"event_id":"evt_1","category":22,"wallet_id":"wlt_1"}`)

	mock.ExpectExec("INSERT INTO webhook_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	event, err := s.IngestWebhook(context.Background(), body, "")
	assert.NoError(t, err)
	assert.Equal(t, model.SignatureUnverified, event.SignatureState)
	assert.Equal(t, model.EventTypeKYCRejected, event.EventType)
}

func TestIngestWebhookRequiredSignatureMissing(t *testing.T) {
	s, _, mr := newTestSaldo(t)
	config.MockConfig(&config.Configuration{
		Redis:   config.RedisConfig{Dns: mr.Addr()},
		Webhook: config.WebhookConfig{Secret: "s3cret", RequireSignature: true},
	})

	_, err := s.IngestWebhook(context.Background(), []byte(`{"event_id":"evt_1"}`), "")
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrBadRequest))
}

func TestIngestWebhookRedelivery(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	body := []byte(`{"event_id":"evt_1","category":21,"wallet_id":"wlt_1"}`)

	mock.ExpectExec("INSERT INTO webhook_events").
		WillReturnResult(sqlmock.NewResult(0, 0)) // event_id conflict
	mock.ExpectQuery("SELECT (.+) FROM webhook_events").
		WithArgs("evt_1").
		WillReturnRows(webhookEventRows(&model.WebhookEvent{
			EventID: "evt_1", EventType: model.EventTypeKYCCompleted, Category: 21,
			WalletID: "wlt_1", SignatureState: model.SignatureVerified, RawPayload: body,
		}))

	event, err := s.IngestWebhook(context.Background(), body, "")
	assert.NoError(t, err)
	assert.Equal(t, "evt_1", event.EventID)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestIngestWebhookDerivesEventID(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	body := []byte(`{"category":31,"wallet_id":"wlt_1"}`)

	mock.ExpectExec("INSERT INTO webhook_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	event, err := s.IngestWebhook(context.Background(), body, "")
	assert.NoError(t, err)
	assert.Contains(t, event.EventID, "evt_")
	assert.Equal(t, model.EventTypeTransactionSettled, event.EventType)
}

func TestIngestWebhookMalformedPayloadStillStored(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	body := []byte("this is not json {")

	mock.ExpectExec("INSERT INTO webhook_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	event, err := s.IngestWebhook(context.Background(), body, "")
	assert.NoError(t, err)
	assert.Contains(t, event.EventID, "evt_")
	assert.Equal(t, model.EventTypeUnknown, event.EventType)
	assert.Equal(t, body, event.RawPayload)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestProcessWebhookEventApproval(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	raw := []byte(`{"event_id":"evt_1","category":21,"wallet_id":"wlt_1"}`)
	mock.ExpectQuery("SELECT (.+) FROM webhook_events").
		WithArgs("evt_1").
		WillReturnRows(webhookEventRows(&model.WebhookEvent{
			EventID: "evt_1", EventType: model.EventTypeKYCCompleted, Category: 21,
			WalletID: "wlt_1", SignatureState: model.SignatureVerified, RawPayload: raw,
		}))
	mock.ExpectQuery("SELECT (.+) FROM account_requests").
		WithArgs("wlt_1").
		WillReturnRows(accountRequestRows(&model.AccountRequest{
			RequestID: "req_1", OwnerName: "Ana", OwnerDocument: "123", Currency: "BRL",
			Status: model.RequestStatusPendingKYC, WalletID: "wlt_1",
		}))
	mock.ExpectExec("UPDATE account_requests").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT (.+) FROM virtual_accounts").
		WithArgs("req_1").
		WillReturnRows(virtualAccountRows(&model.VirtualAccount{
			AccountID: "vac_1", RequestID: "req_1", Currency: "BRL", State: model.AccountStatePending,
		}))
	mock.ExpectQuery("UPDATE virtual_accounts").
		WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow("vac_1"))
	mock.ExpectExec("UPDATE webhook_events").
		WillReturnResult(sqlmock.NewResult(1, 1)) // mark processed

	payload, _ := json.Marshal("evt_1")
	err := s.ProcessWebhookEvent(context.Background(), asynq.NewTask("new:webhook", payload))
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestProcessWebhookEventAlreadyProcessed(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	event := &model.WebhookEvent{
		EventID: "evt_1", EventType: model.EventTypeKYCCompleted,
		SignatureState: model.SignatureVerified, Processed: true,
	}
	mock.ExpectQuery("SELECT (.+) FROM webhook_events").
		WithArgs("evt_1").
		WillReturnRows(webhookEventRows(event))

	payload, _ := json.Marshal("evt_1")
	err := s.ProcessWebhookEvent(context.Background(), asynq.NewTask("new:webhook", payload))
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestProcessWebhookEventUnknownType(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	raw := []byte(`{"event_id":"evt_1","category":99}`)
	mock.ExpectQuery("SELECT (.+) FROM webhook_events").
		WithArgs("evt_1").
		WillReturnRows(webhookEventRows(&model.WebhookEvent{
			EventID: "evt_1", EventType: model.EventTypeUnknown, Category: 99,
			SignatureState: model.SignatureUnverified, RawPayload: raw,
		}))
	mock.ExpectExec("UPDATE webhook_events").
		WillReturnResult(sqlmock.NewResult(1, 1)) // acknowledged despite unknown type

	payload, _ := json.Marshal("evt_1")
	err := s.ProcessWebhookEvent(context.Background(), asynq.NewTask("new:webhook", payload))
	assert.NoError(t, err)
}

func TestProcessWebhookEventSettlementMissingData(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	raw := []byte(`{"event_id":"evt_1","category":31,"wallet_id":"wlt_1"}`)
	mock.ExpectQuery("SELECT (.+) FROM webhook_events").
		WithArgs("evt_1").
		WillReturnRows(webhookEventRows(&model.WebhookEvent{
			EventID: "evt_1", EventType: model.EventTypeTransactionSettled, Category: 31,
			WalletID: "wlt_1", SignatureState: model.SignatureVerified, RawPayload: raw,
		}))
	mock.ExpectExec("UPDATE webhook_events").
		WillReturnResult(sqlmock.NewResult(1, 1)) // processing_error recorded

	payload, _ := json.Marshal("evt_1")
	err := s.ProcessWebhookEvent(context.Background(), asynq.NewTask("new:webhook", payload))
	assert.Error(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestProcessWebhookEventSettlement(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	raw := []byte(`{"event_id":"evt_1","category":31,"transaction_ref":"txn_9","data":{"account_id":"vac_1","operation_code":"DEPOSIT","amount":2500}}`)
	mock.ExpectQuery("SELECT (.+) FROM webhook_events").
		WithArgs("evt_1").
		WillReturnRows(webhookEventRows(&model.WebhookEvent{
			EventID: "evt_1", EventType: model.EventTypeTransactionSettled, Category: 31,
			TransactionRef: "txn_9", SignatureState: model.SignatureVerified, RawPayload: raw,
		}))
	mock.ExpectQuery("SELECT (.+) FROM movements").
		WithArgs("settle:evt_1").
		WillReturnRows(emptyMovementRows())
	mock.ExpectQuery("SELECT (.+) FROM operation_types").
		WithArgs("DEPOSIT").
		WillReturnRows(operationTypeRows(&model.OperationType{
			Code: "DEPOSIT", Active: true,
			AvailableEffect: model.EffectCredit, BlockedEffect: model.EffectNone,
		}))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM virtual_accounts").
		WithArgs("vac_1").
		WillReturnRows(virtualAccountRows(&model.VirtualAccount{
			AccountID: "vac_1", RequestID: "req_1", Currency: "BRL", State: model.AccountStateActive,
		}))
	mock.ExpectExec("INSERT INTO movements").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE virtual_accounts").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE webhook_events").
		WillReturnResult(sqlmock.NewResult(1, 1)) // mark processed

	payload, _ := json.Marshal("evt_1")
	err := s.ProcessWebhookEvent(context.Background(), asynq.NewTask("new:webhook", payload))
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
