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
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/saldo-finance/saldo/internal/apierror"
	"github.com/saldo-finance/saldo/model"
	"github.com/saldo-finance/saldo/provider"
)

func queueItemRows(item *model.QueueItem) *sqlmock.Rows {
	payloadJSON, _ := json.Marshal(item.Payload)
	metaDataJSON, _ := json.Marshal(item.MetaData)
	return sqlmock.NewRows([]string{
		"queue_item_id", "priority", "endpoint", "method", "resource_key",
		"payload", "meta_data", "status", "retry_count", "max_retries",
		"next_retry_at", "last_error", "response", "created_at", "updated_at",
	}).AddRow(item.QueueItemID, item.Priority, item.Endpoint, item.Method, item.ResourceKey,
		payloadJSON, metaDataJSON, item.Status, item.RetryCount, item.MaxRetries,
		nil, nil, nil, time.Now(), time.Now())
}

func expectNoDuplicates(mock sqlmock.Sqlmock, resourceKey string) {
	mock.ExpectQuery("SELECT queue_item_id").
		WithArgs(resourceKey).
		WillReturnRows(sqlmock.NewRows([]string{"queue_item_id"}))
	mock.ExpectQuery("SELECT queue_item_id").
		WithArgs(resourceKey, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"queue_item_id"}))
}

func TestEnqueueRequest(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	expectNoDuplicates(mock, "account_request:req_1")
	mock.ExpectExec("INSERT INTO queue_items").
		WillReturnResult(sqlmock.NewResult(1, 1))

	item, err := s.EnqueueRequest(context.Background(), &model.QueueItem{
		Endpoint:    "/wallets",
		Method:      "POST",
		ResourceKey: "account_request:req_1",
		Payload:     map[string]interface{}{"currency": "BRL"},
	})
	assert.NoError(t, err)
	assert.Contains(t, item.QueueItemID, "qit_")
	assert.Equal(t, model.PriorityNormal, item.Priority)
	assert.Equal(t, model.QueueStatusPending, item.Status)
	assert.Equal(t, 5, item.MaxRetries)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestNextQueueItemLanePrecedence(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	// An URGENT item enqueued after an older NORMAL one still comes out
	// first; the selection orders by lane before creation time.
	mock.ExpectQuery("SELECT (.+) FROM queue_items WHERE status = 'PENDING' ORDER BY CASE priority WHEN 'URGENT' THEN 0 ELSE 1 END, created_at ASC LIMIT 1").
		WillReturnRows(queueItemRows(&model.QueueItem{
			QueueItemID: "qit_urgent", Priority: model.PriorityUrgent,
			Endpoint: "/wallets", Method: "POST", ResourceKey: "account_request:req_2",
			Status: model.QueueStatusPending, MaxRetries: 5,
		}))

	item, err := s.NextQueueItem(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "qit_urgent", item.QueueItemID)
	assert.Equal(t, model.PriorityUrgent, item.Priority)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestNextQueueItemEmptyQueue(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	mock.ExpectQuery("SELECT (.+) FROM queue_items WHERE status = 'PENDING'").
		WillReturnError(sql.ErrNoRows)

	item, err := s.NextQueueItem(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, item)
}

func TestEnqueueRequestRejectsDuplicate(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	mock.ExpectQuery("SELECT queue_item_id").
		WithArgs("account_request:req_1").
		WillReturnRows(sqlmock.NewRows([]string{"queue_item_id"}).AddRow("qit_existing"))

	_, err := s.EnqueueRequest(context.Background(), &model.QueueItem{
		Endpoint:    "/wallets",
		Method:      "POST",
		ResourceKey: "account_request:req_1",
	})
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
}

func TestEnqueueRequestRequiresResourceKey(t *testing.T) {
	s, _, _ := newTestSaldo(t)

	_, err := s.EnqueueRequest(context.Background(), &model.QueueItem{
		Endpoint: "/wallets",
		Method:   "POST",
	})
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
}

func TestProcessQueueItem(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	item := &model.QueueItem{
		QueueItemID: "qit_test",
		Priority:    model.PriorityNormal,
		Endpoint:    "/wallets",
		Method:      "POST",
		ResourceKey: "account_request:req_1",
		Status:      model.QueueStatusPending,
		MaxRetries:  5,
	}
	mock.ExpectQuery("SELECT (.+) FROM queue_items").
		WithArgs("qit_test").
		WillReturnRows(queueItemRows(item))
	mock.ExpectExec("UPDATE queue_items").
		WillReturnResult(sqlmock.NewResult(1, 1)) // claim
	mock.ExpectExec("UPDATE queue_items").
		WillReturnResult(sqlmock.NewResult(1, 1)) // complete

	err := s.ProcessQueueItem(context.Background(), "qit_test")
	assert.NoError(t, err)
	assert.Equal(t, 1, s.provider.(*provider.MockClient).RequestCount())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestProcessQueueItemAlreadyClaimed(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	item := &model.QueueItem{
		QueueItemID: "qit_test",
		Priority:    model.PriorityUrgent,
		Endpoint:    "/wallets",
		Method:      "POST",
		ResourceKey: "account_request:req_1",
		Status:      model.QueueStatusPending,
		MaxRetries:  5,
	}
	mock.ExpectQuery("SELECT (.+) FROM queue_items").
		WithArgs("qit_test").
		WillReturnRows(queueItemRows(item))
	mock.ExpectExec("UPDATE queue_items").
		WillReturnResult(sqlmock.NewResult(0, 0)) // lost the claim

	err := s.ProcessQueueItem(context.Background(), "qit_test")
	assert.NoError(t, err)
	assert.Equal(t, 0, s.provider.(*provider.MockClient).RequestCount())
}

func TestProcessQueueItemSchedulesRetry(t *testing.T) {
	s, mock, _ := newTestSaldo(t)
	s.provider.(*provider.MockClient).Fail = errors.New("provider down")

	item := &model.QueueItem{
		QueueItemID: "qit_test",
		Priority:    model.PriorityNormal,
		Endpoint:    "/wallets",
		Method:      "POST",
		ResourceKey: "account_request:req_1",
		Status:      model.QueueStatusPending,
		MaxRetries:  5,
	}
	mock.ExpectQuery("SELECT (.+) FROM queue_items").
		WithArgs("qit_test").
		WillReturnRows(queueItemRows(item))
	mock.ExpectExec("UPDATE queue_items").
		WillReturnResult(sqlmock.NewResult(1, 1)) // claim
	mock.ExpectExec("UPDATE queue_items").
		WithArgs("qit_test", model.QueueStatusFailed, 1, sqlmock.AnyArg(), "provider down").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.ProcessQueueItem(context.Background(), "qit_test")
	assert.Error(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestProcessQueueItemParksFinalFailure(t *testing.T) {
	s, mock, _ := newTestSaldo(t)
	s.provider.(*provider.MockClient).Fail = errors.New("provider down")

	item := &model.QueueItem{
		QueueItemID: "qit_test",
		Priority:    model.PriorityNormal,
		Endpoint:    "/wallets",
		Method:      "POST",
		ResourceKey: "account_request:req_1",
		Status:      model.QueueStatusPending,
		RetryCount:  4,
		MaxRetries:  5,
	}
	mock.ExpectQuery("SELECT (.+) FROM queue_items").
		WithArgs("qit_test").
		WillReturnRows(queueItemRows(item))
	mock.ExpectExec("UPDATE queue_items").
		WillReturnResult(sqlmock.NewResult(1, 1)) // claim
	mock.ExpectExec("UPDATE queue_items").
		WithArgs("qit_test", model.QueueStatusFinalFailure, 5, nil, "provider down").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.ProcessQueueItem(context.Background(), "qit_test")
	assert.Error(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestProcessQueueBatch(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	item := &model.QueueItem{
		QueueItemID: "qit_test",
		Priority:    model.PriorityUrgent,
		Endpoint:    "/wallets",
		Method:      "POST",
		ResourceKey: "account_request:req_1",
		Status:      model.QueueStatusPending,
		MaxRetries:  5,
	}
	mock.ExpectExec("INSERT INTO scheduler_leases").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT (.+) FROM queue_items").
		WillReturnRows(queueItemRows(item))
	mock.ExpectQuery("SELECT (.+) FROM queue_items").
		WithArgs("qit_test").
		WillReturnRows(queueItemRows(item))
	mock.ExpectExec("UPDATE queue_items").
		WillReturnResult(sqlmock.NewResult(1, 1)) // claim
	mock.ExpectExec("UPDATE queue_items").
		WillReturnResult(sqlmock.NewResult(1, 1)) // complete
	mock.ExpectExec("UPDATE scheduler_leases").
		WillReturnResult(sqlmock.NewResult(1, 1)) // release

	processed, err := s.ProcessQueueBatch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, processed)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestProcessQueueBatchLeaseHeld(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	mock.ExpectExec("INSERT INTO scheduler_leases").
		WillReturnResult(sqlmock.NewResult(0, 0))

	processed, err := s.ProcessQueueBatch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, processed)
}

func TestCancelQueueItemNotPending(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	mock.ExpectExec("UPDATE queue_items").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.CancelQueueItem(context.Background(), "qit_test")
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrPreconditionFailed))
}

func TestProcessRetries(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	mock.ExpectExec("UPDATE queue_items").
		WillReturnResult(sqlmock.NewResult(0, 3))

	reactivated, err := s.ProcessRetries(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(3), reactivated)
}
