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
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/saldo-finance/saldo/config"
	"github.com/saldo-finance/saldo/internal/apierror"
)

func TestCheckDuplicateCleanResource(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	expectNoDuplicates(mock, "account_request:req_1")

	err := s.CheckDuplicate(context.Background(), "account_request:req_1", "/wallets")
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestCheckDuplicateProcessingLockHeld(t *testing.T) {
	s, _, mr := newTestSaldo(t)

	// Another worker holds the resource for the same endpoint.
	if err := mr.Set("dedup:account_request:req_1:/wallets", "holder"); err != nil {
		t.Fatalf("Error seeding lock: %s", err)
	}

	err := s.CheckDuplicate(context.Background(), "account_request:req_1", "/wallets")
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
}

func TestCheckDuplicateLockOtherEndpoint(t *testing.T) {
	s, mock, mr := newTestSaldo(t)

	// A lock on the same resource but a different endpoint does not block.
	if err := mr.Set("dedup:account_request:req_1:/wallets", "holder"); err != nil {
		t.Fatalf("Error seeding lock: %s", err)
	}
	expectNoDuplicates(mock, "account_request:req_1")

	err := s.CheckDuplicate(context.Background(), "account_request:req_1", "/wallets/wlt_1/kyc")
	assert.NoError(t, err)
}

func TestCheckDuplicateRecentCompletion(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	mock.ExpectQuery("SELECT queue_item_id").
		WithArgs("account_request:req_1").
		WillReturnRows(sqlmock.NewRows([]string{"queue_item_id"}))
	mock.ExpectQuery("SELECT queue_item_id").
		WithArgs("account_request:req_1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"queue_item_id"}).AddRow("qit_done"))

	err := s.CheckDuplicate(context.Background(), "account_request:req_1", "/wallets")
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
}

func TestCheckDuplicateFailOpen(t *testing.T) {
	s, mock, _ := newTestSaldo(t)

	// Both storage checks error; the guard is fail-open by default, so the
	// request is allowed through.
	mock.ExpectQuery("SELECT queue_item_id").
		WillReturnError(errors.New("db down"))
	mock.ExpectQuery("SELECT queue_item_id").
		WillReturnError(errors.New("db down"))

	err := s.CheckDuplicate(context.Background(), "account_request:req_1", "/wallets")
	assert.NoError(t, err)
}

func TestCheckDuplicateFailClosed(t *testing.T) {
	s, mock, mr := newTestSaldo(t)

	failOpen := false
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
		Dedup: config.DedupConfig{FailOpen: &failOpen},
	})

	mock.ExpectQuery("SELECT queue_item_id").
		WillReturnError(errors.New("db down"))

	err := s.CheckDuplicate(context.Background(), "account_request:req_1", "/wallets")
	assert.Error(t, err)
}

func TestAcquireProcessingLockExclusive(t *testing.T) {
	s, _, _ := newTestSaldo(t)
	ctx := context.Background()

	locker, err := s.AcquireProcessingLock(ctx, "account_request:req_1", "/wallets")
	assert.NoError(t, err)

	_, err = s.AcquireProcessingLock(ctx, "account_request:req_1", "/wallets")
	assert.Error(t, err)

	s.ReleaseProcessingLock(ctx, locker)

	_, err = s.AcquireProcessingLock(ctx, "account_request:req_1", "/wallets")
	assert.NoError(t, err)
}
