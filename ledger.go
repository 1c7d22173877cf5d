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

	"github.com/saldo-finance/saldo/internal/apierror"
	lock "github.com/saldo-finance/saldo/internal/lock"
	"github.com/saldo-finance/saldo/model"
)

func accountLockKey(accountID string) string {
	return fmt.Sprintf("ledger:%s", accountID)
}

// CreateVirtualAccount provisions a virtual account under an existing
// request. Balances start at zero in PENDING state.
func (s *Saldo) CreateVirtualAccount(ctx context.Context, account *model.VirtualAccount) (*model.VirtualAccount, error) {
	if account.RequestID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "request_id is required", nil)
	}
	request, err := s.datasource.GetAccountRequest(ctx, account.RequestID)
	if err != nil {
		return nil, err
	}
	if account.Currency == "" {
		account.Currency = request.Currency
	}
	return s.datasource.CreateVirtualAccount(ctx, account)
}

// GetVirtualAccount retrieves a virtual account by ID.
func (s *Saldo) GetVirtualAccount(ctx context.Context, id string) (*model.VirtualAccount, error) {
	return s.datasource.GetVirtualAccount(ctx, id)
}

// GetMovements lists an account's movements oldest first.
func (s *Saldo) GetMovements(ctx context.Context, accountID string, limit, offset int) ([]*model.Movement, error) {
	return s.datasource.GetMovementsByAccount(ctx, accountID, limit, offset)
}

// CreateOperationType registers a movement code with its balance effects.
func (s *Saldo) CreateOperationType(ctx context.Context, opType *model.OperationType) (*model.OperationType, error) {
	if opType.Code == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "code is required", nil)
	}
	for _, effect := range []string{opType.AvailableEffect, opType.BlockedEffect} {
		switch effect {
		case model.EffectCredit, model.EffectDebit, model.EffectNone:
		default:
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown balance effect %q", effect), nil)
		}
	}
	return s.datasource.CreateOperationType(ctx, opType)
}

// RegisterMovement applies one balance movement to a virtual account.
//
// Replays are detected by idempotency key before anything else: a key that
// was already used returns the stored movement with no balance change. The
// account row is then locked in Redis and in Postgres (SELECT ... FOR
// UPDATE) while the operation type's effects are applied to both buckets;
// the movement row and the balance update commit in one transaction.
func (s *Saldo) RegisterMovement(ctx context.Context, movement *model.Movement) (*model.Movement, error) {
	ctx, span := tracer.Start(ctx, "Registering movement")
	defer span.End()

	if movement.Amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "amount must be positive", nil)
	}

	if movement.IdempotencyKey != "" {
		stored, err := s.datasource.GetMovementByIdempotencyKey(ctx, movement.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			return stored, nil
		}
	}

	opType, err := s.datasource.GetOperationTypeByCode(ctx, movement.OperationCode)
	if err != nil {
		return nil, err
	}
	if !opType.Active {
		return nil, apierror.NewAPIError(apierror.ErrPreconditionFailed, fmt.Sprintf("operation type %s is inactive", opType.Code), nil)
	}

	locker := lock.NewLocker(s.redis, accountLockKey(movement.AccountID), model.GenerateUUIDWithSuffix("lck"))
	if err := locker.WaitLock(ctx, 30*time.Second, 10*time.Second); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("account %s is locked by another movement", movement.AccountID), err)
	}
	defer func() {
		_ = locker.Unlock(context.Background())
	}()

	applied, err := s.datasource.ApplyMovement(ctx, movement.AccountID, func(account *model.VirtualAccount) (*model.Movement, error) {
		if !opType.Adjustment && !account.Transactable() {
			return nil, apierror.NewAPIError(apierror.ErrPreconditionFailed, fmt.Sprintf("account %s is %s and cannot transact", account.AccountID, account.State), nil)
		}
		if err := account.ApplyOperation(opType, movement.Amount); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInsufficientBalance, err.Error(), nil)
		}
		movement.MovementID = model.GenerateUUIDWithSuffix("mov")
		movement.ResultingAvailable = account.AvailableBalance
		movement.ResultingBlocked = account.BlockedBalance
		movement.CreatedAt = time.Now()
		return movement, nil
	})
	if err != nil {
		// Two carriers of the same key can race past the replay check; the
		// unique constraint decides the winner and the loser returns the
		// stored movement.
		if movement.IdempotencyKey != "" {
			if stored, lookupErr := s.datasource.GetMovementByIdempotencyKey(ctx, movement.IdempotencyKey); lookupErr == nil && stored != nil {
				return stored, nil
			}
		}
		return nil, err
	}

	if err := SendEvent("movement.recorded", applied); err != nil {
		// Notification fan-out never blocks the ledger write.
		return applied, nil
	}
	return applied, nil
}
