package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/saldo-finance/saldo/internal/apierror"
	"github.com/saldo-finance/saldo/model"
)

func (d Datasource) CreateVirtualAccount(ctx context.Context, account *model.VirtualAccount) (*model.VirtualAccount, error) {
	metaDataJSON, err := json.Marshal(account.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	account.AccountID = model.GenerateUUIDWithSuffix("vac")
	if account.State == "" {
		account.State = model.AccountStatePending
	}
	account.CreatedAt = time.Now()

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO virtual_accounts (account_id, request_id, currency, available_balance, blocked_balance, state, meta_data, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, account.AccountID, account.RequestID, account.Currency, account.AvailableBalance, account.BlockedBalance,
		account.State, metaDataJSON, account.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record virtual account", err)
	}

	return account, nil
}

func scanVirtualAccount(scanner interface{ Scan(...interface{}) error }) (*model.VirtualAccount, error) {
	account := &model.VirtualAccount{}
	var metaDataJSON []byte
	err := scanner.Scan(&account.AccountID, &account.RequestID, &account.Currency,
		&account.AvailableBalance, &account.BlockedBalance, &account.State, &metaDataJSON, &account.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &account.MetaData); err != nil {
			return nil, err
		}
	}
	return account, nil
}

func (d Datasource) GetVirtualAccount(ctx context.Context, id string) (*model.VirtualAccount, error) {
	cacheKey := fmt.Sprintf("virtual_account:%s", id)

	cached := &model.VirtualAccount{}
	if err := d.Cache.Get(ctx, cacheKey, cached); err == nil && cached.AccountID != "" {
		return cached, nil
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT account_id, request_id, currency, available_balance, blocked_balance, state, meta_data, created_at
		FROM virtual_accounts
		WHERE account_id = $1
	`, id)

	account, err := scanVirtualAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Virtual account with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve virtual account", err)
	}

	if err := d.Cache.Set(ctx, cacheKey, account, 1*time.Minute); err != nil {
		// Log the error, but don't return it as the main operation succeeded
		log.Printf("Failed to cache virtual account: %v", err)
	}
	return account, nil
}

func (d Datasource) GetVirtualAccountsByRequest(ctx context.Context, requestID string) ([]*model.VirtualAccount, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT account_id, request_id, currency, available_balance, blocked_balance, state, meta_data, created_at
		FROM virtual_accounts
		WHERE request_id = $1
	`, requestID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve virtual accounts", err)
	}
	defer rows.Close()

	var accounts []*model.VirtualAccount
	for rows.Next() {
		account, err := scanVirtualAccount(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan virtual account", err)
		}
		accounts = append(accounts, account)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over virtual accounts", err)
	}
	return accounts, nil
}

// SetVirtualAccountStateForRequest flips every account under the request in
// one statement: the KYC cascade (ACTIVE on approval, INACTIVE on rejection).
func (d Datasource) SetVirtualAccountStateForRequest(ctx context.Context, requestID, state string) (int64, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		UPDATE virtual_accounts
		SET state = $2
		WHERE request_id = $1
		RETURNING account_id
	`, requestID, state)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update virtual account states", err)
	}
	defer rows.Close()

	var updated int64
	for rows.Next() {
		var accountID string
		if err := rows.Scan(&accountID); err != nil {
			return updated, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan updated account id", err)
		}
		if err := d.Cache.Delete(ctx, fmt.Sprintf("virtual_account:%s", accountID)); err != nil {
			log.Printf("Failed to invalidate virtual account cache: %v", err)
		}
		updated++
	}
	if err = rows.Err(); err != nil {
		return updated, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over updated accounts", err)
	}
	return updated, nil
}

func (d Datasource) CreateOperationType(ctx context.Context, opType *model.OperationType) (*model.OperationType, error) {
	opType.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO operation_types (code, description, active, available_effect, blocked_effect, adjustment, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, opType.Code, opType.Description, opType.Active, opType.AvailableEffect, opType.BlockedEffect, opType.Adjustment, opType.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record operation type", err)
	}

	if err := d.Cache.Delete(ctx, fmt.Sprintf("operation_type:%s", opType.Code)); err != nil {
		log.Printf("Failed to invalidate operation type cache: %v", err)
	}
	return opType, nil
}

func (d Datasource) GetOperationTypeByCode(ctx context.Context, code string) (*model.OperationType, error) {
	cacheKey := fmt.Sprintf("operation_type:%s", code)

	cached := &model.OperationType{}
	if err := d.Cache.Get(ctx, cacheKey, cached); err == nil && cached.Code != "" {
		return cached, nil
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT code, description, active, available_effect, blocked_effect, adjustment, created_at
		FROM operation_types
		WHERE code = $1
	`, code)

	opType := &model.OperationType{}
	err := row.Scan(&opType.Code, &opType.Description, &opType.Active, &opType.AvailableEffect, &opType.BlockedEffect, &opType.Adjustment, &opType.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Operation type '%s' not found", code), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve operation type", err)
	}

	if err := d.Cache.Set(ctx, cacheKey, opType, 5*time.Minute); err != nil {
		log.Printf("Failed to cache operation type: %v", err)
	}
	return opType, nil
}

const movementColumns = `movement_id, account_id, operation_code, amount, resulting_available, resulting_blocked, idempotency_key, origin, meta_data, created_at`

func scanMovement(scanner interface{ Scan(...interface{}) error }) (*model.Movement, error) {
	movement := &model.Movement{}
	var metaDataJSON []byte
	var idempotencyKey, origin sql.NullString

	err := scanner.Scan(&movement.MovementID, &movement.AccountID, &movement.OperationCode, &movement.Amount,
		&movement.ResultingAvailable, &movement.ResultingBlocked, &idempotencyKey, &origin, &metaDataJSON, &movement.CreatedAt)
	if err != nil {
		return nil, err
	}

	movement.IdempotencyKey = idempotencyKey.String
	movement.Origin = origin.String
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &movement.MetaData); err != nil {
			return nil, err
		}
	}
	return movement, nil
}

// GetMovementByIdempotencyKey returns the stored movement for a key, or nil
// when the key was never used.
func (d Datasource) GetMovementByIdempotencyKey(ctx context.Context, key string) (*model.Movement, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+movementColumns+`
		FROM movements
		WHERE idempotency_key = $1
	`, key)

	movement, err := scanMovement(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve movement by idempotency key", err)
	}
	return movement, nil
}

func (d Datasource) GetMovementsByAccount(ctx context.Context, accountID string, limit, offset int) ([]*model.Movement, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+movementColumns+`
		FROM movements
		WHERE account_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve movements", err)
	}
	defer rows.Close()

	var movements []*model.Movement
	for rows.Next() {
		movement, err := scanMovement(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan movement", err)
		}
		movements = append(movements, movement)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over movements", err)
	}
	return movements, nil
}

// ApplyMovement runs the balance-affecting critical section: it locks the
// account row (SELECT ... FOR UPDATE), hands the current balances to apply,
// then inserts the movement and updates the account inside the same
// transaction. Either both writes land or neither does, so a movement's
// resulting-balance snapshot always equals the account's stored balance
// immediately afterward.
func (d Datasource) ApplyMovement(ctx context.Context, accountID string, apply func(*model.VirtualAccount) (*model.Movement, error)) (*model.Movement, error) {
	ctx, span := otel.Tracer("Virtual ledger").Start(ctx, "Applying movement to account")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `
		SELECT account_id, request_id, currency, available_balance, blocked_balance, state, meta_data, created_at
		FROM virtual_accounts
		WHERE account_id = $1
		FOR UPDATE
	`, accountID)

	account, err := scanVirtualAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Virtual account with ID '%s' not found", accountID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock virtual account", err)
	}

	movement, err := apply(account)
	if err != nil {
		return nil, err
	}

	metaDataJSON, err := json.Marshal(movement.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}
	var idempotencyKey interface{}
	if movement.IdempotencyKey != "" {
		idempotencyKey = movement.IdempotencyKey
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO movements (movement_id, account_id, operation_code, amount, resulting_available, resulting_blocked, idempotency_key, origin, meta_data, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, movement.MovementID, movement.AccountID, movement.OperationCode, movement.Amount,
		movement.ResultingAvailable, movement.ResultingBlocked, idempotencyKey, movement.Origin, metaDataJSON, movement.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record movement", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE virtual_accounts
		SET available_balance = $2, blocked_balance = $3
		WHERE account_id = $1
	`, account.AccountID, account.AvailableBalance, account.BlockedBalance)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update account balances", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit movement", err)
	}

	if err := d.Cache.Delete(ctx, fmt.Sprintf("virtual_account:%s", accountID)); err != nil {
		log.Printf("Failed to invalidate virtual account cache: %v", err)
	}
	return movement, nil
}
