package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/saldo-finance/saldo/internal/apierror"
	"github.com/saldo-finance/saldo/model"
)

const accountRequestColumns = `request_id, owner_name, owner_document, currency, status, wallet_id, resumption_ref, rejection_reason, submitted_at, kyc_1_completed_at, kyc_initiated_at, completed_at, meta_data, created_at`

func scanAccountRequest(scanner interface{ Scan(...interface{}) error }) (*model.AccountRequest, error) {
	request := &model.AccountRequest{}
	var metaDataJSON []byte
	var walletID, resumptionRef, rejectionReason sql.NullString
	var submittedAt, kyc1CompletedAt, kycInitiatedAt, completedAt sql.NullTime

	err := scanner.Scan(&request.RequestID, &request.OwnerName, &request.OwnerDocument, &request.Currency,
		&request.Status, &walletID, &resumptionRef, &rejectionReason,
		&submittedAt, &kyc1CompletedAt, &kycInitiatedAt, &completedAt, &metaDataJSON, &request.CreatedAt)
	if err != nil {
		return nil, err
	}

	request.WalletID = walletID.String
	request.ResumptionRef = resumptionRef.String
	request.RejectionReason = rejectionReason.String
	if submittedAt.Valid {
		request.SubmittedAt = submittedAt.Time
	}
	if kyc1CompletedAt.Valid {
		request.KYC1CompletedAt = kyc1CompletedAt.Time
	}
	if kycInitiatedAt.Valid {
		request.KYCInitiatedAt = kycInitiatedAt.Time
	}
	if completedAt.Valid {
		request.CompletedAt = completedAt.Time
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &request.MetaData); err != nil {
			return nil, err
		}
	}
	return request, nil
}

func (d Datasource) CreateAccountRequest(ctx context.Context, request *model.AccountRequest) (*model.AccountRequest, error) {
	metaDataJSON, err := json.Marshal(request.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	request.RequestID = model.GenerateUUIDWithSuffix("req")
	request.Status = model.RequestStatusDraft
	request.CreatedAt = time.Now()

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO account_requests (request_id, owner_name, owner_document, currency, status, meta_data, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, request.RequestID, request.OwnerName, request.OwnerDocument, request.Currency, request.Status, metaDataJSON, request.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record account request", err)
	}

	return request, nil
}

func (d Datasource) GetAccountRequest(ctx context.Context, id string) (*model.AccountRequest, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+accountRequestColumns+`
		FROM account_requests
		WHERE request_id = $1
	`, id)

	request, err := scanAccountRequest(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account request with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve account request", err)
	}
	return request, nil
}

func (d Datasource) GetAccountRequestByWalletID(ctx context.Context, walletID string) (*model.AccountRequest, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+accountRequestColumns+`
		FROM account_requests
		WHERE wallet_id = $1
	`, walletID)

	request, err := scanAccountRequest(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account request for wallet '%s' not found", walletID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve account request", err)
	}
	return request, nil
}

func (d Datasource) GetAllAccountRequests(ctx context.Context, limit, offset int) ([]*model.AccountRequest, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+accountRequestColumns+`
		FROM account_requests
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve account requests", err)
	}
	defer rows.Close()

	var requests []*model.AccountRequest
	for rows.Next() {
		request, err := scanAccountRequest(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan account request", err)
		}
		requests = append(requests, request)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over account requests", err)
	}
	return requests, nil
}

// TransitionAccountRequest performs the status move as a single conditional
// update: the row only changes when it still carries fromStatus, so the
// precondition check, the transition and the phase stamps are all-or-nothing.
// stamp mutates the in-memory request before the write to populate phase
// timestamps and rejection_reason.
func (d Datasource) TransitionAccountRequest(ctx context.Context, id, fromStatus, toStatus string, stamp func(*model.AccountRequest)) (bool, error) {
	ctx, span := otel.Tracer("Account provisioning").Start(ctx, "Transitioning account request status")
	defer span.End()

	request := &model.AccountRequest{RequestID: id, Status: toStatus}
	if stamp != nil {
		stamp(request)
	}

	var submittedAt, kyc1CompletedAt, kycInitiatedAt, completedAt interface{}
	if !request.SubmittedAt.IsZero() {
		submittedAt = request.SubmittedAt
	}
	if !request.KYC1CompletedAt.IsZero() {
		kyc1CompletedAt = request.KYC1CompletedAt
	}
	if !request.KYCInitiatedAt.IsZero() {
		kycInitiatedAt = request.KYCInitiatedAt
	}
	if !request.CompletedAt.IsZero() {
		completedAt = request.CompletedAt
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE account_requests
		SET status = $3,
			rejection_reason = COALESCE(NULLIF($4, ''), rejection_reason),
			submitted_at = COALESCE($5, submitted_at),
			kyc_1_completed_at = COALESCE($6, kyc_1_completed_at),
			kyc_initiated_at = COALESCE($7, kyc_initiated_at),
			completed_at = COALESCE($8, completed_at)
		WHERE request_id = $1 AND status = $2
	`, id, fromStatus, toStatus, request.RejectionReason, submittedAt, kyc1CompletedAt, kycInitiatedAt, completedAt)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to transition account request", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected == 1, nil
}

// UpdateAccountRequestProviderRefs records the provider wallet id and the
// resumption reference handed back by phase 1.
func (d Datasource) UpdateAccountRequestProviderRefs(ctx context.Context, id, walletID, resumptionRef string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE account_requests
		SET wallet_id = $2, resumption_ref = $3
		WHERE request_id = $1
	`, id, walletID, resumptionRef)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update provider references", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account request with ID '%s' not found", id), nil)
	}
	return nil
}
