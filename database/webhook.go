package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/saldo-finance/saldo/internal/apierror"
	"github.com/saldo-finance/saldo/model"
)

const webhookEventColumns = `event_id, event_type, category, wallet_id, transaction_ref, signature_state, raw_payload, processed, processed_at, processing_error, created_at`

func scanWebhookEvent(scanner interface{ Scan(...interface{}) error }) (*model.WebhookEvent, error) {
	event := &model.WebhookEvent{}
	var category sql.NullInt64
	var walletID, transactionRef, processingError sql.NullString
	var processedAt sql.NullTime

	err := scanner.Scan(&event.EventID, &event.EventType, &category, &walletID, &transactionRef,
		&event.SignatureState, &event.RawPayload, &event.Processed, &processedAt, &processingError, &event.CreatedAt)
	if err != nil {
		return nil, err
	}

	event.Category = int(category.Int64)
	event.WalletID = walletID.String
	event.TransactionRef = transactionRef.String
	event.ProcessingError = processingError.String
	if processedAt.Valid {
		event.ProcessedAt = processedAt.Time
	}
	return event, nil
}

// InsertWebhookEvent writes the durable raw log entry for a delivery. The
// insert is keyed by event_id with ON CONFLICT DO NOTHING: a redelivered
// event returns false and leaves the original row untouched, which is what
// makes downstream interpretation idempotent per event_id.
func (d Datasource) InsertWebhookEvent(ctx context.Context, event *model.WebhookEvent) (bool, error) {
	ctx, span := otel.Tracer("Webhook processor").Start(ctx, "Persisting webhook event")
	defer span.End()

	event.CreatedAt = time.Now()

	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, category, wallet_id, transaction_ref, signature_state, raw_payload, processed, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,FALSE,$8)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, event.EventType, event.Category, event.WalletID, event.TransactionRef,
		event.SignatureState, event.RawPayload, event.CreatedAt)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to persist webhook event", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected == 1, nil
}

func (d Datasource) GetWebhookEvent(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+webhookEventColumns+`
		FROM webhook_events
		WHERE event_id = $1
	`, eventID)

	event, err := scanWebhookEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Webhook event with ID '%s' not found", eventID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve webhook event", err)
	}
	return event, nil
}

// MarkWebhookEventProcessed flips the processed flag exactly once; a second
// call reports the replay via rows affected.
func (d Datasource) MarkWebhookEventProcessed(ctx context.Context, eventID string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE webhook_events
		SET processed = TRUE, processed_at = NOW(), processing_error = NULL
		WHERE event_id = $1 AND processed = FALSE
	`, eventID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark webhook event processed", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Webhook event '%s' already processed", eventID), nil)
	}
	return nil
}

// RecordWebhookEventError stores the interpretation failure for offline
// reconciliation. The delivery was already acknowledged; this never bubbles
// back to the provider.
func (d Datasource) RecordWebhookEventError(ctx context.Context, eventID string, processingError string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE webhook_events
		SET processing_error = $2
		WHERE event_id = $1
	`, eventID, processingError)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record webhook processing error", err)
	}
	return nil
}

func (d Datasource) GetUnprocessedWebhookEvents(ctx context.Context, limit int) ([]*model.WebhookEvent, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+webhookEventColumns+`
		FROM webhook_events
		WHERE processed = FALSE
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve unprocessed webhook events", err)
	}
	defer rows.Close()

	var events []*model.WebhookEvent
	for rows.Next() {
		event, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan webhook event", err)
		}
		events = append(events, event)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over webhook events", err)
	}
	return events, nil
}
