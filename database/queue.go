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

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

const queueItemColumns = `queue_item_id, priority, endpoint, method, resource_key, payload, meta_data, status, retry_count, max_retries, next_retry_at, last_error, response, created_at, updated_at`

func scanQueueItem(scanner interface{ Scan(...interface{}) error }) (*model.QueueItem, error) {
	item := &model.QueueItem{}
	var payloadJSON, metaDataJSON, responseJSON []byte
	var nextRetryAt sql.NullTime
	var lastError sql.NullString

	err := scanner.Scan(&item.QueueItemID, &item.Priority, &item.Endpoint, &item.Method, &item.ResourceKey,
		&payloadJSON, &metaDataJSON, &item.Status, &item.RetryCount, &item.MaxRetries,
		&nextRetryAt, &lastError, &responseJSON, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if nextRetryAt.Valid {
		item.NextRetryAt = nextRetryAt.Time
	}
	if lastError.Valid {
		item.LastError = lastError.String
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &item.Payload); err != nil {
			return nil, err
		}
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &item.MetaData); err != nil {
			return nil, err
		}
	}
	if len(responseJSON) > 0 {
		if err := json.Unmarshal(responseJSON, &item.Response); err != nil {
			return nil, err
		}
	}
	return item, nil
}

func (d Datasource) CreateQueueItem(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error) {
	ctx, span := otel.Tracer("Request queue").Start(ctx, "Saving queue item to db")
	defer span.End()

	payloadJSON, err := json.Marshal(item.Payload)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal payload", err)
	}
	metaDataJSON, err := json.Marshal(item.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	item.QueueItemID = model.GenerateUUIDWithSuffix("qit")
	item.Status = model.QueueStatusPending
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO queue_items (queue_item_id, priority, endpoint, method, resource_key, payload, meta_data, status, retry_count, max_retries, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		item.QueueItemID, item.Priority, item.Endpoint, item.Method, item.ResourceKey,
		payloadJSON, metaDataJSON, item.Status, item.RetryCount, item.MaxRetries, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record queue item", err)
	}

	return item, nil
}

func (d Datasource) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM queue_items
		WHERE queue_item_id = $1
	`, id)

	item, err := scanQueueItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Queue item with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve queue item", err)
	}
	return item, nil
}

// GetNextQueueItem selects the oldest URGENT pending item, or the oldest
// NORMAL pending item when no URGENT item exists. This ordering is the
// queue's core contract.
func (d Datasource) GetNextQueueItem(ctx context.Context) (*model.QueueItem, error) {
	ctx, span := otel.Tracer("Request queue").Start(ctx, "Selecting next queue item")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM queue_items
		WHERE status = 'PENDING'
		ORDER BY CASE priority WHEN 'URGENT' THEN 0 ELSE 1 END, created_at ASC
		LIMIT 1
	`)

	item, err := scanQueueItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to select next queue item", err)
	}
	return item, nil
}

// GetNextQueueItems returns a lane-ordered batch of pending items.
func (d Datasource) GetNextQueueItems(ctx context.Context, limit int) ([]*model.QueueItem, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM queue_items
		WHERE status = 'PENDING'
		ORDER BY CASE priority WHEN 'URGENT' THEN 0 ELSE 1 END, created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to select queue batch", err)
	}
	defer rows.Close()

	var items []*model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan queue item", err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over queue items", err)
	}
	return items, nil
}

// ClaimQueueItem moves an item PENDING -> PROCESSING. The conditional update
// is the compare-and-swap that makes concurrent batch runs safe: only one
// scheduler wins each item.
func (d Datasource) ClaimQueueItem(ctx context.Context, id string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'PROCESSING', updated_at = NOW()
		WHERE queue_item_id = $1 AND status = 'PENDING'
	`, id)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim queue item", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected == 1, nil
}

func (d Datasource) CompleteQueueItem(ctx context.Context, id string, response map[string]interface{}) error {
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal response", err)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'COMPLETED', response = $2, updated_at = NOW()
		WHERE queue_item_id = $1 AND status = 'PROCESSING'
	`, id, responseJSON)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete queue item", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Queue item '%s' is not processing", id), nil)
	}
	return nil
}

// UpdateQueueItemRetry persists the retry bookkeeping computed by
// model.QueueItem.ScheduleRetry.
func (d Datasource) UpdateQueueItemRetry(ctx context.Context, item *model.QueueItem) error {
	var nextRetryAt interface{}
	if !item.NextRetryAt.IsZero() {
		nextRetryAt = item.NextRetryAt
	}

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = $2, retry_count = $3, next_retry_at = $4, last_error = $5, updated_at = NOW()
		WHERE queue_item_id = $1
	`, item.QueueItemID, item.Status, item.RetryCount, nextRetryAt, item.LastError)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update queue item retry state", err)
	}
	return nil
}

// ResetElapsedRetries moves FAILED items whose retry slot has elapsed back to
// PENDING. Lane precedence is preserved because selection always re-orders.
func (d Datasource) ResetElapsedRetries(ctx context.Context, now time.Time) (int64, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'PENDING', updated_at = NOW()
		WHERE status = 'FAILED' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
	`, now)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reset elapsed retries", err)
	}
	return result.RowsAffected()
}

// CancelQueueItem prevents future processing only: in-flight items keep
// running to completion.
func (d Datasource) CancelQueueItem(ctx context.Context, id string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'CANCELLED', updated_at = NOW()
		WHERE queue_item_id = $1 AND status = 'PENDING'
	`, id)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel queue item", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected == 1, nil
}

// ResetStuckProcessingItems recovers items abandoned mid-flight by a crashed
// scheduler run.
func (d Datasource) ResetStuckProcessingItems(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'PENDING', updated_at = NOW()
		WHERE status = 'PROCESSING' AND updated_at < $1
	`, olderThan)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reset stuck processing items", err)
	}
	return result.RowsAffected()
}

func (d Datasource) GetQueueItemsByStatus(ctx context.Context, status string, limit, offset int) ([]*model.QueueItem, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM queue_items
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve queue items", err)
	}
	defer rows.Close()

	var items []*model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan queue item", err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over queue items", err)
	}
	return items, nil
}

// HasUnresolvedQueueItem reports whether a pending, processing or retrying
// item exists for the resource, with the conflicting item id.
func (d Datasource) HasUnresolvedQueueItem(ctx context.Context, resourceKey string) (bool, string, error) {
	var id string
	err := d.Conn.QueryRowContext(ctx, `
		SELECT queue_item_id
		FROM queue_items
		WHERE resource_key = $1 AND status IN ('PENDING', 'PROCESSING', 'FAILED')
		LIMIT 1
	`, resourceKey).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, "", nil
		}
		return false, "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check unresolved queue items", err)
	}
	return true, id, nil
}

// HasRecentCompletion reports whether the resource completed inside the
// trailing dedup window, guarding against accidental double-submits.
func (d Datasource) HasRecentCompletion(ctx context.Context, resourceKey string, window time.Duration) (bool, string, error) {
	var id string
	err := d.Conn.QueryRowContext(ctx, `
		SELECT queue_item_id
		FROM queue_items
		WHERE resource_key = $1 AND status = 'COMPLETED' AND updated_at > $2
		LIMIT 1
	`, resourceKey, time.Now().Add(-window)).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, "", nil
		}
		return false, "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check recent completions", err)
	}
	return true, id, nil
}
