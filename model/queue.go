package model

import (
	"fmt"
	"time"
)

const (
	PriorityUrgent = "URGENT"
	PriorityNormal = "NORMAL"
)

const (
	QueueStatusPending      = "PENDING"
	QueueStatusProcessing   = "PROCESSING"
	QueueStatusCompleted    = "COMPLETED"
	QueueStatusFailed       = "FAILED"
	QueueStatusCancelled    = "CANCELLED"
	QueueStatusFinalFailure = "FINAL_FAILURE"
)

// QueueItem is a persisted provider request awaiting dispatch. URGENT items
// are always selected before NORMAL items; within a lane creation order is
// preserved.
type QueueItem struct {
	ID          int64                  `json:"-"`
	QueueItemID string                 `json:"queue_item_id"`
	Priority    string                 `json:"priority"`
	Endpoint    string                 `json:"endpoint"`
	Method      string                 `json:"method"`
	ResourceKey string                 `json:"resource_key"`
	Payload     map[string]interface{} `json:"payload"`
	MetaData    map[string]interface{} `json:"meta_data"`
	Status      string                 `json:"status"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
	NextRetryAt time.Time              `json:"next_retry_at,omitempty"`
	LastError   string                 `json:"last_error,omitempty"`
	Response    map[string]interface{} `json:"response,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// RetryBackoff returns the delay before retry n (1-based): 2^(n-1) seconds.
func RetryBackoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	return time.Duration(1<<uint(retryCount-1)) * time.Second
}

// ScheduleRetry records a failure at failedAt and computes the next retry
// slot. Once retry_count reaches max_retries the item is parked as
// FINAL_FAILURE and never retried automatically.
func (item *QueueItem) ScheduleRetry(failedAt time.Time, cause error) {
	item.RetryCount++
	if cause != nil {
		item.LastError = cause.Error()
	}
	if item.RetryCount >= item.MaxRetries {
		item.Status = QueueStatusFinalFailure
		item.NextRetryAt = time.Time{}
		return
	}
	item.Status = QueueStatusFailed
	item.NextRetryAt = failedAt.Add(RetryBackoff(item.RetryCount))
}

// IsTerminal reports whether no further processing will happen for the item.
func (item *QueueItem) IsTerminal() bool {
	switch item.Status {
	case QueueStatusCompleted, QueueStatusCancelled, QueueStatusFinalFailure:
		return true
	}
	return false
}

// SchedulerLease is a durable row that serializes queue batch runs across
// service instances. Ownership is claimed with a compare-and-swap on
// expires_at, the same pattern as the per-resource processing lock.
type SchedulerLease struct {
	LeaseName string    `json:"lease_name"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (l *SchedulerLease) String() string {
	return fmt.Sprintf("%s held by %s until %s", l.LeaseName, l.Owner, l.ExpiresAt.Format(time.RFC3339))
}
