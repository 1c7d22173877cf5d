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

package database

import (
	"context"
	"time"

	"github.com/saldo-finance/saldo/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	queueItem      // Interface for provider request queue operations
	schedulerLease // Interface for the durable batch lease
	accountRequest // Interface for account provisioning requests
	webhookEvent   // Interface for the webhook event log
	ledger         // Interface for virtual accounts and movements
}

// queueItem defines methods for handling the provider request queue.
type queueItem interface {
	CreateQueueItem(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error)                        // Persists a new pending item
	GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error)                                       // Retrieves an item by ID
	GetNextQueueItem(ctx context.Context) (*model.QueueItem, error)                                              // Oldest URGENT pending, else oldest NORMAL pending
	GetNextQueueItems(ctx context.Context, limit int) ([]*model.QueueItem, error)                                // Lane-ordered batch of pending items
	ClaimQueueItem(ctx context.Context, id string) (bool, error)                                                 // PENDING -> PROCESSING, compare-and-swap
	CompleteQueueItem(ctx context.Context, id string, response map[string]interface{}) error                     // PROCESSING -> COMPLETED with response recorded
	UpdateQueueItemRetry(ctx context.Context, item *model.QueueItem) error                                       // Writes retry_count/next_retry_at/status after a failure
	ResetElapsedRetries(ctx context.Context, now time.Time) (int64, error)                                       // FAILED with elapsed next_retry_at -> PENDING
	CancelQueueItem(ctx context.Context, id string) (bool, error)                                                // PENDING -> CANCELLED only
	ResetStuckProcessingItems(ctx context.Context, olderThan time.Time) (int64, error)                           // Crash recovery for items stuck PROCESSING
	GetQueueItemsByStatus(ctx context.Context, status string, limit, offset int) ([]*model.QueueItem, error)     // Operator listing
	HasUnresolvedQueueItem(ctx context.Context, resourceKey string) (bool, string, error)                        // Pending/processing/retrying item for a resource
	HasRecentCompletion(ctx context.Context, resourceKey string, window time.Duration) (bool, string, error)     // Completion inside the trailing dedup window
}

// schedulerLease defines the compare-and-swap lease guarding batch runs.
type schedulerLease interface {
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string) error
}

// accountRequest defines methods for handling account provisioning requests.
type accountRequest interface {
	CreateAccountRequest(ctx context.Context, request *model.AccountRequest) (*model.AccountRequest, error)
	GetAccountRequest(ctx context.Context, id string) (*model.AccountRequest, error)
	GetAccountRequestByWalletID(ctx context.Context, walletID string) (*model.AccountRequest, error)
	GetAllAccountRequests(ctx context.Context, limit, offset int) ([]*model.AccountRequest, error)
	TransitionAccountRequest(ctx context.Context, id, fromStatus, toStatus string, stamp func(*model.AccountRequest)) (bool, error) // Atomic conditional status move
	UpdateAccountRequestProviderRefs(ctx context.Context, id, walletID, resumptionRef string) error
}

// webhookEvent defines methods for the durable webhook event log.
type webhookEvent interface {
	InsertWebhookEvent(ctx context.Context, event *model.WebhookEvent) (bool, error) // Returns false on event_id replay
	GetWebhookEvent(ctx context.Context, eventID string) (*model.WebhookEvent, error)
	MarkWebhookEventProcessed(ctx context.Context, eventID string) error
	RecordWebhookEventError(ctx context.Context, eventID string, processingError string) error
	GetUnprocessedWebhookEvents(ctx context.Context, limit int) ([]*model.WebhookEvent, error)
}

// ledger defines methods for virtual accounts, operation types and movements.
type ledger interface {
	CreateVirtualAccount(ctx context.Context, account *model.VirtualAccount) (*model.VirtualAccount, error)
	GetVirtualAccount(ctx context.Context, id string) (*model.VirtualAccount, error)
	GetVirtualAccountsByRequest(ctx context.Context, requestID string) ([]*model.VirtualAccount, error)
	SetVirtualAccountStateForRequest(ctx context.Context, requestID, state string) (int64, error)
	CreateOperationType(ctx context.Context, opType *model.OperationType) (*model.OperationType, error)
	GetOperationTypeByCode(ctx context.Context, code string) (*model.OperationType, error)
	GetMovementByIdempotencyKey(ctx context.Context, key string) (*model.Movement, error)
	GetMovementsByAccount(ctx context.Context, accountID string, limit, offset int) ([]*model.Movement, error)
	ApplyMovement(ctx context.Context, accountID string, apply func(*model.VirtualAccount) (*model.Movement, error)) (*model.Movement, error) // Row lock + both writes in one tx
}
