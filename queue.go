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
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/saldo-finance/saldo/config"
	"github.com/saldo-finance/saldo/internal/apierror"
	"github.com/saldo-finance/saldo/internal/notification"
	redis_db "github.com/saldo-finance/saldo/internal/redis-db"
	"github.com/saldo-finance/saldo/model"
	"github.com/saldo-finance/saldo/provider"
)

const batchLeaseName = "queue:batch"

// Queue wraps the asynq client used for background fan-out: webhook
// interpretation and outbound event notifications. The provider request
// queue itself is durable rows in Postgres, not asynq tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueRequest stores a new provider request as a PENDING queue item after
// the duplicate guard clears it. URGENT items always dispatch before NORMAL
// ones; within a lane creation order holds.
func (s *Saldo) EnqueueRequest(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error) {
	ctx, span := tracer.Start(ctx, "Enqueueing provider request")
	defer span.End()

	if item.Priority != model.PriorityUrgent {
		item.Priority = model.PriorityNormal
	}
	if item.ResourceKey == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "resource_key is required", nil)
	}

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if item.MaxRetries <= 0 {
		item.MaxRetries = cnf.Queue.MaxRetries
	}

	if err := s.CheckDuplicate(ctx, item.ResourceKey, item.Endpoint); err != nil {
		return nil, err
	}

	return s.datasource.CreateQueueItem(ctx, item)
}

// NextQueueItem returns the item the scheduler would dispatch next: the
// oldest pending URGENT item, or the oldest pending NORMAL item when no
// URGENT item exists. Nil when the queue is empty.
func (s *Saldo) NextQueueItem(ctx context.Context) (*model.QueueItem, error) {
	return s.datasource.GetNextQueueItem(ctx)
}

// GetQueueItem retrieves a queue item by ID.
func (s *Saldo) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	return s.datasource.GetQueueItem(ctx, id)
}

// GetQueueItemsByStatus lists queue items for operators.
func (s *Saldo) GetQueueItemsByStatus(ctx context.Context, status string, limit, offset int) ([]*model.QueueItem, error) {
	return s.datasource.GetQueueItemsByStatus(ctx, status, limit, offset)
}

// CancelQueueItem cancels an item that has not started processing. Anything
// past PENDING is either already in flight or terminal.
func (s *Saldo) CancelQueueItem(ctx context.Context, id string) error {
	cancelled, err := s.datasource.CancelQueueItem(ctx, id)
	if err != nil {
		return err
	}
	if !cancelled {
		return apierror.NewAPIError(apierror.ErrPreconditionFailed, fmt.Sprintf("queue item %s is not pending and cannot be cancelled", id), nil)
	}
	return nil
}

// ProcessQueueBatch runs one scheduler pass: claim the durable lease, pull a
// lane-ordered batch of pending items and process them on a bounded worker
// pool. Returns the number of items dispatched. A second instance calling
// this while the lease is held is a silent no-op.
func (s *Saldo) ProcessQueueBatch(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Processing queue batch")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return 0, err
	}

	owner := model.GenerateUUIDWithSuffix("run")
	ttl := time.Duration(cnf.Queue.LeaseTTLSec) * time.Second
	acquired, err := s.datasource.AcquireLease(ctx, batchLeaseName, owner, ttl)
	if err != nil {
		return 0, err
	}
	if !acquired {
		logrus.Info("queue batch skipped, lease held by another run")
		return 0, nil
	}
	defer func() {
		if err := s.datasource.ReleaseLease(context.Background(), batchLeaseName, owner); err != nil {
			logrus.Errorf("failed to release batch lease: %v", err)
		}
	}()

	items, err := s.datasource.GetNextQueueItems(ctx, cnf.Queue.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	jobs := make(chan *model.QueueItem, len(items))
	var wg sync.WaitGroup
	for w := 0; w < cnf.Queue.MaxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				if err := s.ProcessQueueItem(ctx, item.QueueItemID); err != nil {
					logrus.Errorf("queue item %s failed: %v", item.QueueItemID, err)
				}
			}
		}()
	}
	for _, item := range items {
		jobs <- item
	}
	close(jobs)
	wg.Wait()

	return len(items), nil
}

// ProcessQueueItem executes one queue item against the provider. The item is
// claimed with a compare-and-swap (PENDING -> PROCESSING) and guarded by a
// per-resource Redis lock so two workers never dispatch the same resource
// concurrently. Failures schedule an exponential-backoff retry; once
// max_retries is reached the item parks as FINAL_FAILURE.
func (s *Saldo) ProcessQueueItem(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Processing queue item")
	defer span.End()

	item, err := s.datasource.GetQueueItem(ctx, id)
	if err != nil {
		return err
	}

	claimed, err := s.datasource.ClaimQueueItem(ctx, item.QueueItemID)
	if err != nil {
		return err
	}
	if !claimed {
		// Another worker got there first, or the item was cancelled.
		return nil
	}

	locker, err := s.AcquireProcessingLock(ctx, item.ResourceKey, item.Endpoint)
	if err != nil {
		// Could not serialize on the resource; put the item back in line.
		item.Status = model.QueueStatusPending
		item.NextRetryAt = time.Time{}
		return s.datasource.UpdateQueueItemRetry(ctx, item)
	}
	defer s.ReleaseProcessingLock(ctx, locker)

	resp, err := s.provider.ExecuteRequest(ctx, &provider.Request{
		Endpoint: item.Endpoint,
		Method:   item.Method,
		Payload:  item.Payload,
	})
	if err != nil {
		item.ScheduleRetry(time.Now(), err)
		if item.Status == model.QueueStatusFinalFailure {
			notification.NotifyError(fmt.Errorf("queue item %s reached final failure after %d attempts: %w", item.QueueItemID, item.RetryCount, err))
		}
		if updateErr := s.datasource.UpdateQueueItemRetry(ctx, item); updateErr != nil {
			return updateErr
		}
		return err
	}

	response := map[string]interface{}{"status_code": resp.StatusCode}
	for k, v := range resp.Body {
		response[k] = v
	}
	if err := s.datasource.CompleteQueueItem(ctx, item.QueueItemID, response); err != nil {
		return err
	}

	return s.dispatchCompletion(ctx, item, resp)
}

// dispatchCompletion routes a completed provider call back into the owning
// workflow based on the operation tag the enqueuer stamped on the item.
func (s *Saldo) dispatchCompletion(ctx context.Context, item *model.QueueItem, resp *provider.Response) error {
	operation, _ := item.MetaData["operation"].(string)
	requestID, _ := item.MetaData["request_id"].(string)

	switch operation {
	case OperationAccountCreation:
		return s.HandleAccountCreationSuccess(ctx, requestID, resp.Body)
	case OperationKYCInitiation:
		// The request moved to PENDING_KYC when the call was enqueued; the
		// verdict arrives by webhook.
		logrus.Infof("phase-2 KYC call for request %s accepted by provider", requestID)
		return nil
	case "":
		return nil
	default:
		logrus.Warnf("queue item %s completed with unrecognized operation %q", item.QueueItemID, operation)
		return nil
	}
}

// ProcessRetries moves every FAILED item whose backoff has elapsed back to
// PENDING so the next batch picks it up. Returns the number reactivated.
func (s *Saldo) ProcessRetries(ctx context.Context) (int64, error) {
	return s.datasource.ResetElapsedRetries(ctx, time.Now())
}

// RecoverStuckItems resets items abandoned in PROCESSING, typically after a
// worker crash, so they become eligible again.
func (s *Saldo) RecoverStuckItems(ctx context.Context) (int64, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-time.Duration(cnf.Queue.StuckProcessingSec) * time.Second)
	recovered, err := s.datasource.ResetStuckProcessingItems(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if recovered > 0 {
		logrus.Warnf("recovered %d queue items stuck in processing", recovered)
	}
	return recovered, nil
}

// queueWebhookInterpretation hands a stored webhook event to the asynq
// workers. Ingestion never waits on interpretation.
func (s *Saldo) queueWebhookInterpretation(ctx context.Context, eventID string) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(eventID)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(eventID),
		asynq.Queue(cnf.Queue.WebhookIngestionQueue),
	}
	task := asynq.NewTask(cnf.Queue.WebhookIngestionQueue, payload, taskOptions...)
	info, err := s.queue.Client.EnqueueContext(ctx, task, asynq.MaxRetry(5))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			// Redelivery raced the first enqueue; the stored event wins.
			return nil
		}
		log.Println(err, info)
		return err
	}
	return nil
}
