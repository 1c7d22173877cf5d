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

	"github.com/sirupsen/logrus"

	"github.com/saldo-finance/saldo/config"
	"github.com/saldo-finance/saldo/internal/apierror"
	lock "github.com/saldo-finance/saldo/internal/lock"
	"github.com/saldo-finance/saldo/internal/notification"
	"github.com/saldo-finance/saldo/model"
)

func processingLockKey(resourceKey, endpoint string) string {
	return fmt.Sprintf("dedup:%s:%s", resourceKey, endpoint)
}

// CheckDuplicate runs the three duplicate checks before a new request is
// accepted:
//
//  1. an active processing lock on the resource and endpoint,
//  2. an unresolved queue item (PENDING, PROCESSING or FAILED) for it,
//  3. a completion inside the trailing window.
//
// Each check is best effort. When a check itself errors and the guard is
// configured fail-open, the error is logged and notified but the request is
// allowed through; duplicate submission is recoverable, a hard outage of the
// guard taking writes down is not. With fail-open off the storage error is
// returned.
func (s *Saldo) CheckDuplicate(ctx context.Context, resourceKey, endpoint string) error {
	ctx, span := tracer.Start(ctx, "Checking for duplicate request")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	failOpen := cnf.Dedup.FailOpen != nil && *cnf.Dedup.FailOpen

	locker := lock.NewLocker(s.redis, processingLockKey(resourceKey, endpoint), "")
	held, err := locker.IsHeld(ctx)
	if err != nil {
		if !failOpen {
			return apierror.NewAPIError(apierror.ErrInternalServer, "duplicate check failed", err)
		}
		s.reportDedupBypass(resourceKey, "processing lock check", err)
	} else if held {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("resource %s is currently being processed", resourceKey), nil)
	}

	unresolved, itemID, err := s.datasource.HasUnresolvedQueueItem(ctx, resourceKey)
	if err != nil {
		if !failOpen {
			return err
		}
		s.reportDedupBypass(resourceKey, "unresolved item check", err)
	} else if unresolved {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("resource %s already has an unresolved request %s", resourceKey, itemID), nil)
	}

	window := time.Duration(cnf.Dedup.CompletedWindowSec) * time.Second
	recent, itemID, err := s.datasource.HasRecentCompletion(ctx, resourceKey, window)
	if err != nil {
		if !failOpen {
			return err
		}
		s.reportDedupBypass(resourceKey, "recent completion check", err)
	} else if recent {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("resource %s was completed by %s within the last %s", resourceKey, itemID, window), nil)
	}

	return nil
}

// reportDedupBypass makes every fail-open decision observable: a log line
// for operators plus a Slack notification.
func (s *Saldo) reportDedupBypass(resourceKey, check string, cause error) {
	logrus.Warnf("dedup guard bypassed (fail-open) for %s: %s errored: %v", resourceKey, check, cause)
	notification.NotifyError(fmt.Errorf("dedup guard bypassed for %s: %s errored: %w", resourceKey, check, cause))
}

// AcquireProcessingLock takes the per-resource Redis lock a worker holds
// while dispatching a request for that resource.
func (s *Saldo) AcquireProcessingLock(ctx context.Context, resourceKey, endpoint string) (*lock.Locker, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	locker := lock.NewLocker(s.redis, processingLockKey(resourceKey, endpoint), model.GenerateUUIDWithSuffix("lck"))
	if err := locker.Lock(ctx, time.Duration(cnf.Dedup.LockTTLSec)*time.Second); err != nil {
		return nil, err
	}
	return locker, nil
}

// ReleaseProcessingLock releases a lock taken with AcquireProcessingLock.
// Locks that are never released expire on their TTL.
func (s *Saldo) ReleaseProcessingLock(ctx context.Context, locker *lock.Locker) {
	if err := locker.Unlock(ctx); err != nil {
		logrus.Errorf("failed to release processing lock: %v", err)
	}
}

// CleanupAbandonedLocks force-releases processing locks whose queue item is
// already terminal. Locks normally expire on TTL; this sweep shortens the
// window after a worker dies between completing an item and unlocking.
func (s *Saldo) CleanupAbandonedLocks(ctx context.Context) (int, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return 0, err
	}

	released := 0
	for _, status := range []string{model.QueueStatusCompleted, model.QueueStatusCancelled, model.QueueStatusFinalFailure} {
		items, err := s.datasource.GetQueueItemsByStatus(ctx, status, cnf.Dedup.AbandonedSweepLimit, 0)
		if err != nil {
			return released, err
		}
		for _, item := range items {
			locker := lock.NewLocker(s.redis, processingLockKey(item.ResourceKey, item.Endpoint), "")
			held, err := locker.IsHeld(ctx)
			if err != nil || !held {
				continue
			}
			if err := locker.ForceRelease(ctx); err != nil {
				logrus.Errorf("failed to force-release lock for %s: %v", item.ResourceKey, err)
				continue
			}
			released++
		}
	}
	if released > 0 {
		logrus.Infof("released %d abandoned processing locks", released)
	}
	return released, nil
}
