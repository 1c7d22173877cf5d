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
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/saldo-finance/saldo/api/model"
	"github.com/saldo-finance/saldo/model"
)

// EnqueueRequest accepts a raw provider request into the queue.
func (a Api) EnqueueRequest(c *gin.Context) {
	var newRequest model2.EnqueueRequest
	if err := c.ShouldBindJSON(&newRequest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newRequest.ValidateEnqueueRequest(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.saldo.EnqueueRequest(c.Request.Context(), newRequest.ToQueueItem())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetQueueItem(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.saldo.GetQueueItem(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetNextQueueItem shows the head of the queue without claiming it.
func (a Api) GetNextQueueItem(c *gin.Context) {
	resp, err := a.saldo.NextQueueItem(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if resp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "queue is empty"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetQueueItemsByStatus(c *gin.Context) {
	status := c.DefaultQuery("status", model.QueueStatusPending)
	limit, offset := listParams(c)

	resp, err := a.saldo.GetQueueItemsByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) CancelQueueItem(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	if err := a.saldo.CancelQueueItem(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// ProcessQueueBatch triggers one scheduler pass. Normally driven by the
// worker scheduler; exposed for operators and external cron triggers.
func (a Api) ProcessQueueBatch(c *gin.Context) {
	processed, err := a.saldo.ProcessQueueBatch(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

func (a Api) ProcessRetries(c *gin.Context) {
	reactivated, err := a.saldo.ProcessRetries(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reactivated": reactivated})
}

func (a Api) RecoverStuckItems(c *gin.Context) {
	recovered, err := a.saldo.RecoverStuckItems(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"recovered": recovered})
}
