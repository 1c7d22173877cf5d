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
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SignatureHeader carries the provider's HMAC of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

// IngestProviderWebhook receives provider callbacks. The raw body is stored
// before any interpretation, so the provider gets its 200 even when the
// payload makes no sense to us yet.
func (a Api) IngestProviderWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read request body"})
		return
	}

	event, err := a.saldo.IngestWebhook(c.Request.Context(), body, c.GetHeader(SignatureHeader))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event_id":  event.EventID,
		"signature": event.SignatureState,
	})
}
