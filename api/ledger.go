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
)

func (a Api) CreateVirtualAccount(c *gin.Context) {
	var newAccount model2.CreateVirtualAccount
	if err := c.ShouldBindJSON(&newAccount); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newAccount.ValidateCreateVirtualAccount(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.saldo.CreateVirtualAccount(c.Request.Context(), newAccount.ToVirtualAccount())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetVirtualAccount(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.saldo.GetVirtualAccount(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetMovements(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}
	limit, offset := listParams(c)

	resp, err := a.saldo.GetMovements(c.Request.Context(), id, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RegisterMovement posts one balance movement. Replayed idempotency keys
// return the stored movement with 200 instead of 201.
func (a Api) RegisterMovement(c *gin.Context) {
	var newMovement model2.RegisterMovement
	if err := c.ShouldBindJSON(&newMovement); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newMovement.ValidateRegisterMovement(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	movement := newMovement.ToMovement()
	resp, err := a.saldo.RegisterMovement(c.Request.Context(), movement)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if resp.MovementID != movement.MovementID {
		status = http.StatusOK // idempotent replay
	}
	c.JSON(status, resp)
}

func (a Api) CreateOperationType(c *gin.Context) {
	var newOpType model2.CreateOperationType
	if err := c.ShouldBindJSON(&newOpType); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newOpType.ValidateCreateOperationType(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.saldo.CreateOperationType(c.Request.Context(), newOpType.ToOperationType())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}
