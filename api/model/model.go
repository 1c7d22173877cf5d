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
package model

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/saldo-finance/saldo/model"
)

// CreateAccountRequest is the wire shape for opening a provisioning workflow.
type CreateAccountRequest struct {
	OwnerName     string                 `json:"owner_name"`
	OwnerDocument string                 `json:"owner_document"`
	Currency      string                 `json:"currency"`
	MetaData      map[string]interface{} `json:"meta_data"`
}

func (r *CreateAccountRequest) ValidateCreateAccountRequest() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.OwnerName, validation.Required),
		validation.Field(&r.OwnerDocument, validation.Required),
		validation.Field(&r.Currency, validation.Required, validation.Length(3, 3)),
	)
}

func (r *CreateAccountRequest) ToAccountRequest() *model.AccountRequest {
	return &model.AccountRequest{
		OwnerName:     r.OwnerName,
		OwnerDocument: r.OwnerDocument,
		Currency:      r.Currency,
		MetaData:      r.MetaData,
	}
}

// SubmitRequest carries the optional priority for submission and KYC
// initiation calls.
type SubmitRequest struct {
	Priority string `json:"priority"`
}

func (r *SubmitRequest) ValidateSubmitRequest() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Priority, validation.In("", model.PriorityUrgent, model.PriorityNormal)),
	)
}

// EnqueueRequest is the wire shape for a raw provider request.
type EnqueueRequest struct {
	Priority    string                 `json:"priority"`
	Endpoint    string                 `json:"endpoint"`
	Method      string                 `json:"method"`
	ResourceKey string                 `json:"resource_key"`
	Payload     map[string]interface{} `json:"payload"`
	MetaData    map[string]interface{} `json:"meta_data"`
	MaxRetries  int                    `json:"max_retries"`
}

func (r *EnqueueRequest) ValidateEnqueueRequest() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Endpoint, validation.Required),
		validation.Field(&r.Method, validation.Required, validation.In("GET", "POST", "PUT", "PATCH", "DELETE")),
		validation.Field(&r.ResourceKey, validation.Required),
		validation.Field(&r.Priority, validation.In("", model.PriorityUrgent, model.PriorityNormal)),
		validation.Field(&r.MaxRetries, validation.Min(0)),
	)
}

func (r *EnqueueRequest) ToQueueItem() *model.QueueItem {
	return &model.QueueItem{
		Priority:    r.Priority,
		Endpoint:    r.Endpoint,
		Method:      r.Method,
		ResourceKey: r.ResourceKey,
		Payload:     r.Payload,
		MetaData:    r.MetaData,
		MaxRetries:  r.MaxRetries,
	}
}

// CreateVirtualAccount is the wire shape for provisioning a virtual account
// under an existing request.
type CreateVirtualAccount struct {
	RequestID string                 `json:"request_id"`
	Currency  string                 `json:"currency"`
	MetaData  map[string]interface{} `json:"meta_data"`
}

func (r *CreateVirtualAccount) ValidateCreateVirtualAccount() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RequestID, validation.Required),
	)
}

func (r *CreateVirtualAccount) ToVirtualAccount() *model.VirtualAccount {
	return &model.VirtualAccount{
		RequestID: r.RequestID,
		Currency:  r.Currency,
		MetaData:  r.MetaData,
	}
}

// CreateOperationType registers a movement code and its balance effects.
type CreateOperationType struct {
	Code            string `json:"code"`
	Description     string `json:"description"`
	Active          *bool  `json:"active"`
	AvailableEffect string `json:"available_effect"`
	BlockedEffect   string `json:"blocked_effect"`
	Adjustment      bool   `json:"adjustment"`
}

func (r *CreateOperationType) ValidateCreateOperationType() error {
	effects := validation.In(model.EffectCredit, model.EffectDebit, model.EffectNone)
	return validation.ValidateStruct(r,
		validation.Field(&r.Code, validation.Required),
		validation.Field(&r.AvailableEffect, validation.Required, effects),
		validation.Field(&r.BlockedEffect, validation.Required, effects),
	)
}

func (r *CreateOperationType) ToOperationType() *model.OperationType {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &model.OperationType{
		Code:            r.Code,
		Description:     r.Description,
		Active:          active,
		AvailableEffect: r.AvailableEffect,
		BlockedEffect:   r.BlockedEffect,
		Adjustment:      r.Adjustment,
	}
}

// RegisterMovement is the wire shape for a balance movement. Amounts arrive
// as decimal major units and are converted to int64 minor units with the
// given precision (defaults to 100, two decimal places).
type RegisterMovement struct {
	AccountID      string                 `json:"account_id"`
	OperationCode  string                 `json:"operation_code"`
	Amount         decimal.Decimal        `json:"amount"`
	Precision      int64                  `json:"precision"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Origin         string                 `json:"origin"`
	MetaData       map[string]interface{} `json:"meta_data"`
}

func (r *RegisterMovement) ValidateRegisterMovement() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.AccountID, validation.Required),
		validation.Field(&r.OperationCode, validation.Required),
		validation.Field(&r.Amount, validation.By(func(interface{}) error {
			if !r.Amount.IsPositive() {
				return errors.New("amount must be positive")
			}
			return nil
		})),
		validation.Field(&r.Precision, validation.Min(0)),
	)
}

func (r *RegisterMovement) ToMovement() *model.Movement {
	precision := r.Precision
	if precision == 0 {
		precision = 100
	}
	minor := r.Amount.Mul(decimal.NewFromInt(precision)).IntPart()
	return &model.Movement{
		AccountID:      r.AccountID,
		OperationCode:  r.OperationCode,
		Amount:         minor,
		IdempotencyKey: r.IdempotencyKey,
		Origin:         r.Origin,
		MetaData:       r.MetaData,
	}
}
