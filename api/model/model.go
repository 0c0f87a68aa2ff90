/*
Copyright 2024 Fundi Authors.

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
)

func positiveAmount(value interface{}) error {
	amount, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("invalid amount type")
	}
	if !amount.IsPositive() {
		return errors.New("amount must be greater than zero")
	}
	return nil
}

type OpenConversation struct {
	ProviderUUID string `json:"provider_uuid"`
}

func (o *OpenConversation) Validate() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.ProviderUUID, validation.Required),
	)
}

type SendMessage struct {
	Body string `json:"body"`
}

func (m *SendMessage) Validate() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.Body, validation.Required, validation.Length(1, 4000)),
	)
}

type SendOffer struct {
	Price decimal.Decimal `json:"price"`
}

func (o *SendOffer) Validate() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.Price, validation.Required, validation.By(positiveAmount)),
	)
}

type DeclineOffer struct {
	Reason   string `json:"reason"`
	Category string `json:"category"`
}

func (o *DeclineOffer) Validate() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.Reason, validation.Required),
	)
}

type FundWallet struct {
	Amount decimal.Decimal `json:"amount"`
}

func (w *FundWallet) Validate() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.Amount, validation.Required, validation.By(positiveAmount)),
	)
}

type Withdraw struct {
	Amount        decimal.Decimal `json:"amount"`
	RecipientCode string          `json:"recipient_code"`
}

func (w *Withdraw) Validate() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.Amount, validation.Required, validation.By(positiveAmount)),
		validation.Field(&w.RecipientCode, validation.Required),
	)
}

type VerifyPin struct {
	Code string `json:"code"`
}

func (j *VerifyPin) Validate() error {
	return validation.ValidateStruct(j,
		validation.Field(&j.Code, validation.Required, validation.Length(4, 4)),
	)
}

type CancelJob struct {
	Reason   string `json:"reason"`
	Category string `json:"category"`
}

func (j *CancelJob) Validate() error {
	return validation.ValidateStruct(j,
		validation.Field(&j.Reason, validation.Required),
	)
}

type DisputeJob struct {
	Reason string `json:"reason"`
}

func (j *DisputeJob) Validate() error {
	return validation.ValidateStruct(j,
		validation.Field(&j.Reason, validation.Required),
	)
}

type ReviewJob struct {
	Rating  int             `json:"rating"`
	Comment string          `json:"comment"`
	Tip     decimal.Decimal `json:"tip"`
}

func (j *ReviewJob) Validate() error {
	return validation.ValidateStruct(j,
		validation.Field(&j.Rating, validation.Required, validation.Min(1), validation.Max(5)),
		validation.Field(&j.Tip, validation.By(func(value interface{}) error {
			tip, ok := value.(decimal.Decimal)
			if !ok {
				return errors.New("invalid tip type")
			}
			if tip.IsNegative() {
				return errors.New("tip cannot be negative")
			}
			return nil
		})),
	)
}

type ReportJob struct {
	Reason string `json:"reason"`
}

func (j *ReportJob) Validate() error {
	return validation.ValidateStruct(j,
		validation.Field(&j.Reason, validation.Required),
	)
}

type PresenceQuery struct {
	UserUUIDs []string `json:"user_uuids"`
}

func (p *PresenceQuery) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.UserUUIDs, validation.Required, validation.Length(1, 100)),
	)
}
