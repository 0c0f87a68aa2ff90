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

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/fundihq/fundi/config"
	"github.com/fundihq/fundi/internal/request"
	"github.com/fundihq/fundi/model"
)

// ErrVerifyTimeout marks a verification call that did not complete in time.
// Reconciliation treats it as "not yet verified", safe to retry on the next
// webhook delivery, never as a failed payment.
var ErrVerifyTimeout = errors.New("gateway verification timed out")

// Client talks to the external payment provider. Calls carry a bounded
// timeout and retry transient failures with exponential backoff; callers must
// not hold row locks while calling.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	maxRetries uint64
}

// VerifyResult is the provider's authoritative view of a charge.
type VerifyResult struct {
	Reference string
	Status    string
	Amount    decimal.Decimal
	Currency  string
}

// Succeeded reports whether the provider confirms the charge went through.
func (v *VerifyResult) Succeeded() bool {
	return v.Status == "success"
}

// Failed reports whether the provider's status is terminal. Anything else,
// pending included, may still settle and must not be marked failed.
func (v *VerifyResult) Failed() bool {
	return v.Status == "failed" || v.Status == "reversed"
}

// TransferRequest initiates a payout to a provider-registered recipient.
// Reference carries our ledger transaction id so transfer webhooks can locate
// the debit they settle.
type TransferRequest struct {
	RecipientCode string          `json:"recipient"`
	Amount        decimal.Decimal `json:"-"`
	Reference     string          `json:"reference"`
	Reason        string          `json:"reason"`
}

// TransferResult is the provider acknowledgement of an initiated transfer.
type TransferResult struct {
	TransferCode string
	Status       string
	Reference    string
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

type transferResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
		Reference    string `json:"reference"`
	} `json:"data"`
}

// NewClient builds a gateway client from configuration.
func NewClient(conf *config.Configuration) *Client {
	return &Client{
		baseURL:    conf.Gateway.BaseUrl,
		secretKey:  conf.Gateway.SecretKey,
		httpClient: &http.Client{Timeout: time.Duration(conf.Gateway.TimeoutSec) * time.Second},
		maxRetries: uint64(conf.Gateway.MaxRetries),
	}
}

// VerifyTransaction asks the provider for the authoritative state of a charge
// by reference. The webhook body's success claim is never trusted alone.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifyResult, error) {
	var response verifyResponse

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/transaction/verify/%s", c.baseURL, reference), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)

		resp, err := request.CallWithClient(c.httpClient, req, &response)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("gateway returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("verify failed with status %d: %s", resp.StatusCode, response.Message))
		}
		return nil
	}

	err := backoff.Retry(operation, c.retryPolicy(ctx))
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrVerifyTimeout
		}
		return nil, errors.Wrap(err, "verifying transaction")
	}

	if !response.Status {
		return nil, fmt.Errorf("verify rejected: %s", response.Message)
	}

	return &VerifyResult{
		Reference: response.Data.Reference,
		Status:    response.Data.Status,
		Amount:    model.SubunitsToAmount(response.Data.Amount),
		Currency:  response.Data.Currency,
	}, nil
}

// InitiateTransfer starts a payout. The debit against the wallet is recorded
// before this call; transfer webhooks settle or reverse it later.
func (c *Client) InitiateTransfer(ctx context.Context, transfer TransferRequest) (*TransferResult, error) {
	body := map[string]interface{}{
		"source":    "balance",
		"recipient": transfer.RecipientCode,
		"amount":    transfer.Amount.Mul(decimal.NewFromInt(100)).IntPart(),
		"reference": transfer.Reference,
		"reason":    transfer.Reason,
	}

	var response transferResponse

	operation := func() error {
		payload, err := request.ToJsonReq(body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfer", payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)

		resp, err := request.CallWithClient(c.httpClient, req, &response)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("gateway returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return backoff.Permanent(fmt.Errorf("transfer failed with status %d: %s", resp.StatusCode, response.Message))
		}
		return nil
	}

	err := backoff.Retry(operation, c.retryPolicy(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "initiating transfer")
	}

	if !response.Status {
		return nil, fmt.Errorf("transfer rejected: %s", response.Message)
	}

	return &TransferResult{
		TransferCode: response.Data.TransferCode,
		Status:       response.Data.Status,
		Reference:    response.Data.Reference,
	}, nil
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx)
}
