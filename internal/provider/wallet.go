// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// BuildRequest describes a transaction for the builder service. Amounts are
// in base units
type BuildRequest struct {
	Action       string `json:"action"`
	Sender       string `json:"sender"`
	ObligationId string `json:"obligationId,omitempty"`
	CoinType     string `json:"coinType,omitempty"`
	Amount       string `json:"amount,omitempty"`
	PoolId       string `json:"poolId,omitempty"`
	CoinTypeB    string `json:"coinTypeB,omitempty"`
	AmountB      string `json:"amountB,omitempty"`
	TickLower    *int32 `json:"tickLower,omitempty"`
	TickUpper    *int32 `json:"tickUpper,omitempty"`
}

// BuilderClient turns action descriptions into unsigned transaction bytes
type BuilderClient struct {
	client *client
}

func NewBuilderClient(cfg Config) *BuilderClient {
	return &BuilderClient{client: newClient("builder", cfg)}
}

// Build returns the base64 transaction bytes for req
func (b *BuilderClient) Build(ctx context.Context, req *BuildRequest) (string, error) {
	var resp struct {
		TxBytes string `json:"txBytes"`
		Bytes   string `json:"bytes"`
	}
	err := b.client.call(
		ctx,
		request{
			op:     "build transaction",
			method: http.MethodPost,
			path:   "/transactions/build",
			body:   req,
		},
		&resp,
	)
	if err != nil {
		return "", err
	}
	txBytes := firstNonEmpty(resp.TxBytes, resp.Bytes)
	if txBytes == "" {
		return "", fmt.Errorf("build transaction: %w", ErrEmptyResponse)
	}
	return txBytes, nil
}

type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailure ExecutionStatus = "failure"
	// The response carried no usable status
	ExecutionUnknown ExecutionStatus = "unknown"
)

// Execution is the normalized result of signing and executing a transaction
type Execution struct {
	Digest string          `json:"digest"`
	Status ExecutionStatus `json:"status"`
	Error  string          `json:"error,omitempty"`
}

// statusField is either a bare status string or an object with status and
// error
type statusField struct {
	Status string
	Error  string
}

func (s *statusField) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	switch trimmed[0] {
	case '"':
		return json.Unmarshal(trimmed, &s.Status)
	case '{':
		var obj struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return err
		}
		s.Status = obj.Status
		s.Error = obj.Error
		return nil
	default:
		return fmt.Errorf("unsupported status shape: %s", trimmed)
	}
}

type wireExecution struct {
	Digest  string      `json:"digest"`
	Status  statusField `json:"status"`
	Error   string      `json:"error"`
	Errors  []string    `json:"errors"`
	Effects *struct {
		Status statusField `json:"status"`
	} `json:"effects"`
}

func (w wireExecution) normalize() *Execution {
	status := w.Status
	if w.Effects != nil && w.Effects.Status.Status != "" {
		status = w.Effects.Status
	}
	errMsg := firstNonEmpty(status.Error, w.Error, strings.Join(w.Errors, "; "))
	ret := &Execution{Digest: w.Digest, Error: errMsg}
	switch strings.ToLower(status.Status) {
	case "success", "succeeded", "ok":
		ret.Status = ExecutionSuccess
	case "failure", "failed", "error":
		ret.Status = ExecutionFailure
	default:
		if errMsg != "" {
			ret.Status = ExecutionFailure
		} else {
			ret.Status = ExecutionUnknown
		}
	}
	return ret
}

// WalletClient talks to the wallet signing service
type WalletClient struct {
	client *client
}

func NewWalletClient(cfg Config) *WalletClient {
	return &WalletClient{client: newClient("wallet", cfg)}
}

// Address returns the address of the wallet's active account
func (w *WalletClient) Address(ctx context.Context) (string, error) {
	var resp struct {
		Address string `json:"address"`
	}
	err := w.client.call(
		ctx,
		request{
			op:     "fetch wallet account",
			method: http.MethodGet,
			path:   "/account",
		},
		&resp,
	)
	if err != nil {
		return "", err
	}
	if resp.Address == "" {
		return "", fmt.Errorf("fetch wallet account: %w", ErrEmptyResponse)
	}
	return resp.Address, nil
}

// SignAndExecute signs txBytes with the wallet and submits the transaction.
// A request the wallet refuses, such as a user rejection, is reported as a
// failed execution rather than an error
func (w *WalletClient) SignAndExecute(
	ctx context.Context,
	sender string,
	txBytes string,
) (*Execution, error) {
	var wire wireExecution
	err := w.client.call(
		ctx,
		request{
			op:     "sign and execute",
			method: http.MethodPost,
			path:   "/sign-and-execute",
			body: map[string]string{
				"sender":  sender,
				"txBytes": txBytes,
			},
		},
		&wire,
	)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError &&
			apiErr.StatusCode != http.StatusTooManyRequests {
			return &Execution{
				Status: ExecutionFailure,
				Error:  firstNonEmpty(apiErr.Message, apiErr.Error()),
			}, nil
		}
		return nil, err
	}
	return wire.normalize(), nil
}
