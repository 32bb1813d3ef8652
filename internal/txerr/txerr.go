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

// Package txerr classifies failures into the categories the UI handles
// differently: connectivity, validation, on-chain execution and ambiguous
// outcomes.
package txerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the category of a failure
type Kind int

const (
	KindUnknown Kind = iota
	KindConnectivity
	KindValidation
	KindOnChain
	KindAmbiguous
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindValidation:
		return "validation"
	case KindOnChain:
		return "onchain"
	case KindAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// ErrAmbiguous is returned when a transaction produced a digest but no
// usable status
var ErrAmbiguous = errors.New("transaction outcome could not be determined")

// ConnectivityError wraps a provider transport failure. Callers recover
// locally with a placeholder value
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// NewConnectivityError wraps err, returning nil for a nil err
func NewConnectivityError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ConnectivityError{Op: op, Err: err}
}

// ValidationError is a user-facing problem detected before any
// transaction is attempted
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// OnChainError is a transaction execution failure
type OnChainError struct {
	Raw         string
	Message     string
	Remediation string
}

func (e *OnChainError) Error() string {
	if e.Remediation == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Remediation)
}

// Matched reports whether the raw error was recognized
func (e *OnChainError) Matched() bool {
	return e.Message != e.Raw
}

type knownError struct {
	substrings  []string
	message     string
	remediation string
}

// Checked in order, first match wins
var knownErrors = []knownError{
	{
		substrings: []string{
			"obligation_locked",
			"locked in incentive",
			"incentive_locked",
			"error_obligation_locked",
		},
		message:     "This obligation is locked in an incentive program",
		remediation: "use Unlock & Repay instead",
	},
	{
		substrings:  []string{"rejected from user", "user rejected", "rejected the request"},
		message:     "Transaction was rejected in the wallet",
		remediation: "approve the transaction to continue",
	},
	{
		substrings:  []string{"insufficientgas", "insufficient gas", "gasbalancetoolow"},
		message:     "Not enough gas to pay for the transaction",
		remediation: "top up the native coin balance",
	},
	{
		substrings:  []string{"insufficientcoinbalance", "insufficient balance"},
		message:     "Insufficient balance for this transaction",
		remediation: "reduce the amount",
	},
	{
		substrings:  []string{"borrow_too_much", "exceeds borrow limit", "max_borrow"},
		message:     "Borrow amount exceeds the obligation's limit",
		remediation: "add collateral or borrow less",
	},
	{
		substrings:  []string{"withdraw_collateral_too_much", "unhealthy"},
		message:     "Withdrawal would leave the obligation under-collateralized",
		remediation: "repay debt first or withdraw less",
	},
	{
		substrings:  []string{"oracle_stale", "price feed", "stale price"},
		message:     "The price oracle is stale",
		remediation: "try again in a few seconds",
	},
	{
		substrings:  []string{"flash_loan", "pool_paused", "market_paused"},
		message:     "The market is currently paused",
		remediation: "try again later",
	},
}

// FromExecution maps a raw execution error string to an OnChainError.
// Unrecognized errors are kept verbatim
func FromExecution(raw string) *OnChainError {
	lower := strings.ToLower(raw)
	for _, known := range knownErrors {
		for _, substr := range known.substrings {
			if strings.Contains(lower, substr) {
				return &OnChainError{
					Raw:         raw,
					Message:     known.message,
					Remediation: known.remediation,
				}
			}
		}
	}
	return &OnChainError{Raw: raw, Message: raw}
}

// KindOf returns the category of err
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var connErr *ConnectivityError
	var valErr *ValidationError
	var chainErr *OnChainError
	switch {
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &chainErr):
		return KindOnChain
	case errors.Is(err, ErrAmbiguous):
		return KindAmbiguous
	case errors.As(err, &connErr):
		return KindConnectivity
	}
	return KindUnknown
}

// UserMessage returns the text to show for err
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Message
	}
	var chainErr *OnChainError
	if errors.As(err, &chainErr) {
		return chainErr.Error()
	}
	var connErr *ConnectivityError
	if errors.As(err, &connErr) {
		return "Data is temporarily unavailable"
	}
	return err.Error()
}
