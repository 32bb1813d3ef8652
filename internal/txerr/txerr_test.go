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

package txerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromExecutionIncentiveLock(t *testing.T) {
	raw := "MoveAbort(MoveLocation { module: obligation }, 1793) in command 2: error_obligation_locked"
	chainErr := FromExecution(raw)
	require.NotNil(t, chainErr)
	assert.True(t, chainErr.Matched())
	assert.Equal(t, "use Unlock & Repay instead", chainErr.Remediation)
	assert.Contains(t, chainErr.Error(), "Unlock & Repay")
	assert.Equal(t, raw, chainErr.Raw)
}

func TestFromExecutionCaseInsensitive(t *testing.T) {
	chainErr := FromExecution("InsufficientGas for transaction")
	assert.True(t, chainErr.Matched())
	assert.Equal(t, "Not enough gas to pay for the transaction", chainErr.Message)
}

func TestFromExecutionUnmatchedVerbatim(t *testing.T) {
	raw := "VMVerificationOrDeserializationError in command 0"
	chainErr := FromExecution(raw)
	assert.False(t, chainErr.Matched())
	assert.Equal(t, raw, chainErr.Error())
	assert.Empty(t, chainErr.Remediation)
}

func TestKindOf(t *testing.T) {
	connErr := NewConnectivityError("fetch balances", errors.New("dial tcp: timeout"))
	assert.Equal(t, KindConnectivity, KindOf(connErr))
	assert.Equal(t, KindConnectivity, KindOf(fmt.Errorf("wrapped: %w", connErr)))
	assert.Equal(t, KindValidation, KindOf(NewValidationError("amount", "amount exceeds debt")))
	assert.Equal(t, KindOnChain, KindOf(FromExecution("boom")))
	assert.Equal(t, KindAmbiguous, KindOf(fmt.Errorf("repay: %w", ErrAmbiguous)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("other")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestNewConnectivityErrorNil(t *testing.T) {
	assert.NoError(t, NewConnectivityError("op", nil))
}

func TestConnectivityErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewConnectivityError("fetch prices", inner)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "fetch prices: connection refused", err.Error())
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "amount exceeds debt", UserMessage(NewValidationError("amount", "amount exceeds debt")))
	assert.Equal(
		t,
		"Data is temporarily unavailable",
		UserMessage(NewConnectivityError("op", errors.New("x"))),
	)
	assert.Equal(t, "", UserMessage(nil))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "connectivity", KindConnectivity.String())
	assert.Equal(t, "onchain", KindOnChain.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
