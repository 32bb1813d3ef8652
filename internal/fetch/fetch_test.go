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

package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blinklabs-io/tally/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	calls int
	fail  bool
}

func (c *counter) load(ctx context.Context) (string, error) {
	c.calls++
	if c.fail {
		return "", errors.New("not indexed yet")
	}
	return "pool-data", nil
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{MaxAttempts: 0, Backoff: config.BackoffNone}.Validate())
	assert.Error(t, Policy{MaxAttempts: 1, Backoff: "exponential"}.Validate())

	_, err := New[string](Policy{})
	assert.Error(t, err)
}

func TestFetchLoaded(t *testing.T) {
	f, err := New[string](DefaultPolicy())
	require.NoError(t, err)
	c := &counter{}

	res := f.Fetch(context.Background(), "pool:0x1", c.load)
	assert.Equal(t, StateLoaded, res.State)
	assert.Equal(t, "pool-data", res.Value)

	// Cached value, no second call
	res = f.Fetch(context.Background(), "pool:0x1", c.load)
	assert.Equal(t, StateLoaded, res.State)
	assert.Equal(t, 1, c.calls)
}

func TestFetchNeverRetriesAutomatically(t *testing.T) {
	f, err := New[string](DefaultPolicy())
	require.NoError(t, err)
	c := &counter{fail: true}

	res := f.Fetch(context.Background(), "pool:0x1", c.load)
	assert.Equal(t, StateMissing, res.State)
	require.Error(t, res.Err)
	assert.True(t, res.CanRetry())

	for i := 0; i < 5; i++ {
		res = f.Fetch(context.Background(), "pool:0x1", c.load)
		assert.Equal(t, StateMissing, res.State)
	}
	assert.Equal(t, 1, c.calls)
	assert.Equal(t, []string{"pool:0x1"}, f.Pending())
}

func TestRetryBound(t *testing.T) {
	f, err := New[string](Policy{MaxAttempts: 3, Backoff: config.BackoffNone})
	require.NoError(t, err)
	c := &counter{fail: true}
	ctx := context.Background()

	f.Fetch(ctx, "k", c.load)
	for i := 0; i < 2; i++ {
		res, err := f.Retry(ctx, "k", c.load)
		require.NoError(t, err)
		assert.Equal(t, StateMissing, res.State)
	}
	assert.Equal(t, 3, c.calls)

	res, err := f.Retry(ctx, "k", c.load)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.False(t, res.CanRetry())
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 3, c.calls, "exhausted key must not call again")
	assert.Empty(t, f.Pending(), "exhausted keys are not retryable")

	// Reset is the explicit user action that starts over
	f.Reset("k")
	c.fail = false
	res = f.Fetch(ctx, "k", c.load)
	assert.Equal(t, StateLoaded, res.State)
	assert.Equal(t, 4, c.calls)
}

func TestRetryRecovers(t *testing.T) {
	f, err := New[string](DefaultPolicy())
	require.NoError(t, err)
	c := &counter{fail: true}
	ctx := context.Background()

	f.Fetch(ctx, "k", c.load)
	c.fail = false
	res, err := f.Retry(ctx, "k", c.load)
	require.NoError(t, err)
	assert.Equal(t, StateLoaded, res.State)
	assert.Equal(t, 2, res.Attempts)
	assert.Empty(t, f.Pending())

	_, err = f.Retry(ctx, "k", c.load)
	assert.ErrorIs(t, err, ErrNotMissing)
	_, err = f.Retry(ctx, "unknown", c.load)
	assert.ErrorIs(t, err, ErrNotMissing)
	assert.Equal(t, 2, c.calls)
}

func TestRetryFixedBackoff(t *testing.T) {
	f, err := New[string](Policy{
		MaxAttempts: 2,
		Backoff:     config.BackoffFixed,
		Delay:       time.Hour,
	})
	require.NoError(t, err)
	c := &counter{fail: true}

	f.Fetch(context.Background(), "k", c.load)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := f.Retry(ctx, "k", c.load)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateMissing, res.State)
	assert.Equal(t, 1, c.calls, "call must wait for the backoff")

	// A cancelled wait does not consume an attempt
	assert.Equal(t, 1, f.Get("k").Remaining)
}

func TestRetryFixedBackoffElapsed(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f, err := New[string](
		Policy{MaxAttempts: 2, Backoff: config.BackoffFixed, Delay: time.Second},
		withClock[string](func() time.Time { return now }),
	)
	require.NoError(t, err)
	c := &counter{fail: true}

	f.Fetch(context.Background(), "k", c.load)
	now = now.Add(2 * time.Second)
	_, err = f.Retry(context.Background(), "k", c.load)
	require.NoError(t, err)
	assert.Equal(t, 2, c.calls)
}

func TestInvalidatePrefix(t *testing.T) {
	f, err := New[string](DefaultPolicy())
	require.NoError(t, err)
	c := &counter{}
	ctx := context.Background()

	f.Fetch(ctx, "obligations:0xa", c.load)
	f.Fetch(ctx, "obligations:0xb", c.load)
	f.Fetch(ctx, "pool:0x1", c.load)
	f.Invalidate("obligations:")

	assert.Equal(t, StateIdle, f.Get("obligations:0xa").State)
	assert.Equal(t, StateLoaded, f.Get("pool:0x1").State)
}
