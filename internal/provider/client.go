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

// Package provider contains HTTP clients for the external balance, market,
// chain, transaction builder and wallet services. Each client normalizes the
// provider's response shapes into the types used by the rest of the program
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/blinklabs-io/tally/internal/metrics"
	"github.com/blinklabs-io/tally/internal/txerr"
	"github.com/blinklabs-io/tally/internal/version"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

var ErrEmptyResponse = errors.New("provider returned no data")

// Config holds the connection settings for a single provider
type Config struct {
	BaseUrl string
	Timeout time.Duration
	// Requests per second, 0 disables limiting
	RateLimit float64
	Metrics   *metrics.Metrics
}

// APIError is a non-success response from a provider
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// All providers wrap their payload in the same envelope
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

type request struct {
	op     string
	method string
	path   string
	query  map[string]string
	body   any
}

type client struct {
	name    string
	http    *resty.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

func newClient(name string, cfg Config) *client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseUrl, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "tally/"+version.Version)
	if cfg.Timeout > 0 {
		httpClient.SetTimeout(cfg.Timeout)
	}
	c := &client{
		name:    name,
		http:    httpClient,
		metrics: cfg.Metrics,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(
			rate.Limit(cfg.RateLimit),
			max(1, int(cfg.RateLimit)),
		)
	}
	return c
}

// call performs the request and decodes the envelope payload into result.
// Transport failures, throttling and server errors are returned as
// connectivity errors
func (c *client) call(ctx context.Context, req request, result any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveProvider(c.name, start, err)
	}()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return txerr.NewConnectivityError(req.op, err)
		}
	}
	r := c.http.R().SetContext(ctx)
	if req.query != nil {
		r.SetQueryParams(req.query)
	}
	if req.body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.body)
	}
	resp, err := r.Execute(req.method, req.path)
	if err != nil {
		return txerr.NewConnectivityError(req.op, err)
	}
	var env envelope
	if body := bytes.TrimSpace(resp.Body()); len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil && !resp.IsError() {
			return fmt.Errorf("%s: decode response: %w", req.op, err)
		}
	}
	if resp.IsError() {
		apiErr := &APIError{
			Provider:   c.name,
			StatusCode: resp.StatusCode(),
			Message:    env.Error,
		}
		if resp.StatusCode() >= http.StatusInternalServerError ||
			resp.StatusCode() == http.StatusTooManyRequests {
			return txerr.NewConnectivityError(req.op, apiErr)
		}
		return apiErr
	}
	if env.Error != "" {
		return &APIError{
			Provider:   c.name,
			StatusCode: resp.StatusCode(),
			Message:    env.Error,
		}
	}
	if result == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%s: %w", req.op, ErrEmptyResponse)
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("%s: decode data: %w", req.op, err)
	}
	return nil
}

// bigNumber decodes an integer sent either as a JSON number or a string
type bigNumber struct {
	v *big.Int
}

func (b *bigNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid integer %q", s)
	}
	b.v = v
	return nil
}

func (b bigNumber) negative() bool {
	return b.v != nil && b.v.Sign() < 0
}

// nonEmpty returns the non-empty values in order
func nonEmpty(values ...string) []string {
	var ret []string
	for _, v := range values {
		if v != "" {
			ret = append(ret, v)
		}
	}
	return ret
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
