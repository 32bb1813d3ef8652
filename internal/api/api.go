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

// Package api serves balances, obligations, prices and transaction
// submission over HTTP, and obligation updates over WebSocket
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/blinklabs-io/tally/internal/common"
	"github.com/blinklabs-io/tally/internal/fetch"
	"github.com/blinklabs-io/tally/internal/logging"
	"github.com/blinklabs-io/tally/internal/position"
	"github.com/blinklabs-io/tally/internal/price"
	"github.com/blinklabs-io/tally/internal/txerr"
	"github.com/blinklabs-io/tally/internal/txsubmit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

type Balances interface {
	GetBalance(ctx context.Context, account string, coinTypes []string, forceRefresh bool) decimal.Decimal
	ListBalances(ctx context.Context, account string, forceRefresh bool) []common.AssetBalance
}

type Positions interface {
	GetObligations(ctx context.Context, account string) ([]*position.Obligation, error)
	Cached(account string) ([]*position.Obligation, time.Time, bool)
	Subscribe() <-chan *position.Update
	Unsubscribe(ch <-chan *position.Update)
}

type Prices interface {
	Resolve(ctx context.Context, venue string, a, b common.Token) (price.Quote, error)
	SetOverride(a, b common.Token, p decimal.Decimal) error
	ClearOverride(a, b common.Token) error
}

type Submitter interface {
	Submit(ctx context.Context, action *txsubmit.Action) (*txsubmit.Result, error)
}

type Session interface {
	Connect(ctx context.Context) (string, error)
	Disconnect()
	Account() string
}

// Deps are the services exposed by the API
type Deps struct {
	Balances  Balances
	Positions Positions
	Prices    Prices
	Submitter Submitter
	Session   Session
	// Obligation loads, retried only on request
	Obligations *fetch.Fetcher[[]*position.Obligation]
}

// API provides HTTP and WebSocket endpoints
type API struct {
	deps     Deps
	upgrader websocket.Upgrader
	wsConns  map[*websocket.Conn]bool
	wsMu     sync.RWMutex
	server   *http.Server
	updates  <-chan *position.Update
}

func New(deps Deps) *API {
	return &API{
		deps:    deps,
		wsConns: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: checkWebSocketOrigin,
		},
	}
}

// checkWebSocketOrigin allows same-origin requests, localhost and clients
// without an Origin header
func checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "https://127.0.0.1") {
		return true
	}
	// Compare hosts exactly so "example.com.attacker.com" does not pass
	originHost := extractHost(origin)
	if originHost == "" {
		return false
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if !strings.Contains(originHost, ":") {
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
	}
	return originHost == host
}

func extractHost(urlStr string) string {
	if idx := strings.Index(urlStr, "://"); idx != -1 {
		urlStr = urlStr[idx+3:]
	}
	if idx := strings.Index(urlStr, "/"); idx != -1 {
		urlStr = urlStr[:idx]
	}
	return urlStr
}

// Router returns the HTTP handler for all endpoints
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/accounts/{account}", func(acct chi.Router) {
			acct.Get("/balances", a.handleBalance)
			acct.Get("/coins", a.handleCoins)
			acct.Get("/obligations", a.handleObligations)
			acct.Post("/obligations/retry", a.handleRetryObligations)
		})
		api.Get("/venues", a.handleVenues)
		api.Get("/prices", a.handlePrice)
		api.Put("/prices/override", a.handleSetOverride)
		api.Delete("/prices/override", a.handleClearOverride)
		api.Get("/wallet", a.handleWallet)
		api.Post("/wallet/connect", a.handleConnect)
		api.Post("/wallet/disconnect", a.handleDisconnect)
		api.Post("/tx", a.handleSubmit)
	})
	r.Get("/ws/updates", a.handleUpdateStream)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start begins serving on addr in the background
func (a *API) Start(addr string) {
	logger := logging.GetLogger()
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	a.startBroadcast()
	go func() {
		logger.Info("starting API server", "addr", addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server failed", "error", err)
		}
	}()
}

// Shutdown stops the server and closes WebSocket clients
func (a *API) Shutdown(ctx context.Context) error {
	a.wsMu.Lock()
	for conn := range a.wsConns {
		_ = conn.Close()
		delete(a.wsConns, conn)
	}
	a.wsMu.Unlock()
	if a.updates != nil {
		a.deps.Positions.Unsubscribe(a.updates)
		a.updates = nil
	}
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}

// writeError maps err onto a status code by its kind
func writeError(w http.ResponseWriter, err error) {
	kind := txerr.KindOf(err)
	resp := errorResponse{
		Error: txerr.UserMessage(err),
		Kind:  kind.String(),
	}
	status := http.StatusInternalServerError
	switch kind {
	case txerr.KindValidation:
		status = http.StatusUnprocessableEntity
		var valErr *txerr.ValidationError
		if errors.As(err, &valErr) {
			resp.Field = valErr.Field
		}
	case txerr.KindOnChain:
		status = http.StatusUnprocessableEntity
	case txerr.KindConnectivity:
		status = http.StatusServiceUnavailable
	case txerr.KindAmbiguous:
		status = http.StatusAccepted
	}
	if status == http.StatusInternalServerError {
		logging.GetLogger().Error("request failed", "error", err)
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Kind: "request"})
}
