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

package wallet

import (
	"context"
	"errors"
	"sync"

	"github.com/blinklabs-io/tally/internal/logging"
	"github.com/blinklabs-io/tally/internal/provider"
)

var (
	ErrNotInitialized = errors.New("wallet session not initialized")
	ErrNotConnected   = errors.New("no wallet connected")
)

// Signer is the wallet backend
type Signer interface {
	Address(ctx context.Context) (string, error)
	SignAndExecute(ctx context.Context, sender string, txBytes string) (*provider.Execution, error)
}

// Session tracks the connected wallet account
type Session struct {
	mu        sync.RWMutex
	signer    Signer
	account   string
	listeners []func(account string)
}

var (
	globalSession = &Session{}
	initOnce      sync.Once
)

// Init sets up the process-wide session once. Later calls are ignored and
// return false
func Init(signer Signer) bool {
	ret := false
	initOnce.Do(func() {
		globalSession.mu.Lock()
		globalSession.signer = signer
		globalSession.mu.Unlock()
		ret = true
	})
	if !ret {
		logging.GetLogger().Debug("wallet session already initialized")
	}
	return ret
}

// GetSession returns the process-wide session
func GetSession() *Session {
	return globalSession
}

// NewSession returns a standalone session, mostly useful for tests
func NewSession(signer Signer) *Session {
	return &Session{signer: signer}
}

// Connect asks the signer for its active account and makes it current
func (s *Session) Connect(ctx context.Context) (string, error) {
	s.mu.RLock()
	signer := s.signer
	s.mu.RUnlock()
	if signer == nil {
		return "", ErrNotInitialized
	}
	account, err := signer.Address(ctx)
	if err != nil {
		return "", err
	}
	s.setAccount(account)
	logging.GetLogger().Info("wallet connected", "account", account)
	return account, nil
}

// Disconnect clears the current account
func (s *Session) Disconnect() {
	s.setAccount("")
	logging.GetLogger().Info("wallet disconnected")
}

// Account returns the connected account, or an empty string
func (s *Session) Account() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// Connected returns true when an account is connected
func (s *Session) Connected() bool {
	return s.Account() != ""
}

// OnChange registers fn to be called with the new account whenever it
// changes
func (s *Session) OnChange(fn func(account string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SignAndExecute signs and submits txBytes as the connected account
func (s *Session) SignAndExecute(ctx context.Context, txBytes string) (*provider.Execution, error) {
	s.mu.RLock()
	signer := s.signer
	account := s.account
	s.mu.RUnlock()
	if signer == nil {
		return nil, ErrNotInitialized
	}
	if account == "" {
		return nil, ErrNotConnected
	}
	return signer.SignAndExecute(ctx, account, txBytes)
}

func (s *Session) setAccount(account string) {
	s.mu.Lock()
	changed := s.account != account
	s.account = account
	listeners := make([]func(string), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(account)
	}
}
