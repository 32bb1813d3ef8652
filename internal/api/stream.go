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

package api

import (
	"net/http"

	"github.com/blinklabs-io/tally/internal/logging"
	"github.com/blinklabs-io/tally/internal/position"
	"github.com/gorilla/websocket"
)

// handleUpdateStream handles WebSocket connections for obligation updates
func (a *API) handleUpdateStream(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLogger()

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	a.wsMu.Lock()
	a.wsConns[conn] = true
	a.wsMu.Unlock()

	logger.Debug("WebSocket client connected", "remote", conn.RemoteAddr())

	defer func() {
		a.wsMu.Lock()
		delete(a.wsConns, conn)
		a.wsMu.Unlock()
		_ = conn.Close()
		logger.Debug(
			"WebSocket client disconnected",
			"remote", conn.RemoteAddr(),
		)
	}()

	// Read until the client goes away so close frames are handled
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// startBroadcast subscribes to obligation updates and forwards them to
// every WebSocket client until the subscription is closed
func (a *API) startBroadcast() {
	a.updates = a.deps.Positions.Subscribe()
	go a.broadcastUpdates(a.updates)
}

func (a *API) broadcastUpdates(updates <-chan *position.Update) {
	logger := logging.GetLogger()

	for update := range updates {
		var failedConns []*websocket.Conn

		// Writes are serialized by the write lock, gorilla connections
		// allow only one concurrent writer
		a.wsMu.Lock()
		for conn := range a.wsConns {
			if err := conn.WriteJSON(update); err != nil {
				logger.Debug(
					"failed to send WebSocket update",
					"error", err,
					"remote", conn.RemoteAddr(),
				)
				failedConns = append(failedConns, conn)
			}
		}
		for _, conn := range failedConns {
			delete(a.wsConns, conn)
			_ = conn.Close()
		}
		a.wsMu.Unlock()
	}
}

// WebSocketClientCount returns the number of connected WebSocket clients
func (a *API) WebSocketClientCount() int {
	a.wsMu.RLock()
	defer a.wsMu.RUnlock()
	return len(a.wsConns)
}
