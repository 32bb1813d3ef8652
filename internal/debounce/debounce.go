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

package debounce

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of calls per key. Each key owns at most one
// timer; triggering again replaces the pending call and restarts the wait
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timers  map[string]*time.Timer
	seq     map[string]uint64
	stopped bool
	running sync.WaitGroup
}

func New(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:  delay,
		timers: make(map[string]*time.Timer),
		seq:    make(map[string]uint64),
	}
}

// Trigger schedules fn to run after the delay unless key is triggered again
// first. It returns false once the debouncer is stopped
func (d *Debouncer) Trigger(key string, fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	if timer, ok := d.timers[key]; ok {
		timer.Stop()
	}
	d.seq[key]++
	seq := d.seq[key]
	d.timers[key] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A timer that fired while being replaced is stale
		if d.seq[key] != seq || d.stopped {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		delete(d.seq, key)
		d.running.Add(1)
		d.mu.Unlock()
		defer d.running.Done()
		fn()
	})
	return true
}

// Cancel drops the pending call for key
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timer, ok := d.timers[key]; ok {
		timer.Stop()
		delete(d.timers, key)
		delete(d.seq, key)
	}
}

// Pending returns true if key has a scheduled call
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[key]
	return ok
}

// Len returns the number of keys with a scheduled call
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels all pending calls and waits for running ones to return
// (idempotent - safe to call multiple times). It must not be called from a
// triggered function
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		for key, timer := range d.timers {
			timer.Stop()
			delete(d.timers, key)
		}
		clear(d.seq)
	}
	d.mu.Unlock()
	d.running.Wait()
}
