// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle holds process-wide service state that the HTTP pipeline
// consults on every request, such as whether new traffic is paused.
package lifecycle

import (
	"sync"
	"sync/atomic"
)

// PauseFlag is a process-wide switch that makes the HTTP pipeline reject new
// requests. The flag is read lock-free on the request path; the flag and its
// reason are written together so Status always returns a consistent pair.
type PauseFlag struct {
	paused atomic.Bool

	mu     sync.Mutex
	reason string

	listeners []func(paused bool, reason string)
}

// NewPauseFlag returns an unpaused flag.
func NewPauseFlag() *PauseFlag {
	return &PauseFlag{}
}

// Set updates the flag and its reason. It reports whether the paused state
// changed.
func (p *PauseFlag) Set(paused bool, reason string) bool {
	p.mu.Lock()
	changed := p.paused.Load() != paused
	p.reason = reason
	p.paused.Store(paused)
	listeners := p.listeners
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(paused, reason)
	}
	return changed
}

// IsPaused reports whether new requests should be rejected.
func (p *PauseFlag) IsPaused() bool {
	return p.paused.Load()
}

// Status returns the paused state with the reason it was last set.
func (p *PauseFlag) Status() (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused.Load(), p.reason
}

// OnChange registers fn to be called after every Set. Listeners run on the
// goroutine that called Set and must not block.
func (p *PauseFlag) OnChange(fn func(paused bool, reason string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}
