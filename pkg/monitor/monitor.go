// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package monitor watches the configuration directory. It runs reload tasks
// for changed configuration files and pauses the service while a pause file
// exists.
package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stacklok/summerboot/pkg/lifecycle"
	"github.com/stacklok/summerboot/pkg/logger"
)

// PauseFileName is the file whose existence pauses the service.
const PauseFileName = "pause"

// DefaultInterval is the polling interval used when none is configured.
const DefaultInterval = 5 * time.Second

type fileState struct {
	exists  bool
	modTime time.Time
	size    int64
}

func stat(path string) fileState {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}
	}
	return fileState{exists: true, modTime: info.ModTime(), size: info.Size()}
}

// Monitor polls the configuration directory.
type Monitor struct {
	dir      string
	interval time.Duration
	tasks    map[string]func() error
	pause    *lifecycle.PauseFlag

	// files and pauseExists are owned by the polling goroutine.
	files       map[string]fileState
	pauseExists bool

	queue     chan string
	pendingMu sync.Mutex
	pending   map[string]bool

	// mu protects the lifecycle fields below.
	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// New creates a Monitor for dir. tasks maps absolute file paths to the task
// that reloads them.
func New(dir string, tasks map[string]func() error, pause *lifecycle.PauseFlag, opts ...Option) *Monitor {
	m := &Monitor{
		dir:      dir,
		interval: DefaultInterval,
		tasks:    tasks,
		pause:    pause,
		files:    make(map[string]fileState, len(tasks)),
		queue:    make(chan string, len(tasks)+1),
		pending:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PausePath returns the path of the pause file.
func (m *Monitor) PausePath() string {
	return filepath.Join(m.dir, PauseFileName)
}

// Start begins polling. Calling Start on a running monitor does nothing.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	if _, err := os.Stat(m.dir); err != nil {
		return fmt.Errorf("cannot watch configuration directory: %w", err)
	}

	pausePath := m.PausePath()
	m.pauseExists = stat(pausePath).exists
	if m.pauseExists {
		m.pause.Set(true, "by file detection "+pausePath)
		logger.Warnf("service paused by file detection %s", pausePath)
	}
	for path := range m.tasks {
		m.files[path] = stat(path)
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.started = true
	m.wg.Add(2)
	go m.watch(ctx)
	go m.work(ctx)
	logger.Infof("monitoring %s every %v (%d files)", m.dir, m.interval, len(m.tasks))
	return nil
}

// Stop stops polling and waits for the goroutines to exit. It is safe to call
// on a monitor that was never started.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.started = false
	m.mu.Unlock()

	m.wg.Wait()
	logger.Debugf("stopped monitoring %s", m.dir)
}

// Run starts the monitor and blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	m.Stop()
	return nil
}

func (m *Monitor) watch(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	pausePath := m.PausePath()
	if exists := stat(pausePath).exists; exists != m.pauseExists {
		m.pauseExists = exists
		if exists {
			m.pause.Set(true, "file created "+pausePath)
			logger.Warnf("service paused: file created %s", pausePath)
		} else {
			m.pause.Set(false, "file deleted "+pausePath)
			logger.Infof("service resumed: file deleted %s", pausePath)
		}
	}

	for path := range m.tasks {
		prev := m.files[path]
		cur := stat(path)
		if cur == prev {
			continue
		}
		m.files[path] = cur
		if !cur.exists {
			logger.Warnf("configuration file deleted %s, keeping the loaded configuration", path)
			continue
		}
		m.enqueue(path)
	}
}

// enqueue never blocks; a path already waiting is not queued twice.
func (m *Monitor) enqueue(path string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if m.pending[path] {
		return
	}
	select {
	case m.queue <- path:
		m.pending[path] = true
	default:
		logger.Warnf("reload queue full, dropping change of %s", path)
	}
}

func (m *Monitor) work(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-m.queue:
			m.pendingMu.Lock()
			delete(m.pending, path)
			m.pendingMu.Unlock()

			logger.Infof("configuration changed %s", path)
			if err := m.tasks[path](); err != nil {
				logger.Errorf("failed to reload %s: %v", path, err)
			}
		}
	}
}
