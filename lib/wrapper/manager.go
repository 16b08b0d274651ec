// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package wrapper

import (
	"context"
	"fmt"
	"sync"

	"github.com/yurucode/yurucode/lib/metrics"
	"github.com/yurucode/yurucode/lib/session"
)

// Manager runs several supervised sessions, each with its own ledger
// and subprocess. Sessions are addressed by a stable handle minted at
// launch; the CLI may rebind the session identifier later without
// disturbing the handle.
type Manager struct {
	metrics *metrics.Metrics

	mutex   sync.Mutex
	entries map[string]*managedSession
}

type managedSession struct {
	pipeline   *Session
	supervisor *Supervisor
}

// NewManager creates an empty manager. Metrics may be nil.
func NewManager(collectors *metrics.Metrics) *Manager {
	return &Manager{
		metrics: collectors,
		entries: make(map[string]*managedSession),
	}
}

// Launch spawns one supervised session and returns its handle. The
// session config's Metrics field is overridden with the manager's.
func (manager *Manager) Launch(ctx context.Context, sessionConfig SessionConfig, supervisorConfig SupervisorConfig) (string, error) {
	sessionConfig.Metrics = manager.metrics
	if sessionConfig.SessionID == "" {
		sessionConfig.SessionID = NewSyntheticSessionID()
	}
	handle := sessionConfig.SessionID

	pipeline := NewSession(sessionConfig)
	supervisorConfig.Session = pipeline
	supervisor, err := NewSupervisor(supervisorConfig)
	if err != nil {
		return "", err
	}

	// Reserve the handle before spawning so two concurrent Launches
	// with the same identifier cannot both pass the duplicate check.
	entry := &managedSession{pipeline: pipeline, supervisor: supervisor}
	manager.mutex.Lock()
	if _, exists := manager.entries[handle]; exists {
		manager.mutex.Unlock()
		return "", fmt.Errorf("session %q already running", handle)
	}
	manager.entries[handle] = entry
	manager.mutex.Unlock()

	if err := supervisor.Start(ctx); err != nil {
		manager.mutex.Lock()
		delete(manager.entries, handle)
		manager.mutex.Unlock()
		return "", err
	}
	manager.metrics.SessionStarted()

	// Retire the entry once the subprocess is gone, whatever ended it.
	go func() {
		supervisor.Wait()
		manager.metrics.SessionEnded()
		manager.mutex.Lock()
		delete(manager.entries, handle)
		manager.mutex.Unlock()
	}()

	return handle, nil
}

// Stats returns the derived state of one session.
func (manager *Manager) Stats(handle string) (session.Snapshot, bool) {
	manager.mutex.Lock()
	entry, ok := manager.entries[handle]
	manager.mutex.Unlock()
	if !ok {
		return session.Snapshot{}, false
	}
	return entry.pipeline.Stats(), true
}

// AllStats returns the derived state of every live session.
func (manager *Manager) AllStats() []session.Snapshot {
	manager.mutex.Lock()
	entries := make([]*managedSession, 0, len(manager.entries))
	for _, entry := range manager.entries {
		entries = append(entries, entry)
	}
	manager.mutex.Unlock()

	snapshots := make([]session.Snapshot, 0, len(entries))
	for _, entry := range entries {
		snapshots = append(snapshots, entry.pipeline.Stats())
	}
	return snapshots
}

// Aggregate sums token and compaction activity across live sessions.
func (manager *Manager) Aggregate() session.TokenCounts {
	var totals session.TokenCounts
	for _, snapshot := range manager.AllStats() {
		totals.Input += snapshot.Tokens.Input
		totals.Output += snapshot.Tokens.Output
		totals.CacheCreation += snapshot.Tokens.CacheCreation
		totals.CacheRead += snapshot.Tokens.CacheRead
		totals.Total += snapshot.Tokens.Total
	}
	return totals
}

// Alive reports whether the handle names a running session.
func (manager *Manager) Alive(handle string) bool {
	manager.mutex.Lock()
	entry, ok := manager.entries[handle]
	manager.mutex.Unlock()
	return ok && entry.supervisor.Alive()
}

// Stop gracefully terminates one session. Unknown handles are a
// no-op.
func (manager *Manager) Stop(handle string) {
	manager.mutex.Lock()
	entry, ok := manager.entries[handle]
	manager.mutex.Unlock()
	if ok {
		entry.supervisor.Stop()
	}
}

// StopAll gracefully terminates every session, concurrently.
func (manager *Manager) StopAll() {
	manager.mutex.Lock()
	entries := make([]*managedSession, 0, len(manager.entries))
	for _, entry := range manager.entries {
		entries = append(entries, entry)
	}
	manager.mutex.Unlock()

	var group sync.WaitGroup
	for _, entry := range entries {
		group.Add(1)
		go func(entry *managedSession) {
			defer group.Done()
			entry.supervisor.Stop()
		}(entry)
	}
	group.Wait()
}
