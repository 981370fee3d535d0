// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

// Package state owns durable per-task state: the Store abstraction, the
// Manager that runs the task lifecycle over it, and the event sink that
// broadcasts state changes.
package state

import (
	"context"
	"errors"
	"sync"

	"github.com/agentwire/agentwire"
)

// ErrNotFound is returned by a Store when no record exists for a task id.
var ErrNotFound = errors.New("state not found")

// Store persists StateData records keyed by task id. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get retrieves the record for a task id, or ErrNotFound.
	Get(ctx context.Context, taskID string) (*agentwire.StateData, error)

	// Put writes the record for a task id, creating or overwriting it.
	Put(ctx context.Context, taskID string, data *agentwire.StateData) error

	// Delete removes the record for a task id. Deleting an absent record is
	// not an error.
	Delete(ctx context.Context, taskID string) error
}

// InMemoryStore is a map-backed Store for tests and single-process use.
type InMemoryStore struct {
	mu     sync.RWMutex
	states map[string]*agentwire.StateData
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{states: make(map[string]*agentwire.StateData)}
}

// Get implements [Store].
func (s *InMemoryStore) Get(ctx context.Context, taskID string) (*agentwire.StateData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.states[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

// Put implements [Store].
func (s *InMemoryStore) Put(ctx context.Context, taskID string, data *agentwire.StateData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[taskID] = data
	return nil
}

// Delete implements [Store].
func (s *InMemoryStore) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, taskID)
	return nil
}
