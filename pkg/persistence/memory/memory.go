// Copyright 2025 UMH Systems GmbH
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

// Package memory provides an in-memory persistence.Store for tests and
// deployments that do not need checkpoints to survive a restart.
//
// Documents are deep-copied on read and write so callers can never mutate
// stored state. Collections are created on first write.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/persistence"
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context cannot be nil")
	}

	return ctx.Err()
}

// InMemoryStore is a thread-safe persistence.Store backed by nested maps.
type InMemoryStore struct {
	collections map[string]map[string]persistence.Document
	mu          sync.RWMutex
	closed      bool
}

var _ persistence.Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		collections: make(map[string]map[string]persistence.Document),
	}
}

func copyDocument(doc persistence.Document) (persistence.Document, error) {
	if doc == nil {
		return persistence.Document{}, nil
	}

	var out persistence.Document
	if err := deepcopy.Copy(&out, doc); err != nil {
		return nil, fmt.Errorf("failed to copy document: %w", err)
	}

	return out, nil
}

// CreateCollection creates the collection if it does not exist.
func (s *InMemoryStore) CreateCollection(ctx context.Context, name string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if err := persistence.ValidateCollectionName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persistence.ErrClosed
	}

	if _, ok := s.collections[name]; !ok {
		s.collections[name] = make(map[string]persistence.Document)
	}

	return nil
}

// Get returns a copy of the document.
func (s *InMemoryStore) Get(ctx context.Context, collection, id string) (persistence.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, persistence.ErrNotFound
	}

	return copyDocument(doc)
}

// Put stores a copy of doc under id.
func (s *InMemoryStore) Put(ctx context.Context, collection, id string, doc persistence.Document) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if err := persistence.ValidateCollectionName(collection); err != nil {
		return err
	}

	stored, err := copyDocument(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persistence.ErrClosed
	}

	if _, ok := s.collections[collection]; !ok {
		s.collections[collection] = make(map[string]persistence.Document)
	}

	s.collections[collection][id] = stored

	return nil
}

// Delete removes the document.
func (s *InMemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persistence.ErrClosed
	}

	if _, ok := s.collections[collection][id]; !ok {
		return persistence.ErrNotFound
	}

	delete(s.collections[collection], id)

	return nil
}

// Close marks the store as closed. Stored data is dropped.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("store already closed")
	}

	s.closed = true
	s.collections = nil

	return nil
}
