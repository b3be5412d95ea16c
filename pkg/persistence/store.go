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

// Package persistence defines the document store used for durable agent state.
//
// A store holds named collections of JSON documents addressed by id. The
// checkpoint package keeps one collection per check type and one document per
// monitored instance scope. Writes replace whole documents; there are no
// partial updates.
package persistence

import (
	"context"
	"errors"
	"regexp"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Document is a JSON-compatible map. Numbers read back from a durable store
// are float64, as produced by JSON decoding.
type Document map[string]any

// Store is a minimal document store.
type Store interface {
	// CreateCollection creates the collection if it does not exist.
	CreateCollection(ctx context.Context, name string) error
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Put inserts or fully replaces the document.
	Put(ctx context.Context, collection, id string, doc Document) error
	// Delete removes the document or returns ErrNotFound.
	Delete(ctx context.Context, collection, id string) error
	Close() error
}

var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateCollectionName rejects names that are not safe to use as an SQL identifier.
func ValidateCollectionName(name string) error {
	if name == "" {
		return errors.New("invalid collection name: cannot be empty")
	}

	if !collectionNamePattern.MatchString(name) {
		return errors.New("invalid collection name: must contain only alphanumeric characters and underscores, and must start with a letter or underscore")
	}

	return nil
}
