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

// Package checkpoint persists per-search watermarks and in-flight job ids.
//
// Every check type owns one scope. A scope is a flat, versionless map:
//
//	<instanceBaseURL>              -> {<searchName>: <watermark epoch seconds>, ...}
//	<instanceBaseURL><searchName>  -> <in-flight job id>
//
// Load and Commit operate on the whole map. Update is the only way the engine
// writes: it loads the current map, lets the caller mutate its own keys and
// commits the result while holding the store lock, so concurrent searches of
// the same scope never lose each other's keys.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/logger"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/persistence"
)

// Collection is the persistence collection holding all scopes.
const Collection = "checkpoints"

// Store is the process-wide checkpoint store.
type Store struct {
	backend persistence.Store
	log     *zap.SugaredLogger
	mu      sync.Mutex
}

// New prepares the checkpoint collection in backend.
func New(ctx context.Context, backend persistence.Store) (*Store, error) {
	if err := backend.CreateCollection(ctx, Collection); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint collection: %w", err)
	}

	return &Store{
		backend: backend,
		log:     logger.For(logger.ComponentCheckpoint),
	}, nil
}

// Load returns the persisted map for scope. A missing scope yields an empty map.
func (s *Store) Load(ctx context.Context, scope string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load(ctx, scope)
}

// Commit replaces the persisted map for scope.
func (s *Store) Commit(ctx context.Context, scope string, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commit(ctx, scope, values)
}

// Update loads scope, applies mutate and commits the result atomically with
// respect to other Update and Commit calls on this store.
func (s *Store) Update(ctx context.Context, scope string, mutate func(values map[string]any)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load(ctx, scope)
	if err != nil {
		return err
	}

	mutate(values)

	return s.commit(ctx, scope, values)
}

func (s *Store) load(ctx context.Context, scope string) (map[string]any, error) {
	doc, err := s.backend.Get(ctx, Collection, scope)
	if errors.Is(err, persistence.ErrNotFound) {
		return map[string]any{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint scope %q: %w", scope, err)
	}

	return map[string]any(doc), nil
}

func (s *Store) commit(ctx context.Context, scope string, values map[string]any) error {
	if err := s.backend.Put(ctx, Collection, scope, persistence.Document(values)); err != nil {
		return fmt.Errorf("failed to commit checkpoint scope %q: %w", scope, err)
	}

	s.log.Debugf("committed checkpoint scope %s (%d keys)", scope, len(values))

	return nil
}

// Instance is the view of one monitored instance inside a scope.
type Instance struct {
	store   *Store
	scope   string
	baseURL string
}

// Instance returns the view for baseURL within scope.
func (s *Store) Instance(scope, baseURL string) *Instance {
	return &Instance{store: s, scope: scope, baseURL: baseURL}
}

// BaseURL returns the instance key.
func (i *Instance) BaseURL() string {
	return i.baseURL
}

func (i *Instance) jobKey(search string) string {
	return i.baseURL + search
}

// Watermarks returns all committed watermarks of the instance by search name.
func (i *Instance) Watermarks(ctx context.Context) (map[string]int64, error) {
	values, err := i.store.Load(ctx, i.scope)
	if err != nil {
		return nil, err
	}

	return watermarksOf(values, i.baseURL), nil
}

// Watermark returns the committed watermark of one search.
func (i *Instance) Watermark(ctx context.Context, search string) (int64, bool, error) {
	marks, err := i.Watermarks(ctx)
	if err != nil {
		return 0, false, err
	}

	wm, ok := marks[search]

	return wm, ok, nil
}

// CommitWatermark stores the watermark of search and clears its in-flight job.
func (i *Instance) CommitWatermark(ctx context.Context, search string, watermark int64) error {
	return i.store.Update(ctx, i.scope, func(values map[string]any) {
		status, _ := values[i.baseURL].(map[string]any)
		if status == nil {
			status = map[string]any{}
		}

		status[search] = watermark
		values[i.baseURL] = status

		delete(values, i.jobKey(search))
	})
}

// InFlightJob returns the persisted job id of search, if any.
func (i *Instance) InFlightJob(ctx context.Context, search string) (string, bool, error) {
	values, err := i.store.Load(ctx, i.scope)
	if err != nil {
		return "", false, err
	}

	job, ok := values[i.jobKey(search)].(string)
	if !ok || job == "" {
		return "", false, nil
	}

	return job, true, nil
}

// SetInFlightJob persists job as the in-flight job of search.
func (i *Instance) SetInFlightJob(ctx context.Context, search, job string) error {
	return i.store.Update(ctx, i.scope, func(values map[string]any) {
		values[i.jobKey(search)] = job
	})
}

// ClearInFlightJob removes the in-flight job of search.
func (i *Instance) ClearInFlightJob(ctx context.Context, search string) error {
	return i.store.Update(ctx, i.scope, func(values map[string]any) {
		delete(values, i.jobKey(search))
	})
}

func watermarksOf(values map[string]any, baseURL string) map[string]int64 {
	out := map[string]int64{}

	status, ok := values[baseURL].(map[string]any)
	if !ok {
		return out
	}

	for search, raw := range status {
		if wm, ok := toEpochSeconds(raw); ok {
			out[search] = wm
		}
	}

	return out
}

// toEpochSeconds accepts the numeric shapes a watermark can take after a
// round trip through the persistence layer. Fractions are truncated.
func toEpochSeconds(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}

		return int64(v), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}

		f, err := v.Float64()

		return int64(f), err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)

		return int64(f), err == nil
	default:
		return 0, false
	}
}
