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

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backend"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/savedsearch"
)

// Stats counts what one extraction did.
type Stats struct {
	Pages      int
	Emitted    int
	Suppressed int
	Failed     int
}

// Extractor drains dispatched jobs page by page into a Sink.
type Extractor struct {
	backend      backend.SearchBackend
	sink         Sink
	log          *zap.SugaredLogger
	mapper       Mapper
	instanceTags []string
}

// NewExtractor creates an extractor emitting into sink.
func NewExtractor(b backend.SearchBackend, sink Sink, mapper Mapper, instanceTags []string, log *zap.SugaredLogger) *Extractor {
	return &Extractor{
		backend:      b,
		sink:         sink,
		mapper:       mapper,
		instanceTags: instanceTags,
		log:          log,
	}
}

// Extract polls job until a short page and emits every record that passes
// the runtime's dedup. rt must be inside a cycle.
func (e *Extractor) Extract(ctx context.Context, job backend.JobID, rt *savedsearch.Runtime) (Stats, error) {
	var stats Stats

	def := rt.Definition()
	mapping := e.mapper.MappingFor(def)
	offset := 0

	for {
		page, err := e.poll(ctx, job, def, offset)
		if err != nil {
			return stats, err
		}

		stats.Pages++

		if err := e.checkMessages(def.Name, page.Messages); err != nil {
			return stats, err
		}

		for _, rec := range page.Results {
			if err := e.process(rec, rt, mapping, &stats); err != nil {
				return stats, err
			}
		}

		if len(page.Results) < def.BatchSize {
			return stats, nil
		}

		offset += len(page.Results)
	}
}

func (e *Extractor) poll(ctx context.Context, job backend.JobID, def savedsearch.Definition, offset int) (backend.Page, error) {
	var page backend.Page

	timeout := time.Duration(def.TimeoutSeconds) * time.Second
	policy := backoff.NewRetryPolicy(def.MaxRetryCount, def.RetryIntervalSeconds)

	err := policy.Do(ctx, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		p, err := e.backend.Poll(reqCtx, job, offset, def.BatchSize)
		if errors.Is(err, backend.ErrNotReady) {
			return err
		}

		if err != nil {
			return backoff.Permanent(err)
		}

		page = p

		return nil
	}, func(_ error, wait time.Duration) {
		e.log.Debugf("job %s of saved search %s not ready, retrying in %s", job, def.Name, wait)
	})

	// cancellation surfaces as the last attempt's error, which is not the cause
	if err != nil && ctx.Err() != nil {
		return backend.Page{}, fmt.Errorf("polling job %s of saved search %s interrupted: %w", job, def.Name, ctx.Err())
	}

	switch {
	case errors.Is(err, backend.ErrNotReady):
		return backend.Page{}, backoff.NewTransientError(
			fmt.Errorf("job %s of saved search %s not ready after %d retries: %w", job, def.Name, def.MaxRetryCount, err))
	case err != nil:
		return backend.Page{}, fmt.Errorf("failed to poll job %s of saved search %s: %w", job, def.Name, err)
	}

	return page, nil
}

func (e *Extractor) checkMessages(search string, msgs []backend.Message) error {
	for _, msg := range msgs {
		switch msg.Type {
		case backend.MessageFatal:
			return backoff.NewFatalResultError(fmt.Errorf("saved search %s reported a fatal error: %s", search, msg.Text))
		case backend.MessageInfo:
			if msg.Text == backend.NoMatchingFieldsText {
				e.log.Debugf("saved search %s: %s", search, msg.Text)

				continue
			}

			e.log.Infof("saved search %s: %s", search, msg.Text)
		default:
			e.log.Warnf("saved search %s reported %s: %s", search, msg.Type, msg.Text)
		}
	}

	return nil
}

func (e *Extractor) process(rec backend.Record, rt *savedsearch.Runtime, mapping Mapping, stats *Stats) error {
	def := rt.Definition()

	if !mapping.Snapshot {
		ts, key, err := identify(rec, def.UniqueKeyFields)
		if err != nil {
			stats.Failed++
			e.log.Warnf("saved search %s: dropping record: %v", def.Name, err)

			return nil
		}

		if !rt.ShouldEmit(key, ts) {
			stats.Suppressed++

			return nil
		}
	}

	item, err := mapping.Apply(rec, e.instanceTags)
	if err == nil {
		item.Search = def.Name
		err = e.sink.Emit(item)
	}

	switch {
	case err == nil:
		stats.Emitted++
	case backoff.IsFieldMappingError(err):
		stats.Failed++
		e.log.Warnf("saved search %s: dropping record: %v", def.Name, err)
	default:
		return err
	}

	return nil
}

func identify(rec backend.Record, keyFields []string) (int64, savedsearch.Key, error) {
	raw, ok := rec[TimeField]
	if !ok {
		return 0, 0, backoff.FieldMappingf("record has no %s field", TimeField)
	}

	ts, err := ParseTime(raw)
	if err != nil {
		return 0, 0, backoff.NewFieldMappingError(err)
	}

	key, err := savedsearch.KeyOf(rec, keyFields)
	if err != nil {
		return 0, 0, err
	}

	return ts, key, nil
}
