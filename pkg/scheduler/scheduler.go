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

// Package scheduler runs one cycle of all saved searches of a monitored
// instance: refresh, dispatch, extract and checkpoint, under bounded
// concurrency and with per-search failure isolation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backend"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/check"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/checkpoint"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/metrics"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/savedsearch"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/telemetry"
)

// ErrNoSearchSucceeded is returned when every saved search of a non-empty set failed.
var ErrNoSearchSucceeded = errors.New("no saved search completed successfully")

// Config tunes one scheduler.
type Config struct {
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
	// CheckName labels metrics.
	CheckName string
	// ConcurrencyLimit is the number of searches run at once.
	ConcurrencyLimit int
	// IgnoreSearchErrors turns a failed search into a WARNING instead of
	// aborting the cycle.
	IgnoreSearchErrors bool
	// Snapshot dispatches without a time window and keeps no watermarks.
	Snapshot bool
}

// Result summarizes one cycle.
type Result struct {
	Messages   []string
	CycleID    uuid.UUID
	Status     check.Status
	Searches   int
	Succeeded  int
	Emitted    int
	Suppressed int
	Failed     int
	// Continue is set while any search is still recovering history.
	Continue bool
}

func (r *Result) warn(format string, args ...any) {
	r.Status = check.Worse(r.Status, check.StatusWarning)
	r.Messages = append(r.Messages, fmt.Sprintf(format, args...))
}

func (r *Result) fail(err error) {
	r.Status = check.StatusCritical
	r.Messages = append(r.Messages, err.Error())
}

// Scheduler owns the registry and runtimes of one instance.
type Scheduler struct {
	backend     backend.SearchBackend
	registry    *savedsearch.Registry
	checkpoints *checkpoint.Instance
	extractor   *telemetry.Extractor
	log         *zap.SugaredLogger
	cfg         Config
}

// New creates a scheduler.
func New(
	b backend.SearchBackend,
	registry *savedsearch.Registry,
	checkpoints *checkpoint.Instance,
	extractor *telemetry.Extractor,
	cfg Config,
	log *zap.SugaredLogger,
) *Scheduler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 1
	}

	return &Scheduler{
		backend:     b,
		registry:    registry,
		checkpoints: checkpoints,
		extractor:   extractor,
		cfg:         cfg,
		log:         log,
	}
}

// Registry returns the saved search registry.
func (s *Scheduler) Registry() *savedsearch.Registry {
	return s.registry
}

// RunCycle runs every instantiated saved search once. The returned error is
// set when the cycle was aborted; Result is always filled.
func (s *Scheduler) RunCycle(ctx context.Context) (Result, error) {
	res := Result{CycleID: uuid.New(), Status: check.StatusOK}
	start := s.cfg.Now()

	defer func() {
		metrics.ObserveCycleTime(s.cfg.CheckName, s.checkpoints.BaseURL(), time.Since(start))
	}()

	if err := s.backend.Authenticate(ctx); err != nil {
		return s.abort(&res, fmt.Errorf("failed to authenticate against %s: %w", s.checkpoints.BaseURL(), err))
	}

	watermarks, err := s.checkpoints.Watermarks(ctx)
	if err != nil {
		return s.abort(&res, fmt.Errorf("failed to load checkpoints: %w", err))
	}

	if err := s.refresh(ctx, &res, watermarks); err != nil {
		return s.abort(&res, err)
	}

	searches := s.registry.Searches()
	res.Searches = len(searches)

	var mu sync.Mutex

	for _, group := range savedsearch.Partition(searches, s.cfg.ConcurrencyLimit) {
		g, gctx := errgroup.WithContext(ctx)

		for _, rt := range group {
			g.Go(func() error {
				stats, err := s.runSearch(gctx, rt, watermarks)

				mu.Lock()
				defer mu.Unlock()

				res.Emitted += stats.Emitted
				res.Suppressed += stats.Suppressed
				res.Failed += stats.Failed
				s.observe(rt, stats)

				if err == nil {
					res.Succeeded++

					return nil
				}

				err = fmt.Errorf("saved search %s failed: %w", rt.Name(), err)
				metrics.IncErrorCount(metrics.ComponentScheduler, rt.Name(), backoff.CategoryOf(err).String())

				if s.cfg.IgnoreSearchErrors && !backoff.IsInstanceScoped(err) && ctx.Err() == nil {
					s.log.Warn(err)
					res.warn("%s", err)

					return nil
				}

				return err
			})
		}

		if err := g.Wait(); err != nil {
			return s.abort(&res, err)
		}
	}

	if len(searches) > 0 && res.Succeeded == 0 {
		return s.abort(&res, backoff.NewTransientError(ErrNoSearchSucceeded))
	}

	for _, rt := range searches {
		if rt.Recovering() {
			res.Continue = true

			break
		}
	}

	return res, nil
}

func (s *Scheduler) abort(res *Result, err error) (Result, error) {
	res.fail(err)
	res.Continue = false

	return *res, err
}

// refresh reconciles the registry with the backend. A failed listing keeps
// the previous set.
func (s *Scheduler) refresh(ctx context.Context, res *Result, watermarks map[string]int64) error {
	if !s.registry.HasTemplates() {
		s.registry.EnsureExact(watermarks)

		return nil
	}

	names, err := s.backend.ListSearchNames(ctx)
	if err != nil {
		if backoff.IsInstanceScoped(err) {
			return err
		}

		s.log.Warnf("failed to list saved searches, keeping the previous set: %v", err)
		res.warn("failed to list saved searches: %v", err)
		s.registry.EnsureExact(watermarks)

		return nil
	}

	s.registry.Refresh(names, watermarks)

	return nil
}

func (s *Scheduler) runSearch(ctx context.Context, rt *savedsearch.Runtime, watermarks map[string]int64) (telemetry.Stats, error) {
	name := rt.Name()

	if err := s.finalizeInFlight(ctx, rt); err != nil {
		return telemetry.Stats{}, err
	}

	if s.cfg.Snapshot {
		return s.runSnapshot(ctx, rt)
	}

	// Another writer moved the checkpoint past what this runtime committed.
	if wm, ok := watermarks[name]; ok {
		if current, has := rt.Watermark(); !has || wm > current {
			if err := rt.Restart(ctx, wm, true); err != nil {
				return telemetry.Stats{}, err
			}
		}
	}

	now := s.cfg.Now().Unix()

	window, err := rt.Begin(ctx, now)
	if err != nil {
		return telemetry.Stats{}, err
	}

	committed := false
	defer func() {
		if !committed {
			rt.Rollback()
		}
	}()

	job, err := s.dispatch(ctx, rt, window)
	if err != nil {
		return telemetry.Stats{}, err
	}

	stats, err := s.extractor.Extract(ctx, job, rt)
	if err != nil {
		return stats, err
	}

	if err := s.checkpoints.CommitWatermark(ctx, name, rt.PendingWatermark()); err != nil {
		return stats, fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	rt.Commit(now)
	committed = true

	return stats, nil
}

func (s *Scheduler) runSnapshot(ctx context.Context, rt *savedsearch.Runtime) (telemetry.Stats, error) {
	job, err := s.dispatch(ctx, rt, savedsearch.Window{})
	if err != nil {
		return telemetry.Stats{}, err
	}

	stats, err := s.extractor.Extract(ctx, job, rt)
	if err != nil {
		return stats, err
	}

	return stats, s.checkpoints.ClearInFlightJob(ctx, rt.Name())
}

// finalizeInFlight finalizes the job a previous cycle or process left behind.
func (s *Scheduler) finalizeInFlight(ctx context.Context, rt *savedsearch.Runtime) error {
	job, ok, err := s.checkpoints.InFlightJob(ctx, rt.Name())
	if err != nil || !ok {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(rt.Definition().TimeoutSeconds)*time.Second)
	defer cancel()

	s.log.Debugf("finalizing job %s left behind by saved search %s", job, rt.Name())

	if err := s.backend.Finalize(reqCtx, backend.JobID(job)); err != nil {
		return fmt.Errorf("failed to finalize job %s: %w", job, err)
	}

	return s.checkpoints.ClearInFlightJob(ctx, rt.Name())
}

func (s *Scheduler) dispatch(ctx context.Context, rt *savedsearch.Runtime, window savedsearch.Window) (backend.JobID, error) {
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(rt.Definition().TimeoutSeconds)*time.Second)
	defer cancel()

	job, err := s.backend.Dispatch(reqCtx, rt.Definition(), window)
	if err != nil {
		return "", fmt.Errorf("failed to dispatch: %w", err)
	}

	s.log.Debugf("dispatched saved search %s as job %s for window %+v", rt.Name(), job, window)

	if err := s.checkpoints.SetInFlightJob(ctx, rt.Name(), string(job)); err != nil {
		return "", fmt.Errorf("failed to persist job %s: %w", job, err)
	}

	return job, nil
}

func (s *Scheduler) observe(rt *savedsearch.Runtime, stats telemetry.Stats) {
	metrics.AddRecords(s.cfg.CheckName, rt.Name(), "emitted", stats.Emitted)
	metrics.AddRecords(s.cfg.CheckName, rt.Name(), "suppressed", stats.Suppressed)
	metrics.AddRecords(s.cfg.CheckName, rt.Name(), "failed", stats.Failed)

	wm, _ := rt.Watermark()
	metrics.UpdateSearch(s.cfg.CheckName, rt.Name(), rt.State(), wm)
}
