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

// Package control runs the configured checks on a fixed tick and forwards
// what they produced.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/check"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/config"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/constants"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/forwarder"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/logger"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/metrics"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/sentry"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/starvationchecker"
)

// ControlLoop runs every check once per tick. A check whose result asks to
// continue is rerun within the same tick until it is caught up or the tick
// times out. Everything the checks collected is flushed to the forwarder
// at the end of the tick.
type ControlLoop struct {
	aggregator        *check.Aggregator
	forwarder         forwarder.Forwarder
	logger            *zap.SugaredLogger
	snapshotManager   *SnapshotManager
	starvationChecker *starvationchecker.StarvationChecker
	checks            []check.Check
	forwardRetry      backoff.RetryPolicy
	tickerTime        time.Duration
	tickTimeout       time.Duration
	continueDelay     time.Duration
	currentTick       uint64
}

// NewControlLoop creates a control loop for checks. Tick interval and timeout
// come from agent, falling back to the defaults when unset.
func NewControlLoop(checks []check.Check, aggregator *check.Aggregator, fwd forwarder.Forwarder, agent config.AgentConfig) *ControlLoop {
	log := logger.For(logger.ComponentControlLoop)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	tickerTime := agent.TickInterval
	if tickerTime <= 0 {
		tickerTime = constants.DefaultTickerTime
	}

	tickTimeout := agent.TickTimeout
	if tickTimeout <= 0 {
		tickTimeout = constants.DefaultTickTimeout
	}

	// a tick may legitimately run for the whole timeout before the next one starts
	starvationChecker := starvationchecker.NewStarvationChecker(
		tickTimeout+2*tickerTime, time.Second, logger.For(logger.ComponentStarvation))

	return &ControlLoop{
		aggregator:        aggregator,
		forwarder:         fwd,
		logger:            log,
		snapshotManager:   NewSnapshotManager(),
		starvationChecker: starvationChecker,
		checks:            checks,
		forwardRetry: backoff.NewRetryPolicy(
			constants.ForwardMaxRetries, constants.ForwardRetryInterval.Seconds()),
		tickerTime:    tickerTime,
		tickTimeout:   tickTimeout,
		continueDelay: constants.ContinueDelay,
	}
}

// Execute ticks until ctx is cancelled. Only errors that leave the agent
// unable to deliver anything are returned.
func (c *ControlLoop) Execute(ctx context.Context) error {
	ticker := time.NewTicker(c.tickerTime)
	defer ticker.Stop()

	c.currentTick = 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.currentTick++

			start := time.Now()

			timeoutCtx, cancel := context.WithTimeout(ctx, c.tickTimeout)
			err := c.Reconcile(timeoutCtx, c.currentTick)
			cancel()

			cycleTime := time.Since(start)
			if cycleTime > c.tickerTime {
				c.logger.Warnf("Control loop tick took longer than the ticker time: %v", cycleTime)
			}

			metrics.ObserveCycleTime(metrics.ComponentControlLoop, "main", cycleTime)

			if err != nil {
				switch {
				case errors.Is(err, context.Canceled):
					c.logger.Infof("Control loop cancelled")

					return nil
				case errors.Is(err, context.DeadlineExceeded):
					sentry.ReportIssuef(sentry.IssueTypeWarning, c.logger, "Control loop tick timed out: %v", err)
				case backoff.IsAuthError(err):
					metrics.IncErrorCount(metrics.ComponentControlLoop, "main", backoff.CategoryOf(err).String())
					sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Forwarder rejected credentials, stopping: %v", err)

					return err
				default:
					metrics.IncErrorCount(metrics.ComponentControlLoop, "main", backoff.CategoryOf(err).String())
					sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "Control loop error: %v", err)
				}
			}
		}
	}
}

// Reconcile runs all checks once, rerunning those that ask to continue, then
// publishes a snapshot and flushes the aggregator.
func (c *ControlLoop) Reconcile(ctx context.Context, tick uint64) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if c.starvationChecker != nil {
		c.starvationChecker.UpdateLastReconcileTime()
	}

	snapshot := &SystemSnapshot{
		Checks:       make(map[string]CheckSnapshot, len(c.checks)),
		SnapshotTime: time.Now(),
		Tick:         tick,
	}

	var (
		mu     sync.Mutex
		cutOff []string
	)

	// Checks never fail the group; their errors are part of their result.
	var g errgroup.Group
	for _, chk := range c.checks {
		g.Go(func() error {
			cs, caughtUp := c.runCheck(ctx, chk)

			mu.Lock()
			snapshot.Checks[cs.Name] = cs
			if !caughtUp {
				cutOff = append(cutOff, cs.Name)
			}
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	c.snapshotManager.UpdateSnapshot(snapshot)
	c.logger.Debugf("Updated system snapshot at tick %d", tick)

	if err := c.flush(ctx); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if len(cutOff) > 0 {
		return fmt.Errorf("tick ended before %v caught up: %w", cutOff, context.DeadlineExceeded)
	}

	return nil
}

// runCheck runs chk until it no longer asks to continue. caughtUp is false
// when the tick had no time left for another run.
func (c *ControlLoop) runCheck(ctx context.Context, chk check.Check) (cs CheckSnapshot, caughtUp bool) {
	cs = CheckSnapshot{Name: chk.Name(), LastRun: time.Now()}
	caughtUp = true

	for {
		res := chk.Run(ctx)
		cs.Runs++
		cs.Status = res.Status
		cs.ServiceChecks = res.ServiceChecks
		cs.Error = ""

		if res.Err != nil {
			cs.Error = res.Err.Error()
			c.logger.Warnw("Check finished with error", "check", cs.Name, "status", res.Status, "error", res.Err)
		}

		if !res.Continue {
			break
		}

		if !hasSufficientTime(ctx, c.continueDelay) {
			caughtUp = false

			break
		}

		c.logger.Debugw("Check is catching up, running again", "check", cs.Name, "runs", cs.Runs)

		select {
		case <-ctx.Done():
		case <-time.After(c.continueDelay):
		}
	}

	cs.Duration = time.Since(cs.LastRun)

	return cs, caughtUp
}

// hasSufficientTime reports whether ctx leaves more than required before its
// deadline. A context without deadline always has time unless it is done.
func hasSufficientTime(ctx context.Context, required time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}

	return time.Until(deadline) > required
}

// flush hands the buffered items to the forwarder, retrying transient
// failures. A batch that cannot be delivered is dropped.
func (c *ControlLoop) flush(ctx context.Context) error {
	batch := c.aggregator.Flush()
	if batch.Empty() {
		return nil
	}

	// A timed out tick still delivers what it collected.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.FlushTimeout)
	defer cancel()

	err := c.forwardRetry.Do(ctx, func() error {
		err := c.forwarder.Forward(ctx, batch)
		if err != nil && (backoff.IsInstanceScoped(err) || errors.Is(err, context.Canceled)) {
			return backoff.Permanent(err)
		}

		return err
	}, func(err error, wait time.Duration) {
		c.logger.Warnf("Forwarding batch %s failed, retrying in %v: %v", batch.ID, wait, err)
	})
	if err != nil {
		c.logger.Errorw("Dropping batch",
			"batch", batch.ID,
			"metrics", len(batch.Metrics),
			"events", len(batch.Events),
			"topologies", len(batch.Topologies),
			"error", err)
		metrics.IncErrorCount(metrics.ComponentForwarder, "main", backoff.CategoryOf(err).String())

		return fmt.Errorf("failed to forward batch %s: %w", batch.ID, err)
	}

	return nil
}

// GetDeepCopySnapshot returns a copy of the state after the last tick.
func (c *ControlLoop) GetDeepCopySnapshot() SystemSnapshot {
	return c.snapshotManager.GetDeepCopySnapshot()
}

// Starved returns the time since the last tick and whether the loop is
// considered stuck.
func (c *ControlLoop) Starved() (time.Duration, bool) {
	if c.starvationChecker == nil {
		return 0, false
	}

	return c.starvationChecker.Starved()
}

// Stop stops the starvation checker and closes every check.
func (c *ControlLoop) Stop(context.Context) error {
	if c.starvationChecker != nil {
		c.starvationChecker.Stop()
	}

	var errs []error
	for _, chk := range c.checks {
		if err := chk.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close check %s: %w", chk.Name(), err))
		}
	}

	return errors.Join(errs...)
}
