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

// Package starvationchecker watches the control loop for ticks that stop
// arriving, e.g. because a check hangs past its timeout.
package starvationchecker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/metrics"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/sentry"
)

// StarvationChecker reports when no tick completed within the threshold.
// A background goroutine checks once per interval so a fully blocked loop
// is still noticed. Stop must be called to release it.
type StarvationChecker struct {
	lastReconcileTime   time.Time
	logger              *zap.SugaredLogger
	cancel              context.CancelFunc
	wg                  sync.WaitGroup
	starvationThreshold time.Duration
	mutex               sync.RWMutex
}

// NewStarvationChecker starts a checker that looks every checkInterval.
func NewStarvationChecker(threshold, checkInterval time.Duration, log *zap.SugaredLogger) *StarvationChecker {
	ctx, cancel := context.WithCancel(context.Background())
	checker := &StarvationChecker{
		starvationThreshold: threshold,
		lastReconcileTime:   time.Now(),
		logger:              log,
		cancel:              cancel,
	}

	checker.wg.Add(1)

	go checker.checkStarvationLoop(ctx, checkInterval)

	checker.logger.Debugf("Starvation checker created with threshold %s", threshold)

	return checker
}

func (s *StarvationChecker) checkStarvationLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if starved, ok := s.Starved(); ok {
				metrics.AddStarvationTime(starved.Seconds())
				sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger,
					"Control loop starvation detected: %.2f seconds since last tick", starved.Seconds())
			}
		}
	}
}

// Stop terminates the background check.
func (s *StarvationChecker) Stop() {
	s.cancel()
	s.wg.Wait()
}

// UpdateLastReconcileTime marks the loop as alive.
func (s *StarvationChecker) UpdateLastReconcileTime() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lastReconcileTime = time.Now()
}

func (s *StarvationChecker) GetLastReconcileTime() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.lastReconcileTime
}

// Starved returns the time since the last tick and whether it exceeds the threshold.
func (s *StarvationChecker) Starved() (time.Duration, bool) {
	since := time.Since(s.GetLastReconcileTime())

	return since, since > s.starvationThreshold
}
