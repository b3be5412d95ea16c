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

package control

import (
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/check"
)

// CheckSnapshot is the outcome of the last tick of one check.
type CheckSnapshot struct {
	LastRun       time.Time            `json:"last_run"`
	Name          string               `json:"name"`
	Error         string               `json:"error,omitempty"`
	ServiceChecks []check.ServiceCheck `json:"service_checks"`
	Duration      time.Duration        `json:"duration_ns"`
	// Runs counts the runs of the last tick, more than one while catching up.
	Runs   int          `json:"runs"`
	Status check.Status `json:"status"`
}

// SystemSnapshot is the state of all checks after a tick.
type SystemSnapshot struct {
	SnapshotTime time.Time                `json:"snapshot_time"`
	Checks       map[string]CheckSnapshot `json:"checks"`
	Tick         uint64                   `json:"tick"`
}

// SnapshotManager holds the latest SystemSnapshot for concurrent readers.
type SnapshotManager struct {
	mu           sync.RWMutex
	lastSnapshot *SystemSnapshot
}

func NewSnapshotManager() *SnapshotManager {
	return &SnapshotManager{
		lastSnapshot: &SystemSnapshot{
			Checks:       make(map[string]CheckSnapshot),
			SnapshotTime: time.Now(),
		},
	}
}

// UpdateSnapshot replaces the latest snapshot. nil is ignored.
func (s *SnapshotManager) UpdateSnapshot(snapshot *SystemSnapshot) {
	if s == nil || snapshot == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSnapshot = snapshot
}

// GetDeepCopySnapshot returns a copy that callers may modify.
func (s *SnapshotManager) GetDeepCopySnapshot() SystemSnapshot {
	if s == nil {
		return SystemSnapshot{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var snapshotCopy SystemSnapshot
	if err := deepcopy.Copy(&snapshotCopy, s.lastSnapshot); err != nil {
		return SystemSnapshot{}
	}

	return snapshotCopy
}
