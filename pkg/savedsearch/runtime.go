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

package savedsearch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	internalfsm "github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/internal/fsm"
)

// Runtime states.
const (
	StateUninitialized = "uninitialized"
	StateRecovering    = "recovering"
	StateSteady        = "steady"
)

// Runtime events.
const (
	EventRecover = "recover"
	EventCatchUp = "catch_up"
	EventRestart = "restart"
)

// ErrCycleInProgress is returned by Begin when the previous cycle was neither
// committed nor rolled back.
var ErrCycleInProgress = errors.New("saved search cycle already in progress")

// Window is the time range of one dispatch in epoch seconds. Zero means the
// bound is not sent; Latest == 0 is an open query up to now.
type Window struct {
	Earliest int64
	Latest   int64
}

// Bounded reports whether the window carries an upper bound.
func (w Window) Bounded() bool {
	return w.Latest != 0
}

// Runtime is the mutable state of one active saved search.
//
// A cycle is Begin, any number of ShouldEmit calls, then Commit or Rollback.
// Only committed state survives into the next cycle.
type Runtime struct {
	def     Definition
	machine *internalfsm.Machine
	log     *zap.SugaredLogger

	mu sync.Mutex

	watermark    int64
	hasWatermark bool
	dedupKeys    map[Key]struct{}
	horizon      int64
	lastSuccess  int64

	cycle *cycle
}

type cycle struct {
	dedup       *Deduplicator
	prevState   string
	prevHorizon int64
	window      Window
}

// NewRuntime creates an uninitialized runtime. ok tells whether watermark
// comes from a checkpoint.
func NewRuntime(def Definition, watermark int64, ok bool, log *zap.SugaredLogger) *Runtime {
	r := &Runtime{
		def:          def,
		log:          log,
		watermark:    watermark,
		hasWatermark: ok,
		dedupKeys:    map[Key]struct{}{},
	}

	r.machine = internalfsm.NewMachine(def.Name, StateUninitialized, []fsm.EventDesc{
		{Name: EventRecover, Src: []string{StateUninitialized, StateRecovering}, Dst: StateRecovering},
		{Name: EventCatchUp, Src: []string{StateUninitialized, StateRecovering}, Dst: StateSteady},
		{Name: EventRestart, Src: []string{StateRecovering, StateSteady}, Dst: StateUninitialized},
	}, log)

	r.machine.AddCallback("enter_"+StateSteady, func(_ context.Context, _ *fsm.Event) {
		r.log.Infof("saved search %s caught up", def.Name)
	})

	return r
}

// Name returns the saved search name.
func (r *Runtime) Name() string {
	return r.def.Name
}

// Definition returns the static configuration.
func (r *Runtime) Definition() Definition {
	return r.def
}

// State returns the current state machine state.
func (r *Runtime) State() string {
	return r.machine.Current()
}

// Recovering reports whether the search is still catching up on history.
func (r *Runtime) Recovering() bool {
	return r.machine.Current() == StateRecovering
}

// Watermark returns the committed watermark.
func (r *Runtime) Watermark() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.watermark, r.hasWatermark
}

// RecoveryHorizon returns the upper bound of the current catch-up window.
// It is unset in the steady and uninitialized states.
func (r *Runtime) RecoveryHorizon() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.machine.Current() != StateRecovering {
		return 0, false
	}

	return r.horizon, true
}

// Begin starts a cycle at now and returns the window to dispatch.
func (r *Runtime) Begin(ctx context.Context, now int64) (Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cycle != nil {
		return Window{}, fmt.Errorf("%s: %w", r.def.Name, ErrCycleInProgress)
	}

	prevState := r.machine.Current()
	prevHorizon := r.horizon

	// A steady search whose cycles stopped for longer than one chunk is
	// treated like a restart so the gap is recovered in bounded windows.
	if prevState == StateSteady && r.hasWatermark && r.lastSuccess > 0 &&
		now-r.lastSuccess > r.def.MaxQueryChunkSeconds {
		r.log.Infof("saved search %s: no successful cycle for %ds, recovering the gap", r.def.Name, now-r.lastSuccess)

		if err := r.machine.SendEvent(ctx, EventRestart); err != nil {
			return Window{}, err
		}
	}

	window, err := r.computeWindow(ctx, now)
	if err != nil {
		r.machine.SetState(prevState)
		r.horizon = prevHorizon

		return Window{}, err
	}

	r.cycle = &cycle{
		dedup:       NewDeduplicator(window.Earliest, r.dedupKeys),
		prevState:   prevState,
		prevHorizon: prevHorizon,
		window:      window,
	}

	return window, nil
}

func (r *Runtime) computeWindow(ctx context.Context, now int64) (Window, error) {
	if r.machine.Current() == StateSteady {
		return Window{Earliest: r.watermark}, nil
	}

	var earliest int64

	if r.hasWatermark {
		earliest = r.watermark + 1
		if now-earliest > r.def.MaxRestartHistorySeconds {
			r.log.Warnf("saved search %s: gap of %ds exceeds max restart history, skipping to %ds ago",
				r.def.Name, now-earliest, r.def.MaxRestartHistorySeconds)
			earliest = now - r.def.MaxRestartHistorySeconds
		}
	} else {
		earliest = now - r.def.InitialHistorySeconds
	}

	latest := earliest + r.def.MaxQueryChunkSeconds
	if latest >= now {
		r.horizon = 0

		return Window{Earliest: earliest}, r.machine.SendEvent(ctx, EventCatchUp)
	}

	r.horizon = latest

	return Window{Earliest: earliest, Latest: latest}, r.machine.SendEvent(ctx, EventRecover)
}

// ShouldEmit applies boundary dedup to one record of the running cycle.
func (r *Runtime) ShouldEmit(key Key, recordTime int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cycle == nil {
		return true
	}

	return r.cycle.dedup.ShouldEmit(key, recordTime)
}

// PendingWatermark is the value Commit will persist. While recovering it is at
// least the window's last second, so an empty chunk still moves the window.
func (r *Runtime) PendingWatermark() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pendingWatermark()
}

func (r *Runtime) pendingWatermark() int64 {
	if r.cycle == nil {
		return r.watermark
	}

	wm := r.cycle.dedup.Watermark()

	if r.cycle.window.Bounded() && r.cycle.window.Latest-1 > wm {
		wm = r.cycle.window.Latest - 1
	}

	if r.hasWatermark && r.watermark > wm {
		wm = r.watermark
	}

	return wm
}

// Commit promotes the running cycle's state. now is recorded as the time of
// the last successful cycle.
func (r *Runtime) Commit(now int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cycle == nil {
		return
	}

	r.watermark = r.pendingWatermark()
	r.hasWatermark = true
	r.dedupKeys = r.cycle.dedup.Keys()
	r.lastSuccess = now
	r.cycle = nil
}

// Rollback discards the running cycle and restores the state it started in.
func (r *Runtime) Rollback() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cycle == nil {
		return
	}

	r.machine.SetState(r.cycle.prevState)
	r.horizon = r.cycle.prevHorizon
	r.cycle = nil
}

// Restart re-seeds the runtime from a checkpoint and returns it to the
// uninitialized state. The next window starts right after watermark.
func (r *Runtime) Restart(ctx context.Context, watermark int64, ok bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cycle != nil {
		return fmt.Errorf("%s: %w", r.def.Name, ErrCycleInProgress)
	}

	if r.machine.Current() != StateUninitialized {
		if err := r.machine.SendEvent(ctx, EventRestart); err != nil {
			return err
		}
	}

	r.watermark = watermark
	r.hasWatermark = ok
	r.dedupKeys = map[Key]struct{}{}
	r.horizon = 0
	r.lastSuccess = 0

	return nil
}
