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

// Package fsm wraps looplab/fsm with the conventions used by the saved
// search runtimes: per-state enter callbacks, context checks before a
// transition and self-transitions that are not errors.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// MinTransitionBudget is the least time a context must have left before a
// transition is started. An interrupted transition leaves looplab/fsm stuck.
const MinTransitionBudget = 5 * time.Millisecond

// Machine is a small state machine with registered enter callbacks.
type Machine struct {
	fsm       *fsm.FSM
	callbacks map[string]fsm.Callback
	logger    *zap.SugaredLogger
	id        string
}

// NewMachine creates a machine in state initial with the given transitions.
func NewMachine(id, initial string, transitions []fsm.EventDesc, logger *zap.SugaredLogger) *Machine {
	m := &Machine{
		id:        id,
		callbacks: make(map[string]fsm.Callback),
		logger:    logger,
	}

	m.fsm = fsm.NewFSM(
		initial,
		fsm.Events(transitions),
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				m.logger.Debugf("%s: %s -> %s (%s)", m.id, e.Src, e.Dst, e.Event)

				if cb, ok := m.callbacks["enter_"+e.Dst]; ok {
					cb(ctx, e)
				}
			},
		},
	)

	return m
}

// AddCallback registers cb for "enter_<state>". Register before sending events.
func (m *Machine) AddCallback(name string, cb fsm.Callback) {
	m.callbacks[name] = cb
}

// ID returns the machine id used in logs.
func (m *Machine) ID() string {
	return m.id
}

// Current returns the current state.
func (m *Machine) Current() string {
	return m.fsm.Current()
}

// Can reports whether event is allowed in the current state.
func (m *Machine) Can(event string) bool {
	return m.fsm.Can(event)
}

// SetState forces the state without running callbacks. Used to roll back a
// failed cycle.
func (m *Machine) SetState(state string) {
	m.fsm.SetState(state)
}

// SendEvent fires event. A transition into the current state is not an error.
func (m *Machine) SendEvent(ctx context.Context, event string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < MinTransitionBudget {
		return fmt.Errorf("%s: not enough time left to send event %s", m.id, event)
	}

	err := m.fsm.Event(ctx, event, args...)

	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}

	return err
}
