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

package check

import (
	"sync"

	"github.com/google/uuid"
)

// Metric is one metric sample.
type Metric struct {
	Name      string   `json:"metric"`
	Search    string   `json:"search,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Timestamp int64    `json:"timestamp"`
	Value     float64  `json:"value"`
}

// Event is one event.
type Event struct {
	EventType      string   `json:"event_type,omitempty"`
	SourceTypeName string   `json:"source_type_name,omitempty"`
	MsgTitle       string   `json:"msg_title,omitempty"`
	MsgText        string   `json:"msg_text,omitempty"`
	Search         string   `json:"search,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Timestamp      int64    `json:"timestamp"`
}

// Component is one topology element.
type Component struct {
	Data       map[string]any `json:"data"`
	ExternalID string         `json:"externalId"`
	Type       string         `json:"type"`
}

// Relation links two components.
type Relation struct {
	Data       map[string]any `json:"data"`
	ExternalID string         `json:"externalId"`
	SourceID   string         `json:"sourceId"`
	TargetID   string         `json:"targetId"`
	Type       string         `json:"type"`
}

// TopologyInstance names the source of a topology snapshot.
type TopologyInstance struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Topology is what one instance reported during a flush period.
type Topology struct {
	Instance      TopologyInstance `json:"instance"`
	Components    []Component      `json:"components"`
	Relations     []Relation       `json:"relations"`
	StartSnapshot bool             `json:"start_snapshot"`
	StopSnapshot  bool             `json:"stop_snapshot"`
}

// Batch is everything collected between two flushes.
type Batch struct {
	Metrics       []Metric       `json:"metrics,omitempty"`
	Events        []Event        `json:"events,omitempty"`
	Topologies    []Topology     `json:"topologies,omitempty"`
	ServiceChecks []ServiceCheck `json:"service_checks,omitempty"`
	ID            uuid.UUID      `json:"id"`
}

// Empty reports whether the batch carries nothing.
func (b Batch) Empty() bool {
	return len(b.Metrics) == 0 && len(b.Events) == 0 && len(b.Topologies) == 0 && len(b.ServiceChecks) == 0
}

// Aggregator buffers check output until Flush. It is safe for concurrent use.
type Aggregator struct {
	topologies map[TopologyInstance]*Topology
	batch      Batch
	order      []TopologyInstance
	mu         sync.Mutex
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{topologies: map[TopologyInstance]*Topology{}}
}

func (a *Aggregator) Metric(m Metric) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.batch.Metrics = append(a.batch.Metrics, m)
}

func (a *Aggregator) Event(e Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.batch.Events = append(a.batch.Events, e)
}

func (a *Aggregator) ServiceCheck(sc ServiceCheck) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.batch.ServiceChecks = append(a.batch.ServiceChecks, sc)
}

// StartSnapshot marks the beginning of a complete topology snapshot.
func (a *Aggregator) StartSnapshot(instance TopologyInstance) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.topology(instance).StartSnapshot = true
}

// StopSnapshot marks the snapshot of instance as complete.
func (a *Aggregator) StopSnapshot(instance TopologyInstance) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.topology(instance).StopSnapshot = true
}

func (a *Aggregator) Component(instance TopologyInstance, c Component) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.topology(instance)
	t.Components = append(t.Components, c)
}

func (a *Aggregator) Relation(instance TopologyInstance, r Relation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.topology(instance)
	t.Relations = append(t.Relations, r)
}

func (a *Aggregator) topology(instance TopologyInstance) *Topology {
	t, ok := a.topologies[instance]
	if !ok {
		t = &Topology{Instance: instance}
		a.topologies[instance] = t
		a.order = append(a.order, instance)
	}

	return t
}

// Flush returns the buffered batch under a fresh id and resets the buffer.
func (a *Aggregator) Flush() Batch {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.batch
	out.ID = uuid.New()

	for _, instance := range a.order {
		out.Topologies = append(out.Topologies, *a.topologies[instance])
	}

	a.batch = Batch{}
	a.topologies = map[TopologyInstance]*Topology{}
	a.order = nil

	return out
}
