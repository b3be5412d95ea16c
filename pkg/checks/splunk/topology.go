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

package splunk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backend"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/check"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/checkpoint"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/config"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/constants"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/savedsearch"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/scheduler"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/telemetry"
)

// TopologyServiceCheck is the service check reported per splunk_topology instance.
const TopologyServiceCheck = "splunk.topology_information"

// TopologyType is the instance type reported with every snapshot.
const TopologyType = "splunk"

var (
	componentMapping = telemetry.Mapping{
		Critical: map[string]string{"id": "id", "type": "type"},
		Snapshot: true,
	}
	relationMapping = telemetry.Mapping{
		Critical: map[string]string{"type": "type", "sourceId": "sourceId", "targetId": "targetId"},
		Snapshot: true,
	}
)

type topologyInstance struct {
	buildErr   error
	components *scheduler.Scheduler
	relations  *scheduler.Scheduler
	lastRun    time.Time
	topology   check.TopologyInstance
	interval   time.Duration
	tags       []string
}

func (i *topologyInstance) baseURL() string {
	return i.topology.URL
}

// TopologyCheck reports complete component and relation snapshots of every
// configured instance.
type TopologyCheck struct {
	deps      Deps
	log       *zap.SugaredLogger
	instances []*topologyInstance
}

// NewTopologyCheck builds the splunk_topology check.
func NewTopologyCheck(section *config.CheckConfig, deps Deps, log *zap.SugaredLogger) *TopologyCheck {
	deps = deps.withDefaults()
	c := &TopologyCheck{deps: deps, log: log}
	defaults := section.InitConfig.Defaults(savedsearch.BuiltinDefaults)

	for _, cfg := range section.Instances {
		inst := &topologyInstance{
			topology: check.TopologyInstance{Type: TopologyType, URL: cfg.URL},
			interval: time.Duration(cfg.PollingInterval(section.InitConfig)) * time.Second,
			tags:     instanceTags(cfg),
		}
		inst.buildErr = c.build(inst, cfg, section.InitConfig, defaults)
		c.instances = append(c.instances, inst)
	}

	return c
}

func (c *TopologyCheck) build(inst *topologyInstance, cfg config.InstanceConfig, init config.InitConfig, defaults savedsearch.Defaults) error {
	b, err := c.deps.NewBackend(cfg)
	if err != nil {
		return err
	}

	log := c.log.With("instance", cfg.URL)
	checkpoints := c.deps.Checkpoints.Instance(constants.CheckTypeSplunkTopology, cfg.URL)

	newScheduler := func(entries []config.SavedSearchConfig, mapping telemetry.Mapping, sink telemetry.Sink) (*scheduler.Scheduler, error) {
		defs := make([]savedsearch.Definition, 0, len(entries))

		for _, ss := range entries {
			def, err := ss.Definition(defaults, constants.DefaultTelemetryParameters)
			if err != nil {
				return nil, err
			}

			defs = append(defs, def)
		}

		return newSnapshotScheduler(b, defs, checkpoints, mapping, sink, cfg, init, c.deps, log), nil
	}

	if inst.components, err = newScheduler(cfg.ComponentSavedSearches, componentMapping, c.componentSink(inst, cfg.Tags)); err != nil {
		return err
	}

	inst.relations, err = newScheduler(cfg.RelationSavedSearches, relationMapping, c.relationSink(inst, cfg.Tags))

	return err
}

func newSnapshotScheduler(
	b backend.SearchBackend,
	defs []savedsearch.Definition,
	checkpoints *checkpoint.Instance,
	mapping telemetry.Mapping,
	sink telemetry.Sink,
	cfg config.InstanceConfig,
	init config.InitConfig,
	deps Deps,
	log *zap.SugaredLogger,
) *scheduler.Scheduler {
	return scheduler.New(
		b,
		savedsearch.NewRegistry(defs, log),
		checkpoints,
		telemetry.NewExtractor(b, sink, mapping, nil, log),
		scheduler.Config{
			Now:                deps.Now,
			CheckName:          constants.CheckTypeSplunkTopology,
			ConcurrencyLimit:   cfg.Parallel(init),
			IgnoreSearchErrors: cfg.IgnoreErrors(false),
			Snapshot:           true,
		},
		log,
	)
}

// topologyData keeps the non-internal leftover fields and adds the instance tags.
func topologyData(item telemetry.Item, tags []string) map[string]any {
	data := make(map[string]any, len(item.Data)+1)

	for k, v := range item.Data {
		if !strings.HasPrefix(k, "_") {
			data[k] = v
		}
	}

	if len(tags) > 0 {
		data["tags"] = append(toStrings(data["tags"]), tags...)
	}

	return data
}

func toStrings(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}

		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}

func (c *TopologyCheck) componentSink(inst *topologyInstance, tags []string) telemetry.Sink {
	return telemetry.SinkFunc(func(item telemetry.Item) error {
		c.deps.Aggregator.Component(inst.topology, check.Component{
			ExternalID: item.String("id"),
			Type:       item.String("type"),
			Data:       topologyData(item, tags),
		})

		return nil
	})
}

func (c *TopologyCheck) relationSink(inst *topologyInstance, tags []string) telemetry.Sink {
	return telemetry.SinkFunc(func(item telemetry.Item) error {
		source, target, relType := item.String("sourceId"), item.String("targetId"), item.String("type")

		c.deps.Aggregator.Relation(inst.topology, check.Relation{
			ExternalID: fmt.Sprintf("%s-%s-%s", source, relType, target),
			SourceID:   source,
			TargetID:   target,
			Type:       relType,
			Data:       topologyData(item, tags),
		})

		return nil
	})
}

// Name returns the check type.
func (c *TopologyCheck) Name() string {
	return constants.CheckTypeSplunkTopology
}

// Run takes a snapshot of every instance whose polling interval has passed.
func (c *TopologyCheck) Run(ctx context.Context) check.Result {
	return runInstances(ctx, constants.CheckTypeSplunkTopology, c.instances, c.deps.Aggregator, c.log, c.runInstance)
}

func (c *TopologyCheck) runInstance(ctx context.Context, inst *topologyInstance) (check.ServiceCheck, bool, error) {
	now := c.deps.Now()

	if inst.buildErr != nil {
		return criticalServiceCheck(TopologyServiceCheck, inst.buildErr, inst.tags, now), false, inst.buildErr
	}

	if !inst.lastRun.IsZero() && now.Sub(inst.lastRun) < inst.interval {
		return check.ServiceCheck{
			Name:      TopologyServiceCheck,
			Status:    check.StatusOK,
			Message:   "polling interval not reached",
			Tags:      inst.tags,
			Timestamp: now,
		}, false, nil
	}

	c.deps.Aggregator.StartSnapshot(inst.topology)

	components, err := inst.components.RunCycle(ctx)
	if err != nil {
		return cycleServiceCheck(TopologyServiceCheck, components, inst.tags, now), false, err
	}

	relations, err := inst.relations.RunCycle(ctx)
	if err != nil {
		return cycleServiceCheck(TopologyServiceCheck, relations, inst.tags, now), false, err
	}

	c.deps.Aggregator.StopSnapshot(inst.topology)
	inst.lastRun = now

	merged := scheduler.Result{
		Status:   check.Worse(components.Status, relations.Status),
		Messages: append(components.Messages, relations.Messages...),
	}

	return cycleServiceCheck(TopologyServiceCheck, merged, inst.tags, now), false, nil
}

// Close releases nothing; backends hold no connections between cycles.
func (c *TopologyCheck) Close() error {
	return nil
}
