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
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/check"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/config"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/constants"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/savedsearch"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/scheduler"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/telemetry"
)

// kind is what distinguishes the metric check from the event check.
type kind interface {
	telemetry.Mapper
	// validate rejects definitions the kind cannot map.
	validate(def savedsearch.Definition) error
	// sink returns the sink of one instance.
	sink(agg *check.Aggregator) telemetry.Sink
}

type telemetryInstance struct {
	buildErr  error
	scheduler *scheduler.Scheduler
	notBefore time.Time
	url       string
	tags      []string
}

func (i *telemetryInstance) baseURL() string {
	return i.url
}

// TelemetryCheck runs time-windowed saved searches for every configured
// instance and emits their records as metrics or events.
type TelemetryCheck struct {
	deps             Deps
	log              *zap.SugaredLogger
	name             string
	serviceCheckName string
	instances        []*telemetryInstance
}

func newTelemetryCheck(
	name, serviceCheckName string,
	section *config.CheckConfig,
	base savedsearch.Defaults,
	k kind,
	deps Deps,
	log *zap.SugaredLogger,
) *TelemetryCheck {
	deps = deps.withDefaults()

	c := &TelemetryCheck{
		name:             name,
		serviceCheckName: serviceCheckName,
		deps:             deps,
		log:              log,
	}

	started := deps.Now()
	defaults := section.InitConfig.Defaults(base)

	for _, cfg := range section.Instances {
		inst := &telemetryInstance{
			url:       cfg.URL,
			tags:      instanceTags(cfg),
			notBefore: started.Add(time.Duration(cfg.InitialDelay(section.InitConfig)) * time.Second),
		}
		inst.scheduler, inst.buildErr = c.buildScheduler(cfg, section.InitConfig, defaults, k)
		c.instances = append(c.instances, inst)
	}

	return c
}

func (c *TelemetryCheck) buildScheduler(
	cfg config.InstanceConfig,
	init config.InitConfig,
	defaults savedsearch.Defaults,
	k kind,
) (*scheduler.Scheduler, error) {
	b, err := c.deps.NewBackend(cfg)
	if err != nil {
		return nil, err
	}

	defs := make([]savedsearch.Definition, 0, len(cfg.SavedSearches))

	for _, ss := range cfg.SavedSearches {
		def, err := ss.Definition(defaults, constants.DefaultTelemetryParameters)
		if err != nil {
			return nil, err
		}

		if err := k.validate(def); err != nil {
			return nil, err
		}

		defs = append(defs, def)
	}

	log := c.log.With("instance", cfg.URL)
	extractor := telemetry.NewExtractor(b, k.sink(c.deps.Aggregator), k, cfg.Tags, log)

	return scheduler.New(
		b,
		savedsearch.NewRegistry(defs, log),
		c.deps.Checkpoints.Instance(c.name, cfg.URL),
		extractor,
		scheduler.Config{
			Now:                c.deps.Now,
			CheckName:          c.name,
			ConcurrencyLimit:   cfg.Parallel(init),
			IgnoreSearchErrors: cfg.IgnoreErrors(true),
		},
		log,
	), nil
}

// Name returns the check type.
func (c *TelemetryCheck) Name() string {
	return c.name
}

// Run runs one cycle for every instance.
func (c *TelemetryCheck) Run(ctx context.Context) check.Result {
	return runInstances(ctx, c.name, c.instances, c.deps.Aggregator, c.log, c.runInstance)
}

func (c *TelemetryCheck) runInstance(ctx context.Context, inst *telemetryInstance) (check.ServiceCheck, bool, error) {
	now := c.deps.Now()

	if inst.buildErr != nil {
		return criticalServiceCheck(c.serviceCheckName, inst.buildErr, inst.tags, now), false, inst.buildErr
	}

	if now.Before(inst.notBefore) {
		return check.ServiceCheck{
			Name:      c.serviceCheckName,
			Status:    check.StatusOK,
			Message:   fmt.Sprintf("waiting for the initial delay, first dispatch at %s", inst.notBefore.UTC().Format(time.RFC3339)),
			Tags:      inst.tags,
			Timestamp: now,
		}, false, nil
	}

	res, err := inst.scheduler.RunCycle(ctx)
	c.log.Debugf("cycle %s of %s: %d emitted, %d suppressed, %d failed", res.CycleID, inst.url, res.Emitted, res.Suppressed, res.Failed)

	return cycleServiceCheck(c.serviceCheckName, res, inst.tags, now), res.Continue, err
}

// Close releases nothing; backends hold no connections between cycles.
func (c *TelemetryCheck) Close() error {
	return nil
}
