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

// Package splunk implements the splunk_metric, splunk_event and
// splunk_topology checks on top of the saved search scheduler.
package splunk

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backend"
	splunkbackend "github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backend/splunk"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/check"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/checkpoint"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/config"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/constants"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/logger"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/scheduler"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/sentry"
)

// Deps are the shared resources checks are built with.
type Deps struct {
	Checkpoints *checkpoint.Store
	Aggregator  *check.Aggregator
	// NewBackend builds the backend of one instance. Defaults to NewBackend.
	NewBackend func(config.InstanceConfig) (backend.SearchBackend, error)
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.NewBackend == nil {
		d.NewBackend = NewBackend
	}

	if d.Now == nil {
		d.Now = time.Now
	}

	return d
}

// NewChecks builds one check per configured section, in a stable order.
func NewChecks(cfg config.ChecksConfig, deps Deps) []check.Check {
	sections := cfg.ByType()

	var out []check.Check
	if section, ok := sections[constants.CheckTypeSplunkMetric]; ok {
		out = append(out, NewMetricCheck(section, deps, logger.For(logger.ComponentSplunkMetric)))
	}

	if section, ok := sections[constants.CheckTypeSplunkEvent]; ok {
		out = append(out, NewEventCheck(section, deps, logger.For(logger.ComponentSplunkEvent)))
	}

	if section, ok := sections[constants.CheckTypeSplunkTopology]; ok {
		out = append(out, NewTopologyCheck(section, deps, logger.For(logger.ComponentSplunkTopology)))
	}

	return out
}

// NewBackend builds the Splunk REST client of an instance.
func NewBackend(cfg config.InstanceConfig) (backend.SearchBackend, error) {
	return splunkbackend.NewClient(splunkbackend.Config{
		BaseURL:   cfg.URL,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Token:     cfg.Token,
		App:       cfg.App,
		Owner:     cfg.Owner,
		VerifyTLS: cfg.VerifySSLCertificate,
	})
}

// instanceTags are attached to the service check of an instance.
func instanceTags(cfg config.InstanceConfig) []string {
	return append([]string{"url:" + cfg.URL}, cfg.Tags...)
}

// cycleServiceCheck turns a scheduler result into a service check.
func cycleServiceCheck(name string, res scheduler.Result, tags []string, now time.Time) check.ServiceCheck {
	return check.ServiceCheck{
		Name:      name,
		Status:    res.Status,
		Message:   strings.Join(res.Messages, "; "),
		Tags:      tags,
		Timestamp: now,
	}
}

func criticalServiceCheck(name string, err error, tags []string, now time.Time) check.ServiceCheck {
	return check.ServiceCheck{
		Name:      name,
		Status:    check.StatusCritical,
		Message:   err.Error(),
		Tags:      tags,
		Timestamp: now,
	}
}

// runInstances runs every instance and folds their service checks into one
// result. run reports the service check, whether to continue and the error
// that aborted the instance.
func runInstances[I interface{ baseURL() string }](
	ctx context.Context,
	checkName string,
	instances []I,
	agg *check.Aggregator,
	log *zap.SugaredLogger,
	run func(ctx context.Context, inst I) (check.ServiceCheck, bool, error),
) check.Result {
	res := check.Result{CheckName: checkName, Status: check.StatusOK}

	for _, inst := range instances {
		sc, cont, err := run(ctx, inst)

		agg.ServiceCheck(sc)
		res.ServiceChecks = append(res.ServiceChecks, sc)
		res.Status = check.Worse(res.Status, sc.Status)
		res.Continue = res.Continue || cont

		if err != nil {
			sentry.ReportCheckError(log, checkName, inst.baseURL(), "run", err)

			if res.Err == nil {
				res.Err = err
			}
		}
	}

	return res
}
