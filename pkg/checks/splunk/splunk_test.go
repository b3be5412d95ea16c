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

package splunk_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backend"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backend/fakebackend"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/check"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/checkpoint"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/checks/splunk"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/config"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/constants"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/persistence/memory"
)

const (
	now     int64 = 1488974400
	nowTime       = "2017-03-08T12:00:00Z"
	url           = "https://splunk:8089"
)

var _ check.Check = (*splunk.TelemetryCheck)(nil)
var _ check.Check = (*splunk.TopologyCheck)(nil)

var _ = Describe("Splunk checks", func() {
	var (
		ctx   context.Context
		fake  *fakebackend.Backend
		agg   *check.Aggregator
		clock time.Time
		deps  splunk.Deps
		store *checkpoint.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = fakebackend.New()
		agg = check.NewAggregator()
		clock = time.Unix(now, 0)

		var err error
		store, err = checkpoint.New(ctx, memory.NewInMemoryStore())
		Expect(err).ToNot(HaveOccurred())

		deps = splunk.Deps{
			Checkpoints: store,
			Aggregator:  agg,
			NewBackend:  func(config.InstanceConfig) (backend.SearchBackend, error) { return fake, nil },
			Now:         func() time.Time { return clock },
		}
	})

	instance := func(searches ...config.SavedSearchConfig) config.InstanceConfig {
		return config.InstanceConfig{URL: url, Token: "t", Tags: []string{"env:test"}, SavedSearches: searches}
	}

	Describe("NewChecks", func() {
		It("builds one check per configured section in a stable order", func() {
			checks := splunk.NewChecks(config.ChecksConfig{
				SplunkTopology: &config.CheckConfig{Instances: []config.InstanceConfig{instance()}},
				SplunkMetric:   &config.CheckConfig{Instances: []config.InstanceConfig{instance()}},
			}, deps)

			Expect(checks).To(HaveLen(2))
			Expect(checks[0].Name()).To(Equal(constants.CheckTypeSplunkMetric))
			Expect(checks[1].Name()).To(Equal(constants.CheckTypeSplunkTopology))
		})

		It("builds nothing without sections", func() {
			Expect(splunk.NewChecks(config.ChecksConfig{}, deps)).To(BeEmpty())
		})
	})

	Describe("splunk_metric", func() {
		metricRecord := func(name, value, cd string) backend.Record {
			return backend.Record{"_time": nowTime, "_bkt": "main~1", "_cd": cd, "metric": name, "value": value, "host": "plc"}
		}

		It("emits metrics named by field or fixed name", func() {
			fake.Script("by_field", fakebackend.Response{Records: []backend.Record{
				metricRecord("cpu.load", "0.5", "1:1"),
				metricRecord("cpu.load", "n/a", "1:2"),
			}})
			fake.Script("fixed", fakebackend.Response{Records: []backend.Record{metricRecord("ignored", "7", "1:3")}})

			c := splunk.NewMetricCheck(&config.CheckConfig{Instances: []config.InstanceConfig{instance(
				config.SavedSearchConfig{Name: "by_field"},
				config.SavedSearchConfig{Name: "fixed", MetricName: "mem.used"},
			)}}, deps, zaptest.NewLogger(GinkgoT()).Sugar())

			res := c.Run(ctx)
			Expect(res.Err).ToNot(HaveOccurred())
			Expect(res.Status).To(Equal(check.StatusOK))
			Expect(res.ServiceChecks[0].Name).To(Equal(splunk.MetricServiceCheck))
			Expect(res.ServiceChecks[0].Tags).To(Equal([]string{"url:" + url, "env:test"}))

			batch := agg.Flush()
			Expect(batch.Metrics).To(ConsistOf(
				check.Metric{Name: "cpu.load", Value: 0.5, Timestamp: now, Tags: []string{"host:plc", "env:test"}, Search: "by_field"},
				check.Metric{Name: "mem.used", Value: 7, Timestamp: now, Tags: []string{"host:plc", "metric:ignored", "env:test"}, Search: "fixed"},
			))
			Expect(batch.ServiceChecks).To(HaveLen(1))

			wm, ok, err := store.Instance(constants.CheckTypeSplunkMetric, url).Watermark(ctx, "by_field")
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(wm).To(Equal(now))
		})

		It("is critical when a search sets both a fixed name and a name field", func() {
			c := splunk.NewMetricCheck(&config.CheckConfig{Instances: []config.InstanceConfig{instance(
				config.SavedSearchConfig{Name: "bad", MetricName: "cpu", MetricNameField: ptr("metric")},
			)}}, deps, zaptest.NewLogger(GinkgoT()).Sugar())

			res := c.Run(ctx)
			Expect(backoff.IsConfigurationError(res.Err)).To(BeTrue())
			Expect(res.Status).To(Equal(check.StatusCritical))
			Expect(fake.Dispatches()).To(BeEmpty())
		})

		It("degrades to a warning when one search fails", func() {
			fake.Script("bad", fakebackend.Response{Messages: []backend.Message{{Type: backend.MessageFatal, Text: "bad query"}}})

			c := splunk.NewMetricCheck(&config.CheckConfig{Instances: []config.InstanceConfig{instance(
				config.SavedSearchConfig{Name: "bad"},
				config.SavedSearchConfig{Name: "good"},
			)}}, deps, zaptest.NewLogger(GinkgoT()).Sugar())

			res := c.Run(ctx)
			Expect(res.Err).ToNot(HaveOccurred())
			Expect(res.Status).To(Equal(check.StatusWarning))
			Expect(res.ServiceChecks[0].Message).To(ContainSubstring("bad query"))
		})

		It("waits for the initial delay before dispatching", func() {
			inst := instance(config.SavedSearchConfig{Name: "cpu"})
			inst.InitialDelaySeconds = ptr(int64(60))
			c := splunk.NewMetricCheck(&config.CheckConfig{Instances: []config.InstanceConfig{inst}}, deps, zaptest.NewLogger(GinkgoT()).Sugar())

			res := c.Run(ctx)
			Expect(res.Status).To(Equal(check.StatusOK))
			Expect(fake.Dispatches()).To(BeEmpty())

			clock = clock.Add(61 * time.Second)

			c.Run(ctx)
			Expect(fake.Dispatches()).To(HaveLen(1))
		})

		It("asks to continue while catching up", func() {
			Expect(store.Instance(constants.CheckTypeSplunkMetric, url).CommitWatermark(ctx, "cpu", now-4*3600)).To(Succeed())
			c := splunk.NewMetricCheck(&config.CheckConfig{Instances: []config.InstanceConfig{instance(
				config.SavedSearchConfig{Name: "cpu"},
			)}}, deps, zaptest.NewLogger(GinkgoT()).Sugar())

			Expect(c.Run(ctx).Continue).To(BeTrue())
		})
	})

	Describe("splunk_event", func() {
		It("maps the optional event fields", func() {
			fake.Script("alerts", fakebackend.Response{Records: []backend.Record{{
				"_time":       nowTime,
				"_sourcetype": "syslog",
				"event_type":  "alert",
				"msg_title":   "disk full",
				"host":        "plc",
			}}})

			c := splunk.NewEventCheck(&config.CheckConfig{Instances: []config.InstanceConfig{instance(
				config.SavedSearchConfig{Name: "alerts"},
			)}}, deps, zaptest.NewLogger(GinkgoT()).Sugar())

			res := c.Run(ctx)
			Expect(res.Err).ToNot(HaveOccurred())
			Expect(c.Name()).To(Equal(constants.CheckTypeSplunkEvent))

			events := agg.Flush().Events
			Expect(events).To(Equal([]check.Event{{
				EventType:      "alert",
				SourceTypeName: "syslog",
				MsgTitle:       "disk full",
				Timestamp:      now,
				Tags:           []string{"host:plc", "env:test"},
				Search:         "alerts",
			}}))
		})
	})

	Describe("splunk_topology", func() {
		topologyInstance := func() config.InstanceConfig {
			return config.InstanceConfig{
				URL:                    url,
				Token:                  "t",
				Tags:                   []string{"env:test"},
				PollingIntervalSeconds: ptr(int64(300)),
				ComponentSavedSearches: []config.SavedSearchConfig{{Name: "components"}},
				RelationSavedSearches:  []config.SavedSearchConfig{{Name: "relations"}},
			}
		}

		It("reports a complete snapshot", func() {
			fake.Script("components", fakebackend.Response{Records: []backend.Record{
				{"id": "plc-1", "type": "plc", "description": "line 1", "_bkt": "main~1"},
				{"id": "mes", "type": "service"},
			}})
			fake.Script("relations", fakebackend.Response{Records: []backend.Record{
				{"type": "reports-to", "sourceId": "plc-1", "targetId": "mes"},
			}})

			c := splunk.NewTopologyCheck(&config.CheckConfig{Instances: []config.InstanceConfig{topologyInstance()}},
				deps, zaptest.NewLogger(GinkgoT()).Sugar())

			res := c.Run(ctx)
			Expect(res.Err).ToNot(HaveOccurred())
			Expect(res.Status).To(Equal(check.StatusOK))

			topologies := agg.Flush().Topologies
			Expect(topologies).To(HaveLen(1))

			snapshot := topologies[0]
			Expect(snapshot.Instance).To(Equal(check.TopologyInstance{Type: splunk.TopologyType, URL: url}))
			Expect(snapshot.StartSnapshot).To(BeTrue())
			Expect(snapshot.StopSnapshot).To(BeTrue())
			Expect(snapshot.Components).To(ContainElement(check.Component{
				ExternalID: "plc-1",
				Type:       "plc",
				Data:       map[string]any{"description": "line 1", "tags": []string{"env:test"}},
			}))
			Expect(snapshot.Relations).To(Equal([]check.Relation{{
				ExternalID: "plc-1-reports-to-mes",
				SourceID:   "plc-1",
				TargetID:   "mes",
				Type:       "reports-to",
				Data:       map[string]any{"tags": []string{"env:test"}},
			}}))

			for _, call := range fake.Dispatches() {
				Expect(call.Window.Earliest).To(BeZero())
				Expect(call.Window.Bounded()).To(BeFalse())
			}
		})

		It("is critical and leaves the snapshot open when a component has no type", func() {
			fake.Script("components", fakebackend.Response{Records: []backend.Record{{"id": "plc-1"}}})

			c := splunk.NewTopologyCheck(&config.CheckConfig{Instances: []config.InstanceConfig{topologyInstance()}},
				deps, zaptest.NewLogger(GinkgoT()).Sugar())

			res := c.Run(ctx)
			Expect(backoff.IsFatalResultError(res.Err)).To(BeTrue())
			Expect(res.Status).To(Equal(check.StatusCritical))
			Expect(agg.Flush().Topologies[0].StopSnapshot).To(BeFalse())
			Expect(fake.DispatchesOf("relations")).To(BeEmpty())
		})

		It("honours the polling interval", func() {
			c := splunk.NewTopologyCheck(&config.CheckConfig{Instances: []config.InstanceConfig{topologyInstance()}},
				deps, zaptest.NewLogger(GinkgoT()).Sugar())

			c.Run(ctx)
			clock = clock.Add(time.Minute)
			c.Run(ctx)
			Expect(fake.DispatchesOf("components")).To(HaveLen(1))

			clock = clock.Add(5 * time.Minute)
			c.Run(ctx)
			Expect(fake.DispatchesOf("components")).To(HaveLen(2))
		})
	})
})
