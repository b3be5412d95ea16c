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

package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/config"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/constants"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/savedsearch"
)

const sample = `
agent:
  tickInterval: 30s
  forwarder:
    url: https://intake.example.com/api/v1/batches
checks:
  splunk_metric:
    init_config:
      default_batch_size: 500
      default_saved_searches_parallel: 2
      default_unique_key_fields: [_bkt, _cd]
    instances:
      - url: https://splunk:8089
        username: admin
        password: secret
        tags: [env:prod]
        saved_searches:
          - name: cpu
            metric_name: cpu.load
            batch_size: 10
          - match: "mem_.*"
            parameters:
              dispatch.now: "false"
  splunk_topology:
    instances:
      - url: https://splunk:8089
        token: abc
        polling_interval_seconds: 60
        component_saved_searches:
          - name: components
`

var _ = Describe("Config", func() {
	It("parses agent settings and check sections", func() {
		cfg, err := config.Parse([]byte(sample))
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.Validate()).To(Succeed())

		Expect(cfg.Agent.TickInterval).To(Equal(30 * time.Second))
		Expect(cfg.Agent.TickTimeout).To(Equal(constants.DefaultTickTimeout))
		Expect(cfg.Agent.Forwarder.URL).To(Equal("https://intake.example.com/api/v1/batches"))
		Expect(cfg.Checks.ByType()).To(HaveLen(2))
		Expect(cfg.Checks.SplunkEvent).To(BeNil())

		instance := cfg.Checks.SplunkTopology.Instances[0]
		Expect(instance.PollingInterval(cfg.Checks.SplunkTopology.InitConfig)).To(Equal(int64(60)))
		Expect(instance.ComponentSavedSearches[0].Name).To(Equal("components"))
	})

	It("layers saved search settings over init_config over built-ins", func() {
		cfg, err := config.Parse([]byte(sample))
		Expect(err).ToNot(HaveOccurred())

		section := cfg.Checks.SplunkMetric
		defaults := section.InitConfig.Defaults(savedsearch.BuiltinDefaults)
		Expect(defaults.BatchSize).To(Equal(500))
		Expect(defaults.MaxQueryChunkSeconds).To(Equal(int64(3600)))

		instance := section.Instances[0]
		Expect(instance.Parallel(section.InitConfig)).To(Equal(2))
		Expect(instance.IgnoreErrors(true)).To(BeTrue())

		cpu, err := instance.SavedSearches[0].Definition(defaults, constants.DefaultTelemetryParameters)
		Expect(err).ToNot(HaveOccurred())
		Expect(cpu.BatchSize).To(Equal(10))
		Expect(cpu.UniqueKeyFields).To(Equal([]string{"_bkt", "_cd"}))
		Expect(cpu.Parameters).To(Equal(constants.DefaultTelemetryParameters))

		mem, err := instance.SavedSearches[1].Definition(defaults, constants.DefaultTelemetryParameters)
		Expect(err).ToNot(HaveOccurred())
		Expect(mem.IsTemplate()).To(BeTrue())
		Expect(mem.Parameters).To(Equal(map[string]string{"dispatch.now": "false"}))
	})

	It("reads metric field defaults", func() {
		nameField, valueField := config.InitConfig{}.MetricFields()
		Expect(nameField).To(Equal("metric"))
		Expect(valueField).To(Equal("value"))
	})

	It("rejects unknown keys", func() {
		_, err := config.Parse([]byte("agent:\n  tickIntervall: 5s\n"))
		Expect(backoff.IsConfigurationError(err)).To(BeTrue())
	})

	It("rejects instances without credentials", func() {
		cfg, err := config.Parse([]byte("checks:\n  splunk_event:\n    instances:\n      - url: https://splunk:8089\n"))
		Expect(err).ToNot(HaveOccurred())
		Expect(backoff.IsConfigurationError(cfg.Validate())).To(BeTrue())
	})

	It("rejects a saved search with both name and match", func() {
		_, err := config.SavedSearchConfig{Name: "a", Match: "a.*"}.Definition(savedsearch.BuiltinDefaults, nil)
		Expect(backoff.IsConfigurationError(err)).To(BeTrue())
	})

	It("clones deeply", func() {
		cfg, err := config.Parse([]byte(sample))
		Expect(err).ToNot(HaveOccurred())

		clone := cfg.Clone()
		clone.Checks.SplunkMetric.Instances[0].Tags[0] = "env:dev"
		Expect(cfg.Checks.SplunkMetric.Instances[0].Tags[0]).To(Equal("env:prod"))
	})

	Describe("Load", func() {
		var path string

		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "config.yaml")
			Expect(os.WriteFile(path, []byte(sample), 0o600)).To(Succeed())
		})

		AfterEach(func() {
			os.Unsetenv("CHECKPOINT_PATH")
			os.Unsetenv("TICK_INTERVAL")
		})

		It("applies environment overrides", func() {
			os.Setenv("CHECKPOINT_PATH", "/tmp/cp.db")
			os.Setenv("TICK_INTERVAL", "1m")

			cfg, err := config.Load(path, zaptest.NewLogger(GinkgoT()).Sugar())
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Agent.CheckpointPath).To(Equal("/tmp/cp.db"))
			Expect(cfg.Agent.TickInterval).To(Equal(time.Minute))
		})

		It("reports a missing file as a configuration error", func() {
			_, err := config.Load(filepath.Join(filepath.Dir(path), "missing.yaml"), zaptest.NewLogger(GinkgoT()).Sugar())
			Expect(backoff.IsConfigurationError(err)).To(BeTrue())
		})
	})
})
