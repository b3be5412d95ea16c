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

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/constants"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/env"
)

// Path returns CONFIG_PATH or the default config location.
func Path() (string, error) {
	return env.GetAsString("CONFIG_PATH", false, constants.DefaultConfigPath)
}

// Load reads the config file at path, fills unset agent values with defaults,
// applies environment overrides and validates the result.
func Load(path string, log *zap.SugaredLogger) (FullConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FullConfig{}, backoff.NewConfigurationError(fmt.Errorf("failed to read config file %s: %w", path, err))
	}

	cfg, err := Parse(data)
	if err != nil {
		return FullConfig{}, err
	}

	if err := cfg.ApplyEnvOverrides(log); err != nil {
		return FullConfig{}, err
	}

	return cfg, cfg.Validate()
}

// Parse decodes a config document. Unknown keys are rejected.
func Parse(data []byte) (FullConfig, error) {
	cfg := FullConfig{Agent: DefaultAgentConfig()}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return FullConfig{}, backoff.NewConfigurationError(fmt.Errorf("failed to parse config: %w", err))
	}

	return cfg, nil
}

// ApplyEnvOverrides replaces agent settings with non-empty environment
// variables: METRICS_ADDR, API_ADDR, CHECKPOINT_PATH, SENTRY_DSN,
// FORWARDER_URL, FORWARDER_API_KEY and TICK_INTERVAL.
func (c *FullConfig) ApplyEnvOverrides(log *zap.SugaredLogger) error {
	overrides := []struct {
		target *string
		key    string
	}{
		{&c.Agent.MetricsAddr, "METRICS_ADDR"},
		{&c.Agent.APIAddr, "API_ADDR"},
		{&c.Agent.CheckpointPath, "CHECKPOINT_PATH"},
		{&c.Agent.SentryDSN, "SENTRY_DSN"},
		{&c.Agent.Forwarder.URL, "FORWARDER_URL"},
		{&c.Agent.Forwarder.APIKey, "FORWARDER_API_KEY"},
	}

	for _, o := range overrides {
		value, err := env.GetAsString(o.key, false, "")
		if err != nil {
			return backoff.NewConfigurationError(err)
		}

		if value != "" {
			log.Debugf("%s overridden from the environment", o.key)
			*o.target = value
		}
	}

	interval, err := env.GetAsDuration("TICK_INTERVAL", false, c.Agent.TickInterval)
	if err != nil {
		return backoff.NewConfigurationError(err)
	}

	c.Agent.TickInterval = interval

	return nil
}

// Validate checks the settings that cannot be checked per saved search later.
func (c FullConfig) Validate() error {
	if c.Agent.TickInterval <= 0 {
		return backoff.Configurationf("agent.tickInterval must be positive")
	}

	if c.Agent.TickTimeout <= 0 {
		return backoff.Configurationf("agent.tickTimeout must be positive")
	}

	for checkType, section := range c.Checks.ByType() {
		for idx, instance := range section.Instances {
			if instance.URL == "" {
				return backoff.Configurationf("checks.%s.instances[%d]: url is required", checkType, idx)
			}

			if instance.Token == "" && (instance.Username == "" || instance.Password == "") {
				return backoff.Configurationf("checks.%s.instances[%d]: token or username and password are required", checkType, idx)
			}
		}
	}

	return nil
}
