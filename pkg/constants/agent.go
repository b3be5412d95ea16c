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

package constants

import "time"

var (
	// AppVersion is set by the build process via
	// -ldflags="-X github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/constants.AppVersion=${VERSION}"
	AppVersion = DefaultAppVersion
)

const (
	// DefaultAppVersion marks local builds. Sentry stays disabled for them.
	DefaultAppVersion = "0.0.0-dev"

	DefaultProductionEnvironment  = "production"
	DefaultDevelopmentEnvironment = "development"

	// DefaultConfigPath is read when CONFIG_PATH is unset.
	DefaultConfigPath = "/data/config.yaml"

	// DefaultCheckpointPath is the sqlite database holding watermarks and in-flight jobs.
	DefaultCheckpointPath = "/data/checkpoints.db"

	DefaultMetricsAddr = ":8080"
	DefaultAPIAddr     = ":8090"

	// ShutdownTimeout bounds how long HTTP servers get to drain on exit.
	ShutdownTimeout = 5 * time.Second
)
