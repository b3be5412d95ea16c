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

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/api"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/check"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/checkpoint"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/checks/splunk"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/config"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/constants"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/control"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/forwarder"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/logger"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/metrics"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/persistence/sqlite"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/sentry"
)

func main() {
	logger.Initialize()
	defer func() { _ = logger.Sync() }()

	log := logger.For(logger.ComponentAgent)

	log.Infof("Starting umh-checks %s...", constants.AppVersion)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path, err := config.Path()
	if err != nil {
		log.Errorf("Failed to resolve config path: %v", err)
		os.Exit(1)
	}

	configData, err := config.Load(path, logger.For(logger.ComponentConfig))
	if err != nil {
		log.Errorf("Failed to load config %s: %v", path, err)
		os.Exit(1)
	}

	sentry.InitSentry(constants.AppVersion, configData.Agent.SentryDSN, true)

	db, err := sqlite.Open(configData.Agent.CheckpointPath)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to open checkpoint database: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Errorf("Failed to close checkpoint database: %v", err)
		}
	}()

	checkpoints, err := checkpoint.New(ctx, db)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to create checkpoint store: %v", err)
		os.Exit(1)
	}

	metricsServer := metrics.SetupMetricsEndpoint(configData.Agent.MetricsAddr)
	defer shutdown(metricsServer, "metrics", log)

	aggregator := check.NewAggregator()
	checks := splunk.NewChecks(configData.Checks, splunk.Deps{
		Checkpoints: checkpoints,
		Aggregator:  aggregator,
	})
	if len(checks) == 0 {
		log.Warnf("No checks configured in %s, only the status endpoints will run", path)
	}

	fwd := forwarder.New(configData.Agent.Forwarder, logger.For(logger.ComponentForwarder))
	controlLoop := control.NewControlLoop(checks, aggregator, fwd, configData.Agent)

	statusServer := api.SetupStatusEndpoint(configData.Agent.APIAddr, controlLoop,
		logger.For(logger.ComponentAPI).Desugar())
	defer shutdown(statusServer, "status", log)

	err = controlLoop.Execute(ctx)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Control loop failed: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	if err := controlLoop.Stop(stopCtx); err != nil {
		log.Errorf("Failed to stop checks: %v", err)
	}

	log.Info("umh-checks completed")
}

func shutdown(server *http.Server, name string, log *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("Failed to shutdown %s server: %v", name, err)
	}
}
