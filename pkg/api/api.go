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

// Package api serves the agent status over HTTP.
package api

import (
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/constants"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/control"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/sentry"
)

// StatusSource is what the status API reads, usually the control loop.
type StatusSource interface {
	// GetDeepCopySnapshot returns the state after the last tick.
	GetDeepCopySnapshot() control.SystemSnapshot
	// Starved reports the time since the last tick and whether that is too long.
	Starved() (time.Duration, bool)
}

type healthResponse struct {
	LastTick     time.Time `json:"last_tick"`
	Status       string    `json:"status"`
	Version      string    `json:"version"`
	SinceTickSec float64   `json:"since_tick_seconds"`
	Tick         uint64    `json:"tick"`
}

// NewRouter builds the status routes:
//
//	GET /health        agent liveness, 503 while the control loop is starved
//	GET /checks        last result of every check
//	GET /checks/:name  last result of one check
func NewRouter(source StatusSource, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(ginzap.Ginzap(log, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log, true))

	router.GET("/health", func(c *gin.Context) {
		snapshot := source.GetDeepCopySnapshot()
		since, starved := source.Starved()

		code, status := http.StatusOK, "ok"
		if starved {
			code, status = http.StatusServiceUnavailable, "starved"
		}

		c.JSON(code, healthResponse{
			LastTick:     snapshot.SnapshotTime,
			Status:       status,
			Version:      constants.AppVersion,
			SinceTickSec: since.Seconds(),
			Tick:         snapshot.Tick,
		})
	})

	router.GET("/checks", func(c *gin.Context) {
		c.JSON(http.StatusOK, source.GetDeepCopySnapshot())
	})

	router.GET("/checks/:name", func(c *gin.Context) {
		snapshot := source.GetDeepCopySnapshot()

		cs, ok := snapshot.Checks[c.Param("name")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown check " + c.Param("name")})

			return
		}

		c.JSON(http.StatusOK, cs)
	})

	return router
}

// SetupStatusEndpoint starts the status API in the background.
func SetupStatusEndpoint(addr string, source StatusSource, log *zap.Logger) *http.Server {
	server := &http.Server{
		Addr:        addr,
		Handler:     NewRouter(source, log),
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, log.Sugar())
		}
	}()

	return server
}
