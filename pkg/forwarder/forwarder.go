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

// Package forwarder hands flushed aggregator batches to their destination.
package forwarder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/check"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/config"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/metrics"
)

// APIKeyHeader carries the intake API key.
const APIKeyHeader = "X-API-Key"

// Forwarder delivers a batch. Implementations must be safe to call from one
// goroutine at a time; the control loop never forwards concurrently.
type Forwarder interface {
	Forward(ctx context.Context, batch check.Batch) error
}

// New returns an HTTP forwarder when an intake URL is configured and a log
// forwarder otherwise.
func New(cfg config.ForwarderConfig, log *zap.SugaredLogger) Forwarder {
	if cfg.URL == "" {
		return NewLogForwarder(log)
	}

	return NewHTTPForwarder(cfg, nil, log)
}

// countForwarded publishes per-kind item counts of a delivered batch.
func countForwarded(batch check.Batch) {
	components, relations := 0, 0
	for _, t := range batch.Topologies {
		components += len(t.Components)
		relations += len(t.Relations)
	}

	for kind, n := range map[string]int{
		"metric":        len(batch.Metrics),
		"event":         len(batch.Events),
		"service_check": len(batch.ServiceChecks),
		"component":     components,
		"relation":      relations,
	} {
		if n > 0 {
			metrics.AddForwarded(kind, n)
		}
	}
}

// LogForwarder writes batches to the log. It is the default when no intake
// is configured.
type LogForwarder struct {
	log *zap.SugaredLogger
}

func NewLogForwarder(log *zap.SugaredLogger) *LogForwarder {
	return &LogForwarder{log: log}
}

func (f *LogForwarder) Forward(_ context.Context, batch check.Batch) error {
	if batch.Empty() {
		return nil
	}

	f.log.Infow("Forwarding batch",
		"batch", batch.ID,
		"metrics", len(batch.Metrics),
		"events", len(batch.Events),
		"topologies", len(batch.Topologies),
		"serviceChecks", len(batch.ServiceChecks))

	for _, m := range batch.Metrics {
		f.log.Debugw("metric", "name", m.Name, "value", m.Value, "timestamp", m.Timestamp, "tags", m.Tags)
	}

	for _, e := range batch.Events {
		f.log.Debugw("event", "type", e.EventType, "title", e.MsgTitle, "timestamp", e.Timestamp, "tags", e.Tags)
	}

	countForwarded(batch)

	return nil
}

// HTTPForwarder posts batches as JSON to an intake URL.
type HTTPForwarder struct {
	client *http.Client
	log    *zap.SugaredLogger
	url    string
	apiKey string
}

// NewHTTPForwarder uses client when given, otherwise a client with the
// configured timeout.
func NewHTTPForwarder(cfg config.ForwarderConfig, client *http.Client, log *zap.SugaredLogger) *HTTPForwarder {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}

		client = &http.Client{Timeout: timeout}
	}

	return &HTTPForwarder{client: client, log: log, url: cfg.URL, apiKey: cfg.APIKey}
}

// Forward posts the batch. 401 and 403 are AuthErrors, 5xx and transport
// failures are TransientErrors, other non-2xx answers are plain errors.
func (f *HTTPForwarder) Forward(ctx context.Context, batch check.Batch) error {
	if batch.Empty() {
		return nil
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode batch %s: %w", batch.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build intake request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set(APIKeyHeader, f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}

		return backoff.NewTransientError(fmt.Errorf("failed to post batch %s: %w", batch.ID, err))
	}
	defer resp.Body.Close()

	// drain so the connection can be reused
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return backoff.NewAuthError(fmt.Errorf("intake rejected credentials: %s", resp.Status))
	case resp.StatusCode >= http.StatusInternalServerError:
		return backoff.NewTransientError(fmt.Errorf("intake unavailable: %s: %s", resp.Status, msg))
	case resp.StatusCode >= http.StatusMultipleChoices:
		return fmt.Errorf("intake refused batch %s: %s: %s", batch.ID, resp.Status, msg)
	}

	f.log.Debugw("Forwarded batch", "batch", batch.ID, "status", resp.StatusCode)
	countForwarded(batch)

	return nil
}
