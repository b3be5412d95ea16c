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

package api_test

import (
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/api"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/check"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/control"
)

type statusSource struct {
	*control.SnapshotManager
	since   time.Duration
	starved bool
}

func (s *statusSource) Starved() (time.Duration, bool) {
	return s.since, s.starved
}

var _ = Describe("Status API", func() {
	var (
		manager *control.SnapshotManager
		source  *statusSource
		router  http.Handler
	)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(rec, req)

		return rec
	}

	BeforeEach(func() {
		manager = control.NewSnapshotManager()
		manager.UpdateSnapshot(&control.SystemSnapshot{
			SnapshotTime: time.Date(2017, 3, 8, 12, 0, 0, 0, time.UTC),
			Tick:         7,
			Checks: map[string]control.CheckSnapshot{
				"splunk_metric": {
					Name:   "splunk_metric",
					Runs:   2,
					Status: check.StatusWarning,
					ServiceChecks: []check.ServiceCheck{
						{Name: "splunk.metric_information", Status: check.StatusWarning, Message: "1 of 2 searches failed"},
					},
				},
			},
		})
		source = &statusSource{SnapshotManager: manager, since: 3 * time.Second}
		router = api.NewRouter(source, zaptest.NewLogger(GinkgoT()))
	})

	It("reports health with the last tick", func() {
		rec := get("/health")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var body map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body).To(HaveKeyWithValue("status", "ok"))
		Expect(body).To(HaveKeyWithValue("tick", BeNumerically("==", 7)))
		Expect(body).To(HaveKeyWithValue("last_tick", "2017-03-08T12:00:00Z"))
		Expect(body).To(HaveKeyWithValue("since_tick_seconds", BeNumerically("==", 3)))
	})

	It("reports unavailability while the control loop is starved", func() {
		source.starved = true

		rec := get("/health")
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(rec.Body.String()).To(ContainSubstring(`"status":"starved"`))
	})

	It("lists the last result of every check", func() {
		rec := get("/checks")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var snapshot control.SystemSnapshot
		Expect(json.Unmarshal(rec.Body.Bytes(), &snapshot)).To(Succeed())
		Expect(snapshot.Tick).To(Equal(uint64(7)))
		Expect(snapshot.Checks).To(HaveKey("splunk_metric"))
		Expect(snapshot.Checks["splunk_metric"].Status).To(Equal(check.StatusWarning))
	})

	It("renders statuses by name", func() {
		rec := get("/checks/splunk_metric")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"status":"WARNING"`))
		Expect(rec.Body.String()).To(ContainSubstring("1 of 2 searches failed"))
	})

	It("returns 404 for unknown checks", func() {
		rec := get("/checks/splunk_nope")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})
})
