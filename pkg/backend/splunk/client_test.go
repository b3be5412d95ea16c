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
	"errors"
	"net/http"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backend"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backend/splunk"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/savedsearch"
)

const splunkURL = "https://splunk.local:8089"

// formMatcher checks one form value of a POST request.
func formMatcher(key, value string) gock.MatchFunc {
	return func(req *http.Request, _ *gock.Request) (bool, error) {
		if err := req.ParseForm(); err != nil {
			return false, err
		}

		return req.PostForm.Get(key) == value, nil
	}
}

var _ = Describe("Client", func() {
	var (
		ctx    context.Context
		client *splunk.Client
	)

	newClient := func(cfg splunk.Config) *splunk.Client {
		cfg.HTTPClient = &http.Client{}
		c, err := splunk.NewClient(cfg)
		Expect(err).ToNot(HaveOccurred())

		return c
	}

	BeforeEach(func() {
		ctx = context.Background()
		client = newClient(splunk.Config{BaseURL: splunkURL + "/", Username: "admin", Password: "admin"})
	})

	AfterEach(func() {
		gock.OffAll()
	})

	It("rejects incomplete configuration", func() {
		_, err := splunk.NewClient(splunk.Config{})
		Expect(backoff.IsConfigurationError(err)).To(BeTrue())

		_, err = splunk.NewClient(splunk.Config{BaseURL: splunkURL, Username: "admin"})
		Expect(backoff.IsConfigurationError(err)).To(BeTrue())
	})

	Context("authentication", func() {
		It("logs in once and reuses the session key", func() {
			gock.New(splunkURL).
				Post("/services/auth/login").
				AddMatcher(formMatcher("username", "admin")).
				Reply(200).
				JSON(map[string]string{"sessionKey": "abc"})

			gock.New(splunkURL).
				Get("/servicesNS/-/-/saved/searches").
				MatchHeader("Authorization", "^Splunk abc$").
				MatchParam("count", "-1").
				Reply(200).
				JSON(map[string]any{"entry": []map[string]string{{"name": "events"}, {"name": "metrics"}}})

			Expect(client.Authenticate(ctx)).To(Succeed())
			Expect(client.Authenticate(ctx)).To(Succeed())

			names, err := client.ListSearchNames(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(names).To(Equal([]string{"events", "metrics"}))
			Expect(gock.IsDone()).To(BeTrue())
		})

		It("reports rejected credentials as auth errors", func() {
			gock.New(splunkURL).
				Post("/services/auth/login").
				Reply(401).
				BodyString(`{"messages":[{"type":"WARN","text":"Login failed"}]}`)

			err := client.Authenticate(ctx)
			Expect(backoff.IsAuthError(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("Login failed"))
		})

		It("renews a rejected session once", func() {
			gock.New(splunkURL).Post("/services/auth/login").Reply(200).JSON(map[string]string{"sessionKey": "old"})
			gock.New(splunkURL).Get("/servicesNS/-/-/saved/searches").
				MatchHeader("Authorization", "^Splunk old$").Reply(401)
			gock.New(splunkURL).Post("/services/auth/login").Reply(200).JSON(map[string]string{"sessionKey": "new"})
			gock.New(splunkURL).Get("/servicesNS/-/-/saved/searches").
				MatchHeader("Authorization", "^Splunk new$").
				Reply(200).JSON(map[string]any{"entry": []map[string]string{{"name": "events"}}})

			Expect(client.Authenticate(ctx)).To(Succeed())

			names, err := client.ListSearchNames(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(names).To(Equal([]string{"events"}))
		})

		It("uses bearer tokens without logging in", func() {
			tokenClient := newClient(splunk.Config{BaseURL: splunkURL, Token: "t0k3n"})

			gock.New(splunkURL).Get("/servicesNS/-/-/saved/searches").
				MatchHeader("Authorization", "^Bearer t0k3n$").
				Reply(200).JSON(map[string]any{"entry": []any{}})

			Expect(tokenClient.Authenticate(ctx)).To(Succeed())

			names, err := tokenClient.ListSearchNames(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(names).To(BeEmpty())
		})

		It("refuses requests before authentication", func() {
			_, err := client.ListSearchNames(ctx)
			Expect(backoff.IsAuthError(err)).To(BeTrue())
		})
	})

	Context("jobs", func() {
		BeforeEach(func() {
			gock.New(splunkURL).Post("/services/auth/login").Reply(200).JSON(map[string]string{"sessionKey": "abc"})
			Expect(client.Authenticate(ctx)).To(Succeed())
		})

		It("dispatches with the window bounds in the dispatch time format", func() {
			gock.New(splunkURL).
				Post("/servicesNS/admin/search/saved/searches/metrics/dispatch").
				AddMatcher(formMatcher("dispatch.earliest_time", "2017-03-08T00:00:00.000000+0000")).
				AddMatcher(formMatcher("dispatch.latest_time", "2017-03-08T01:00:00.000000+0000")).
				AddMatcher(formMatcher("dispatch.time_format", splunk.TimeFormat)).
				AddMatcher(formMatcher("force_dispatch", "true")).
				Reply(201).
				JSON(map[string]string{"sid": "1488974400.1"})

			def := savedsearch.Definition{Name: "metrics", Parameters: map[string]string{"force_dispatch": "true"}}
			job, err := client.Dispatch(ctx, def, savedsearch.Window{Earliest: 1488931200, Latest: 1488934800})
			Expect(err).ToNot(HaveOccurred())
			Expect(job).To(Equal(backend.JobID("1488974400.1")))
			Expect(gock.IsDone()).To(BeTrue())
		})

		It("omits the upper bound for open windows", func() {
			params := splunk.DispatchParams(
				savedsearch.Definition{Name: "metrics", Parameters: map[string]string{"dispatch.latest_time": "now"}},
				savedsearch.Window{Earliest: 1488931200},
			)

			Expect(params.Get("output_mode")).To(Equal("json"))
			Expect(params.Get("dispatch.earliest_time")).To(Equal("2017-03-08T00:00:00.000000+0000"))
			Expect(params.Has("dispatch.latest_time")).To(BeFalse())
		})

		It("sends no time bounds for snapshot searches", func() {
			params := splunk.DispatchParams(savedsearch.Definition{Name: "components"}, savedsearch.Window{})
			Expect(params.Has("dispatch.earliest_time")).To(BeFalse())
			Expect(params.Has("dispatch.time_format")).To(BeFalse())
		})

		It("treats 204 as not ready and decodes result pages", func() {
			gock.New(splunkURL).Get("/servicesNS/-/-/search/jobs/sid1/results").Reply(204)
			gock.New(splunkURL).Get("/servicesNS/-/-/search/jobs/sid1/results").
				MatchParam("offset", "0").
				MatchParam("count", "2").
				Reply(200).
				BodyString(`{"messages":[{"type":"INFO","text":"No matching fields exist"}],"results":[{"_time":"2017-03-08T00:00:00.000+00:00","value":"1"}]}`)

			_, err := client.Poll(ctx, "sid1", 0, 2)
			Expect(errors.Is(err, backend.ErrNotReady)).To(BeTrue())

			page, err := client.Poll(ctx, "sid1", 0, 2)
			Expect(err).ToNot(HaveOccurred())
			Expect(page.Messages).To(ConsistOf(backend.Message{Type: "INFO", Text: backend.NoMatchingFieldsText}))
			Expect(page.Results).To(HaveLen(1))
			Expect(page.Results[0]).To(HaveKeyWithValue("value", "1"))
		})

		It("reports server errors as transient", func() {
			gock.New(splunkURL).Get("/servicesNS/-/-/search/jobs/sid1/results").Reply(503).BodyString("unavailable")

			_, err := client.Poll(ctx, "sid1", 0, 10)
			Expect(backoff.IsTransientError(err)).To(BeTrue())

			var statusErr *splunk.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.StatusCode).To(Equal(503))
		})

		It("finalizes jobs and accepts jobs that are already gone", func() {
			gock.New(splunkURL).Post("/services/search/jobs/sid1/control").
				AddMatcher(formMatcher("action", "finalize")).
				Reply(200).JSON(map[string]any{})
			gock.New(splunkURL).Post("/services/search/jobs/sid2/control").Reply(404)

			Expect(client.Finalize(ctx, "sid1")).To(Succeed())
			Expect(client.Finalize(ctx, "sid2")).To(Succeed())
		})
	})
})
