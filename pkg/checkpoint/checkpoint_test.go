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

package checkpoint_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/checkpoint"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/persistence"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/persistence/memory"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/persistence/sqlite"
)

const baseURL = "http://localhost:8089"

var _ = Describe("Store", func() {
	var (
		ctx   context.Context
		store *checkpoint.Store
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		store, err = checkpoint.New(ctx, memory.NewInMemoryStore())
		Expect(err).ToNot(HaveOccurred())
	})

	It("loads an empty map for a scope that was never committed", func() {
		values, err := store.Load(ctx, "splunk_metric")
		Expect(err).ToNot(HaveOccurred())
		Expect(values).To(BeEmpty())
	})

	It("replaces the whole map on commit", func() {
		Expect(store.Commit(ctx, "splunk_metric", map[string]any{"a": "1"})).To(Succeed())
		Expect(store.Commit(ctx, "splunk_metric", map[string]any{"b": "2"})).To(Succeed())

		values, err := store.Load(ctx, "splunk_metric")
		Expect(err).ToNot(HaveOccurred())
		Expect(values).To(Equal(map[string]any{"b": "2"}))
	})

	It("does not lose keys under concurrent updates", func() {
		inst := store.Instance("splunk_metric", baseURL)

		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(inst.CommitWatermark(ctx, fmt.Sprintf("search%d", i), int64(1000+i))).To(Succeed())
			}()
		}
		wg.Wait()

		marks, err := inst.Watermarks(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(marks).To(HaveLen(20))
		Expect(marks).To(HaveKeyWithValue("search7", int64(1007)))
	})

	It("keeps instances of the same scope apart", func() {
		a := store.Instance("splunk_event", "http://a:8089")
		b := store.Instance("splunk_event", "http://b:8089")

		Expect(a.CommitWatermark(ctx, "events", 10)).To(Succeed())
		Expect(b.CommitWatermark(ctx, "events", 20)).To(Succeed())

		wm, ok, err := a.Watermark(ctx, "events")
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(wm).To(Equal(int64(10)))

		_, ok, err = b.Watermark(ctx, "other")
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	Context("in-flight jobs", func() {
		It("stores the job under the base url plus search name", func() {
			inst := store.Instance("splunk_metric", baseURL)
			Expect(inst.SetInFlightJob(ctx, "metrics", "sid-1")).To(Succeed())

			values, err := store.Load(ctx, "splunk_metric")
			Expect(err).ToNot(HaveOccurred())
			Expect(values).To(HaveKeyWithValue(baseURL+"metrics", "sid-1"))

			job, ok, err := inst.InFlightJob(ctx, "metrics")
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(job).To(Equal("sid-1"))
		})

		It("clears the job when the watermark is committed", func() {
			inst := store.Instance("splunk_metric", baseURL)
			Expect(inst.SetInFlightJob(ctx, "metrics", "sid-1")).To(Succeed())
			Expect(inst.CommitWatermark(ctx, "metrics", 1488974400)).To(Succeed())

			_, ok, err := inst.InFlightJob(ctx, "metrics")
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("clears the job explicitly", func() {
			inst := store.Instance("splunk_metric", baseURL)
			Expect(inst.SetInFlightJob(ctx, "metrics", "sid-1")).To(Succeed())
			Expect(inst.ClearInFlightJob(ctx, "metrics")).To(Succeed())

			_, ok, err := inst.InFlightJob(ctx, "metrics")
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	It("reads watermarks back from a durable store as integers", func() {
		backend, err := sqlite.Open(filepath.Join(GinkgoT().TempDir(), "checkpoints.db"))
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = backend.Close() }()

		durable, err := checkpoint.New(ctx, backend)
		Expect(err).ToNot(HaveOccurred())

		inst := durable.Instance("splunk_metric", baseURL)
		Expect(inst.CommitWatermark(ctx, "metrics", 1488974400)).To(Succeed())

		wm, ok, err := inst.Watermark(ctx, "metrics")
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(wm).To(Equal(int64(1488974400)))
	})

	It("ignores malformed status values", func() {
		Expect(store.Commit(ctx, "splunk_metric", map[string]any{
			baseURL: map[string]any{"good": float64(5), "bad": []any{"x"}},
		})).To(Succeed())

		marks, err := store.Instance("splunk_metric", baseURL).Watermarks(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(marks).To(Equal(map[string]int64{"good": 5}))
	})
})

var _ persistence.Store = (*memory.InMemoryStore)(nil)
