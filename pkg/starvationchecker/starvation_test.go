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

package starvationchecker_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/starvationchecker"
)

var _ = Describe("StarvationChecker", func() {
	var checker *starvationchecker.StarvationChecker

	BeforeEach(func() {
		checker = starvationchecker.NewStarvationChecker(100*time.Millisecond, 10*time.Millisecond,
			zaptest.NewLogger(GinkgoT()).Sugar())
	})

	AfterEach(func() {
		checker.Stop()
	})

	It("should report starvation when no ticks happen", func() {
		Eventually(func() bool {
			_, starved := checker.Starved()
			return starved
		}, time.Second, 10*time.Millisecond).Should(BeTrue())
	})

	It("should not report starvation while ticks keep arriving", func() {
		for range 5 {
			checker.UpdateLastReconcileTime()
			time.Sleep(30 * time.Millisecond)
		}

		since, starved := checker.Starved()
		Expect(starved).To(BeFalse())
		Expect(since).To(BeNumerically("<", 100*time.Millisecond))
	})

	It("should move the last tick forward", func() {
		initial := checker.GetLastReconcileTime()
		time.Sleep(5 * time.Millisecond)

		checker.UpdateLastReconcileTime()
		Expect(checker.GetLastReconcileTime()).To(BeTemporally(">", initial))
	})

	It("should be stoppable more than once", func() {
		checker.Stop()
		Expect(checker.Stop).NotTo(Panic())
	})
})
