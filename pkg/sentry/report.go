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

package sentry

import (
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

// debounceWindow is the minimum time between two reports of the same level.
const debounceWindow = 2 * time.Hour

type debouncer struct {
	lastSent map[IssueType]time.Time
	mu       sync.Mutex
}

var reports = debouncer{lastSent: map[IssueType]time.Time{}}

func (d *debouncer) allow(issueType IssueType) bool {
	if !shouldDebounceErrors || issueType == IssueTypeFatal {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if time.Since(d.lastSent[issueType]) < debounceWindow {
		return false
	}

	d.lastSent[issueType] = time.Now()

	return true
}

func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...any) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports an issue with additional context data that will be included in Sentry.
// Fatal issues are flushed and then panic.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]any) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		log.Errorf("umh-checks encountered a fatal error and will now terminate: %s", err)
		sendSentryEvent(createSentryEvent(sentry.LevelFatal, err, context))
		sentry.Flush(5 * time.Second)
		log.Panic("Fatal error")
	case IssueTypeError:
		log.Error(err)

		if reports.allow(issueType) {
			sendSentryEvent(createSentryEvent(sentry.LevelError, err, context))
		}
	case IssueTypeWarning:
		log.Warn(err)

		if reports.allow(issueType) {
			sendSentryEvent(createSentryEvent(sentry.LevelWarning, err, context))
		}
	}
}

// ReportCheckError reports a failed check run. Configuration and auth
// problems are the user's to fix and go out as warnings.
func ReportCheckError(log *zap.SugaredLogger, checkType, instance, operation string, err error) {
	issueType := IssueTypeError
	if backoff.IsInstanceScoped(err) {
		issueType = IssueTypeWarning
	}

	ReportIssueWithContext(err, issueType, log, map[string]any{
		"check_type": checkType,
		"instance":   instance,
		"operation":  operation,
		"category":   backoff.CategoryOf(err).String(),
	})
}
