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

package backoff

import (
	"errors"
	"fmt"
)

// ErrorCategory indicates how the scheduler should respond to a given error.
type ErrorCategory int

const (
	// CategoryTransient covers timeouts, connection failures and non-2xx responses.
	// Retried where a retry budget exists, otherwise escalated per search.
	CategoryTransient ErrorCategory = iota

	// CategoryConfiguration marks a missing or contradictory mandatory setting.
	// It fails the whole instance cycle before anything is dispatched.
	CategoryConfiguration

	// CategoryAuth marks rejected or unrenewable credentials.
	// It aborts the whole instance cycle and no searches are attempted.
	CategoryAuth

	// CategoryFatalResult marks a FATAL message in a results page or a record
	// lacking a critical field. It aborts the search cycle without a commit.
	CategoryFatalResult

	// CategoryFieldMapping marks a single record that misses a required field.
	// Only that record is dropped.
	CategoryFieldMapping
)

// String returns the name used in logs and health messages.
func (c ErrorCategory) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryConfiguration:
		return "configuration"
	case CategoryAuth:
		return "auth"
	case CategoryFatalResult:
		return "fatal_result"
	case CategoryFieldMapping:
		return "field_mapping"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// CategorizedError is a wrapper that includes the underlying error plus a Category.
type CategorizedError struct {
	Err      error
	Category ErrorCategory
}

// Error returns the original error message.
func (ce *CategorizedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying wrapped error.
func (ce *CategorizedError) Unwrap() error {
	return ce.Err
}

func newCategorized(category ErrorCategory, err error) error {
	if err == nil {
		return nil
	}

	return &CategorizedError{Err: err, Category: category}
}

// NewTransientError wraps err as CategoryTransient.
func NewTransientError(err error) error { return newCategorized(CategoryTransient, err) }

// NewConfigurationError wraps err as CategoryConfiguration.
func NewConfigurationError(err error) error { return newCategorized(CategoryConfiguration, err) }

// NewAuthError wraps err as CategoryAuth.
func NewAuthError(err error) error { return newCategorized(CategoryAuth, err) }

// NewFatalResultError wraps err as CategoryFatalResult.
func NewFatalResultError(err error) error { return newCategorized(CategoryFatalResult, err) }

// NewFieldMappingError wraps err as CategoryFieldMapping.
func NewFieldMappingError(err error) error { return newCategorized(CategoryFieldMapping, err) }

// Configurationf formats a ConfigurationError.
func Configurationf(format string, args ...any) error {
	return NewConfigurationError(fmt.Errorf(format, args...))
}

// FieldMappingf formats a FieldMappingError.
func FieldMappingf(format string, args ...any) error {
	return NewFieldMappingError(fmt.Errorf(format, args...))
}

// CategoryOf returns the outermost category found in the chain of err.
// Uncategorized errors are reported as transient.
func CategoryOf(err error) ErrorCategory {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}

	return CategoryTransient
}

// IsTransientError reports whether err is (or defaults to) a transient backend error.
func IsTransientError(err error) bool {
	return err != nil && CategoryOf(err) == CategoryTransient
}

// IsConfigurationError is a convenience checker for CategoryConfiguration.
func IsConfigurationError(err error) bool {
	return err != nil && CategoryOf(err) == CategoryConfiguration
}

// IsAuthError is a convenience checker for CategoryAuth.
func IsAuthError(err error) bool {
	return err != nil && CategoryOf(err) == CategoryAuth
}

// IsFatalResultError is a convenience checker for CategoryFatalResult.
func IsFatalResultError(err error) bool {
	return err != nil && CategoryOf(err) == CategoryFatalResult
}

// IsFieldMappingError is a convenience checker for CategoryFieldMapping.
func IsFieldMappingError(err error) bool {
	return err != nil && CategoryOf(err) == CategoryFieldMapping
}

// IsInstanceScoped reports errors that always abort the whole instance cycle,
// regardless of the ignore-search-errors setting.
func IsInstanceScoped(err error) bool {
	return IsConfigurationError(err) || IsAuthError(err)
}
