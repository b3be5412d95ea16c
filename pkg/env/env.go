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

// Package env reads typed settings from environment variables.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetAsString returns the variable or defaultValue when unset.
// A required variable that is unset is an error.
func GetAsString(key string, required bool, defaultValue string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		if required {
			return "", fmt.Errorf("required environment variable %s is not set", key)
		}

		return defaultValue, nil
	}

	return value, nil
}

// GetAsInt parses the variable as an integer. Invalid values of optional
// variables fall back to defaultValue.
func GetAsInt(key string, required bool, defaultValue int) (int, error) {
	return parse(key, required, defaultValue, strconv.Atoi)
}

// GetAsBool parses the variable as a boolean, accepting yes/no and on/off.
func GetAsBool(key string, required bool, defaultValue bool) (bool, error) {
	return parse(key, required, defaultValue, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		}

		return false, fmt.Errorf("%q is not a boolean", s)
	})
}

// GetAsDuration parses the variable with time.ParseDuration.
func GetAsDuration(key string, required bool, defaultValue time.Duration) (time.Duration, error) {
	return parse(key, required, defaultValue, time.ParseDuration)
}

func parse[T any](key string, required bool, defaultValue T, conv func(string) (T, error)) (T, error) {
	var zero T

	raw, err := GetAsString(key, required, "")
	if err != nil {
		return zero, err
	}

	if raw == "" {
		return defaultValue, nil
	}

	value, err := conv(raw)
	if err != nil {
		if required {
			return zero, fmt.Errorf("environment variable %s is invalid: %w", key, err)
		}

		return defaultValue, nil
	}

	return value, nil
}
