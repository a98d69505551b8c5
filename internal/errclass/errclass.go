/*
Copyright The Pgha Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errclass classifies errors as retryable or not, so the backoff
// and supervisor packages can tell a transient connection failure (worth
// another attempt) from a configuration mistake (worth failing fast on).
package errclass

import (
	"errors"
	"fmt"
)

// Unretryable wraps an error, marking it as one retrying will not fix:
// a bad configuration value, a rejected command-line argument, a state
// the FSM has no transition for.
type Unretryable struct {
	Err error
}

// MakeUnretryable wraps err so that IsRetryable(err) and backoff.Retry both
// recognize it as terminal.
func MakeUnretryable(err error) error {
	if err == nil {
		return nil
	}
	return Unretryable{Err: err}
}

func (u Unretryable) Error() string {
	return fmt.Sprintf("unretryable: %s", u.Err.Error())
}

func (u Unretryable) Unwrap() error {
	return u.Err
}

// Retryable always returns false. internal/backoff.Retry does not call it;
// it detects Unretryable through IsRetryable.
func (u Unretryable) Retryable() bool {
	return false
}

// IsRetryable reports whether err, or anything it wraps, is NOT an
// Unretryable error. A nil error is trivially retryable (there is nothing
// to retry away from).
func IsRetryable(err error) bool {
	if err == nil {
		return true
	}
	return !errors.As(err, &Unretryable{})
}
