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

// Package postgres contains small, dependency-free types modeling concepts
// of a PostgreSQL cluster: log sequence numbers, engine versions and
// identifier validation. None of this package talks to a live server.
package postgres

import (
	"fmt"
	"strconv"
	"strings"
)

// LSN is a PostgreSQL log sequence number in its textual "X/Y" form, as
// returned by pg_current_wal_lsn() and friends.
type LSN string

// InvalidLSN is the zero value of LSN, matching PostgreSQL's 0/0.
const InvalidLSN = LSN("0/0")

// Parse converts the LSN to the int64 it encodes: high 32 bits before the
// slash, low 32 bits after.
func (lsn LSN) Parse() (int64, error) {
	parts := strings.Split(string(lsn), "/")
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad LSN: %q", lsn)
	}

	if len(parts[0]) == 0 || len(parts[0]) > 8 || len(parts[1]) == 0 || len(parts[1]) > 8 {
		return 0, fmt.Errorf("bad LSN: %q", lsn)
	}

	high, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad LSN %q: %w", lsn, err)
	}

	low, err := strconv.ParseInt(parts[1], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad LSN %q: %w", lsn, err)
	}

	return high<<32 | low, nil
}

// Diff returns lsn - other, or nil if either value fails to parse.
func (lsn LSN) Diff(other LSN) *int64 {
	a, err := lsn.Parse()
	if err != nil {
		return nil
	}

	b, err := other.Parse()
	if err != nil {
		return nil
	}

	res := a - b
	return &res
}

// Less reports whether lsn is strictly behind other. Unparseable values
// never compare less than anything, matching the "never assign a role that
// would require a higher LSN than reported" invariant: an unknown LSN must
// not look artificially small.
func (lsn LSN) Less(other LSN) bool {
	diff := lsn.Diff(other)
	return diff != nil && *diff < 0
}

// GreaterOrEqual reports whether lsn has caught up to or passed other,
// within the given byte tolerance (used by CATCHINGUP -> SECONDARY).
func (lsn LSN) GreaterOrEqual(other LSN, tolerance int64) bool {
	diff := lsn.Diff(other)
	return diff != nil && *diff >= -tolerance
}
