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

// Package backoff centralizes the retry policies shared by the keeper's
// monitor RPC client and its process supervisors: a short, bounded policy
// for interactive commands, and an unbounded one for the long-running main
// loops, both built on cenkalti/backoff/v4.
package backoff

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pgha-project/pgha/internal/errclass"
)

const (
	initialInterval     = 350 * time.Millisecond
	multiplier          = 1.5
	maxInterval         = 3 * time.Second
	interactiveMaxTotal = 30 * time.Second
)

// NewInteractive returns a policy suitable for a single user-facing
// command (e.g. `pgha create postgres`): it gives up after
// interactiveMaxTotal of cumulative waiting.
func NewInteractive() backoff.BackOff {
	b := newExponential()
	b.MaxElapsedTime = interactiveMaxTotal
	return b
}

// NewUnbounded returns a policy for a supervised background loop: it never
// gives up on its own, relying on the caller's context for cancellation.
func NewUnbounded() backoff.BackOff {
	b := newExponential()
	b.MaxElapsedTime = 0
	return b
}

func newExponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.Multiplier = multiplier
	b.MaxInterval = maxInterval
	b.RandomizationFactor = backoff.DefaultRandomizationFactor
	return b
}

// Retry runs op under policy, stopping early if ctx is cancelled. An
// errclass.Unretryable error aborts immediately without exhausting the
// policy.
func Retry(ctx context.Context, policy backoff.BackOff, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !errclass.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(policy, ctx))
}
