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

package supervisor

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// serviceRestartCap bounds how long the supervisor waits between
// restarts of a crashing child loop.
const serviceRestartCap = time.Minute

func newRestartBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 350 * time.Millisecond
	b.Multiplier = 1.5
	b.MaxInterval = serviceRestartCap
	b.MaxElapsedTime = 0
	return b
}
