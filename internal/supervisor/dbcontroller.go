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
	"context"
	"time"

	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/internal/log"
)

const dbControllerPollInterval = 100 * time.Millisecond

// DBController is the keeper's sibling loop: it owns no decision-making
// of its own, only reconciling the running database's shape against
// whatever ExpectedPostgresStatus the FSM driver last wrote. It never
// writes that file itself, preserving the one-writer invariant.
type DBController struct {
	DB                  fsm.LocalPostgresServer
	ExpectedStatusPath  string
	Restarts            *RestartTracker
	SupervisorPID       int
}

// Run polls ExpectedPostgresStatus every dbControllerPollInterval until
// ctx is cancelled.
func (c *DBController) Run(ctx context.Context) error {
	ticker := time.NewTicker(dbControllerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.reconcileOnce(ctx); err != nil {
				log.Error(err, "db controller reconciliation failed")
			}
		}
	}
}

func (c *DBController) reconcileOnce(ctx context.Context) error {
	status, err := fsm.ReadExpectedPostgresStatus(c.ExpectedStatusPath)
	if err != nil {
		return err
	}

	running, err := c.DB.IsRunning(ctx)
	if err != nil {
		return err
	}

	switch status {
	case fsm.ExpectedPostgresStatusUnknown:
		return nil

	case fsm.ExpectedPostgresStatusStopped:
		if running {
			return c.DB.Stop(ctx)
		}
		return nil

	case fsm.ExpectedPostgresStatusRunning, fsm.ExpectedPostgresStatusRunningAsSubprocess:
		if !running {
			if err := c.DB.Start(ctx); err != nil {
				if c.Restarts != nil {
					c.Restarts.RecordFailure(time.Now())
				}
				return err
			}
			if c.Restarts != nil {
				c.Restarts.RecordSuccess()
			}
			return nil
		}

		if status == fsm.ExpectedPostgresStatusRunningAsSubprocess {
			if server, ok := c.DB.(interface {
				IsRunningAsChildOf(ctx context.Context, pid int) (bool, error)
			}); ok {
				isChild, err := server.IsRunningAsChildOf(ctx, c.SupervisorPID)
				if err != nil {
					return err
				}
				if !isChild {
					log.Warning("postgres is running but not as a child of the supervisor, restarting it")
					if err := c.DB.Stop(ctx); err != nil {
						return err
					}
					return c.DB.Start(ctx)
				}
			}
		}
		return nil

	default:
		return nil
	}
}
