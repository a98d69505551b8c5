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

package pgctl

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/pgha-project/pgha/internal/fsm"
)

const rewindTimeout = 10 * time.Minute

// Rewind runs pg_rewind against the new primary, letting a demoted
// primary rejoin as a standby on the new timeline without a full base
// backup when only divergent local WAL needs discarding.
func (s *Server) Rewind(ctx context.Context, source fsm.ReplicationSource) error {
	if running, err := s.IsRunning(ctx); err != nil {
		return err
	} else if running {
		if err := s.Stop(ctx); err != nil {
			return fmt.Errorf("while stopping postgres before rewind: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, rewindTimeout)
	defer cancel()

	sourceConn := fmt.Sprintf(
		"host=%s port=%d user=%s dbname=%s sslmode=disable",
		source.PrimaryHost, source.PrimaryPort, source.ReplicationUser, s.DBName)

	cmd := exec.CommandContext(ctx, s.PGBin+"/pg_rewind",
		"-D", s.PGData,
		"--source-server", sourceConn,
		"-P",
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+source.ReplicationPass)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pg_rewind failed: %w: %s", err, string(out))
	}
	return nil
}
