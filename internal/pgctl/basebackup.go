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
	"strconv"
	"time"

	"github.com/google/shlex"
	"github.com/kballard/go-shellquote"

	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/internal/log"
)

const baseBackupTimeout = 30 * time.Minute

// BaseBackup populates an empty PGData by streaming a base backup from
// the replication source's primary, using the same slot this node will
// later stream from so no WAL is lost between backup and streaming
// start.
func (s *Server) BaseBackup(ctx context.Context, source fsm.ReplicationSource) error {
	if empty, err := isEmptyDir(s.PGData); err != nil {
		return err
	} else if !empty {
		return fmt.Errorf("refusing to base-back-up into non-empty data directory %q", s.PGData)
	}

	ctx, cancel := context.WithTimeout(ctx, baseBackupTimeout)
	defer cancel()

	args := []string{
		"-D", s.PGData,
		"-h", source.PrimaryHost,
		"-p", strconv.Itoa(source.PrimaryPort),
		"-U", source.ReplicationUser,
		"-X", "stream",
		"-C",
		"-S", source.SlotName,
		"--no-password",
	}
	if source.MaximumBackupRate != "" {
		args = append(args, "--max-rate", source.MaximumBackupRate)
	}

	cmd := exec.CommandContext(ctx, s.PGBin+"/pg_basebackup", args...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+source.ReplicationPass)

	log.Info("taking base backup", "command", shellquote.Join(append([]string{"pg_basebackup"}, args...)...))

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pg_basebackup failed: %w: %s", err, string(out))
	}
	return nil
}

func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("while reading %q: %w", dir, err)
	}
	return len(entries) == 0, nil
}

// InitializeDataDirectory runs initdb to create a fresh, empty cluster
// when this node is the first in its group.
func (s *Server) InitializeDataDirectory(ctx context.Context) error {
	if empty, err := isEmptyDir(s.PGData); err != nil {
		return err
	} else if !empty {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	args := []string{"-D", s.PGData, "-U", "postgres", "--auth=trust"}
	if s.InitdbOptions != "" {
		extra, err := shlex.Split(s.InitdbOptions)
		if err != nil {
			return fmt.Errorf("while parsing initdb options %q: %w", s.InitdbOptions, err)
		}
		args = append(args, extra...)
	}

	cmd := exec.CommandContext(ctx, s.PGBin+"/initdb", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("initdb failed: %w: %s", err, string(out))
	}
	return nil
}
