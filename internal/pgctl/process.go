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
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	goPs "github.com/mitchellh/go-ps"

	"github.com/pgha-project/pgha/internal/log"
)

const pgCtlTimeout = 30 * time.Second

// postmasterPID returns the PID recorded in PGDATA/postmaster.pid, or 0
// if the file is absent (the instance is not running, or was not
// started by this pg_ctl invocation).
func (s *Server) postmasterPID() (int, error) {
	file, err := os.Open(s.PGData + "/postmaster.pid")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("while opening postmaster.pid: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return 0, fmt.Errorf("postmaster.pid for %q is empty", s.PGData)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return 0, fmt.Errorf("while parsing postmaster.pid for %q: %w", s.PGData, err)
	}
	return pid, nil
}

// IsRunning reports whether the postmaster recorded in postmaster.pid is
// a live process.
func (s *Server) IsRunning(ctx context.Context) (bool, error) {
	pid, err := s.postmasterPID()
	if err != nil {
		return false, err
	}
	if pid == 0 {
		return false, nil
	}

	proc, err := goPs.FindProcess(pid)
	if err != nil {
		return false, fmt.Errorf("while looking up pid %d: %w", pid, err)
	}
	return proc != nil, nil
}

// IsRunningAsChildOf reports whether the postmaster's parent process is
// supervisorPID, used by the DB controller's RUNNING_AS_SUBPROCESS
// reconciliation to detect an orphaned or externally started instance.
func (s *Server) IsRunningAsChildOf(ctx context.Context, supervisorPID int) (bool, error) {
	pid, err := s.postmasterPID()
	if err != nil || pid == 0 {
		return false, err
	}

	proc, err := goPs.FindProcess(pid)
	if err != nil || proc == nil {
		return false, err
	}
	return proc.PPid() == supervisorPID, nil
}

func (s *Server) runPgCtl(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, pgCtlTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.pgCtlPath(), args...)
	log.Debug("running pg_ctl", "args", args)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pg_ctl %s failed: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return nil
}

// Start starts the local instance via `pg_ctl start`, waiting for
// readiness.
func (s *Server) Start(ctx context.Context) error {
	return s.runPgCtl(ctx, "start", "-D", s.PGData, "-w", "-s")
}

// Stop stops the local instance via `pg_ctl stop`, using the "fast" mode
// that disconnects clients but completes a clean shutdown checkpoint.
func (s *Server) Stop(ctx context.Context) error {
	running, err := s.IsRunning(ctx)
	if err != nil {
		return err
	}
	if !running {
		return nil
	}
	return s.runPgCtl(ctx, "stop", "-D", s.PGData, "-m", "fast", "-w", "-s")
}

// Reload signals the instance to re-read postgresql.conf without
// restarting it.
func (s *Server) Reload(ctx context.Context) error {
	return s.runPgCtl(ctx, "reload", "-D", s.PGData, "-s")
}

// Promote ends recovery and makes a standby a writable primary.
func (s *Server) Promote(ctx context.Context) error {
	return s.runPgCtl(ctx, "promote", "-D", s.PGData, "-w", "-s")
}
