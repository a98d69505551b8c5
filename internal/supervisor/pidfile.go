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
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pgha-project/pgha/pkg/fileutils"
)

// PIDFile is the supervisor's pg_autoctl.pid contract: line 1 the
// supervisor PID, line 2 PGDATA, line 3 agent version, line 4 the
// required monitor-schema version, line 5 the log-serialization
// semaphore id, and one "<pid> <service-name>" line per supervised
// child.
type PIDFile struct {
	SupervisorPID    int
	PGData           string
	AgentVersion     string
	RequiredSchema   string
	SemaphoreID      string
	Services         map[int]string
}

// Write renders the PID file atomically.
func (p PIDFile) Write(path string) error {
	buf := &strings.Builder{}
	fmt.Fprintln(buf, p.SupervisorPID)
	fmt.Fprintln(buf, p.PGData)
	fmt.Fprintln(buf, p.AgentVersion)
	fmt.Fprintln(buf, p.RequiredSchema)
	fmt.Fprintln(buf, p.SemaphoreID)
	for pid, name := range p.Services {
		fmt.Fprintf(buf, "%d %s\n", pid, name)
	}

	if _, err := fileutils.WriteFileAtomic(path, []byte(buf.String())); err != nil {
		return fmt.Errorf("while writing pid file %q: %w", path, err)
	}
	return nil
}

// ReadPIDFile parses an existing pid file, most commonly to check
// whether a previous supervisor process is still alive before starting
// a new one.
func ReadPIDFile(path string) (*PIDFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("while opening pid file %q: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lines := make([]string, 0, 5)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) < 5 {
		return nil, fmt.Errorf("pid file %q is truncated: expected at least 5 header lines, got %d", path, len(lines))
	}

	supervisorPID, err := strconv.Atoi(lines[0])
	if err != nil {
		return nil, fmt.Errorf("pid file %q: invalid supervisor pid %q: %w", path, lines[0], err)
	}

	pidFile := &PIDFile{
		SupervisorPID:  supervisorPID,
		PGData:         lines[1],
		AgentVersion:   lines[2],
		RequiredSchema: lines[3],
		SemaphoreID:    lines[4],
		Services:       map[int]string{},
	}

	for _, line := range lines[5:] {
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		pid, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		pidFile.Services[pid] = parts[1]
	}

	return pidFile, nil
}
