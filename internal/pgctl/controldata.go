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
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pgha-project/pgha/internal/log"
)

// ControlData is the subset of pg_controldata's output the keeper cares
// about: enough to detect a system-identifier mismatch across a group
// and to decide which standby configuration style applies.
type ControlData struct {
	PgControlVersion uint32
	CatalogVersion   int
	SystemIdentifier uint64
	State            string
}

// ReadControlData shells out to pg_controldata and parses its
// "Field:  Value" output.
func (s *Server) ReadControlData() (*ControlData, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.PGBin+"/pg_controldata", s.PGData)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("while running pg_controldata on %q: %w", s.PGData, err)
	}

	data := &ControlData{}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "pg_control version number":
			if v, err := strconv.ParseUint(value, 10, 32); err == nil {
				data.PgControlVersion = uint32(v)
			}
		case "Catalog version number":
			if v, err := strconv.Atoi(value); err == nil {
				data.CatalogVersion = v
			}
		case "Database system identifier":
			if v, err := strconv.ParseUint(value, 10, 64); err == nil {
				data.SystemIdentifier = v
			}
		case "Database cluster state":
			data.State = value
		}
	}

	log.Debug("read control data", "pgdata", s.PGData, "system_identifier", data.SystemIdentifier)
	return data, nil
}
