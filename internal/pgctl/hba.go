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
	"bytes"
	"context"
	"fmt"

	"github.com/pgha-project/pgha/internal/fsm"
	"github.com/pgha-project/pgha/pkg/fileutils"
)

const hbaMarkerBegin = "# pgha managed entries, do not edit below this line\n"

// InstallHBA appends one host replication entry per peer to pg_hba.conf,
// below a marker line, and reloads the instance so the new rules take
// effect without a restart. Existing managed entries are replaced
// wholesale so a removed peer's rule disappears too.
func (s *Server) InstallHBA(ctx context.Context, peers []fsm.PeerSlot) error {
	path := s.PGData + "/pg_hba.conf"

	existing, err := readHBAWithoutManagedSection(path)
	if err != nil {
		return err
	}

	buf := bytes.NewBuffer(existing)
	buf.WriteString(hbaMarkerBegin)
	for range peers {
		fmt.Fprintf(buf, "host replication %s 0.0.0.0/0 md5\n", s.ReplicationUser)
	}

	if _, err := fileutils.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("while writing pg_hba.conf: %w", err)
	}

	return s.Reload(ctx)
}

func readHBAWithoutManagedSection(path string) ([]byte, error) {
	existing, err := fileReadOrEmpty(path)
	if err != nil {
		return nil, err
	}

	marker := []byte(hbaMarkerBegin)
	if idx := bytes.Index(existing, marker); idx >= 0 {
		return existing[:idx], nil
	}
	return existing, nil
}
