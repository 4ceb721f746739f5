// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var ingestLogMu sync.Mutex

// IngestLogName is the append-only diagnostics file kept in the state dir.
const IngestLogName = "ingest.log"

// AppendIngestLog appends "<RFC3339> <message>" to <stateDir>/ingest.log.
// Lines are easy to grep by document path:
//
//	grep "data/prds/search.md" .kbsync/ingest.log
//
// Logging is best effort and never fails a run.
func AppendIngestLog(stateDir, message string) {
	if stateDir == "" {
		return
	}
	ingestLogMu.Lock()
	defer ingestLogMu.Unlock()
	if err := os.MkdirAll(stateDir, 0750); err != nil {
		return
	}
	logPath := filepath.Join(stateDir, IngestLogName)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640) //nolint:gosec // G304: state dir
	if err != nil {
		return
	}
	line := fmt.Sprintf("%s %s\n", time.Now().Format(time.RFC3339), message)
	_, _ = f.WriteString(line)
	_ = f.Close()
}
