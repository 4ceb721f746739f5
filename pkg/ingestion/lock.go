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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrRunInProgress is returned when another run holds the lock file.
//
// Units created per document are measured by diffing the knowledge base
// count around each insert, which is only correct with a single writer.
var ErrRunInProgress = errors.New("another ingestion run is in progress")

// RunLock is an exclusive lock file containing the holder's PID.
type RunLock struct {
	path string
}

// AcquireRunLock creates path with O_EXCL. A leftover lock from a crashed run
// must be removed by hand; the error names the file and the recorded PID.
func AcquireRunLock(path string) (*RunLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600) //nolint:gosec // G304: state dir
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: lock %s held by pid %s", ErrRunInProgress, path, lockHolder(path))
		}
		return nil, fmt.Errorf("create lock: %w", err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock: %w", errors.Join(werr, cerr))
	}
	return &RunLock{path: path}, nil
}

// Release removes the lock file. Safe to call on nil.
func (l *RunLock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}

func lockHolder(path string) string {
	data, err := os.ReadFile(path) //nolint:gosec // G304: state dir
	if err != nil {
		return "unknown"
	}
	pid := strings.TrimSpace(string(data))
	if pid == "" {
		return "unknown"
	}
	return pid
}
