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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// =============================================================================
// TRACKING STORE
// =============================================================================
//
// The tracking file records, per document, the fingerprint that was last
// accepted by the knowledge base:
//
//	{
//	  "data/designs/checkout.json": "5d41402abc4b2a76b9719d911017c592",
//	  "data/prds/search.md": "7d793037a0760186574b0282f2f435e7"
//	}
//
// An entry exists only for documents whose submission succeeded. The file is
// read once at the start of a run and rewritten whole at the end.

// DefaultTrackingFile is the tracking file path relative to the project root.
const DefaultTrackingFile = ".ingested_files.json"

// Tracking maps document identity to the last ingested fingerprint.
type Tracking map[string]Fingerprint

// Clone returns an independent copy.
func (t Tracking) Clone() Tracking {
	out := make(Tracking, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// ErrCorruptTracking is matched by every *CorruptTrackingError.
var ErrCorruptTracking = errors.New("tracking file is corrupt")

// CorruptTrackingError reports a tracking file that exists but cannot be parsed.
// Treating it as empty would re-ingest everything, so it is fatal instead.
type CorruptTrackingError struct {
	Path string
	Err  error
}

func (e *CorruptTrackingError) Error() string {
	return fmt.Sprintf("tracking file %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptTrackingError) Unwrap() error { return e.Err }

func (e *CorruptTrackingError) Is(target error) bool { return target == ErrCorruptTracking }

// TrackingStore persists Tracking as a pretty-printed JSON object.
type TrackingStore struct {
	path string
}

// NewTrackingStore creates a store backed by path.
func NewTrackingStore(path string) *TrackingStore {
	return &TrackingStore{path: path}
}

// Path returns the backing file path.
func (s *TrackingStore) Path() string { return s.path }

// Load returns the persisted mapping. A missing file is the first-run case and
// yields an empty mapping.
func (s *TrackingStore) Load() (Tracking, error) {
	data, err := os.ReadFile(s.path) //nolint:gosec // G304: configured tracking path
	if err != nil {
		if os.IsNotExist(err) {
			return Tracking{}, nil
		}
		return nil, fmt.Errorf("read tracking file: %w", err)
	}

	var t Tracking
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, &CorruptTrackingError{Path: s.path, Err: err}
	}
	if t == nil {
		t = Tracking{}
	}
	for k, v := range t {
		if k == "" || v == "" {
			return nil, &CorruptTrackingError{Path: s.path, Err: fmt.Errorf("empty key or fingerprint for %q", k)}
		}
	}
	return t, nil
}

// Save replaces the persisted mapping atomically: the JSON is written to a
// temp file in the same directory, synced, then renamed over the target.
func (s *TrackingStore) Save(t Tracking) error {
	if t == nil {
		t = Tracking{}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create tracking dir: %w", err)
	}

	// encoding/json sorts map keys, so unchanged content gives identical bytes.
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tracking: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create tracking temp: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write tracking temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync tracking temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close tracking temp: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil { //nolint:gosec // G302: human-inspectable state file
		cleanup()
		return fmt.Errorf("chmod tracking temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return fmt.Errorf("rename tracking: %w", err)
	}
	return nil
}

// Clear deletes the tracking file and reports whether one existed.
func (s *TrackingStore) Clear() (bool, error) {
	if err := os.Remove(s.path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("remove tracking file: %w", err)
	}
	return true, nil
}
