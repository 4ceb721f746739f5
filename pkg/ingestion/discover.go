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
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Source is one directory of documents of a single category.
type Source struct {
	// Name labels the category in logs and summaries ("prds", "designs").
	Name string `yaml:"name" json:"name"`

	// Dir is scanned non-recursively.
	Dir string `yaml:"dir" json:"dir"`

	// Extensions are matched exactly against filepath.Ext, dot included.
	Extensions []string `yaml:"extensions" json:"extensions"`
}

// DefaultSources returns PRDs first, then designs.
func DefaultSources() []Source {
	return []Source{
		{Name: "prds", Dir: "./data/prds", Extensions: []string{".txt", ".md"}},
		{Name: "designs", Dir: "./data/designs", Extensions: []string{".json"}},
	}
}

// Matches reports whether a file name has one of the source's extensions.
func (s Source) Matches(name string) bool {
	ext := filepath.Ext(name)
	for _, e := range s.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// CandidateFile is a document selected for this run.
type CandidateFile struct {
	// Path is the identity used as the tracking key.
	Path   string
	Source string
}

// Discover lists candidate files in source order, each directory sorted by
// name. A missing directory is logged and skipped.
func Discover(sources []Source, logger *slog.Logger) ([]CandidateFile, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var out []CandidateFile
	seen := make(map[string]bool)
	for _, src := range sources {
		dir := filepath.Clean(src.Dir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Warn("ingest.discover.missing_dir", "source", src.Name, "dir", dir)
				continue
			}
			return nil, fmt.Errorf("read source dir %s: %w", dir, err)
		}

		// os.ReadDir already sorts by filename; keep the contract explicit.
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		found := 0
		for _, e := range entries {
			if !src.Matches(e.Name()) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if !isRegularFile(e, path) {
				continue
			}
			if seen[path] {
				continue
			}
			seen[path] = true
			out = append(out, CandidateFile{Path: path, Source: src.Name})
			found++
		}
		logger.Debug("ingest.discover.source", "source", src.Name, "dir", dir, "files", found)
	}
	return out, nil
}

// isRegularFile follows symlinks; dangling links are kept so the read fails
// later as a per-file outcome.
func isRegularFile(e os.DirEntry, path string) bool {
	if e.Type()&os.ModeSymlink == 0 {
		return e.Type().IsRegular()
	}
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return info.Mode().IsRegular()
}
