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

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/kbsync/internal/errors"
)

// projectRoot returns the directory that relative paths in the config are
// resolved against: the parent of .kbsync/ when the config lives there, the
// config's own directory otherwise, or the working directory when there is
// no config.
func projectRoot(configPath string) (string, error) {
	if configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", errors.NewInternalError(
				"Cannot access working directory",
				"Failed to determine current directory path",
				"Check system permissions and try again",
				err,
			)
		}
		return wd, nil
	}
	abs, err := absPath(configPath)
	if err != nil {
		return "", errors.NewConfigError(
			"Invalid configuration path",
			configPath,
			"Pass an absolute path with --config",
			err,
		)
	}
	dir := filepath.Dir(abs)
	if filepath.Base(dir) == defaultConfigDir {
		return filepath.Dir(dir), nil
	}
	return dir, nil
}

// enterProjectRoot makes the project root the working directory. Tracking
// keys are relative paths like data/prds/a.md, so they must be computed from
// the same place on every run.
func enterProjectRoot(cfg *Config) error {
	if cfg.root == "" {
		return nil
	}
	if err := os.Chdir(cfg.root); err != nil {
		return errors.NewPermissionError(
			"Cannot enter project directory",
			cfg.root,
			"Check directory permissions",
			err,
		)
	}
	return nil
}

// rootRelative rewrites a directory given on the command line (relative to
// the caller's working directory) so it stays valid after enterProjectRoot.
// Paths inside the root become relative; anything else stays absolute.
func rootRelative(root, dir string) string {
	abs, err := absPath(dir)
	if err != nil {
		return dir
	}
	if root == "" {
		return abs
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return abs
	}
	if rel == "." {
		return "."
	}
	return "./" + filepath.ToSlash(rel)
}

// stateDir holds ingest.log and the run lock.
func stateDir(cfg *Config) string {
	if cfg.Tracking.StateDir == "" {
		return defaultConfigDir
	}
	return cfg.Tracking.StateDir
}

func lockPath(cfg *Config) string {
	return filepath.Join(stateDir(cfg), "ingest.lock")
}

func absPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
