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
	"crypto/md5" //nolint:gosec // G501: content fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"os"
)

// Fingerprint is the lowercase hex MD5 of a file's full byte content.
//
// MD5 keeps .ingested_files.json files written by earlier tooling valid, so an
// upgrade does not re-ingest every document.
type Fingerprint string

// ComputeFingerprint hashes content. Identical bytes give identical
// fingerprints regardless of path.
func ComputeFingerprint(content []byte) Fingerprint {
	sum := md5.Sum(content) //nolint:gosec // G401: see Fingerprint
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// FingerprintFile reads path and hashes its content.
func FingerprintFile(path string) (Fingerprint, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: path from discovery
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return ComputeFingerprint(content), nil
}
