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
	"sort"
)

// ChangeKind classifies a candidate against the tracking file.
type ChangeKind string

const (
	ChangeNew        ChangeKind = "new"
	ChangeModified   ChangeKind = "changed"
	ChangeUnchanged  ChangeKind = "unchanged"
	ChangeUnreadable ChangeKind = "unreadable"
)

// PlannedFile is one candidate with its current fingerprint.
type PlannedFile struct {
	CandidateFile
	Kind        ChangeKind
	Fingerprint Fingerprint
	Err         error
}

// Plan is a dry-run view of what the next run would do.
type Plan struct {
	Files []PlannedFile

	// Stale lists tracked paths that are no longer candidates. They are kept
	// in the tracking file.
	Stale []string
}

// Count returns how many planned files have kind k.
func (p *Plan) Count(k ChangeKind) int {
	n := 0
	for _, f := range p.Files {
		if f.Kind == k {
			n++
		}
	}
	return n
}

// Pending is the number of files the next run would submit.
func (p *Plan) Pending() int {
	return p.Count(ChangeNew) + p.Count(ChangeModified)
}

// BuildPlan hashes every candidate and compares it with tracking. It never
// contacts the knowledge base.
func BuildPlan(candidates []CandidateFile, tracking Tracking) *Plan {
	plan := &Plan{Files: make([]PlannedFile, 0, len(candidates))}
	current := make(map[string]bool, len(candidates))

	for _, c := range candidates {
		current[c.Path] = true
		pf := PlannedFile{CandidateFile: c}

		fp, err := FingerprintFile(c.Path)
		if err != nil {
			pf.Kind = ChangeUnreadable
			pf.Err = err
			plan.Files = append(plan.Files, pf)
			continue
		}
		pf.Fingerprint = fp

		stored, ok := tracking[c.Path]
		switch {
		case !ok:
			pf.Kind = ChangeNew
		case stored != fp:
			pf.Kind = ChangeModified
		default:
			pf.Kind = ChangeUnchanged
		}
		plan.Files = append(plan.Files, pf)
	}

	for path := range tracking {
		if !current[path] {
			plan.Stale = append(plan.Stale, path)
		}
	}
	sort.Strings(plan.Stale)
	return plan
}
