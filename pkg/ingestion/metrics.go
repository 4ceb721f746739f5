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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exposed on /metrics when kbsync runs with --metrics-addr.
var (
	filesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kbsync",
		Subsystem: "ingest",
		Name:      "files_total",
		Help:      "Documents processed, by outcome.",
	}, []string{"outcome"})

	unitsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kbsync",
		Subsystem: "ingest",
		Name:      "units_created_total",
		Help:      "Knowledge base chunks created by successful submissions.",
	})

	countInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kbsync",
		Subsystem: "ingest",
		Name:      "count_inconsistencies_total",
		Help:      "Submissions whose before/after count could not be trusted.",
	})

	submitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kbsync",
		Subsystem: "ingest",
		Name:      "submit_duration_seconds",
		Help:      "Time spent inserting one document.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kbsync",
		Subsystem: "ingest",
		Name:      "runs_total",
		Help:      "Ingestion runs, by result.",
	}, []string{"result"})

	knowledgeBaseUnits = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kbsync",
		Subsystem: "ingest",
		Name:      "knowledge_base_units",
		Help:      "Chunk count reported by the knowledge base at the end of the last run.",
	})
)

// Run results for runsTotal.
const (
	runResultOK       = "ok"
	runResultFailures = "failures"
	runResultAborted  = "aborted"
	runResultFatal    = "fatal"
)
