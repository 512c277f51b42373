/*
 * Keepsake
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package unlock

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "keepsake",
		Subsystem: "unlock",
		Name:      "sweeps_total",
		Help:      "Number of unlock sweeps executed.",
	})
	capsulesChecked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "keepsake",
		Subsystem: "unlock",
		Name:      "capsules_checked_total",
		Help:      "Number of due capsules examined across all sweeps.",
	})
	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keepsake",
		Subsystem: "unlock",
		Name:      "transitions_total",
		Help:      "Number of time-driven capsule transitions applied.",
	}, []string{"transition"})
	sweepErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "keepsake",
		Subsystem: "unlock",
		Name:      "errors_total",
		Help:      "Number of per-capsule errors encountered during sweeps.",
	})
	lastSweepTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "keepsake",
		Subsystem: "unlock",
		Name:      "last_sweep_timestamp_seconds",
		Help:      "Wall-clock time of the last completed sweep.",
	})
)

const (
	labelSealedToUnfolding = "sealed_to_unfolding"
	labelUnfoldingToReady  = "unfolding_to_ready"
)

var registerOnce sync.Once

// RegisterMetrics registers the unlock engine collectors with the given
// registry, once per process.
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(sweepsTotal, capsulesChecked, transitionsTotal, sweepErrors, lastSweepTimestamp)
	})
}
