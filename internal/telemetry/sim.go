// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"math"
	"sync/atomic"
	"time"
)

// SimulatedReader returns a ReadFunc that produces plausible idle-device
// telemetry without any hardware present. Used when the agent runs with
// no transport configured, so the full polling path stays exercisable on
// development hosts.
func SimulatedReader() ReadFunc {
	var ticks atomic.Uint64
	start := time.Now()
	return func(deviceIndex int) (Record, error) {
		t := time.Since(start).Seconds()
		// Slow sine wobble so the values move but stay in idle range.
		phase := t/30 + float64(deviceIndex)
		return Record{
			Power:           24 + 3*math.Sin(phase),
			Voltage:         0.80,
			Current:         18 + 2*math.Sin(phase/2),
			AIClock:         500,
			ASICTemperature: 42 + 2*math.Sin(phase/3),
			VRegTemperature: 48 + 2*math.Sin(phase/3),
			Heartbeat:       ticks.Add(1),
			Timestamp:       time.Now(),
		}, nil
	}
}
