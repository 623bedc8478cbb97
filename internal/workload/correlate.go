// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

package workload

import "github.com/tsingletaryTT/tt-top/internal/telemetry"

// correlate estimates how likely a process is to be driving the
// accelerator, blending its resource footprint with the current
// host-wide telemetry averages. Heavier memory use, more threads, and
// higher device power/current all push the score up; it is capped at 1.
func correlate(memoryGB float64, threads int, provider telemetry.Provider) float64 {
	score := 0.0

	switch {
	case memoryGB > 8: // large models
		score += 0.4
	case memoryGB > 4:
		score += 0.2
	}

	switch {
	case threads > 16:
		score += 0.3
	case threads > 8:
		score += 0.2
	}

	if provider != nil && provider.DeviceCount() > 0 {
		switch power := provider.AveragePower(); {
		case power > 60:
			score += 0.3
		case power > 30:
			score += 0.2
		}
		switch current := provider.AverageCurrent(); {
		case current > 40:
			score += 0.2
		case current > 20:
			score += 0.1
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}
