// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry defines the boundary types between the safety
// coordination layer and the hardware telemetry transport. The transport
// itself (register decoding, device enumeration) lives outside this
// repository; the safety layer only wraps calls into it.
package telemetry

import "time"

// Record is one telemetry readout for a single device.
type Record struct {
	// Board power draw in watts
	Power float64

	// Core voltage in volts
	Voltage float64

	// Core current draw in amps
	Current float64

	// AI clock in MHz
	AIClock float64

	// ASIC temperature in Celsius
	ASICTemperature float64

	// Voltage regulator temperature in Celsius
	VRegTemperature float64

	// Firmware heartbeat counter; stalls when the device wedges
	Heartbeat uint64

	// Wall-clock time the readout was taken
	Timestamp time.Time
}

// ReadFunc performs one raw telemetry read against a device. Implemented
// by the hardware transport; wrapped by safety.Retrier.
type ReadFunc func(deviceIndex int) (Record, error)

// FallbackRecord returns a structurally complete, zeroed record for use
// when a read has failed past all retries. Callers always receive a valid
// Record, never an error, at the retry boundary.
func FallbackRecord() Record {
	return Record{Timestamp: time.Now()}
}

// Provider exposes host-wide aggregate telemetry to consumers that need
// a coarse activity signal without touching the hardware themselves.
// The workload correlator is the main consumer.
type Provider interface {
	// AveragePower returns the mean board power in watts across devices.
	AveragePower() float64

	// AverageCurrent returns the mean current draw in amps across devices.
	AverageCurrent() float64

	// DeviceCount returns the number of devices with a known reading.
	DeviceCount() int
}
