// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

// Package safety implements the hardware safety coordination layer:
// poll-rate decisions, cross-process device locking, PCIe error
// detection, and the telemetry retry discipline. It exists because
// aggressive polling of accelerator registers during active compute
// workloads can trigger PCIe DPC containment events, and because two
// monitor processes reading registers concurrently can corrupt reads.
package safety

import (
	"fmt"
	"time"
)

// Config holds the safety coordination tunables. It is built once at
// startup, validated, and never mutated afterwards.
type Config struct {
	// NormalPollInterval is used when the host is idle.
	NormalPollInterval time.Duration

	// WorkloadPollInterval is used while ML workloads are active.
	WorkloadPollInterval time.Duration

	// CriticalPollInterval is used after PCIe errors were observed.
	CriticalPollInterval time.Duration

	// MaxLockWaitTime bounds the device lock acquisition wait.
	MaxLockWaitTime time.Duration

	// ErrorDetectionWindow is how far back the kernel log is scanned.
	ErrorDetectionWindow time.Duration

	// MaxErrorsBeforeDisable is the PCIe error count at which monitoring
	// shuts itself off until an explicit reset.
	MaxErrorsBeforeDisable int

	// WorkloadCheckInterval throttles process-table scans.
	WorkloadCheckInterval time.Duration

	// MinWorkloadMemoryGB is the resident-memory threshold above which a
	// process counts as a potential workload even without an ML match.
	MinWorkloadMemoryGB float64

	// LockBasePath is the lock file path prefix; the per-device file is
	// "<LockBasePath>_<deviceID>".
	LockBasePath string

	// DmesgTimeout bounds the kernel log subprocess.
	DmesgTimeout time.Duration

	// MaxRetries is the default retry budget for telemetry reads.
	MaxRetries int

	// RetryBackoffBase is the first retry delay; delay k is
	// base*2^(k-1) plus jitter in [0, base).
	RetryBackoffBase time.Duration
}

// DefaultConfig returns the stock tt-top safety configuration.
func DefaultConfig() Config {
	return Config{
		NormalPollInterval:     100 * time.Millisecond,
		WorkloadPollInterval:   2 * time.Second,
		CriticalPollInterval:   5 * time.Second,
		MaxLockWaitTime:        1 * time.Second,
		ErrorDetectionWindow:   60 * time.Second,
		MaxErrorsBeforeDisable: 3,
		WorkloadCheckInterval:  1 * time.Second,
		MinWorkloadMemoryGB:    1.0,
		LockBasePath:           "/tmp/tt_device_lock",
		DmesgTimeout:           5 * time.Second,
		MaxRetries:             3,
		RetryBackoffBase:       100 * time.Millisecond,
	}
}

// Validate rejects configurations that would make the coordinator
// misbehave. This is the only fatal error class in the package: every
// runtime failure degrades instead.
func (c Config) Validate() error {
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"normal_poll_interval", c.NormalPollInterval},
		{"workload_poll_interval", c.WorkloadPollInterval},
		{"critical_poll_interval", c.CriticalPollInterval},
		{"max_lock_wait_time", c.MaxLockWaitTime},
		{"error_detection_window", c.ErrorDetectionWindow},
		{"workload_check_interval", c.WorkloadCheckInterval},
		{"dmesg_timeout", c.DmesgTimeout},
		{"retry_backoff_base", c.RetryBackoffBase},
	} {
		if d.val <= 0 {
			return fmt.Errorf("safety config: %s must be positive, got %v", d.name, d.val)
		}
	}
	if c.MaxErrorsBeforeDisable < 1 {
		return fmt.Errorf("safety config: max_errors_before_disable must be >= 1, got %d", c.MaxErrorsBeforeDisable)
	}
	if c.MinWorkloadMemoryGB < 0 {
		return fmt.Errorf("safety config: min_workload_memory_gb must not be negative, got %g", c.MinWorkloadMemoryGB)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("safety config: max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.LockBasePath == "" {
		return fmt.Errorf("safety config: lock_base_path must not be empty")
	}
	return nil
}
