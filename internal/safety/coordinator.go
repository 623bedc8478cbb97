// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tsingletaryTT/tt-top/internal/selfmetrics"
	"github.com/tsingletaryTT/tt-top/internal/telemetry"
	"github.com/tsingletaryTT/tt-top/internal/workload"
)

// PollDisabled is the sentinel interval returned while monitoring is
// disabled by the PCIe error latch. Callers should not spin on it; see
// DisabledRecheckInterval.
const PollDisabled = time.Duration(math.MaxInt64)

// DisabledRecheckInterval is the cadence the polling loop should fall
// back to while PollDisabled is in effect, so a manual reset is picked
// up without hammering the coordinator.
const DisabledRecheckInterval = 30 * time.Second

// ForceMode is the manual safety override state.
type ForceMode int

const (
	// ForceAuto lets the detectors drive the poll interval.
	ForceAuto ForceMode = iota
	// ForceOn pins the workload (throttled) interval.
	ForceOn
	// ForceOff pins the normal interval.
	ForceOff
)

// Summary is the diagnostics view consumed by the status display.
type Summary struct {
	ActiveMLProcesses   int
	TotalMLMemoryGB     float64
	HighMemoryProcesses int
	IsWorkloadActive    bool
	SafetyModeEnabled   bool
	CurrentPollInterval time.Duration
	PCIeErrorCount      int
	MonitoringDisabled  bool
}

// Coordinator decides, on every polling tick, whether and how fast it
// is safe to read hardware telemetry. One instance is built per
// monitoring process and owns its detectors outright; there is no
// process-global state, so tests build isolated instances freely.
type Coordinator struct {
	cfg     Config
	log     *slog.Logger
	metrics *selfmetrics.Metrics

	errors    *PCIeErrorDetector
	workloads *workload.Detector
	retrier   *Retrier

	// mu serializes poll decisions against manual CLI overrides.
	mu              sync.Mutex
	current         time.Duration
	forced          ForceMode
	custom          time.Duration
	throttled       bool
	lastErrorsFound bool
}

// NewCoordinator validates the config and wires up the detectors.
// provider feeds workload/telemetry correlation and may be nil until a
// telemetry source exists; metrics may be nil in tests.
func NewCoordinator(cfg Config, provider telemetry.Provider, metrics *selfmetrics.Metrics, log *slog.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		cfg:     cfg,
		log:     log.With("component", "safety_coordinator"),
		metrics: metrics,
		current: cfg.NormalPollInterval,
		errors:  NewPCIeErrorDetector(cfg, log),
		retrier: NewRetrier(cfg.RetryBackoffBase, log),
	}
	wcfg := workload.Config{
		CheckInterval: cfg.WorkloadCheckInterval,
		MinMemoryGB:   cfg.MinWorkloadMemoryGB,
	}
	if metrics != nil {
		wcfg.Observer = func(d time.Duration) { metrics.ScanDuration.Observe(d.Seconds()) }
	}
	c.workloads = workload.NewDetector(wcfg, provider, log)
	c.log.Info("safety coordinator initialized",
		"normal_poll", cfg.NormalPollInterval,
		"workload_poll", cfg.WorkloadPollInterval,
		"critical_poll", cfg.CriticalPollInterval,
		"max_errors_before_disable", cfg.MaxErrorsBeforeDisable,
	)
	return c, nil
}

// GetSafePollInterval recomputes the effective poll interval from the
// latest detector state. Priority order: disabled latch, manual
// override, recent PCIe errors, active workloads, normal. The override
// pins the interval but never bypasses the disabled latch.
func (c *Coordinator) GetSafePollInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.errors.ShouldDisableMonitoring() {
		return c.setCurrent(PollDisabled)
	}

	switch {
	case c.forced == ForceOn:
		return c.setCurrent(c.cfg.WorkloadPollInterval)
	case c.forced == ForceOff:
		return c.setCurrent(c.cfg.NormalPollInterval)
	case c.custom > 0:
		return c.setCurrent(c.custom)
	}

	// Rescan the kernel log once the detection window has elapsed. The
	// dmesg call is internally bounded by cfg.DmesgTimeout.
	if time.Since(c.errors.LastCheckTime()) >= c.cfg.ErrorDetectionWindow {
		found, lines := c.errors.CheckForErrors(context.Background())
		c.lastErrorsFound = found
		if c.metrics != nil && len(lines) > 0 {
			c.metrics.PCIeErrors.Add(float64(len(lines)))
		}
		if c.errors.ShouldDisableMonitoring() {
			return c.setCurrent(PollDisabled)
		}
	}
	if c.lastErrorsFound {
		return c.setCurrent(c.cfg.CriticalPollInterval)
	}

	// The detector throttles itself to the workload check interval and
	// serves the previous snapshot in between, so state changes at most
	// once per interval and transient reads cannot oscillate the rate.
	state := c.workloads.DetectActiveWorkloads()
	if c.metrics != nil {
		c.metrics.ActiveMLProcesses.Set(float64(state.ProcessCount))
		c.metrics.MLMemoryGB.Set(state.TotalMemoryGB)
	}
	if state.IsActive {
		if !c.throttled {
			c.log.Info("active workloads detected, reducing poll frequency",
				"ml_processes", state.ProcessCount,
				"memory_gb", state.TotalMemoryGB,
			)
			c.throttled = true
		}
		return c.setCurrent(c.cfg.WorkloadPollInterval)
	}
	if c.throttled {
		c.log.Info("no active workloads, resuming normal poll frequency")
		c.throttled = false
	}
	return c.setCurrent(c.cfg.NormalPollInterval)
}

// setCurrent must be called with mu held.
func (c *Coordinator) setCurrent(d time.Duration) time.Duration {
	c.current = d
	if c.metrics != nil {
		if d == PollDisabled {
			c.metrics.PollInterval.Set(math.Inf(1))
			c.metrics.MonitoringEnabled.Set(0)
		} else {
			c.metrics.PollInterval.Set(d.Seconds())
			c.metrics.MonitoringEnabled.Set(1)
		}
	}
	return d
}

// AcquireDeviceLock takes the cross-process hardware access lock for a
// device, waiting up to MaxLockWaitTime. The returned handle must be
// released via defer; a timed-out handle is valid and unlocked.
func (c *Coordinator) AcquireDeviceLock(deviceID int) *LockHandle {
	h := AcquireDeviceLock(deviceID, c.cfg.LockBasePath, c.cfg.MaxLockWaitTime, c.log)
	if !h.IsLocked() && c.metrics != nil {
		c.metrics.LockTimeouts.Inc()
	}
	return h
}

// ReadWithRetry wraps a transport read with the configured retry
// discipline. maxRetries < 0 selects the configured default.
func (c *Coordinator) ReadWithRetry(ctx context.Context, readFn telemetry.ReadFunc, deviceIndex int, operation string, maxRetries int) (telemetry.Record, bool) {
	if maxRetries < 0 {
		maxRetries = c.cfg.MaxRetries
	}
	rec, fallback := c.retrier.ReadWithRetry(ctx, readFn, deviceIndex, operation, maxRetries)
	if fallback && c.metrics != nil {
		c.metrics.ReadFallbacks.Inc()
	}
	return rec, fallback
}

// IsMonitoringSafe reports whether telemetry reads should happen at all,
// with a human-readable reason for the status display.
func (c *Coordinator) IsMonitoringSafe() (bool, string) {
	if c.errors.ShouldDisableMonitoring() {
		return false, fmt.Sprintf("monitoring disabled after %d PCIe errors", c.errors.ErrorCount())
	}
	return true, "monitoring is safe"
}

// WorkloadSummary returns the diagnostics snapshot without triggering a
// new scan.
func (c *Coordinator) WorkloadSummary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.workloads.Last()
	return Summary{
		ActiveMLProcesses:   state.ProcessCount,
		TotalMLMemoryGB:     state.TotalMemoryGB,
		HighMemoryProcesses: state.HighMemoryCount,
		IsWorkloadActive:    state.IsActive,
		SafetyModeEnabled:   c.forced == ForceOn || c.throttled,
		CurrentPollInterval: c.current,
		PCIeErrorCount:      c.errors.ErrorCount(),
		MonitoringDisabled:  c.errors.ShouldDisableMonitoring(),
	}
}

// ForceSafetyMode pins the throttled (true) or normal (false) poll
// interval regardless of detector state. The PCIe disable latch still
// wins. Driven by CLI flags.
func (c *Coordinator) ForceSafetyMode(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enabled {
		c.forced = ForceOn
		c.log.Info("safety mode forced on, using reduced polling frequency")
	} else {
		c.forced = ForceOff
		c.log.Info("safety mode forced off, using normal polling frequency")
	}
}

// ClearSafetyOverride returns poll-rate control to the detectors.
func (c *Coordinator) ClearSafetyOverride() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forced = ForceAuto
	c.log.Info("safety mode override cleared")
}

// SetCustomPollInterval pins a fixed interval chosen by the operator.
// A non-positive value clears the pin.
func (c *Coordinator) SetCustomPollInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		c.custom = 0
		c.log.Info("custom poll interval cleared")
		return
	}
	c.custom = d
	c.log.Info("custom poll interval set", "interval", d)
}

// ResetErrorCount clears the PCIe error latch and counter, re-enabling
// monitoring. Manual recovery only; nothing resets it automatically.
func (c *Coordinator) ResetErrorCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors.ResetErrorCount()
	c.lastErrorsFound = false
	if c.metrics != nil {
		c.metrics.MonitoringEnabled.Set(1)
	}
}

// CheckForErrors runs an immediate kernel log scan, outside the
// regular window cadence. Exposed for diagnostics commands.
func (c *Coordinator) CheckForErrors(ctx context.Context) (bool, []string) {
	found, lines := c.errors.CheckForErrors(ctx)
	c.mu.Lock()
	c.lastErrorsFound = found
	c.mu.Unlock()
	if c.metrics != nil && len(lines) > 0 {
		c.metrics.PCIeErrors.Add(float64(len(lines)))
	}
	return found, lines
}
