// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsingletaryTT/tt-top/internal/workload"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LockBasePath = lockBase(t)
	return cfg
}

// newTestCoordinator isolates the coordinator from the host: the kernel
// log and process table are both injected.
func newTestCoordinator(t *testing.T, cfg Config, kernelLog string, procs []workload.ProcSample) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(cfg, nil, nil, testLogger())
	require.NoError(t, err)
	c.errors.readLog = func(ctx context.Context) (string, error) {
		return kernelLog, nil
	}
	c.workloads = workload.NewDetector(workload.Config{
		CheckInterval: cfg.WorkloadCheckInterval,
		MinMemoryGB:   cfg.MinWorkloadMemoryGB,
		Lister:        func() ([]workload.ProcSample, error) { return procs, nil },
	}, nil, testLogger())
	return c
}

func TestCoordinator_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.NormalPollInterval = 0
	_, err := NewCoordinator(cfg, nil, nil, testLogger())
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.MaxErrorsBeforeDisable = 0
	_, err = NewCoordinator(cfg, nil, nil, testLogger())
	assert.Error(t, err)
}

func TestCoordinator_FreshInstanceUsesNormalInterval(t *testing.T) {
	cfg := testConfig(t)
	c := newTestCoordinator(t, cfg, "", nil)
	assert.Equal(t, cfg.NormalPollInterval, c.GetSafePollInterval())
}

func TestCoordinator_ActiveWorkloadThrottles(t *testing.T) {
	cfg := testConfig(t)
	procs := []workload.ProcSample{
		{PID: 4242, Cmdline: "torchrun --nproc_per_node=8 train_llama.py", MemoryGB: 12, Threads: 32},
	}
	c := newTestCoordinator(t, cfg, "", procs)
	assert.Equal(t, cfg.WorkloadPollInterval, c.GetSafePollInterval())

	summary := c.WorkloadSummary()
	assert.Equal(t, 1, summary.ActiveMLProcesses)
	assert.True(t, summary.IsWorkloadActive)
	assert.True(t, summary.SafetyModeEnabled)
	assert.InDelta(t, 12.0, summary.TotalMLMemoryGB, 0.001)
}

func TestCoordinator_RecentErrorsUseCriticalInterval(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxErrorsBeforeDisable = 10
	c := newTestCoordinator(t, cfg, "kernel: PCIe Bus Error: severity=Uncorrected", nil)

	found, _ := c.CheckForErrors(context.Background())
	require.True(t, found)
	assert.Equal(t, cfg.CriticalPollInterval, c.GetSafePollInterval())

	// Once a later check comes back clean the rate recovers.
	c.errors.readLog = func(ctx context.Context) (string, error) { return "all quiet", nil }
	found, _ = c.CheckForErrors(context.Background())
	require.False(t, found)
	assert.Equal(t, cfg.NormalPollInterval, c.GetSafePollInterval())
}

func TestCoordinator_ErrorThresholdDisablesPolling(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxErrorsBeforeDisable = 2
	c := newTestCoordinator(t, cfg, "kernel: DPC: containment event, status:0x1f01", nil)

	c.CheckForErrors(context.Background())
	c.CheckForErrors(context.Background())

	assert.Equal(t, PollDisabled, c.GetSafePollInterval())

	safe, reason := c.IsMonitoringSafe()
	assert.False(t, safe)
	assert.Contains(t, reason, "PCIe errors")
	assert.True(t, c.WorkloadSummary().MonitoringDisabled)
}

func TestCoordinator_ForceSafetyModePinsInterval(t *testing.T) {
	cfg := testConfig(t)
	c := newTestCoordinator(t, cfg, "", nil)

	c.ForceSafetyMode(true)
	assert.Equal(t, cfg.WorkloadPollInterval, c.GetSafePollInterval())
	assert.True(t, c.WorkloadSummary().SafetyModeEnabled)

	// Forced off wins over an active workload.
	procs := []workload.ProcSample{
		{PID: 7, Cmdline: "python -m torch.distributed.run finetune.py", MemoryGB: 20, Threads: 24},
	}
	c2 := newTestCoordinator(t, cfg, "", procs)
	c2.ForceSafetyMode(false)
	assert.Equal(t, cfg.NormalPollInterval, c2.GetSafePollInterval())

	c2.ClearSafetyOverride()
	assert.Equal(t, cfg.WorkloadPollInterval, c2.GetSafePollInterval())
}

func TestCoordinator_OverrideNeverBypassesDisableLatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxErrorsBeforeDisable = 1
	c := newTestCoordinator(t, cfg, "kernel: AER: device recovery failed", nil)

	c.CheckForErrors(context.Background())
	c.ForceSafetyMode(false)
	c.SetCustomPollInterval(10 * time.Millisecond)
	assert.Equal(t, PollDisabled, c.GetSafePollInterval())
}

func TestCoordinator_CustomPollInterval(t *testing.T) {
	cfg := testConfig(t)
	c := newTestCoordinator(t, cfg, "", nil)

	c.SetCustomPollInterval(42 * time.Millisecond)
	assert.Equal(t, 42*time.Millisecond, c.GetSafePollInterval())

	c.SetCustomPollInterval(0)
	assert.Equal(t, cfg.NormalPollInterval, c.GetSafePollInterval())
}

func TestCoordinator_ResetReenablesMonitoring(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxErrorsBeforeDisable = 1
	c := newTestCoordinator(t, cfg, "kernel: unmasked uncorrectable error", nil)

	c.CheckForErrors(context.Background())
	require.Equal(t, PollDisabled, c.GetSafePollInterval())

	c.ResetErrorCount()
	c.errors.readLog = func(ctx context.Context) (string, error) { return "", nil }
	assert.Equal(t, cfg.NormalPollInterval, c.GetSafePollInterval())
	safe, _ := c.IsMonitoringSafe()
	assert.True(t, safe)
	assert.Equal(t, 0, c.WorkloadSummary().PCIeErrorCount)
}

func TestCoordinator_LockTimeoutSurfacesViaHandle(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxLockWaitTime = 50 * time.Millisecond
	c := newTestCoordinator(t, cfg, "", nil)

	holder := c.AcquireDeviceLock(0)
	require.True(t, holder.IsLocked())
	defer holder.Release()

	// Second acquisition degrades to best-effort, not an error.
	h := c.AcquireDeviceLock(0)
	defer h.Release()
	assert.False(t, h.IsLocked())
}
